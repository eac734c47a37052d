// Package catalog is the registry of priced, rate-limited products the
// producer sells. Negotiation and default pricing both resolve against it,
// and price updates fan out to subscribers at least once.
package catalog

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateLimit is the quota attached to a product or negotiated session.
type RateLimit struct {
	Calls         int `json:"calls"`
	PeriodSeconds int `json:"periodSeconds"`
}

// SLA is the service level advertised for a product.
type SLA struct {
	UptimePct      float64 `json:"uptime"`
	ResponseTimeMs int     `json:"responseTime"`
}

// Product is one registry entry. DefaultPrice and UpdatedAt mutate in
// place on price updates; everything else is set at registration.
type Product struct {
	ID              string          `json:"productId"`
	Version         string          `json:"version"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ProducerAgentID string          `json:"producerAgentId"`
	Endpoint        string          `json:"endpoint"`
	DefaultPrice    decimal.Decimal `json:"defaultPrice"`
	Currency        string          `json:"currency"`
	Network         string          `json:"network"`
	RateLimit       RateLimit       `json:"rateLimit"`
	SLA             SLA             `json:"sla"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// PriceSubscriber receives product price changes. Notification is
// at-least-once with no ordering guarantee.
type PriceSubscriber interface {
	ProductPriceChanged(product Product)
}

// Registry stores products and manages price-update subscriptions.
type Registry struct {
	mu          sync.RWMutex
	products    map[string]*Product
	subscribers []PriceSubscriber
	logger      *log.Logger
}

// NewRegistry creates an empty product registry.
func NewRegistry() *Registry {
	return &Registry{
		products: make(map[string]*Product),
		logger:   log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
}

// Register adds a product. CreatedAt/UpdatedAt are stamped here.
func (r *Registry) Register(p Product) (*Product, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("product id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.products[p.ID]; exists {
		return nil, fmt.Errorf("product %s already registered", p.ID)
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.products[p.ID] = &p

	r.logger.Printf("Registered product %s (%s) at %s %s", p.ID, p.Name, p.DefaultPrice, p.Currency)
	return &p, nil
}

// Get returns a copy of the product, so callers can't mutate registry
// state behind the lock.
func (r *Registry) Get(id string) (Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

// List returns copies of all products.
func (r *Registry) List() []Product {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, *p)
	}
	return out
}

// UpdatePrice mutates DefaultPrice and UpdatedAt in place and notifies
// every subscriber with the new state. UpdatedAt never precedes CreatedAt.
func (r *Registry) UpdatePrice(id string, price decimal.Decimal) (Product, error) {
	if price.LessThanOrEqual(decimal.Zero) {
		return Product{}, fmt.Errorf("price must be positive, got %s", price)
	}

	r.mu.Lock()
	p, ok := r.products[id]
	if !ok {
		r.mu.Unlock()
		return Product{}, fmt.Errorf("product %s not found", id)
	}
	p.DefaultPrice = price
	p.UpdatedAt = time.Now()
	updated := *p
	subs := make([]PriceSubscriber, len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.Unlock()

	r.logger.Printf("💲 Price updated for %s → %s %s", id, price, updated.Currency)

	// Notify outside the lock; a slow subscriber must not stall the registry.
	for _, sub := range subs {
		sub.ProductPriceChanged(updated)
	}
	return updated, nil
}

// Subscribe registers a price-update subscriber and returns an
// unsubscribe function.
func (r *Registry) Subscribe(sub PriceSubscriber) func() {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, sub)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subscribers {
			if s == sub {
				r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
				return
			}
		}
	}
}
