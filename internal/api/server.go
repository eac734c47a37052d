// Package api exposes the oracle over REST/JSON: the paid trust-score
// resource, AP2 negotiation, the product catalog with WebSocket price
// pushes, connection management, and the operator's audit endpoints.
package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustoracle/backend/internal/audit"
	"github.com/trustoracle/backend/internal/catalog"
	"github.com/trustoracle/backend/internal/connection"
	"github.com/trustoracle/backend/internal/negotiation"
	"github.com/trustoracle/backend/internal/orchestrator"
)

// Server routes HTTP traffic to the oracle's components.
type Server struct {
	orch        *orchestrator.Orchestrator
	registry    *catalog.Registry
	hub         *catalog.SubscriberHub
	negotiator  *negotiation.Engine
	connections *connection.Manager
	errors      *audit.Handler
	gatherer    prometheus.Gatherer
	logger      *log.Logger
}

type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *catalog.Registry
	Hub          *catalog.SubscriberHub
	Negotiator   *negotiation.Engine
	Connections  *connection.Manager
	Errors       *audit.Handler
	Gatherer     prometheus.Gatherer
}

func NewServer(deps Deps) *Server {
	return &Server{
		orch:        deps.Orchestrator,
		registry:    deps.Registry,
		hub:         deps.Hub,
		negotiator:  deps.Negotiator,
		connections: deps.Connections,
		errors:      deps.Errors,
		gatherer:    deps.Gatherer,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table. Tests mount this on httptest.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	// The paid resource.
	r.HandleFunc("/v1/trust-score/{accountId}", s.handleTrustScore).Methods("GET")

	// AP2 negotiation.
	r.HandleFunc("/v1/negotiate", s.handleNegotiate).Methods("POST")

	// Product catalog.
	r.HandleFunc("/v1/products", s.handleListProducts).Methods("GET")
	r.HandleFunc("/v1/products/subscribe", s.hub.HandleWebSocket).Methods("GET")
	r.HandleFunc("/v1/products/{id}", s.handleGetProduct).Methods("GET")
	r.HandleFunc("/v1/products/{id}/price", s.handleUpdatePrice).Methods("PUT")

	// Connection lifecycle.
	r.HandleFunc("/v1/connections", s.handleOpenConnection).Methods("POST")
	r.HandleFunc("/v1/connections", s.handleListConnections).Methods("GET")
	r.HandleFunc("/v1/connections/{id}/establish", s.handleEstablishConnection).Methods("POST")
	r.HandleFunc("/v1/connections/{id}/reject", s.handleRejectConnection).Methods("POST")
	r.HandleFunc("/v1/connections/{id}/close", s.handleCloseConnection).Methods("POST")

	// Operator surface.
	r.HandleFunc("/v1/audit/errors", s.handleAuditErrors).Methods("GET")
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-PAYMENT, X-Agent-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"products":    len(s.registry.List()),
		"subscribers": s.hub.SubscriberCount(),
		"timestamp":   time.Now(),
	})
}
