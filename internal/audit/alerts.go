package audit

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// AlertChannel delivers a critical error entry to an operator-facing sink.
type AlertChannel interface {
	Alert(entry *ErrorLogEntry)
}

// LogChannel is the default alert channel: it writes to the process log.
// Used when alerting is enabled but no channel was configured.
type LogChannel struct {
	logger *log.Logger
}

func NewLogChannel() *LogChannel {
	return &LogChannel{logger: log.New(log.Writer(), "[ALERT] ", log.LstdFlags)}
}

func (c *LogChannel) Alert(entry *ErrorLogEntry) {
	c.logger.Printf("🚨 CRITICAL %s: %s (id=%s)", entry.Code, entry.Message, entry.ID)
}

// WebhookChannel POSTs the entry as JSON to a configured URL. Delivery is
// fire-and-forget; a failed POST is logged, never retried — the entry
// itself is already durable in the error log.
type WebhookChannel struct {
	url    string
	client *http.Client
	logger *log.Logger
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.New(log.Writer(), "[ALERT-WEBHOOK] ", log.LstdFlags),
	}
}

func (c *WebhookChannel) Alert(entry *ErrorLogEntry) {
	go func() {
		body, err := json.Marshal(entry)
		if err != nil {
			c.logger.Printf("marshal alert %s: %v", entry.ID, err)
			return
		}
		resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
		if err != nil {
			c.logger.Printf("⚠️  alert delivery failed for %s: %v", entry.ID, err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			c.logger.Printf("⚠️  alert for %s returned HTTP %d", entry.ID, resp.StatusCode)
		}
	}()
}
