package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/trustoracle/backend/internal/audit"
	"github.com/trustoracle/backend/internal/connection"
	"github.com/trustoracle/backend/internal/negotiation"
	"github.com/trustoracle/backend/internal/orchestrator"
)

const (
	paymentHeader = "X-PAYMENT"
	agentHeader   = "X-Agent-ID"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":      code,
			"message":   message,
			"timestamp": time.Now(),
		},
	})
}

// consumerID identifies the paying agent. The header is authoritative;
// an unidentified caller still gets rate limited, just under one shared
// anonymous bucket.
func consumerID(r *http.Request) string {
	if id := r.Header.Get(agentHeader); id != "" {
		return id
	}
	return "anonymous"
}

func (s *Server) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	out := s.orch.Handle(r.Context(), orchestrator.Request{
		AccountID:     vars["accountId"],
		ConsumerID:    consumerID(r),
		PaymentHeader: r.Header.Get(paymentHeader),
		Resource:      r.URL.Path,
	})

	switch {
	case out.Score != nil:
		writeJSON(w, out.HTTPStatus, out.Score)
	case out.PaymentError != nil:
		writeJSON(w, out.HTTPStatus, out.PaymentError)
	case out.HTTPStatus == http.StatusTooManyRequests:
		res := out.RateLimit
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"code":    audit.CodeRateLimitExceeded,
				"message": fmt.Sprintf("limit of %d calls per %ds exceeded", res.Limit.Calls, res.Limit.PeriodSeconds),
				"limit":   res.Limit.Calls,
				"period":  res.Limit.PeriodSeconds,
				"resetAt": res.ResetAt,
			},
		})
	case out.Err != nil:
		if out.HTTPStatus == http.StatusServiceUnavailable && out.RetryAfter > 0 {
			secs := int(out.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, out.HTTPStatus, map[string]any{
				"error": map[string]any{
					"code":              out.Err.Code,
					"message":           out.Err.Message,
					"retryAfterSeconds": secs,
					"timestamp":         time.Now(),
				},
			})
			return
		}
		writeError(w, out.HTTPStatus, out.Err.Code, out.Err.Message)
	default:
		writeError(w, http.StatusInternalServerError, audit.CodeInternal, "unhandled pipeline outcome")
	}
}

// negotiateEnvelope peels the AP2 message type before the full decode.
type negotiateEnvelope struct {
	Type negotiation.MessageType `json:"type"`
}

type acceptMessage struct {
	OfferID      string `json:"offerId"`
	BuyerAgentID string `json:"buyerAgentId"`
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "request body is not valid JSON")
		return
	}
	var envelope negotiateEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "request body is not a valid AP2 message")
		return
	}

	switch envelope.Type {
	case negotiation.TypeNegotiate:
		var msg negotiation.Request
		if err := json.Unmarshal(raw, &msg); err != nil {
			writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "malformed NEGOTIATE message")
			return
		}
		req, err := negotiation.NewRequest(msg.ProductID, msg.BuyerAgentID, msg.MaxPrice, msg.Currency, msg.RateLimit)
		if err != nil {
			s.writeAuditError(w, err)
			return
		}
		offer, err := s.negotiator.CreateOffer(req)
		if err != nil {
			s.writeAuditError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, offer)

	case negotiation.TypeAccept:
		var msg acceptMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.OfferID == "" || msg.BuyerAgentID == "" {
			writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "ACCEPT requires offerId and buyerAgentId")
			return
		}
		acceptance, err := s.negotiator.AcceptOffer(msg.OfferID, msg.BuyerAgentID)
		switch {
		case errors.Is(err, negotiation.ErrOfferNotFound):
			writeError(w, http.StatusNotFound, audit.CodeValidationFailed, err.Error())
		case errors.Is(err, negotiation.ErrOfferExpired):
			writeError(w, http.StatusGone, audit.CodeValidationFailed, err.Error())
		case errors.Is(err, negotiation.ErrOfferConsumed):
			writeError(w, http.StatusConflict, audit.CodeValidationFailed, err.Error())
		case err != nil:
			writeError(w, http.StatusInternalServerError, audit.CodeInternal, err.Error())
		default:
			writeJSON(w, http.StatusOK, acceptance)
		}

	case negotiation.TypeOffer:
		// Offers flow producer to buyer; this endpoint only receives.
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "OFFER messages are issued, not received")

	default:
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed,
			fmt.Sprintf("unknown AP2 message type %q", envelope.Type))
	}
}

// writeAuditError maps a categorized error onto an HTTP response.
func (s *Server) writeAuditError(w http.ResponseWriter, err error) {
	var ae *audit.Error
	if errors.As(err, &ae) {
		status := http.StatusBadRequest
		switch ae.Category {
		case audit.CategoryService, audit.CategoryNetwork:
			status = http.StatusServiceUnavailable
		case audit.CategoryCritical:
			status = http.StatusInternalServerError
		}
		writeError(w, status, ae.Code, ae.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, audit.CodeInternal, err.Error())
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, ok := s.registry.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, audit.CodeValidationFailed, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "request body is not valid JSON")
		return
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, fmt.Sprintf("malformed price %q", body.Price))
		return
	}

	product, err := s.registry.UpdatePrice(mux.Vars(r)["id"], price)
	if err != nil {
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleOpenConnection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agentId"`
		TopicID string `json:"connectionTopicId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "request body is not valid JSON")
		return
	}
	conn, err := s.connections.Open(body.AgentID, body.TopicID)
	if err != nil {
		s.writeAuditError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.connections.List())
}

func (s *Server) handleEstablishConnection(w http.ResponseWriter, r *http.Request) {
	s.transitionConnection(w, r, s.connections.Establish)
}

func (s *Server) handleRejectConnection(w http.ResponseWriter, r *http.Request) {
	s.transitionConnection(w, r, s.connections.Reject)
}

func (s *Server) handleCloseConnection(w http.ResponseWriter, r *http.Request) {
	s.transitionConnection(w, r, s.connections.Close)
}

func (s *Server) transitionConnection(w http.ResponseWriter, r *http.Request, fn func(string) (*connection.Connection, error)) {
	conn, err := fn(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusConflict, audit.CodeValidationFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (s *Server) handleAuditErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Category: audit.Category(q.Get("category")),
		AgentID:  q.Get("agentId"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, audit.CodeValidationFailed, "to must be RFC3339")
			return
		}
		filter.To = t
	}

	entries := s.errors.Query(filter)
	if entries == nil {
		entries = []*audit.ErrorLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
