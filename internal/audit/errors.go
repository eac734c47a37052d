// Package audit provides the structured error taxonomy, the queryable
// error log, critical-error alerting, and the append-only audit trail for
// negotiation, connection, rate-limit and request lifecycle events.
package audit

import "fmt"

// Category classifies a handled error by where it originated and who can
// act on it.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryPayment    Category = "PAYMENT"
	CategoryService    Category = "SERVICE"
	CategoryNetwork    Category = "NETWORK"
	CategoryCritical   Category = "CRITICAL"
)

// Severity grades an error for alerting purposes.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Well-known error codes surfaced to callers.
const (
	CodePaymentRequired           = "PAYMENT_REQUIRED"
	CodePaymentVerificationFailed = "PAYMENT_VERIFICATION_FAILED"
	CodeRateLimitExceeded         = "RATE_LIMIT_EXCEEDED"
	CodeValidationFailed          = "VALIDATION_FAILED"
	CodeServiceUnavailable        = "SERVICE_UNAVAILABLE"
	CodeInternal                  = "INTERNAL_ERROR"
)

// Context carries the identifiers relevant to an error. Explicit named
// fields, not an open map, so log queries stay well-typed.
type Context struct {
	AgentID       string `json:"agentId,omitempty"`
	AccountID     string `json:"accountId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	ProductID     string `json:"productId,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
}

// Error is a categorized, code-carrying error. It satisfies the error
// interface so it can flow through normal return paths.
type Error struct {
	Category Category
	Severity Severity
	Code     string
	Message  string
	Context  Context
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Category, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext returns a copy of the error with the given context attached.
func (e *Error) WithContext(ctx Context) *Error {
	clone := *e
	clone.Context = ctx
	return &clone
}

func NewValidationError(code, message string) *Error {
	return &Error{Category: CategoryValidation, Severity: SeverityLow, Code: code, Message: message}
}

func NewPaymentError(code, message string) *Error {
	return &Error{Category: CategoryPayment, Severity: SeverityMedium, Code: code, Message: message}
}

func NewServiceError(message string, cause error) *Error {
	return &Error{Category: CategoryService, Severity: SeverityMedium, Code: CodeServiceUnavailable, Message: message, Cause: cause}
}

func NewNetworkError(message string, cause error) *Error {
	return &Error{Category: CategoryNetwork, Severity: SeverityHigh, Code: CodeServiceUnavailable, Message: message, Cause: cause}
}

func NewCriticalError(message string, cause error) *Error {
	return &Error{Category: CategoryCritical, Severity: SeverityCritical, Code: CodeInternal, Message: message, Cause: cause}
}
