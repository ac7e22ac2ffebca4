package t402

import "fmt"

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidPayment     = "invalid_payment"
	ErrCodePaymentRequired    = "payment_required"
	ErrCodeInsufficientFunds  = "insufficient_funds"
	ErrCodeNetworkMismatch    = "network_mismatch"
	ErrCodeSchemeMismatch     = "scheme_mismatch"
	ErrCodeSignatureInvalid   = "signature_invalid"
	ErrCodePaymentExpired     = "payment_expired"
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeUnsupportedScheme  = "unsupported_scheme"
	ErrCodeUnsupportedNetwork = "unsupported_network"
	ErrCodeInvalidResponse    = "invalid_response"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// VerifyError carries a facilitator's protocol-level rejection when it is
// surfaced through a transport error path (non-200 facilitator response).
type VerifyError struct {
	Reason  string
	Payer   string
	Message string
}

func (e *VerifyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("verification failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("verification failed: %s", e.Reason)
}

// NewVerifyError creates a verify error from a facilitator rejection.
func NewVerifyError(reason, payer, message string) *VerifyError {
	return &VerifyError{Reason: reason, Payer: payer, Message: message}
}

// SettleError carries a facilitator's settlement failure with enough context
// for the caller to decide between safe-retry and must-check-first. A
// non-empty Transaction means the chain may already have mined the transfer.
type SettleError struct {
	Reason      string
	Payer       string
	Network     string
	Transaction string
	Message     string
}

func (e *SettleError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("settlement failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("settlement failed: %s", e.Reason)
}

// NewSettleError creates a settle error from a facilitator failure.
func NewSettleError(reason, payer, network, transaction, message string) *SettleError {
	return &SettleError{
		Reason:      reason,
		Payer:       payer,
		Network:     network,
		Transaction: transaction,
		Message:     message,
	}
}
