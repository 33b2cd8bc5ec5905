package tollgate

import "fmt"

// PaymentError represents a payment-gating error surfaced to callers.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Reason codes for gating and verification outcomes. Validation-category
// reasons are terminal for the request; the caller must obtain a fresh
// challenge and produce a new proof to retry.
const (
	ReasonPaymentRequired           = "payment_required"
	ReasonSchemaInvalid             = "schema_invalid"
	ReasonParameterMismatch         = "parameter_mismatch"
	ReasonSignatureInvalid          = "signature_invalid"
	ReasonMissingTransactionHash    = "missing_transaction_hash"
	ReasonTransactionNotFound       = "transaction_not_found"
	ReasonInsufficientConfirmations = "insufficient_confirmations"
	ReasonTransactionFailed         = "transaction_failed"
	ReasonWrongContract             = "wrong_contract"
	ReasonNoMatchingSettlementEvent = "no_matching_settlement_event"
	ReasonCalldataUnparseable       = "calldata_unparseable"
	ReasonProviderError             = "provider_error"
	ReasonReplayedTransaction       = "replayed_transaction"
	ReasonQueueSaturated            = "verification_queue_saturated"
)
