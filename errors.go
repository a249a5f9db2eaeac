package bridge

import (
	"errors"
	"fmt"
)

// FlowError represents a migration/purchase flow error with a stable code.
// Codes are the machine-readable taxonomy surfaced to the display layer;
// messages are human-readable and may carry chain-specific detail.
type FlowError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidAmount         = "invalid_amount"
	ErrCodeUnknownToken          = "unknown_token"
	ErrCodeNetworkMismatch       = "network_mismatch"
	ErrCodeChainRead             = "chain_read_error"
	ErrCodeInsufficientBalance   = "insufficient_balance"
	ErrCodeInsufficientAllowance = "insufficient_allowance"
	ErrCodeTransactionReverted   = "transaction_reverted"
	ErrCodeTimeout               = "timeout"
	ErrCodeBusy                  = "busy"
	ErrCodeUserRejected          = "user_rejected"
)

// NewFlowError creates a new flow error
func NewFlowError(code, message string, details map[string]interface{}) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the taxonomy code from an error chain.
// Returns an empty string if no FlowError is present.
func ErrorCode(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
