package asset

import (
	"errors"
	"fmt"
)

// =============================================================================
// Errors
// =============================================================================

// ErrValidationFailed is matched by every *ValidationError via errors.Is.
var ErrValidationFailed = errors.New("asset validation failed")

// Messages shown to whoever initiated the save.
const (
	MsgFiatCurrencyRequired  = "Select a Currency for a Fiat asset"
	MsgCryptoCodeRequired    = "Provide an Asset Code for a Crypto asset"
	MsgCommodityNameRequired = "Fill in Commodity Name for a Commodity asset"
)

// ValidationError aborts a save. Reason is meant to be shown verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidationFailed) true for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Reason extracts the user-facing message from err, if it is a ValidationError.
func Reason(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
