package models

import "errors"

// StoreError is a persistence gateway failure with a stable code that callers
// branch on. Codes are part of the API contract.
type StoreError struct {
	Code    string
	Message string
}

func (e *StoreError) Error() string {
	return e.Code + ": " + e.Message
}

func NewStoreError(code, message string) *StoreError {
	return &StoreError{Code: code, Message: message}
}

// IsStoreCode reports whether err carries the given store error code.
func IsStoreCode(err error, code string) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == code
}
