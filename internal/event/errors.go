package event

import (
	"errors"
	"fmt"
)

// ErrMalformedPayload is matched by every MalformedPayloadError.
var ErrMalformedPayload = errors.New("malformed payload")

// MalformedPayloadError is returned when a payload is still not a valid JSON object after repair.
// It keeps the payload as received for diagnostics.
type MalformedPayloadError struct {
	Raw string
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformedPayload, e.Err)
}

// Unwrap returns the parser diagnostic.
func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrMalformedPayload.
func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}
