package relay

import "errors"

var (
	// ErrInvalidNotify is returned for notify payloads that are not a JSON
	// object with a method.
	ErrInvalidNotify = errors.New("relay: invalid notify payload")

	// ErrEmptyPayload is returned for device commands without a body.
	ErrEmptyPayload = errors.New("relay: empty device payload")
)
