package coach

import "fmt"

// ErrorType categorizes session errors.
type ErrorType string

const (
	// ErrDevice covers capture acquisition failures: permission denied,
	// missing device, capture process unavailable. Fatal to session start,
	// recoverable by retry.
	ErrDevice ErrorType = "device_error"
	// ErrChannel covers duplex session failures. Ends the session; the
	// client never auto-reconnects.
	ErrChannel ErrorType = "channel_error"
	// ErrParse covers malformed stored or generated strategy content.
	// Always recovered locally by falling back to raw text.
	ErrParse ErrorType = "parse_error"
	// ErrSave covers storage write failures. Surfaced to the user; session
	// data is kept for a manual retry.
	ErrSave ErrorType = "save_error"
)

// Error is the canonical session error.
type Error struct {
	Type    ErrorType
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewDeviceError creates a capture acquisition error.
func NewDeviceError(message string, err error) *Error {
	return &Error{Type: ErrDevice, Message: message, Err: err}
}

// NewChannelError creates a duplex channel error.
func NewChannelError(message string, err error) *Error {
	return &Error{Type: ErrChannel, Message: message, Err: err}
}

// NewParseError creates a malformed content error.
func NewParseError(message string, err error) *Error {
	return &Error{Type: ErrParse, Message: message, Err: err}
}

// NewSaveError creates a storage write error.
func NewSaveError(message string, err error) *Error {
	return &Error{Type: ErrSave, Message: message, Err: err}
}
