package core

// Error codes for domain errors.
const (
	ErrCodeNotInRoom       = "not_in_room"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeMessageNotFound = "message_not_found"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeInternal        = "internal"
)

// CoreError wraps a code and human-readable message. ClientID echoes the
// correlation id of the send that failed, if any.
type CoreError struct {
	Code     string
	Message  string
	ClientID string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
