package transfer

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidConfig is returned for unusable session or controller settings.
	ErrInvalidConfig = errors.New("invalid transfer configuration")

	// ErrEndpoint is returned when the upload endpoint cannot be used.
	ErrEndpoint = errors.New("invalid upload endpoint")

	// ErrMalformed is returned when the server rejects a request as
	// malformed. Malformed requests are never retried.
	ErrMalformed = errors.New("malformed request")

	// ErrIntegrity is returned when the assembled artifact fails an
	// integrity check on the server or against the local source.
	ErrIntegrity = errors.New("artifact integrity check failed")

	// ErrNotFound is returned when finalize finds no stored units.
	ErrNotFound = errors.New("no units stored for artifact")
)

// StatusError is returned for non-2xx HTTP responses.
// The status code separates retriable (5xx) from non-retriable (4xx)
// failures.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Is maps status codes onto the transfer error taxonomy.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrIntegrity:
		return e.Code == http.StatusConflict
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrMalformed:
		return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusConflict && e.Code != http.StatusNotFound
	}
	return false
}

// Retryable reports whether err may succeed on another attempt.
// Client errors (4xx) and canceled contexts are final; everything else,
// including network failures and 5xx responses, is transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformed) || errors.Is(err, ErrIntegrity) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code < 400
	}
	return true
}

// UnitFailure is the terminal failure of one transfer unit.
type UnitFailure struct {
	Index    int64
	Attempts int
	Err      error
}

func (e *UnitFailure) Error() string {
	return fmt.Sprintf("unit %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *UnitFailure) Unwrap() error {
	return e.Err
}
