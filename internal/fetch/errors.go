package fetch

import "errors"

// Failure taxonomy surfaced past the client. Transient errors (timeouts, 5xx,
// malformed bodies) are retried internally and never escape Fetch.
var (
	// ErrForbidden means the retry budget was exhausted on 403/429 responses.
	ErrForbidden = errors.New("fetch forbidden after retries")

	// ErrExhausted means both the plain HTTP and browser strategies failed.
	ErrExhausted = errors.New("fetch strategies exhausted")
)

// NonRecoverable reports whether err is one of the failure signals a caller
// should escalate rather than retry locally.
func NonRecoverable(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrExhausted)
}
