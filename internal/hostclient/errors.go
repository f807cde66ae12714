package hostclient

import "github.com/pkg/errors"

// Sentinel errors the rest of the system checks with errors.Is, grounded on
// the teacher's cursor.APIError used as a typed, inspectable failure rather
// than a bare string.
var (
	// ErrNotFound means the issue, PR, branch, or file did not exist. Per
	// the error taxonomy this is "nothing to do," not a failure.
	ErrNotFound = errors.New("hostclient: not found")

	// ErrConflict means a mutating call (merge, base update) was rejected
	// by the Host for a reason the caller must resolve before retrying.
	ErrConflict = errors.New("hostclient: conflict")

	// ErrRateLimited is returned once all retry attempts are exhausted on
	// a retriable failure (429 or any 5xx).
	ErrRateLimited = errors.New("hostclient: rate limited")
)

// APIError wraps a non-2xx Host response that was not retried (or that
// survived all retries), carrying enough detail for logging without the
// caller needing to unwrap a *github.ErrorResponse.
type APIError struct {
	StatusCode int
	Message    string
	RawBody    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.RawBody
}

// Retriable reports whether the status code is one the retry loop should
// retry on: 429 (rate limited) or any 5xx.
func (e *APIError) Retriable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
