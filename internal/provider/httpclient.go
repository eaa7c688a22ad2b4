package provider

import (
	"errors"
	"fmt"
	"net/http"

	"voxrag/internal/domain"
)

// classifyStatus maps an HTTP status to the error family the dispatcher
// keys its retry decision on. Auth and malformed-request failures are
// permanent; rate limits and server errors are transient.
func classifyStatus(provider string, status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrAuth, provider, status, body)
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrBadRequest, provider, status, body)
	default:
		return &transientError{provider: provider, status: status, body: body}
	}
}

// transientError marks a failure worth retrying: network-level errors,
// 429, and 5xx responses.
type transientError struct {
	provider string
	status   int
	body     string
}

func (e *transientError) Error() string {
	if e.status == 0 {
		return fmt.Sprintf("%s: %s", e.provider, e.body)
	}
	return fmt.Sprintf("%s HTTP %d: %s", e.provider, e.status, e.body)
}

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
