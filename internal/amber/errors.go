package amber

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited marks a 429 from the upstream API.
	ErrRateLimited = errors.New("amber: rate limited")
	// ErrUnauthorized marks a rejected or missing token.
	ErrUnauthorized = errors.New("amber: unauthorized")
)

// APIError carries a non-2xx upstream response. The resolver treats every
// variant the same way (fall back to cache); the distinction exists for
// logs and for the sync job's per-series reporting.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	snippet := strings.TrimSpace(e.Body)
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	if snippet == "" {
		return fmt.Sprintf("amber: api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("amber: api error (%d): %s", e.StatusCode, snippet)
}

func statusError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error())
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Error())
	}
	return apiErr
}
