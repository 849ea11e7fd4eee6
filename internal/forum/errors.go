package forum

import (
	"errors"
	"fmt"
)

// ErrRetryBudgetExhausted is returned when a request keeps being rate limited
// after the maximum number of attempts.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// maxBodyInError bounds how much of a response body is kept in a RequestFailure.
const maxBodyInError = 512

// RequestFailure reports a non-success, non-429 response.
type RequestFailure struct {
	StatusCode int
	URL        string
	Body       string
}

// NewRequestFailure builds a RequestFailure, truncating oversized bodies.
func NewRequestFailure(status int, url string, body []byte) *RequestFailure {
	text := string(body)
	if len(text) > maxBodyInError {
		text = text[:maxBodyInError] + "..."
	}
	return &RequestFailure{StatusCode: status, URL: url, Body: text}
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("request %s failed with status %d: %s", e.URL, e.StatusCode, e.Body)
}

// ErrRunNotFound is returned by a RunStore when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")
