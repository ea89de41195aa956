package llm

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// APIError is a non-success response from a provider.
type APIError struct {
	Provider   string
	Body       string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a provider rate-limit response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code == http.StatusTooManyRequests
	}
	var genaiPtr *genai.APIError
	if errors.As(err, &genaiPtr) {
		return genaiPtr.Code == http.StatusTooManyRequests
	}

	return false
}
