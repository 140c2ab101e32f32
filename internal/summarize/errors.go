package summarize

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Category classifies a provider failure.
type Category string

const (
	CategoryModel     Category = "model"      // model missing or not accessible
	CategoryAuth      Category = "auth"       // bad or missing credentials
	CategoryRateLimit Category = "rate_limit" // provider throttling
	CategoryServer    Category = "server"     // provider-side failure
	CategoryUnknown   Category = "unknown"
)

// ProviderError is a categorized provider failure. Terminal for the request.
type ProviderError struct {
	Category   Category
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s, HTTP %d): %s", e.Category, e.StatusCode, e.Message)
}

// classifyProviderError maps an HTTP status and raw error body to a
// ProviderError. The body is Anthropic-shaped JSON
// ({"error":{"type":...,"message":...}}) but any body is tolerated.
func classifyProviderError(statusCode int, body []byte) *ProviderError {
	errType := gjson.GetBytes(body, "error.type").String()
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = http.StatusText(statusCode)
	}

	category := CategoryUnknown
	switch {
	case errType == "not_found_error" || statusCode == http.StatusNotFound:
		category = CategoryModel
	case errType == "authentication_error" || errType == "permission_error" ||
		statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		category = CategoryAuth
	case errType == "rate_limit_error" || statusCode == http.StatusTooManyRequests:
		category = CategoryRateLimit
	case errType == "overloaded_error" || errType == "api_error" || statusCode >= 500:
		category = CategoryServer
	}

	return &ProviderError{Category: category, StatusCode: statusCode, Message: message}
}
