package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ProviderError describes a non-2xx response from an external HTTP provider.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// providerErrorBody covers the common {"errors":[{"message":...}]} and
// {"error":{"message":...}} shapes returned by mail and webhook providers.
type providerErrorBody struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into a ProviderError, extracting a structured message when the body
// matches a known error shape. The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, provider string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return &ProviderError{
			Provider: provider,
			Status:   resp.StatusCode,
			Body:     fmt.Sprintf("(failed to read body: %v)", err),
		}
	}

	var structured providerErrorBody
	if json.Unmarshal(bodyBytes, &structured) == nil {
		switch {
		case len(structured.Errors) > 0 && structured.Errors[0].Message != "":
			return &ProviderError{Provider: provider, Status: resp.StatusCode, Body: structured.Errors[0].Message}
		case structured.Error != nil && structured.Error.Message != "":
			return &ProviderError{Provider: provider, Status: resp.StatusCode, Body: structured.Error.Message}
		}
	}

	return &ProviderError{Provider: provider, Status: resp.StatusCode, Body: string(bodyBytes)}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
// Client errors indicate a malformed payload and are not worth retrying.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
