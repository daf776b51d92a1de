package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestParseResponseErrorStructuredErrors(t *testing.T) {
	resp := fakeResponse(http.StatusBadRequest, `{"errors":[{"message":"invalid recipient"}]}`)

	err := ParseResponseError(resp, "sendgrid")
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "sendgrid", provErr.Provider)
	assert.Equal(t, http.StatusBadRequest, provErr.Status)
	assert.Equal(t, "invalid recipient", provErr.Body)
}

func TestParseResponseErrorStructuredError(t *testing.T) {
	resp := fakeResponse(http.StatusUnauthorized, `{"error":{"message":"bad api key"}}`)

	err := ParseResponseError(resp, "sendgrid")
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "bad api key", provErr.Body)
}

func TestParseResponseErrorUnstructuredBody(t *testing.T) {
	resp := fakeResponse(http.StatusBadGateway, `upstream timeout`)

	err := ParseResponseError(resp, "sendgrid")
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusBadGateway, provErr.Status)
	assert.Equal(t, "upstream timeout", provErr.Body)
	assert.Contains(t, err.Error(), "sendgrid returned status 502")
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(http.StatusBadRequest))
	assert.True(t, IsClientError(http.StatusUnprocessableEntity))
	assert.False(t, IsClientError(http.StatusInternalServerError))
	assert.False(t, IsClientError(http.StatusOK))
}
