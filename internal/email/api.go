package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fernwood/siteauth/pkg/httpclient"
)

// APISender delivers messages through a SendGrid-compatible HTTP API. The
// outbound call runs through a circuit breaker so a degraded provider cannot
// stall the auth flows.
type APISender struct {
	client *httpclient.CircuitBreakerClient
	url    string
	apiKey string
}

// NewAPISender creates a sender posting to the given mail API endpoint.
func NewAPISender(client *httpclient.CircuitBreakerClient, url, apiKey string) *APISender {
	return &APISender{client: client, url: url, apiKey: apiKey}
}

func (s *APISender) Name() string { return "api" }

// apiPayload is the SendGrid v3 mail send shape.
type apiPayload struct {
	Personalizations []struct {
		To []apiAddress `json:"to"`
	} `json:"personalizations"`
	From    apiAddress   `json:"from"`
	Subject string       `json:"subject"`
	Content []apiContent `json:"content"`
}

type apiAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type apiContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Send posts the message to the provider. Non-2xx responses are returned as
// provider errors; 4xx responses are not retried upstream.
func (s *APISender) Send(ctx context.Context, msg *Message) error {
	payload := apiPayload{
		From:    apiAddress{Email: msg.FromEmail, Name: msg.FromName},
		Subject: msg.Subject,
	}
	payload.Personalizations = append(payload.Personalizations, struct {
		To []apiAddress `json:"to"`
	}{To: []apiAddress{{Email: msg.To}}})

	if msg.Text != "" {
		payload.Content = append(payload.Content, apiContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		payload.Content = append(payload.Content, apiContent{Type: "text/html", Value: msg.HTML})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	if resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, "mail provider")
	}
	return resp.Body.Close()
}
