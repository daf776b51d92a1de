// Package event publishes auth lifecycle events to Kafka so downstream
// systems (CRM sync, analytics, fraud review) can react to account activity.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kafka topics for auth lifecycle events.
const (
	TopicUserRegistered   = "siteauth.user.registered"
	TopicUserVerified     = "siteauth.user.verified"
	TopicPasswordReset    = "siteauth.user.password_reset"
	TopicEmailChanged     = "siteauth.user.email_changed"
	TopicUserDeleted      = "siteauth.user.deleted"
	aggregateTypeUser     = "user"
	sourceSiteAuthService = "siteauth"
)

// Envelope is the standard wrapper for every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

func newEnvelope(eventType, aggregateID string, data any) (*Envelope, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateTypeUser,
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        sourceSiteAuthService,
		Data:          dataBytes,
	}, nil
}

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	UserID string `json:"user_id"`
	SiteID string `json:"site_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// UserVerifiedData is the payload for a user.verified event.
type UserVerifiedData struct {
	UserID string `json:"user_id"`
	SiteID string `json:"site_id"`
	Email  string `json:"email"`
}

// PasswordResetData is the payload for a user.password_reset event. It marks
// a completed reset, not a request.
type PasswordResetData struct {
	UserID string `json:"user_id"`
	SiteID string `json:"site_id"`
}

// EmailChangedData is the payload for a user.email_changed event.
type EmailChangedData struct {
	UserID   string `json:"user_id"`
	SiteID   string `json:"site_id"`
	OldEmail string `json:"old_email"`
	NewEmail string `json:"new_email"`
}

// UserDeletedData is the payload for a user.deleted event.
type UserDeletedData struct {
	UserID string `json:"user_id"`
	SiteID string `json:"site_id"`
}
