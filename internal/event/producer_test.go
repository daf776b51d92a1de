package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/pkg/logger"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestProducer(w writer) *Producer {
	return &Producer{
		writer: w,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testUser() *domain.User {
	return &domain.User{
		ID:     uuid.New(),
		SiteID: uuid.New(),
		Email:  "alice@example.com",
		Role:   domain.RoleUser,
	}
}

func TestProducerPublishUserRegistered(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	u := testUser()

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	require.NoError(t, p.PublishUserRegistered(ctx, u))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, TopicUserRegistered, msg.Topic)
	assert.Equal(t, u.ID.String(), string(msg.Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, TopicUserRegistered, env.EventType)
	assert.Equal(t, u.ID.String(), env.AggregateID)
	assert.Equal(t, "user", env.AggregateType)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.WithinDuration(t, time.Now(), env.Timestamp, time.Minute)

	var data UserRegisteredData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, u.Email, data.Email)
	assert.Equal(t, u.SiteID.String(), data.SiteID)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, TopicUserRegistered, headers["event_type"])
	assert.Equal(t, "corr-1", headers["correlation_id"])
}

func TestProducerPublishEmailChanged(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)
	u := testUser()
	u.Email = "new@example.com"

	require.NoError(t, p.PublishEmailChanged(context.Background(), u, "old@example.com"))
	require.Len(t, w.messages, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &env))
	var data EmailChangedData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "old@example.com", data.OldEmail)
	assert.Equal(t, "new@example.com", data.NewEmail)
}

func TestProducerPublishErrorPropagates(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newTestProducer(w)

	err := p.PublishUserVerified(context.Background(), testUser())
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicUserVerified)
}
