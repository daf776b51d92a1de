package event

import (
	"context"

	"github.com/fernwood/siteauth/internal/domain"
)

// NoopPublisher discards all events. It stands in for the Kafka producer
// when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishUserRegistered(context.Context, *domain.User) error { return nil }
func (NoopPublisher) PublishUserVerified(context.Context, *domain.User) error   { return nil }
func (NoopPublisher) PublishPasswordReset(context.Context, *domain.User) error  { return nil }
func (NoopPublisher) PublishEmailChanged(context.Context, *domain.User, string) error {
	return nil
}
func (NoopPublisher) PublishUserDeleted(context.Context, *domain.User) error { return nil }
