package relay

import (
	"context"
	"embed"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/database"
	"github.com/relaysms/relay/internal/cache"
	redis_db "github.com/relaysms/relay/internal/redis-db"
	"github.com/relaysms/relay/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// RecipientResolver expands an audience selector into concrete recipients.
// Implementations live with the contact store, outside this module.
type RecipientResolver interface {
	Resolve(ctx context.Context, tenantID string, audience model.AudienceSelector) ([]model.Recipient, error)
}

// MessageRenderer renders a template for one recipient.
type MessageRenderer interface {
	Render(ctx context.Context, tenantID, templateID string, recipient model.Recipient) (string, error)
}

// SMSTransport hands a rendered message to the SMS provider and returns the
// provider's message ID.
type SMSTransport interface {
	Send(ctx context.Context, message *model.OutboundMessage) (string, error)
}

// Relay wires the orchestration services to their storage, queue, and
// provider-facing collaborators.
type Relay struct {
	queue      *Queue
	redis      redis.UniversalClient
	cache      cache.Cache
	datasource database.IDataSource
	resolver   RecipientResolver
	renderer   MessageRenderer
	transport  SMSTransport
}

// Option customizes a Relay during construction.
type Option func(*Relay)

func WithRecipientResolver(r RecipientResolver) Option {
	return func(rl *Relay) { rl.resolver = r }
}

func WithMessageRenderer(m MessageRenderer) Option {
	return func(rl *Relay) { rl.renderer = m }
}

func WithSMSTransport(t SMSTransport) Option {
	return func(rl *Relay) { rl.transport = t }
}

// NewRelay initializes a Relay instance with the provided datasource.
// Collaborators default to no-op implementations so the API surface works in
// environments without a contact store or provider wired in.
func NewRelay(db database.IDataSource, opts ...Option) (*Relay, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	newRelay := &Relay{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		cache:      newCache,
		resolver:   noopResolver{},
		renderer:   passthroughRenderer{},
		transport:  loggingTransport{},
	}
	for _, opt := range opts {
		opt(newRelay)
	}
	return newRelay, nil
}

// Queue exposes the underlying queue, mainly for the workers command.
func (r *Relay) Queue() *Queue {
	return r.queue
}

type noopResolver struct{}

func (noopResolver) Resolve(_ context.Context, _ string, _ model.AudienceSelector) ([]model.Recipient, error) {
	return nil, nil
}

type passthroughRenderer struct{}

func (passthroughRenderer) Render(_ context.Context, _, templateID string, _ model.Recipient) (string, error) {
	return templateID, nil
}

type loggingTransport struct{}

func (loggingTransport) Send(_ context.Context, message *model.OutboundMessage) (string, error) {
	logrus.WithFields(logrus.Fields{
		"tenant_id":  message.TenantID,
		"contact_id": message.ContactID,
	}).Info("sms transport not configured, dropping message")
	return model.GenerateUUIDWithSuffix("msg"), nil
}
