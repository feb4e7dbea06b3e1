package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/database/mocks"
	"github.com/relaysms/relay/model"
)

// stubResolver returns a fixed recipient list.
type stubResolver struct {
	recipients []model.Recipient
	err        error
}

func (s *stubResolver) Resolve(_ context.Context, _ string, _ model.AudienceSelector) ([]model.Recipient, error) {
	return s.recipients, s.err
}

// stubRenderer renders a fixed body.
type stubRenderer struct {
	body string
	err  error
}

func (s *stubRenderer) Render(_ context.Context, _, _ string, _ model.Recipient) (string, error) {
	return s.body, s.err
}

// stubTransport records sent messages and can be told to fail.
type stubTransport struct {
	sent []*model.OutboundMessage
	fail bool
}

func (s *stubTransport) Send(_ context.Context, message *model.OutboundMessage) (string, error) {
	if s.fail {
		return "", errors.New("provider rejected message")
	}
	s.sent = append(s.sent, message)
	return "provider-msg-1", nil
}

// newTestRelay builds a Relay against miniredis and a mock datasource.
func newTestRelay(t *testing.T, ds *mocks.MockDataSource) (*Relay, *stubTransport) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		ProjectName: "Relay Test",
		DataSource:  config.DataSourceConfig{Dns: "test-dns"},
		Redis:       config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{
			SendQueue:      "relay:send",
			WebhookQueue:   "relay:webhook",
			NumberOfQueues: 2,
		},
		Scheduler:   config.SchedulerConfig{PollIntervalSec: 1, BatchSize: 10},
		Idempotency: config.IdempotencyConfig{LeaseDurationMin: 15},
		Billing:     config.BillingConfig{CostPerMessage: 1},
	})

	queueOptions := asynq.RedisClientOpt{Addr: mr.Addr()}
	transport := &stubTransport{}
	r := &Relay{
		datasource: ds,
		redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		queue: &Queue{
			Client:    asynq.NewClient(queueOptions),
			Inspector: asynq.NewInspector(queueOptions),
		},
		resolver:  &stubResolver{},
		renderer:  &stubRenderer{body: "hello"},
		transport: transport,
	}
	return r, transport
}

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}
