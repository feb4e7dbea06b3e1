package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"

	"github.com/relaysms/relay/config"
	redis_db "github.com/relaysms/relay/internal/redis-db"
)

// Queue wraps the asynq client used to fan campaign sends out to workers and
// to deliver outbound notifications.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// SendTask is the payload of one recipient-level send. It carries everything
// the worker needs except the rendered body, which is produced at execution
// time so template edits before the send take effect.
type SendTask struct {
	CampaignID  string `json:"campaign_id"`
	TenantID    string `json:"tenant_id"`
	ContactID   string `json:"contact_id"`
	TemplateID  string `json:"template_id"`
	PhoneNumber string `json:"phone_number"`
}

// TaskID returns the deduplication ID for this send. One task per
// (campaign, contact) pair, no matter how many times the fan-out runs.
func (t *SendTask) TaskID() string {
	return fmt.Sprintf("send_%s_%s", t.CampaignID, t.ContactID)
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueRecipientSend enqueues one recipient send. Sends for the same tenant
// land on the same shard so a tenant's traffic is processed in order and one
// large tenant cannot starve the others.
func (q *Queue) EnqueueRecipientSend(ctx context.Context, task *SendTask) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	queueIndex := hashTenantID(task.TenantID) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.SendQueue, queueIndex+1)

	taskOptions := []asynq.Option{
		asynq.TaskID(task.TaskID()),
		asynq.Queue(queueName),
		asynq.MaxRetry(5),
	}
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(queueName, payload, taskOptions...))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Re-run of the fan-out after a crash. The task is already there.
			return nil
		}
		log.Println(err, info)
		return err
	}

	return nil
}

// EnqueueWebhookNotification queues an outbound notification to the tenant's
// configured endpoint, for example when a campaign reaches a terminal status.
func (q *Queue) EnqueueWebhookNotification(ctx context.Context, payload interface{}) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(cnf.Queue.WebhookQueue, body, asynq.Queue(cnf.Queue.WebhookQueue), asynq.MaxRetry(5))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// GetSendTaskFromQueue retrieves a pending send task by its deduplication ID.
func (q *Queue) GetSendTaskFromQueue(taskID string) (*SendTask, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.SendQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, taskID)
		if err == nil && task != nil {
			var st SendTask
			if err := json.Unmarshal(task.Payload, &st); err != nil {
				return nil, err
			}
			return &st, nil
		}
	}
	return nil, nil
}

// hashTenantID returns a consistent hash value for a tenant ID.
func hashTenantID(tenantID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(tenantID))
	return int(hasher.Sum32())
}
