package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relaysms/relay"
	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/internal/notification"
	redis_db "github.com/relaysms/relay/internal/redis-db"
)

// processRecipientSend handles one recipient-level send task from the queue.
// Errors are returned so asynq retries the task; the send outcome counters
// are only bumped by ProcessRecipientSend itself.
func (r *relayInstance) processRecipientSend(ctx context.Context, t *asynq.Task) error {
	var task relay.SendTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logrus.Error(err)
		return err
	}

	if err := r.relay.ProcessRecipientSend(ctx, &task); err != nil {
		logrus.Infof("Send task %s pushed back for retry due to error: %v", task.TaskID(), err)
		return err
	}

	log.Println(" [*] Recipient Send Processed", task.TaskID())
	return nil
}

// processWebhookNotification delivers one outbound notification to the
// configured endpoint.
func (r *relayInstance) processWebhookNotification(_ context.Context, t *asynq.Task) error {
	var payload map[string]interface{}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	return notification.WebhookNotification(payload)
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.WebhookQueue] = 3

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.SendQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(r *relayInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.SendQueue, i)
		mux.HandleFunc(queueName, r.processRecipientSend)
	}

	mux.HandleFunc(cfg.Queue.WebhookQueue, r.processWebhookNotification)
}

// workerCommands defines the "workers" command. It runs the asynq worker
// server for recipient sends and notifications, plus the durable job
// scheduler that fires automations and sweeps due campaigns.
func workerCommands(r *relayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start relay workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(r, mux)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			scheduler := relay.NewScheduler(r.relay)
			go func() {
				if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
					log.Fatalf("scheduler stopped: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
