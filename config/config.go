package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5100"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"RELAY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"RELAY_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"RELAY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"RELAY_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"RELAY_REDIS_DNS"`
}

type QueueConfig struct {
	SendQueue      string `json:"send_queue" envconfig:"RELAY_QUEUE_SEND"`
	WebhookQueue   string `json:"webhook_queue" envconfig:"RELAY_QUEUE_WEBHOOK"`
	NumberOfQueues int    `json:"number_of_queues" envconfig:"RELAY_QUEUE_NUMBER_OF_QUEUES"`
	MonitoringPort string `json:"monitoring_port" envconfig:"RELAY_QUEUE_MONITORING_PORT"`
}

type SchedulerConfig struct {
	PollIntervalSec int `json:"poll_interval_sec" envconfig:"RELAY_SCHEDULER_POLL_INTERVAL_SEC"`
	BatchSize       int `json:"batch_size" envconfig:"RELAY_SCHEDULER_BATCH_SIZE"`
}

// IdempotencyConfig carries the lease duration after which a pending
// idempotency record left by a crashed worker may be reclaimed. The source
// system never pinned this down, so it is configuration rather than a
// constant.
type IdempotencyConfig struct {
	LeaseDurationMin int `json:"lease_duration_min" envconfig:"RELAY_IDEMPOTENCY_LEASE_MIN"`
}

type BillingConfig struct {
	CostPerMessage int64 `json:"cost_per_message" envconfig:"RELAY_BILLING_COST_PER_MESSAGE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"RELAY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"RELAY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"RELAY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string            `json:"project_name" envconfig:"RELAY_PROJECT_NAME"`
	Server       ServerConfig      `json:"server"`
	DataSource   DataSourceConfig  `json:"data_source"`
	Redis        RedisConfig       `json:"redis"`
	Queue        QueueConfig       `json:"queue"`
	Scheduler    SchedulerConfig   `json:"scheduler"`
	Idempotency  IdempotencyConfig `json:"idempotency"`
	Billing      BillingConfig     `json:"billing"`
	Notification Notification      `json:"notification"`
	RateLimit    RateLimitConfig   `json:"rate_limit"`
}

// IdempotencyLease returns the configured reclaim lease as a duration.
func (cnf *Configuration) IdempotencyLease() time.Duration {
	return time.Duration(cnf.Idempotency.LeaseDurationMin) * time.Minute
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("relay", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called relay.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Relay Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.SendQueue == "" {
		cnf.Queue.SendQueue = "relay:send"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "relay:webhook"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5101"
	}

	if cnf.Scheduler.PollIntervalSec <= 0 {
		cnf.Scheduler.PollIntervalSec = 15
	}
	if cnf.Scheduler.BatchSize <= 0 {
		cnf.Scheduler.BatchSize = 50
	}

	if cnf.Idempotency.LeaseDurationMin <= 0 {
		cnf.Idempotency.LeaseDurationMin = 15
		log.Printf("Warning: Idempotency lease not specified. Setting default value: %d minutes", cnf.Idempotency.LeaseDurationMin)
	}

	if cnf.Billing.CostPerMessage <= 0 {
		cnf.Billing.CostPerMessage = 1
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
