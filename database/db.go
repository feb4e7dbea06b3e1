package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	if err := createIdempotencyTable(db); err != nil {
		return nil, err
	}
	if err := createWalletTables(db); err != nil {
		return nil, err
	}
	if err := createWebhookEventTable(db); err != nil {
		return nil, err
	}
	if err := createScheduledJobTable(db); err != nil {
		return nil, err
	}
	if err := createCampaignTable(db); err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS relay`)
	if err != nil {
		log.Printf("Error creating relay schema: %v", err)
	}
	return err
}

// createIdempotencyTable creates the ledger of in-flight and completed
// operations. The composite unique constraint is what makes concurrent
// duplicate requests collapse into a single row.
func createIdempotencyTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS relay.idempotency_records (
			id SERIAL PRIMARY KEY,
			record_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			scope_key TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			status TEXT NOT NULL,
			result JSONB,
			owner_token TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, scope_key, idempotency_key)
		)
	`)
	if err != nil {
		log.Printf("Error creating idempotency_records table: %v", err)
	}
	return err
}

func createWalletTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS relay.wallet_balances (
			id SERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL UNIQUE,
			balance BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating wallet_balances table: %v", err)
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS relay.credit_transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			reason TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			balance_after BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, idempotency_key)
		)
	`)
	if err != nil {
		log.Printf("Error creating credit_transactions table: %v", err)
	}
	return err
}

func createWebhookEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS relay.webhook_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			provider TEXT NOT NULL,
			external_event_id TEXT NOT NULL,
			tenant_id TEXT,
			event_type TEXT,
			status TEXT NOT NULL,
			result JSONB,
			last_error TEXT,
			processed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (provider, external_event_id)
		)
	`)
	if err != nil {
		log.Printf("Error creating webhook_events table: %v", err)
	}
	return err
}

func createScheduledJobTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS relay.scheduled_jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			run_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			payload JSONB,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			claimed_at TIMESTAMP,
			cancelled_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating scheduled_jobs table: %v", err)
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_due
		ON relay.scheduled_jobs (status, run_at)
	`)
	if err != nil {
		log.Printf("Error creating scheduled_jobs index: %v", err)
	}
	return err
}

func createCampaignTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS relay.campaigns (
			id SERIAL PRIMARY KEY,
			campaign_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			template_id TEXT NOT NULL,
			status TEXT NOT NULL,
			audience JSONB,
			recipient_count INT NOT NULL DEFAULT 0,
			accepted_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			schedule_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating campaigns table: %v", err)
	}
	return err
}
