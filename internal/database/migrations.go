package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/logger"
)

const migrationLockID = 727001

// tables in dependency order
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email VARCHAR(255) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		first_name VARCHAR(100),
		last_name VARCHAR(100),
		role VARCHAR(50) NOT NULL DEFAULT 'user',
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS cell_captives (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		code VARCHAR(50) UNIQUE NOT NULL,
		contact_email VARCHAR(255),
		contact_phone VARCHAR(50),
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		cell_captive_id UUID NOT NULL REFERENCES cell_captives(id) ON DELETE CASCADE,
		key_name VARCHAR(100) NOT NULL,
		key_hash CHAR(64) UNIQUE NOT NULL,
		key_preview VARCHAR(20) NOT NULL,
		permissions JSONB NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT true,
		last_used_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		created_by UUID REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS pas_systems (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(100) NOT NULL,
		type VARCHAR(50) UNIQUE NOT NULL,
		endpoint_url VARCHAR(500),
		auth_config JSONB,
		is_active BOOLEAN NOT NULL DEFAULT true,
		last_sync_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS policies (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		policy_number VARCHAR(100) UNIQUE NOT NULL,
		cell_captive_id UUID NOT NULL REFERENCES cell_captives(id),
		pas_system_id UUID REFERENCES pas_systems(id),
		client_name VARCHAR(255) NOT NULL,
		client_email VARCHAR(255),
		client_phone VARCHAR(50),
		premium_amount DECIMAL(12,2) NOT NULL,
		frequency VARCHAR(20) NOT NULL DEFAULT 'monthly',
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		mandate_reference VARCHAR(100),
		bank_account_number VARCHAR(50),
		bank_branch_code VARCHAR(20),
		bank_account_type VARCHAR(20) DEFAULT 'current',
		next_collection_date DATE,
		grace_period_days INTEGER NOT NULL DEFAULT 7,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT policies_frequency_check CHECK (frequency IN ('monthly', 'quarterly', 'annually')),
		CONSTRAINT policies_status_check CHECK (status IN ('active', 'lapsed', 'cancelled'))
	)`,

	`CREATE TABLE IF NOT EXISTS collections (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		collection_reference VARCHAR(100) UNIQUE NOT NULL,
		policy_id UUID NOT NULL REFERENCES policies(id),
		cell_captive_id UUID NOT NULL REFERENCES cell_captives(id),
		collection_type VARCHAR(20) NOT NULL,
		amount DECIMAL(12,2) NOT NULL,
		collection_date DATE NOT NULL,
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		failure_reason TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 2,
		investec_reference VARCHAR(100),
		created_by UUID REFERENCES users(id),
		approved_by UUID REFERENCES users(id),
		approved_at TIMESTAMPTZ,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT collections_type_check CHECK (collection_type IN ('recurring', 'adhoc')),
		CONSTRAINT collections_status_check CHECK (status IN ('pending', 'submitted', 'successful', 'failed', 'cancelled'))
	)`,

	`CREATE TABLE IF NOT EXISTS reconciliation_records (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		collection_id UUID UNIQUE NOT NULL REFERENCES collections(id),
		investec_reference VARCHAR(100),
		bank_reference VARCHAR(100),
		amount DECIMAL(12,2),
		transaction_date DATE,
		status VARCHAR(50) NOT NULL,
		reconciled_by UUID REFERENCES users(id),
		reconciled_at TIMESTAMPTZ,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT reconciliation_status_check CHECK (status IN ('matched', 'unmatched', 'disputed'))
	)`,

	`CREATE TABLE IF NOT EXISTS audit_trail (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		table_name VARCHAR(100) NOT NULL,
		record_id UUID NOT NULL,
		action VARCHAR(20) NOT NULL,
		old_values JSONB,
		new_values JSONB,
		changed_by UUID REFERENCES users(id) ON DELETE SET NULL,
		ip_address INET,
		user_agent TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS webhook_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		cell_captive_id UUID REFERENCES cell_captives(id) ON DELETE SET NULL,
		endpoint VARCHAR(500) NOT NULL,
		method VARCHAR(10) NOT NULL,
		headers JSONB,
		payload JSONB,
		response_status INTEGER,
		response_body TEXT,
		processing_time_ms INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_policies_cell_captive_id ON policies(cell_captive_id)`,
	`CREATE INDEX IF NOT EXISTS idx_policies_status ON policies(status)`,
	`CREATE INDEX IF NOT EXISTS idx_collections_policy_date ON collections(policy_id, collection_date)`,
	`CREATE INDEX IF NOT EXISTS idx_collections_cell_captive_id ON collections(cell_captive_id)`,
	`CREATE INDEX IF NOT EXISTS idx_collections_status ON collections(status)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_cell_captive_id ON api_keys(cell_captive_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_trail_table_record ON audit_trail(table_name, record_id)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_logs_captive_created ON webhook_logs(cell_captive_id, created_at DESC)`,
}

// tables whose updated_at is maintained by trigger
var updatedAtTables = []string{
	"users", "cell_captives", "api_keys", "pas_systems",
	"policies", "collections", "reconciliation_records",
}

// RunMigrations creates the schema idempotently under an advisory lock so
// concurrently starting replicas do not race.
func RunMigrations(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log := logger.Named("database")
	log.Info("🚀 Starting database migrations...")

	log.Info("🔒 Acquiring migration lock...")
	if _, err := db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := db.Exec("SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("⚠️  Failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS "pgcrypto"`); err != nil {
		log.Warn("⚠️  pgcrypto extension not created", zap.Error(err))
	}

	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}
	log.Info("✓ Tables ready", zap.Int("count", len(schemaStatements)))

	for _, stmt := range indexStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index creation failed: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`); err != nil {
		return fmt.Errorf("failed to create updated_at function: %w", err)
	}

	for _, table := range updatedAtTables {
		trigger := fmt.Sprintf("update_%s_updated_at", table)
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table)); err != nil {
			return fmt.Errorf("failed to drop trigger %s: %w", trigger, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(
			"CREATE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()",
			trigger, table)); err != nil {
			return fmt.Errorf("failed to create trigger %s: %w", trigger, err)
		}
	}

	log.Info("✅ Database migrations completed successfully!")
	return nil
}
