package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/premiumcollect/premiumcollect/internal/logger"
)

// SeedOptions controls first-run data.
type SeedOptions struct {
	AdminEmail    string
	AdminPassword string
	// DemoData adds the PAS systems and sample cell captives.
	DemoData bool
}

var defaultPASSystems = []struct {
	name, kind, endpoint string
}{
	{"Grail PAS", "grail", "https://api.grail.com/v1"},
	{"Root PAS", "root", "https://api.root.co.za/v1"},
	{"Genesys Skyy", "genesys_skyy", "https://api.genesys-skyy.com/v1"},
	{"Owl PAS", "owl", "https://api.owl.co.za/v1"},
}

var sampleCaptives = []struct {
	name, code, email string
}{
	{"Alpha Insurance Cell", "ALPHA001", "admin@alpha-insurance.com"},
	{"Beta Life Cell", "BETA002", "admin@beta-life.com"},
	{"Gamma Health Cell", "GAMMA003", "admin@gamma-health.com"},
}

// InitializeDefaultData creates the admin user and, optionally, the demo
// tenants. Every insert is conditional so the seed can run on every start.
func InitializeDefaultData(ctx context.Context, db *sql.DB, opts SeedOptions) error {
	log := logger.Named("database")
	log.Info("🔍 Checking default data...")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, opts.AdminEmail).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check admin user: %w", err)
	}
	if !exists {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to generate password hash: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (email, password_hash, first_name, last_name, role)
			VALUES ($1, $2, $3, $4, 'admin')
		`, opts.AdminEmail, string(hash), "System", "Administrator"); err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		log.Info("👤 Default admin user created", zap.String("email", opts.AdminEmail))
	}

	if opts.DemoData {
		for _, pas := range defaultPASSystems {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pas_systems (name, type, endpoint_url, auth_config)
				VALUES ($1, $2, $3, '{}')
				ON CONFLICT (type) DO NOTHING
			`, pas.name, pas.kind, pas.endpoint); err != nil {
				return fmt.Errorf("failed to seed PAS system %s: %w", pas.kind, err)
			}
		}
		log.Info("🔗 Default PAS systems initialized")

		for _, cc := range sampleCaptives {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cell_captives (name, code, contact_email)
				VALUES ($1, $2, $3)
				ON CONFLICT (code) DO NOTHING
			`, cc.name, cc.code, cc.email); err != nil {
				return fmt.Errorf("failed to seed cell captive %s: %w", cc.code, err)
			}
		}
		log.Info("🏢 Sample cell captives ready")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit default data: %w", err)
	}
	return nil
}
