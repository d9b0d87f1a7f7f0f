package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/api"
	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/config"
	"github.com/premiumcollect/premiumcollect/internal/database"
	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/models"
	"github.com/premiumcollect/premiumcollect/internal/realtime"
	"github.com/premiumcollect/premiumcollect/internal/repository"
	"github.com/premiumcollect/premiumcollect/internal/service"
)

var (
	cfg *config.Config
	log *zap.Logger

	keyName        string
	keyPermissions []string
	keyExpiresIn   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "premiumcollect",
	Short: "Premium collection webhook and back-office API",
	Long: `premiumcollect receives collection and policy updates from policy
administration systems, reconciles them, and serves the staff dashboard.

Run without arguments to start the API server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log, err = logger.Init(logger.Config{
			Level:       cfg.LogLevel,
			Environment: cfg.Environment,
			ServiceName: "premiumcollect",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		apperr.SetVerbose(cfg.IsDevelopment())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Connects to PostgreSQL, applies migrations and seed data, then serves
HTTP and WebSocket traffic. When the database cannot be reached the server
still starts in demo mode and database-backed routes answer 503.`,
	RunE: runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.RunMigrations(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("✅ Migrations applied")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default admin and demo data",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.InitializeDefaultData(cmd.Context(), db, seedOptions()); err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
		log.Info("✅ Seed data ready")
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage cell captive API keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate [captive-code]",
	Short: "Generate an API key for a cell captive",
	Long: `Generates an API key for the cell captive with the given code and prints
the token. The token is shown once and cannot be recovered.

Example:
  premiumcollect keys generate ALPHA001 --name "PAS production" --permissions collections:write,logs:read`,
	Args: cobra.ExactArgs(1),
	RunE: runKeysGenerate,
}

func init() {
	keysGenerateCmd.Flags().StringVar(&keyName, "name", "CLI key", "key name shown in the dashboard")
	keysGenerateCmd.Flags().StringSliceVar(&keyPermissions, "permissions", nil, "comma separated scopes (default: collections:write, policies:write, logs:read)")
	keysGenerateCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "key lifetime, e.g. 8760h (default: never)")

	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, keysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	db, err := database.NewPostgresDB(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func seedOptions() database.SeedOptions {
	return database.SeedOptions{
		AdminEmail:    cfg.DefaultAdminEmail,
		AdminPassword: cfg.DefaultAdminPassword,
		DemoData:      cfg.SeedDemoData,
	}
}

// prepareDatabase connects, migrates and seeds. Any failure leaves the
// server in demo mode rather than stopping it.
func prepareDatabase(ctx context.Context) *sql.DB {
	db, err := openDB()
	if err != nil {
		log.Warn("⚠️  Database unavailable, starting in demo mode", zap.Error(err))
		return nil
	}
	if err := database.RunMigrations(db); err != nil {
		log.Warn("⚠️  Migrations failed, starting in demo mode", zap.Error(err))
		db.Close()
		return nil
	}
	if err := database.InitializeDefaultData(ctx, db, seedOptions()); err != nil {
		log.Warn("⚠️  Seeding failed, starting in demo mode", zap.Error(err))
		db.Close()
		return nil
	}
	log.Info("✅ Database ready")
	return db
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := prepareDatabase(ctx)
	if db != nil {
		defer db.Close()
	}

	server := api.NewServer(cfg, db)

	if cfg.RedisURL != "" {
		client, err := realtime.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("⚠️  Redis unavailable, live events stay local to this instance", zap.Error(err))
		} else {
			defer client.Close()
			if err := server.Hub().UseRelay(ctx, realtime.NewRedisRelay(client, realtime.DefaultRelayChannel)); err != nil {
				log.Warn("⚠️  Failed to start event relay", zap.Error(err))
			} else {
				log.Info("✅ Redis event relay started", zap.String("channel", realtime.DefaultRelayChannel))
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		_ = server.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	log.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewStore(db)
	captive, err := repo.GetCaptiveByCode(ctx, strings.ToUpper(args[0]))
	if err != nil {
		return fmt.Errorf("cell captive %q: %w", args[0], err)
	}

	req := models.CreateAPIKeyRequest{
		CellCaptiveID: captive.ID,
		KeyName:       keyName,
		Permissions:   keyPermissions,
	}
	if keyExpiresIn > 0 {
		expires := time.Now().Add(keyExpiresIn)
		req.ExpiresAt = &expires
	}

	keys := service.NewAPIKeyManagementService(service.NewStore(repo), service.NewAuditService(repo), cfg.APIKeyPrefix)
	generated, err := keys.Generate(ctx, req, models.RequestMeta{UserAgent: "premiumcollect-cli"})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cell captive: %s (%s)\n", captive.Name, captive.Code)
	fmt.Fprintf(cmd.OutOrStdout(), "Key name:     %s\n", generated.KeyName)
	fmt.Fprintf(cmd.OutOrStdout(), "Permissions:  %s\n", strings.Join(generated.Permissions, ","))
	fmt.Fprintf(cmd.OutOrStdout(), "API key:      %s\n", generated.Token)
	fmt.Fprintln(cmd.OutOrStdout(), "Store this key now; it will not be shown again.")
	return nil
}
