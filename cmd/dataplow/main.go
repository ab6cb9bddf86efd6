package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saltyorg/dataplow/internal/config"
	"github.com/saltyorg/dataplow/internal/database"
	"github.com/saltyorg/dataplow/internal/logging"
	"github.com/saltyorg/dataplow/internal/users"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultDBPath = "./dataplow.db"

// CLI flags
var (
	dbPath    string
	verbosity int
	noLogFile bool

	// Option overrides (stored settings are used when unset)
	maxAttempts int
	baseDelay   time.Duration
	pageSize    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dataplow",
		Short:         "Dataplow - resilient SQLite data access",
		Long:          `Dataplow manages a user_data SQLite store through scoped connections, retried transactions, a result cache, lazy paging and streaming aggregates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", defaultDBPath, "SQLite database path (or set DATAPLOW_DB env var)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	rootCmd.PersistentFlags().BoolVar(&noLogFile, "no-log-file", false, "Log to the console only")

	// Advanced option overrides
	rootCmd.PersistentFlags().IntVar(&maxAttempts, "max-attempts", config.DefaultMaxAttempts, "Attempts per retried operation")
	rootCmd.PersistentFlags().DurationVar(&baseDelay, "base-delay", config.DefaultBaseDelay, "Fixed delay between retry attempts")
	rootCmd.PersistentFlags().IntVar(&pageSize, "page-size", config.DefaultPageSize, "Rows per page")

	rootCmd.AddCommand(
		migrateCmd(),
		seedCmd(),
		usersCmd(),
		settingsCmd(),
		maintenanceCmd(),
		serveCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("dataplow %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

// app holds the opened store and everything built on it.
type app struct {
	db   *database.DB
	drv  database.Driver
	opts config.Options
	repo *users.Repository
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}

// openApp opens and migrates the database, loads stored options and applies
// flag overrides.
func openApp(cmd *cobra.Command) (*app, error) {
	// Check for DATAPLOW_DB env var if using default
	if !cmd.Flags().Changed("db") {
		if envDB := os.Getenv("DATAPLOW_DB"); envDB != "" {
			dbPath = envDB
		}
	}

	// Console logging until stored log settings are readable
	logging.Apply(verbosity, nil, "")

	db, err := database.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.Migrate(cmd.Context()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := db.InitializeDefaults(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize settings: %w", err)
	}

	loader := config.NewLoader(db)
	logFile := logging.FilePathForDB(dbPath)
	if noLogFile {
		logFile = ""
	}
	logging.Apply(verbosity, loader, logFile)

	opts := config.LoadOptions(loader)
	if cmd.Flags().Changed("max-attempts") {
		opts.MaxAttempts = maxAttempts
	}
	if cmd.Flags().Changed("base-delay") {
		opts.BaseDelay = baseDelay
	}
	if cmd.Flags().Changed("page-size") {
		opts.PageSize = pageSize
	}
	if err := opts.Validate(); err != nil {
		db.Close()
		return nil, err
	}

	drv := database.WithQueryLogging(db)

	log.Debug().
		Str("database", dbPath).
		Int("max_attempts", opts.MaxAttempts).
		Dur("base_delay", opts.BaseDelay).
		Int("page_size", opts.PageSize).
		Msg("Store ready")

	return &app{
		db:   db,
		drv:  drv,
		opts: opts,
		repo: users.New(drv, opts, nil),
	}, nil
}

// withApp adapts fn into a cobra RunE that owns the app lifecycle.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			v, err := a.db.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		}),
	}
}

func seedCmd() *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users from a name,email,age CSV file",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			f, err := os.Open(csvPath)
			if err != nil {
				return fmt.Errorf("failed to open seed file: %w", err)
			}
			defer f.Close()

			n, err := a.repo.SeedCSV(cmd.Context(), f)
			if err != nil {
				return err
			}
			log.Info().Str("file", csvPath).Int("inserted", n).Msg("Seed complete")
			return nil
		}),
	}
	cmd.Flags().StringVar(&csvPath, "csv", "user_data.csv", "CSV file with a name,email,age header")
	return cmd
}

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Database maintenance tasks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "optimize",
			Short: "Run PRAGMA optimize",
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				return a.db.Optimize(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "vacuum",
			Short: "Rebuild the database file",
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				return a.db.Vacuum(cmd.Context())
			}),
		},
	)
	return cmd
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change stored settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every stored setting",
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				all, err := a.db.GetAllSettings(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, all)
			}),
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store a setting",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				return a.db.SetSetting(args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Remove a setting so its default applies",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
				return a.db.DeleteSetting(args[0])
			}),
		},
	)
	return cmd
}
