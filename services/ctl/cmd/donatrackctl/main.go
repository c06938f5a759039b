package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"donatrack/pkg/auth"
	"donatrack/pkg/config"
	"donatrack/pkg/db"
	"donatrack/pkg/telemetry"
	"donatrack/services/ledger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "donatrackctl",
		Short:         "Maintenance utility for the donatrack ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedCommand())
	cmd.AddCommand(newAuditCommand())
	return cmd
}

// env bundles the handles every subcommand needs.
type env struct {
	cfg    config.Config
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := db.Open(ctx, cfg.DBDSN, db.Options{
		MaxConns:         4,
		ConnectTimeout:   cfg.DBConnectTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &env{cfg: cfg, pool: pool, logger: telemetry.NewLogger("donatrackctl", cfg.LogLevel, "console")}, nil
}

func (e *env) ledger() (*ledger.Service, error) {
	orm, err := db.OpenORM(e.pool)
	if err != nil {
		return nil, err
	}
	loc, err := e.cfg.Location()
	if err != nil {
		return nil, err
	}
	return ledger.New(&ledger.Store{DB: e.pool, ORM: orm}, ledger.Options{
		Credentials: auth.Bcrypt{},
		Location:    loc,
		Logger:      e.logger,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			if err := db.Migrate(ctx, e.pool); err != nil {
				return err
			}
			e.logger.Info().Msg("migrations applied")
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			statuses, err := db.MigrationStatus(ctx, e.pool)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range statuses {
				applied := "pending"
				if !s.AppliedAt.IsZero() {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%05d  %-8s  %s\n", s.Source.Version, s.State, applied)
			}
			return nil
		},
	})
	return cmd
}

func newSeedCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create accounts and categories from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			seed, err := parseSeed(data)
			if err != nil {
				return err
			}

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			svc, err := e.ledger()
			if err != nil {
				return err
			}
			res, err := applySeed(ctx, svc, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "users: %d created, %d existing; categories: %d created, %d existing\n",
				res.UsersCreated, res.UsersExisting, res.CategoriesCreated, res.CategoriesExisting)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Seed definition (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		limit  int
		action string
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.pool.Close()

			svc, err := e.ledger()
			if err != nil {
				return err
			}
			page, err := svc.QueryAudit(ctx, ledger.SystemActor(), ledger.AuditFilter{
				Action: ledger.Action(action),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, entry := range page.Entries {
				fmt.Fprintln(out, formatEntry(entry))
			}
			return nil
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "Number of entries to print")
	tail.Flags().StringVar(&action, "action", "", "Only print entries with this action")

	cmd.AddCommand(tail)
	return cmd
}

func formatEntry(entry ledger.AuditEntry) string {
	actor := "system"
	if entry.UserID != nil {
		actor = entry.UserID.String()
	}
	return fmt.Sprintf("%s  %-20s  %-8s  %-36s  %s",
		entry.Timestamp.UTC().Format(time.RFC3339), entry.Action, entry.EntityType, actor, entry.Description)
}
