package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"kilnstudio/internal/app"
	"kilnstudio/internal/config"
	"kilnstudio/internal/database"
	"kilnstudio/internal/domain"
	"kilnstudio/internal/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "studioctl",
	Short: "Operational tasks for the studio booking service",
	Long: `studioctl runs maintenance jobs against the studio database:
schema migration, demo data, waitlist promotion and the end-of-day sweep.
It reads the same environment as the API server.`,
}

func Execute(ctx context.Context) error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.ExecuteContext(ctx)
}

// open loads config and connects to the database.
func open() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.Init(cfg.LogLevel, !cfg.IsProdLike())
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// withApp builds the full service without starting background workers, so
// commands run synchronously and exit.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, db, err := open()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return fn(a)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := open()
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		cmd.Println("schema is up to date")
		return nil
	},
}

var promoteFlags struct {
	tenant   int64
	session  int64
	resource int64
	start    string
}

var promoteCmd = &cobra.Command{
	Use:   "promote-waitlist",
	Short: "Promote waitlisted customers into a freed slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := time.Parse(time.RFC3339, promoteFlags.start)
		if err != nil {
			return fmt.Errorf("invalid --start, want RFC3339: %w", err)
		}
		slot := domain.Slot{SessionID: promoteFlags.session, ResourceID: promoteFlags.resource, StartTime: start}
		return withApp(cmd.Context(), func(a *app.App) error {
			out, err := a.Waitlist.Process(cmd.Context(), promoteFlags.tenant, slot)
			if err != nil {
				return err
			}
			switch {
			case out.Fulfilled != nil && out.BookingID != nil:
				cmd.Printf("promoted waitlist entry %d into booking %d\n", out.Fulfilled.ID, *out.BookingID)
			case out.NoCapacity:
				cmd.Println("slot is full, nobody promoted")
			default:
				cmd.Println("no eligible waitlist entries")
			}
			for _, s := range out.Skipped {
				cmd.Printf("skipped entry %d: %s\n", s.EntryID, s.Reason)
			}
			return nil
		})
	},
}

var sweepFlags struct {
	tenant int64
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Complete finished bookings and mark missed reservations as no-shows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			completed, noShows, err := a.Sweep(cmd.Context(), sweepFlags.tenant, time.Now())
			if err != nil {
				return err
			}
			cmd.Printf("completed %d bookings, marked %d no-shows\n", completed, noShows)
			return nil
		})
	},
}

func init() {
	promoteCmd.Flags().Int64Var(&promoteFlags.tenant, "tenant", 0, "tenant id")
	promoteCmd.Flags().Int64Var(&promoteFlags.session, "session", 0, "open studio session id")
	promoteCmd.Flags().Int64Var(&promoteFlags.resource, "resource", 0, "resource id")
	promoteCmd.Flags().StringVar(&promoteFlags.start, "start", "", "slot start time (RFC3339)")
	for _, name := range []string{"tenant", "session", "resource", "start"} {
		_ = promoteCmd.MarkFlagRequired(name)
	}

	sweepCmd.Flags().Int64Var(&sweepFlags.tenant, "tenant", 0, "tenant id")
	_ = sweepCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(migrateCmd, seedCmd, promoteCmd, sweepCmd)
}
