package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gratulo/internal/app"
	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/repository"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune expired data (failed mail, job logs, sessions)",
	Long: `Run one retention pass: failed messages older than the configured
queue retention, job logs older than the same retention, and expired
login sessions. serve runs the same pass hourly.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report what would be removed without deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	q, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	jobs := repository.NewJobRepository(database.DB)
	users := repository.NewUserRepository(database.DB)
	cutoff := time.Now().Add(-cfg.Queue.Retention)

	if cleanupDryRun {
		return cleanupReport(ctx, q, jobs, users, cutoff)
	}

	cleaner := queue.NewCleaner(q, queue.CleanerConfig{
		Retention: cfg.Queue.Retention,
	}, app.NewLogger(cfg.Logging))
	cleaner.AddTask("job_logs", func(context.Context) (int64, error) {
		return jobs.DeleteLogsBefore(cutoff)
	})
	cleaner.AddTask("sessions", func(context.Context) (int64, error) {
		return users.DeleteExpiredSessions()
	})

	cleaner.RunOnce(ctx)
	fmt.Println("Cleanup completed")
	return nil
}

// cleanupReport counts what a cleanup pass would remove. The failed-mail
// number is an estimate from message timestamps; the authoritative
// bookkeeping lives in the queue backend.
func cleanupReport(ctx context.Context, q queue.Queue, jobs *repository.JobRepository, users *repository.UserRepository, cutoff time.Time) error {
	fmt.Println("Dry run, nothing will be deleted")
	fmt.Println()

	failed, err := q.List(ctx, queue.ListFilter{Status: queue.StatusFailed})
	if err != nil {
		return err
	}
	expired := 0
	for _, msg := range failed {
		if msg.UpdatedAt.Before(cutoff) {
			expired++
		}
	}
	fmt.Printf("Failed messages past retention: %d\n", expired)

	logCount, err := jobs.CountLogsBefore(cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Job logs past retention:        %d\n", logCount)

	sessionCount, err := users.CountExpiredSessions()
	if err != nil {
		return err
	}
	fmt.Printf("Expired sessions:               %d\n", sessionCount)
	return nil
}
