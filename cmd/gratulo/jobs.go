package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gratulo/internal/app"
	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/mailer"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/template"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Mailer job management",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mailer jobs",
	RunE:  runJobsList,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job_id>",
	Short: "Run a job now, regardless of its schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := repository.NewJobRepository(database.DB).List()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTEMPLATE\tSELECTION\tSCHEDULE\tENABLED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%v\n",
			j.ID, j.Name, j.TemplateName, j.Selection, jobSchedule(&j), j.Enabled)
	}
	return w.Flush()
}

func jobSchedule(j *models.MailerJob) string {
	if j.Cron != "" {
		return j.Cron
	}
	if j.OnceAt != nil {
		return "once at " + j.OnceAt.Format("2006-01-02 15:04")
	}
	return "-"
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	jobID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("job id must be a number: %s", args[0])
	}

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

	logger := app.NewLogger(cfg.Logging)
	settings := repository.NewSettingsRepository(database.DB)
	dateFields := cfg.DateFields()

	svc := mailer.New(mailer.Repos{
		Members:   repository.NewMemberRepository(database.DB),
		Groups:    repository.NewGroupRepository(database.DB),
		Templates: repository.NewTemplateRepository(database.DB),
		Jobs:      repository.NewJobRepository(database.DB),
		Settings:  settings,
	}, q, app.NewSender(cfg, settings, logger), template.Config{
		EntitySingular: cfg.Fields.Entity.Singular,
		Date1:          dateFields[0],
		Date2:          dateFields[1],
	}, logger)

	runLog, err := svc.RunJob(ctx, jobID, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Job:       %s (#%d)\n", runLog.JobName, runLog.JobID)
	fmt.Printf("Status:    %s\n", runLog.Status)
	fmt.Printf("Queued:    %d\n", runLog.MailsQueued)
	fmt.Printf("Duplicates: %d\n", runLog.Duplicates)
	fmt.Printf("Errors:    %d\n", runLog.Errors)
	if runLog.Details != "" {
		fmt.Printf("Details:   %s\n", strings.TrimSpace(runLog.Details))
	}
	fmt.Printf("Duration:  %dms\n", runLog.DurationMS)

	if runLog.Status == models.JobStatusJobNotFound {
		return fmt.Errorf("job %d not found", jobID)
	}
	return nil
}
