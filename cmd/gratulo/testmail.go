package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/foxzi/gratulo/internal/app"
	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/repository"
)

var (
	testmailTo      string
	testmailSubject string
)

var testmailCmd = &cobra.Command{
	Use:   "testmail",
	Short: "Send a test mail through the configured relay",
	Long: `Send a fixed test mail to one address using the SMTP settings
stored in the database, bypassing queue and rate limit. Useful for
verifying relay credentials and DKIM before the first job runs.`,
	RunE: runTestmail,
}

func init() {
	testmailCmd.Flags().StringVar(&testmailTo, "to", "", "Recipient address (required)")
	testmailCmd.Flags().StringVar(&testmailSubject, "subject", "gratulo Testmail", "Subject line")
	testmailCmd.MarkFlagRequired("to")
}

func runTestmail(cmd *cobra.Command, args []string) error {
	if err := email.Validate(testmailTo); err != nil {
		return err
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

	settings := repository.NewSettingsRepository(database.DB)
	sender := app.NewSender(cfg, settings, app.NewLogger(cfg.Logging))

	msg := &queue.Message{
		ID:        uuid.New().String(),
		To:        testmailTo,
		Subject:   testmailSubject,
		Body: `<p>Diese Testmail wurde über die Kommandozeile von gratulo verschickt.</p>
<p>Wenn sie ankommt, ist der SMTP-Versand korrekt konfiguriert.</p>`,
		Status:    queue.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	fmt.Printf("Sending test mail to %s...\n", testmailTo)
	if err := sender.Send(cmd.Context(), msg); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	fmt.Println("Test mail submitted")
	return nil
}
