package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gratulo/internal/app"
	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/status"
)

var (
	queueStatusURL  string
	queueWatchSync  int
	queueListStatus string
	queueListLimit  int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Mail queue management",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dispatcher status from a running server",
	RunE:  runQueueStatus,
}

var queueWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the send countdown live",
	RunE:  runQueueWatch,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued messages",
	Long: `List queued messages from the local queue store. Needs exclusive
access to the queue file; stop the server first, or use the HTTP API
against a running one.`,
	RunE: runQueueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <message_id>",
	Short: "Move a failed message back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRetry,
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete <message_id>",
	Short: "Delete a message from the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDelete,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run one send pass over the pending queue",
	RunE:  runQueueDrain,
}

func init() {
	queueStatusCmd.Flags().StringVar(&queueStatusURL, "url", "", "Server base URL (default from config)")
	queueWatchCmd.Flags().StringVar(&queueStatusURL, "url", "", "Server base URL (default from config)")
	queueWatchCmd.Flags().IntVar(&queueWatchSync, "sync", 5, "Seconds between server resyncs")
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Filter by status (pending, failed)")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of messages to show")

	queueCmd.AddCommand(queueStatusCmd, queueWatchCmd, queueListCmd, queueRetryCmd, queueDeleteCmd, queueDrainCmd)
}

// statusBaseURL resolves the server address for the status endpoint: the
// --url flag, the configured base URL, or the listen address on
// localhost.
func statusBaseURL(cfg *config.Config) string {
	if queueStatusURL != "" {
		return strings.TrimSuffix(queueStatusURL, "/")
	}
	if cfg.Server.BaseURL != "" {
		return strings.TrimSuffix(cfg.Server.BaseURL, "/")
	}
	addr := cfg.Server.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func fetchStatus(ctx context.Context, base string) (*queue.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/queue/status.json", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the server running at %s? %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	var st queue.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &st, nil
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	st, err := fetchStatus(ctx, statusBaseURL(cfg))
	if err != nil {
		return err
	}

	fmt.Printf("State:           %s\n", st.State)
	fmt.Printf("Queued:          %d\n", st.Queued)
	fmt.Printf("Next pass in:    %ds\n", st.NextRunIn)
	fmt.Printf("Pass interval:   %ds\n", st.QueueInterval)
	fmt.Printf("Rate limit:      %d mails per %ds (remaining %d)\n",
		st.RateLimitMails, st.RateLimitWindow, st.RateLimitRemaining)
	if st.LastSent != nil {
		fmt.Printf("Last sent:       %s\n", st.LastSent.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runQueueWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	base := statusBaseURL(cfg)

	ctx := cmd.Context()
	st, err := fetchStatus(ctx, base)
	if err != nil {
		return err
	}

	cd := status.NewCountdown(st.QueueInterval)
	cd.Sync(st.NextRunIn, st.QueueInterval, st.RateLimitWindow)
	queued := st.Queued
	state := st.State

	fmt.Printf("Pass interval %ds, rate window %ds\n", cd.Interval(), cd.Window())

	// The countdown ticks locally once a second; every few ticks the
	// server value replaces the local estimate.
	every := queueWatchSync
	if every < 2 {
		every = 2
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	for {
		fmt.Printf("\r%-10s queued %-4d next pass in %3ds  ", state, queued, cd.Remaining())

		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
		}

		ticks++
		if ticks%every == 0 {
			if st, err := fetchStatus(ctx, base); err == nil {
				cd.Sync(st.NextRunIn, st.QueueInterval, st.RateLimitWindow)
				queued = st.Queued
				state = st.State
			}
		} else {
			cd.Tick()
		}
	}
}

func openQueueStore(ctx context.Context) (queue.Queue, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	q, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return q, cfg, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, _, err := openQueueStore(ctx)
	if err != nil {
		return err
	}
	defer q.Close()

	filter := queue.ListFilter{Limit: queueListLimit}
	if queueListStatus != "" {
		filter.Status = queue.MessageStatus(queueListStatus)
	}

	messages, err := q.List(ctx, filter)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTO\tSUBJECT\tATTEMPTS\tCREATED")
	for _, msg := range messages {
		subject := msg.Subject
		if len(subject) > 40 {
			subject = subject[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(msg.ID),
			msg.Status,
			queue.AnonymizeRecipient(msg.To),
			subject,
			msg.Attempts,
			msg.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, _, err := openQueueStore(ctx)
	if err != nil {
		return err
	}
	defer q.Close()

	id := args[0]
	msg, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", id)
	}
	if msg.Status != queue.StatusFailed {
		return fmt.Errorf("message %s is %s, only failed messages can be retried", id, msg.Status)
	}

	if err := q.Retry(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Message %s queued for retry\n", id)
	return nil
}

func runQueueDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, _, err := openQueueStore(ctx)
	if err != nil {
		return err
	}
	defer q.Close()

	id := args[0]
	msg, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message not found: %s", id)
	}

	if err := q.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Message %s deleted\n", id)
	return nil
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
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
	sender := app.NewSender(cfg, settings, logger)
	limiter := app.NewLimiter(cfg, q)

	drainer := queue.NewDrainer(q, sender, limiter, queue.DrainerConfig{
		Interval:    cfg.Queue.Interval,
		SendTimeout: cfg.Queue.SendTimeout,
		Mails:       cfg.RateLimit.Mails,
		Window:      cfg.RateLimit.Window,
	}, logger)

	before, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Draining %d pending messages...\n", before.Pending)

	drainer.Drain(ctx)

	after, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Done: %d pending, %d failed\n", after.Pending, after.Failed)
	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
