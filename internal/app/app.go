// Package app assembles the application: storage, queue, mailer,
// scheduler, web server and metrics, with ordered startup and shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/gratulo/internal/api"
	"github.com/foxzi/gratulo/internal/config"
	"github.com/foxzi/gratulo/internal/db"
	"github.com/foxzi/gratulo/internal/dkim"
	"github.com/foxzi/gratulo/internal/dns"
	"github.com/foxzi/gratulo/internal/dnscheck"
	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/mailer"
	"github.com/foxzi/gratulo/internal/metrics"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/ratelimit"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/scheduler"
	"github.com/foxzi/gratulo/internal/smtp"
	"github.com/foxzi/gratulo/internal/template"
	"github.com/foxzi/gratulo/internal/web/auth"
	"github.com/foxzi/gratulo/internal/web/handlers"
	"github.com/foxzi/gratulo/internal/web/server"
	"github.com/foxzi/gratulo/internal/web/views"
)

// App holds the wired components of a running instance.
type App struct {
	config *config.Config
	logger *slog.Logger

	database  *db.DB
	queue     queue.Queue
	drainer   *queue.Drainer
	cleaner   *queue.Cleaner
	scheduler *scheduler.Scheduler
	web       *server.Server

	collector  *metrics.Collector
	metricsSrv *metrics.Server
}

// New wires the application from configuration. Nothing is started yet;
// Run does that.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := NewLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}

	members := repository.NewMemberRepository(database.DB)
	groups := repository.NewGroupRepository(database.DB)
	templates := repository.NewTemplateRepository(database.DB)
	jobs := repository.NewJobRepository(database.DB)
	users := repository.NewUserRepository(database.DB)
	apiKeys := repository.NewAPIKeyRepository(database.DB)
	settings := repository.NewSettingsRepository(database.DB)

	if err := bootstrapAdmin(users, cfg.Auth.InitialAdmin, logger); err != nil {
		database.Close()
		return nil, err
	}

	q, err := OpenQueue(ctx, cfg)
	if err != nil {
		database.Close()
		return nil, err
	}
	limiter := NewLimiter(cfg, q)
	sender := NewSender(cfg, settings, logger.With("component", "smtp"))

	drainer := queue.NewDrainer(q, sender, limiter, queue.DrainerConfig{
		Interval:    cfg.Queue.Interval,
		SendTimeout: cfg.Queue.SendTimeout,
		Mails:       cfg.RateLimit.Mails,
		Window:      cfg.RateLimit.Window,
	}, logger.With("component", "drainer"))

	dateFields := cfg.DateFields()
	svc := mailer.New(mailer.Repos{
		Members:   members,
		Groups:    groups,
		Templates: templates,
		Jobs:      jobs,
		Settings:  settings,
	}, q, sender, template.Config{
		EntitySingular: cfg.Fields.Entity.Singular,
		Date1:          dateFields[0],
		Date2:          dateFields[1],
	}, logger.With("component", "mailer"))

	sched := scheduler.New(svc, jobs, logger.With("component", "scheduler"))

	cleaner := queue.NewCleaner(q, queue.CleanerConfig{
		Retention: cfg.Queue.Retention,
	}, logger.With("component", "cleaner"))
	cleaner.AddTask("job_logs", func(context.Context) (int64, error) {
		return jobs.DeleteLogsBefore(time.Now().Add(-cfg.Queue.Retention))
	})
	cleaner.AddTask("sessions", func(context.Context) (int64, error) {
		return users.DeleteExpiredSessions()
	})

	var collector *metrics.Collector
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		mlog := logger.With("component", "metrics")
		collector = metrics.NewCollector(m, &queueStatsSource{queue: q}, &memberCountSource{members: members}, 15*time.Second, mlog)
		metricsSrv, err = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.AllowedIPs, mlog)
		if err != nil {
			q.Close()
			database.Close()
			return nil, fmt.Errorf("metrics setup failed: %w", err)
		}
	}

	engine, err := views.New(views.Labels{
		Date1:          cfg.Fields.Date1.Label,
		Date2:          cfg.Fields.Date2.Label,
		EntitySingular: cfg.Fields.Entity.Singular,
		EntityPlural:   cfg.Fields.Entity.Plural,
	})
	if err != nil {
		q.Close()
		database.Close()
		return nil, fmt.Errorf("template setup failed: %w", err)
	}

	var oidc *auth.OIDCProvider
	if cfg.Auth.OIDC.Enabled {
		oidc, err = auth.NewOIDCProvider(ctx, &cfg.Auth.OIDC)
		if err != nil {
			q.Close()
			database.Close()
			return nil, fmt.Errorf("oidc setup failed: %w", err)
		}
	}

	deps := handlers.Config{
		Members:   members,
		Groups:    groups,
		Templates: templates,
		Jobs:      jobs,
		Users:     users,
		APIKeys:   apiKeys,
		Settings:  settings,

		Mailer:    svc,
		Scheduler: sched,
		Queue:     q,
		Drainer:   drainer,
		DNS:       dnscheck.NewChecker(dns.NewCachingResolver(time.Minute)),
		Views:     engine,
		OIDC:      oidc,
		App:       cfg,
		Logger:    logger.With("component", "web"),
	}

	var apiHandler http.Handler
	if cfg.APIEnabled() {
		apiServer, err := api.New(api.Deps{
			Members:    members,
			Groups:     groups,
			Templates:  templates,
			Jobs:       jobs,
			Keys:       apiKeys,
			Mailer:     svc,
			Scheduler:  sched,
			Queue:      q,
			Drainer:    drainer,
			AllowedIPs: cfg.API.AllowedIPs,
			Logger:     logger.With("component", "api"),
		})
		if err != nil {
			q.Close()
			database.Close()
			return nil, fmt.Errorf("api setup failed: %w", err)
		}
		apiHandler = apiServer
	}

	web, err := server.New(deps, apiHandler)
	if err != nil {
		q.Close()
		database.Close()
		return nil, fmt.Errorf("web setup failed: %w", err)
	}

	return &App{
		config:     cfg,
		logger:     logger,
		database:   database,
		queue:      q,
		drainer:    drainer,
		cleaner:    cleaner,
		scheduler:  sched,
		web:        web,
		collector:  collector,
		metricsSrv: metricsSrv,
	}, nil
}

// Run starts the background loops and the web server, then blocks until
// the context is cancelled or a listener fails. SIGINT and SIGTERM
// trigger a graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.drainer.Start(ctx)
	a.cleaner.Start(ctx)
	if a.collector != nil {
		a.collector.Start()
	}
	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.Start(); err != nil {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	err := a.web.Run(ctx)

	a.shutdown()
	return err
}

// shutdown stops the background components. The web server has already
// shut itself down when this runs, so no new work arrives.
func (a *App) shutdown() {
	a.logger.Info("shutting down")

	a.scheduler.Stop()
	a.drainer.Stop()
	a.cleaner.Stop()
	if a.collector != nil {
		a.collector.Stop()
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Error("metrics shutdown failed", "error", err)
		}
		cancel()
	}
	if err := a.queue.Close(); err != nil {
		a.logger.Error("queue close failed", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
	}

	a.logger.Info("shutdown complete")
}

// NewLogger builds the process logger from the logging configuration.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// OpenQueue opens the configured queue backend: Redis when enabled,
// otherwise the embedded Bolt file.
func OpenQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	if cfg.Redis.Enabled {
		q, err := queue.NewRedisFromURL(ctx, cfg.Redis.URL, cfg.Queue.LogSize)
		if err != nil {
			return nil, fmt.Errorf("redis queue: %w", err)
		}
		return q, nil
	}
	q, err := queue.NewBolt(cfg.Queue.Path, cfg.Queue.LogSize)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	return q, nil
}

// NewLimiter builds the send rate limiter matching the queue backend. A
// Redis queue shares its connection so the cap holds across processes.
func NewLimiter(cfg *config.Config, q queue.Queue) ratelimit.Limiter {
	if rq, ok := q.(*queue.RedisQueue); ok {
		return ratelimit.NewRedis(rq.Client(), cfg.RateLimit.Mails, cfg.RateLimit.Window)
	}
	return ratelimit.NewMemory(cfg.RateLimit.Mails, cfg.RateLimit.Window)
}

// NewSender builds the queue sender: the relay client with DKIM signing
// when a key is configured, or the capture sender in dry-run mode.
func NewSender(cfg *config.Config, settings *repository.SettingsRepository, logger *slog.Logger) queue.Sender {
	if cfg.Queue.DryRun {
		logger.Warn("dry-run mode, mail is captured instead of sent")
		return smtp.NewCaptureSender(logger)
	}

	client := smtp.NewClient(&settingsProvider{settings: settings}, heloHostname(cfg), cfg.Queue.SendTimeout, logger)
	if signer := loadDKIMSigner(settings, logger); signer != nil {
		client.SetDKIMSigner(signer)
	}
	return client
}

// settingsProvider adapts the settings repository to the relay client.
type settingsProvider struct {
	settings *repository.SettingsRepository
}

func (p *settingsProvider) SMTPSettings(ctx context.Context) (*smtp.Settings, error) {
	stored, err := p.settings.GetSMTP()
	if err != nil {
		return nil, err
	}
	return &smtp.Settings{
		Host:       stored.Host,
		Port:       stored.Port,
		Username:   stored.Username,
		Password:   stored.Password,
		Encryption: stored.Encryption,
		From:       stored.From,
		FromName:   stored.FromName,
	}, nil
}

// loadDKIMSigner loads the signing key named in the stored settings.
// Changing the key file or selector takes effect on the next start.
func loadDKIMSigner(settings *repository.SettingsRepository, logger *slog.Logger) *dkim.Signer {
	stored, err := settings.GetSMTP()
	if err != nil {
		logger.Warn("failed to load smtp settings for DKIM", "error", err)
		return nil
	}
	if stored.DKIMKeyFile == "" || stored.From == "" {
		return nil
	}

	selector := stored.DKIMSelector
	if selector == "" {
		selector = "default"
	}
	signer, err := dkim.LoadSigner(stored.DKIMKeyFile, email.ExtractDomain(stored.From), selector)
	if err != nil {
		logger.Warn("DKIM key not loaded, sending unsigned",
			"file", stored.DKIMKeyFile, "error", err)
		return nil
	}
	logger.Info("DKIM signing enabled", "domain", signer.Domain(), "selector", selector)
	return signer
}

// heloHostname picks the name used for HELO and Message-IDs: the base
// URL host when configured, otherwise the machine hostname.
func heloHostname(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		if u, err := url.Parse(cfg.Server.BaseURL); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// bootstrapAdmin creates the initial admin account on an empty user
// table so the first login needs no shell access to the database.
func bootstrapAdmin(users *repository.UserRepository, cfg config.InitialAdminConfig, logger *slog.Logger) error {
	if cfg.Email == "" || cfg.Password == "" {
		return nil
	}

	n, err := users.Count()
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if n > 0 {
		return nil
	}

	addr := email.Normalize(cfg.Email)
	if err := email.Validate(addr); err != nil {
		return fmt.Errorf("initial admin email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &models.User{
		Email:        addr,
		Name:         "Admin",
		PasswordHash: string(hash),
	}
	if err := users.Create(user); err != nil {
		return fmt.Errorf("failed to create initial admin: %w", err)
	}

	logger.Info("initial admin created", "email", addr)
	return nil
}

// queueStatsSource adapts queue depths to the metrics collector.
type queueStatsSource struct {
	queue queue.Queue
}

func (s *queueStatsSource) QueueStats(ctx context.Context) (metrics.QueueStats, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return metrics.QueueStats{}, err
	}
	return metrics.QueueStats{Pending: stats.Pending, Failed: stats.Failed}, nil
}

// memberCountSource adapts the member repository to the metrics
// collector.
type memberCountSource struct {
	members *repository.MemberRepository
}

func (s *memberCountSource) CountMembers(ctx context.Context) (int, error) {
	return s.members.Count()
}
