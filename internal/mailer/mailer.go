// Package mailer executes mailer jobs. A run resolves the recipients of a
// job for one logical day, renders subject and body per member and hands
// the mails to the dispatch queue. Every run, including the ones that go
// nowhere, ends in a job log row.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/gratulo/internal/dates"
	"github.com/foxzi/gratulo/internal/email"
	"github.com/foxzi/gratulo/internal/metrics"
	"github.com/foxzi/gratulo/internal/models"
	"github.com/foxzi/gratulo/internal/queue"
	"github.com/foxzi/gratulo/internal/repository"
	"github.com/foxzi/gratulo/internal/template"
)

// How many per-recipient failures a job log spells out.
const maxErrorDetails = 5

// Repos bundles the storage the mailer reads and writes.
type Repos struct {
	Members   *repository.MemberRepository
	Groups    *repository.GroupRepository
	Templates *repository.TemplateRepository
	Jobs      *repository.JobRepository
	Settings  *repository.SettingsRepository
}

type Service struct {
	repos    Repos
	queue    queue.Queue
	sender   queue.Sender
	fields   template.Config
	renderer *template.Renderer
	logger   *slog.Logger
}

// New builds the mailer. The sender is the direct path for test mails and
// may be nil when test sending is not needed.
func New(repos Repos, q queue.Queue, sender queue.Sender, fields template.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repos:    repos,
		queue:    q,
		sender:   sender,
		fields:   fields,
		renderer: template.NewRenderer(fields),
		logger:   logger,
	}
}

// Renderer exposes the placeholder engine for previews and validation.
func (s *Service) Renderer() *template.Renderer {
	return s.renderer
}

// RunJob executes one job for the day of now and records the outcome.
// Domain failures such as a vanished job land in the returned log, not in
// the error; the error is reserved for storage trouble.
func (s *Service) RunJob(ctx context.Context, jobID int64, now time.Time) (*models.JobLog, error) {
	started := time.Now()
	logicalDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	runLog := &models.JobLog{JobID: jobID, LogicalDate: logicalDate}
	s.execute(ctx, runLog, jobID, logicalDate)

	runLog.DurationMS = time.Since(started).Milliseconds()
	metrics.IncJobExecuted(runLog.Status)

	if err := s.repos.Jobs.CreateLog(runLog); err != nil {
		return nil, fmt.Errorf("failed to record job run: %w", err)
	}

	s.logger.Info("job run finished",
		"job_id", jobID, "name", runLog.JobName, "status", runLog.Status,
		"queued", runLog.MailsQueued, "duplicates", runLog.Duplicates,
		"errors", runLog.Errors, "duration_ms", runLog.DurationMS)
	return runLog, nil
}

func (s *Service) execute(ctx context.Context, runLog *models.JobLog, jobID int64, logicalDate time.Time) {
	job, err := s.repos.Jobs.GetByID(jobID)
	if err != nil {
		s.fail(runLog, err)
		return
	}
	if job == nil {
		runLog.Status = models.JobStatusJobNotFound
		runLog.Details = fmt.Sprintf("Job %d existiert nicht mehr", jobID)
		return
	}
	runLog.JobName = job.Name

	tmpl, err := s.repos.Templates.GetByID(job.TemplateID)
	if err != nil {
		s.fail(runLog, err)
		return
	}
	if tmpl == nil {
		runLog.Status = models.JobStatusNoTemplate
		runLog.Details = fmt.Sprintf("Vorlage %d wurde gelöscht", job.TemplateID)
		return
	}

	smtpSettings, err := s.repos.Settings.GetSMTP()
	if err != nil {
		s.fail(runLog, err)
		return
	}
	if !smtpSettings.Configured() {
		runLog.Status = models.JobStatusNoSMTPConfig
		runLog.Details = "SMTP-Versand ist nicht konfiguriert"
		return
	}

	recipients, err := s.resolveRecipients(job, logicalDate)
	if err != nil {
		s.fail(runLog, err)
		return
	}
	if len(recipients) == 0 {
		runLog.Status = models.JobStatusNoRecipients
		runLog.Details = "Keine Empfänger für diesen Lauf"
		return
	}

	subjectSource := job.Subject
	if subjectSource == "" {
		subjectSource = tmpl.Subject
	}

	var failures []string
	for i := range recipients {
		m := &recipients[i]
		tm := templateMember(m)

		msg := &queue.Message{
			ID:        uuid.New().String(),
			MemberID:  m.ID,
			JobID:     job.ID,
			Field:     dedupField(job),
			To:        m.Email,
			Subject:   s.renderer.Render(subjectSource, tm, logicalDate),
			Body:      s.renderer.Render(tmpl.ContentHTML, tm, logicalDate),
			Status:    queue.StatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}

		err := s.queue.Enqueue(ctx, msg)
		switch {
		case err == nil:
			runLog.MailsQueued++
			metrics.IncMailsEnqueued()
		case errors.Is(err, queue.ErrDuplicate):
			runLog.Duplicates++
			metrics.IncDuplicateSuppressed()
		default:
			runLog.Errors++
			if len(failures) < maxErrorDetails {
				failures = append(failures, fmt.Sprintf("%s: %v", queue.AnonymizeRecipient(m.Email), err))
			}
		}
	}

	switch {
	case runLog.Errors == 0:
		runLog.Status = models.JobStatusOK
	case runLog.MailsQueued > 0:
		runLog.Status = models.JobStatusPartialError
	default:
		runLog.Status = models.JobStatusError
	}
	runLog.Details = runDetails(runLog, failures)
}

func (s *Service) fail(runLog *models.JobLog, err error) {
	runLog.Status = models.JobStatusError
	runLog.Details = err.Error()
}

// resolveRecipients returns the members a run addresses. A job bound to a
// non-default group mails that group. Everything else mails the default
// audience: members of the default group or no group, plus members of
// groups that have no own enabled job for the same selection.
func (s *Service) resolveRecipients(job *models.MailerJob, logicalDate time.Time) ([]models.Member, error) {
	scope, err := s.audience(job)
	if err != nil {
		return nil, err
	}
	if job.Selection == models.SelectionAll {
		return scope, nil
	}

	due := make([]models.Member, 0, len(scope))
	for i := range scope {
		if s.isDue(&scope[i], job.Selection, logicalDate) {
			due = append(due, scope[i])
		}
	}
	return due, nil
}

func (s *Service) audience(job *models.MailerJob) ([]models.Member, error) {
	if job.GroupID != nil {
		group, err := s.repos.Groups.GetByID(*job.GroupID)
		if err != nil {
			return nil, err
		}
		if group != nil && !group.IsDefault {
			return s.repos.Members.ListByGroup(group.ID)
		}
		// A deleted or default target group falls back to the default
		// audience.
	}

	all, err := s.repos.Members.ListActive()
	if err != nil {
		return nil, err
	}
	covered, err := s.repos.Jobs.GroupIDsWithSelection(job.Selection)
	if err != nil {
		return nil, err
	}
	defaultGroup, err := s.repos.Groups.GetDefault()
	if err != nil {
		return nil, err
	}

	excluded := make(map[int64]bool, len(covered))
	for _, id := range covered {
		excluded[id] = true
	}
	if defaultGroup != nil {
		// Default-group members always belong to the default audience,
		// even when a job targets the default group explicitly.
		delete(excluded, defaultGroup.ID)
	}

	audience := make([]models.Member, 0, len(all))
	for _, m := range all {
		if m.GroupID != nil && excluded[*m.GroupID] {
			continue
		}
		audience = append(audience, m)
	}
	return audience, nil
}

func (s *Service) isDue(m *models.Member, selection string, logicalDate time.Time) bool {
	switch selection {
	case models.SelectionDate1:
		return dates.Classify(m.Date1, logicalDate, s.fields.Date1).Due
	case models.SelectionDate2:
		return m.Date2 != nil && dates.Classify(*m.Date2, logicalDate, s.fields.Date2).Due
	}
	return false
}

// SendTest sends one mail straight through the relay, bypassing queue and
// dedup. The settings page uses it to verify the configuration, the
// template editor to proof a rendered draft.
func (s *Service) SendTest(ctx context.Context, to, subject, bodyHTML string) error {
	if s.sender == nil {
		return errors.New("no direct sender configured")
	}
	if err := email.Validate(to); err != nil {
		return err
	}

	msg := &queue.Message{
		ID:        uuid.New().String(),
		To:        to,
		Subject:   subject,
		Body:      bodyHTML,
		Status:    queue.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return s.sender.Send(ctx, msg)
}

func templateMember(m *models.Member) template.Member {
	date1 := m.Date1
	return template.Member{
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Gender:    m.Gender,
		Date1:     &date1,
		Date2:     m.Date2,
	}
}

// dedupField yields the dedup slot of a message. Date selections share one
// slot per member and day across jobs, so a member gets one birthday mail
// even when two jobs overlap. Send-to-all jobs dedup per job, which makes
// a re-run of the same job on the same day a no-op.
func dedupField(job *models.MailerJob) string {
	if job.Selection == models.SelectionAll {
		return fmt.Sprintf("job:%d", job.ID)
	}
	return job.Selection
}

func runDetails(l *models.JobLog, failures []string) string {
	word := "Duplikate"
	if l.Duplicates == 1 {
		word = "Duplikat"
	}
	details := fmt.Sprintf("%d eingereiht, %d %s, %d Fehler", l.MailsQueued, l.Duplicates, word, l.Errors)
	if len(failures) > 0 {
		details += "; Fehler: " + strings.Join(failures, "; ")
	}
	return details
}
