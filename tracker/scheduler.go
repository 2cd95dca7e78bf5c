package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/ledger"
)

// SchedulerOptions groups dependencies for Scheduler.
type SchedulerOptions struct {
	Ledger      Ledger             // Required
	Credentials CredentialResolver // Required
	// ValidateOnEnqueue rejects tenants whose stored credential is missing
	// or lacks a refresh token before anything is written.
	ValidateOnEnqueue bool
	Logger            *slog.Logger
	Now               func() time.Time
}

// Scheduler is the request-side entry point: it records report jobs and
// lets tenants inspect and cancel them. It never touches the network.
type Scheduler struct {
	ledger   Ledger
	creds    CredentialResolver
	validate bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler constructs a Scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("credential resolver is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		ledger:   opts.Ledger,
		creds:    opts.Credentials,
		validate: opts.ValidateOnEnqueue,
		logger:   opts.Logger.With("component", "report_scheduler"),
		now:      opts.Now,
	}, nil
}

// EnqueueRequest describes a report to schedule.
type EnqueueRequest struct {
	TenantID  string
	FireIn    time.Duration
	Subject   string // correlation subject fragment
	Recipient string // defaults to the tenant's own address
	GroupName string // defaults to Subject
}

// Confirmation is returned by EnqueueReport.
type Confirmation struct {
	Job     ledger.Job `json:"job"`
	Message string     `json:"message"`
}

// EnqueueReport schedules a status report FireIn from now. Only the ledger
// is written; credentials are re-resolved when the job fires.
func (s *Scheduler) EnqueueReport(ctx context.Context, req EnqueueRequest) (Confirmation, error) {
	if req.FireIn <= 0 {
		return Confirmation{}, newJobError(InvalidSchedule,
			fmt.Errorf("fire_in must be positive, got %s", req.FireIn))
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" {
		return Confirmation{}, errors.New("subject is required")
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return Confirmation{}, errors.New("tenant id is required")
	}
	if req.GroupName = strings.TrimSpace(req.GroupName); req.GroupName == "" {
		req.GroupName = req.Subject
	}
	req.Recipient = strings.TrimSpace(req.Recipient)

	if s.validate || req.Recipient == "" {
		cred, err := s.checkCredential(ctx, req.TenantID)
		if err != nil {
			return Confirmation{}, err
		}
		if req.Recipient == "" {
			req.Recipient = cred.Email
		}
	}
	if req.Recipient == "" {
		return Confirmation{}, errors.New("report recipient is required: the linked account has no known address")
	}

	fireAt := s.now().UTC().Add(req.FireIn)
	job, err := s.ledger.Enqueue(ctx, ledger.NewJob{
		TenantID:           req.TenantID,
		FireAt:             fireAt,
		CorrelationSubject: req.Subject,
		ReportRecipient:    req.Recipient,
		GroupName:          req.GroupName,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidSchedule) {
			return Confirmation{}, newJobError(InvalidSchedule, err)
		}
		return Confirmation{}, newJobError(Internal, err)
	}

	s.logger.InfoContext(ctx, "report scheduled",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"fire_at", job.FireAt,
	)
	return Confirmation{
		Job: job,
		Message: fmt.Sprintf("Status report for '%s' scheduled at %s (in %s). Replies matching '%s' will be summarized and sent to %s. Job ID: %s",
			job.GroupName, job.FireAt.Format(time.RFC3339), req.FireIn, job.CorrelationSubject, job.ReportRecipient, job.ID),
	}, nil
}

// checkCredential runs the store-only credential check and maps the
// outcome onto the error taxonomy. With validation off it is only used to
// find the default recipient, so an unusable credential is tolerated.
func (s *Scheduler) checkCredential(ctx context.Context, tenantID string) (*credential.Credential, error) {
	res, err := s.creds.Check(ctx, tenantID)
	if err != nil {
		return nil, newJobError(Internal, err)
	}
	switch res.State {
	case credential.Ready:
		return res.Credential, nil
	case credential.Unusable:
		if !s.validate && res.Credential != nil {
			return res.Credential, nil
		}
		return nil, newJobError(CredentialUnusable, res.Err)
	default:
		return nil, newJobError(CredentialAbsent, fmt.Errorf("no linked account for %q; run link_account first", tenantID))
	}
}

// Cancel cancels one of the tenant's pending jobs.
func (s *Scheduler) Cancel(ctx context.Context, tenantID, jobID string) (ledger.Job, error) {
	job, err := s.ledger.Get(ctx, jobID)
	if err != nil {
		return ledger.Job{}, err
	}
	if job.TenantID != tenantID {
		return ledger.Job{}, fmt.Errorf("job %s: %w", jobID, ledger.ErrNotFound)
	}
	job, err = s.ledger.Cancel(ctx, jobID, s.now())
	if err != nil {
		return job, err
	}
	s.logger.InfoContext(ctx, "report cancelled", "job_id", jobID, "tenant_id", tenantID)
	return job, nil
}

// List returns the tenant's jobs, optionally filtered by status.
func (s *Scheduler) List(ctx context.Context, tenantID string, status ledger.Status, limit int) ([]ledger.Job, error) {
	return s.ledger.List(ctx, ledger.Filter{TenantID: tenantID, Status: status, Limit: limit})
}
