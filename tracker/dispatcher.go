package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/ledger"
	"github.com/rgabriel/mcp-mail-tracker/report"
	smtppkg "github.com/rgabriel/mcp-mail-tracker/smtp"
)

const (
	DefaultInterval   = 15 * time.Second
	DefaultBatchSize  = 20
	DefaultJobTimeout = 60 * time.Second
	DefaultStaleAfter = 10 * time.Minute

	markTimeout = 10 * time.Second
)

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Ledger      Ledger             // Required
	Credentials CredentialResolver // Required
	Gateway     MailGateway        // Required
	Composer    report.Composer
	SearchLimit int

	Interval   time.Duration // tick period
	BatchSize  int           // due jobs handled per tick
	JobTimeout time.Duration // deadline for one job
	StaleAfter time.Duration // running jobs older than this are force-failed
	Retention  time.Duration // terminal jobs older than this are purged; 0 keeps them

	Logger *slog.Logger
	Now    func() time.Time
}

// Dispatcher fires due report jobs: resolve the tenant's credential, search
// for replies, compose the digest and mail it. Each job is claimed before it
// runs, so any number of dispatchers may share one ledger.
type Dispatcher struct {
	ledger     Ledger
	creds      CredentialResolver
	gw         MailGateway
	correlator *Correlator
	composer   report.Composer

	interval   time.Duration
	batchSize  int
	jobTimeout time.Duration
	staleAfter time.Duration
	retention  time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher constructs a Dispatcher, filling in defaults.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("credential resolver is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("mail gateway is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	// a job is only stale once it has overrun its deadline and its final mark
	if floor := opts.JobTimeout + markTimeout; opts.StaleAfter < floor {
		opts.StaleAfter = floor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Dispatcher{
		ledger:     opts.Ledger,
		creds:      opts.Credentials,
		gw:         opts.Gateway,
		correlator: NewCorrelator(opts.Gateway, opts.SearchLimit),
		composer:   opts.Composer,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		jobTimeout: opts.JobTimeout,
		staleAfter: opts.StaleAfter,
		retention:  opts.Retention,
		logger:     opts.Logger.With("component", "dispatcher"),
		now:        opts.Now,
	}, nil
}

// Run ticks immediately and then every interval until ctx is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "starting dispatcher",
		"interval", d.interval.String(),
		"batch_size", d.batchSize,
		"job_timeout", d.jobTimeout.String(),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.tickAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "dispatcher stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			d.tickAndLog(ctx)
		}
	}
}

func (d *Dispatcher) tickAndLog(ctx context.Context) {
	start := time.Now()
	processed, err := d.Tick(ctx, d.now())
	if err != nil {
		// Continue running despite errors
		d.logger.ErrorContext(ctx, "dispatcher tick failed", "error", err)
		return
	}
	if processed > 0 {
		d.logger.InfoContext(ctx, "dispatcher tick",
			"processed", processed,
			"duration", time.Since(start).String(),
		)
	}
}

// Tick reaps stale running jobs, purges expired terminal jobs, then claims
// and runs every job due at now, earliest first. Each claim is stamped with
// the clock at the moment of claiming, not now. It returns how many jobs
// this call ran. A failing job never stops the rest of the batch; only
// ledger scan errors are returned.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (int, error) {
	if n, err := d.ledger.FailStale(ctx, d.staleAfter, now); err != nil {
		d.logger.WarnContext(ctx, "failed to reap stale jobs", "error", err)
	} else if n > 0 {
		d.logger.WarnContext(ctx, "force-failed stale running jobs", "count", n)
	}
	if d.retention > 0 {
		if n, err := d.ledger.Purge(ctx, d.retention, now); err != nil {
			d.logger.WarnContext(ctx, "failed to purge old jobs", "error", err)
		} else if n > 0 {
			d.logger.DebugContext(ctx, "purged old jobs", "count", n)
		}
	}

	due, err := d.ledger.DueJobs(ctx, now, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing due jobs: %w", err)
	}

	processed := 0
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, err := d.ledger.Claim(ctx, job.ID, d.now())
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			d.logger.DebugContext(ctx, "job already claimed", "job_id", job.ID)
			continue
		}
		processed++
		d.dispatch(ctx, job)
	}
	return processed, nil
}

// dispatch runs one claimed job and records its terminal state.
func (d *Dispatcher) dispatch(ctx context.Context, job ledger.Job) {
	logger := d.logger.With("job_id", job.ID, "tenant_id", job.TenantID)
	start := time.Now()

	err := d.runWithTimeout(ctx, job)

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	if err != nil {
		reason := err.Error()
		logger.WarnContext(ctx, "report job failed",
			"kind", string(KindOf(err)),
			"error", err,
			"duration", time.Since(start).String(),
		)
		if markErr := d.ledger.MarkFailed(markCtx, job.ID, reason, d.now()); markErr != nil {
			logger.ErrorContext(ctx, "failed to mark job failed", "error", markErr)
		}
		return
	}

	if markErr := d.ledger.MarkDone(markCtx, job.ID, d.now()); markErr != nil {
		logger.ErrorContext(ctx, "failed to mark job done", "error", markErr)
		return
	}
	logger.InfoContext(ctx, "report job done", "duration", time.Since(start).String())
}

// runWithTimeout executes the job on its own goroutine so neither a hung
// network call nor a panic can stall or crash the dispatcher.
func (d *Dispatcher) runWithTimeout(ctx context.Context, job ledger.Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- newJobError(Internal, fmt.Errorf("panic: %v", r))
			}
		}()
		done <- d.execute(jobCtx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return newJobError(Internal, fmt.Errorf("job did not finish within %s: %w", d.jobTimeout, jobCtx.Err()))
		}
		return newJobError(Internal, fmt.Errorf("dispatcher shut down while the job was running: %w", jobCtx.Err()))
	}
}

func (d *Dispatcher) execute(ctx context.Context, job ledger.Job) error {
	res, err := d.creds.ResolveDurable(ctx, job.TenantID)
	if err != nil {
		return newJobError(Internal, err)
	}
	switch res.State {
	case credential.Absent:
		return newJobError(CredentialAbsent, fmt.Errorf("no linked account for %q", job.TenantID))
	case credential.Unusable:
		return newJobError(CredentialUnusable, res.Err)
	}
	cred := res.Credential

	msgs, err := d.correlator.Search(ctx, cred, job.CorrelationSubject)
	if err != nil {
		return newJobError(SearchFailed, err)
	}

	body := d.composer.Compose(msgs)
	if err := ctx.Err(); err != nil {
		return newJobError(Internal, err)
	}
	err = d.gw.Send(ctx, cred, []string{job.ReportRecipient}, report.Subject(job.GroupName), body, smtppkg.SendOptions{})
	if err != nil {
		return newJobError(SendFailed, err)
	}
	return nil
}
