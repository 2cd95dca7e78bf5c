package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const defaultListLimit = 50

// Store persists jobs in the scheduled_jobs table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a Store over an already migrated database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// NewStoreWithClock creates a Store with a custom clock (useful for testing).
func NewStoreWithClock(db *sqlx.DB, now func() time.Time) *Store {
	return &Store{db: db, now: now}
}

type jobRow struct {
	ID                 string       `db:"job_id"`
	Key                string       `db:"job_key"`
	TenantID           string       `db:"tenant_id"`
	GroupName          string       `db:"group_name"`
	CorrelationSubject string       `db:"correlation_subject"`
	ReportRecipient    string       `db:"report_recipient"`
	FireAt             time.Time    `db:"fire_at"`
	Status             string       `db:"status"`
	Reason             string       `db:"reason"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
	StartedAt          sql.NullTime `db:"started_at"`
	FinishedAt         sql.NullTime `db:"finished_at"`
}

func (r jobRow) job() Job {
	j := Job{
		ID:                 r.ID,
		Key:                r.Key,
		TenantID:           r.TenantID,
		GroupName:          r.GroupName,
		CorrelationSubject: r.CorrelationSubject,
		ReportRecipient:    r.ReportRecipient,
		FireAt:             r.FireAt.UTC(),
		Status:             Status(r.Status),
		Reason:             r.Reason,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		j.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		j.FinishedAt = &t
	}
	return j
}

const jobColumns = `job_id, job_key, tenant_id, group_name, correlation_subject, report_recipient,
	fire_at, status, reason, created_at, updated_at, started_at, finished_at`

// Enqueue inserts a pending job. The fire time must be strictly after the
// store's current time; past or present fire times are rejected, never clamped.
func (s *Store) Enqueue(ctx context.Context, nj NewJob) (Job, error) {
	now := s.now().UTC()
	fireAt := nj.FireAt.UTC()
	if !fireAt.After(now) {
		return Job{}, fmt.Errorf("%w: fire_at %s is not after %s", ErrInvalidSchedule,
			fireAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if strings.TrimSpace(nj.TenantID) == "" {
		return Job{}, errors.New("tenant id is required")
	}
	if strings.TrimSpace(nj.CorrelationSubject) == "" {
		return Job{}, errors.New("correlation subject is required")
	}

	j := Job{
		ID:                 uuid.New().String(),
		Key:                JobKey(nj.TenantID, nj.CorrelationSubject, fireAt),
		TenantID:           nj.TenantID,
		GroupName:          nj.GroupName,
		CorrelationSubject: nj.CorrelationSubject,
		ReportRecipient:    nj.ReportRecipient,
		FireAt:             fireAt,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	query := s.db.Rebind(`INSERT INTO scheduled_jobs
		(job_id, job_key, tenant_id, group_name, correlation_subject, report_recipient,
		 fire_at, status, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		j.ID, j.Key, j.TenantID, j.GroupName, j.CorrelationSubject, j.ReportRecipient,
		j.FireAt, string(j.Status), j.CreatedAt, j.UpdatedAt,
	); err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// DueJobs returns pending jobs whose fire time is at or before now,
// earliest first.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM scheduled_jobs
		WHERE status = ? AND fire_at <= ?
		ORDER BY fire_at ASC, created_at ASC
		LIMIT ?`)
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, string(StatusPending), now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	return toJobs(rows), nil
}

// Claim atomically moves a job from pending to running. It returns false,
// without error, when another caller claimed it first or it was cancelled.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	query := s.db.Rebind(`UPDATE scheduled_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(StatusRunning), now.UTC(), now.UTC(), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkDone records a successful run.
func (s *Store) MarkDone(ctx context.Context, id string, now time.Time) error {
	return s.finish(ctx, id, StatusDone, "", now)
}

// MarkFailed records a failed run with a reason.
func (s *Store) MarkFailed(ctx context.Context, id, reason string, now time.Time) error {
	return s.finish(ctx, id, StatusFailed, reason, now)
}

func (s *Store) finish(ctx context.Context, id string, to Status, reason string, now time.Time) error {
	query := s.db.Rebind(`UPDATE scheduled_jobs
		SET status = ?, reason = ?, finished_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(to), reason, now.UTC(), now.UTC(), id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("mark job %s %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("mark job %s %s: %w", id, to, ErrInvalidTransition)
	}
	return nil
}

// Cancel moves a pending job to cancelled. It returns ErrNotFound for unknown
// ids and ErrNotCancellable when the job is running or already terminal.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (Job, error) {
	query := s.db.Rebind(`UPDATE scheduled_jobs
		SET status = ?, finished_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(StatusCancelled), now.UTC(), now.UTC(), id, string(StatusPending))
	if err != nil {
		return Job{}, fmt.Errorf("cancel job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Job{}, fmt.Errorf("rows affected: %w", err)
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if n == 0 {
		return j, fmt.Errorf("cancel job %s (%s): %w", id, j.Status, ErrNotCancellable)
	}
	return j, nil
}

// Get returns a single job by id.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM scheduled_jobs WHERE job_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return row.job(), nil
}

// List returns jobs matching the filter, soonest fire time first.
func (s *Store) List(ctx context.Context, f Filter) ([]Job, error) {
	var (
		clauses []string
		args    []any
	)
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var b strings.Builder
	b.WriteString("SELECT " + jobColumns + " FROM scheduled_jobs")
	if len(clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	b.WriteString(" ORDER BY fire_at ASC, created_at ASC LIMIT ?")
	args = append(args, limit)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(b.String()), args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return toJobs(rows), nil
}

// FailStale force-fails jobs that have been running longer than olderThan,
// so a crashed dispatcher never leaves a job in running forever.
// Returns the number of jobs failed.
func (s *Store) FailStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-olderThan)
	query := s.db.Rebind(`UPDATE scheduled_jobs
		SET status = ?, reason = ?, finished_at = ?, updated_at = ?
		WHERE status = ? AND started_at < ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(StatusFailed), "Internal: job timed out in running status",
		now.UTC(), now.UTC(), string(StatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// Purge deletes terminal jobs that finished before now minus olderThan.
// Returns the number of jobs deleted.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-olderThan)
	query := s.db.Rebind(`DELETE FROM scheduled_jobs
		WHERE status IN (?, ?, ?) AND finished_at < ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(StatusDone), string(StatusFailed), string(StatusCancelled), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return res.RowsAffected()
}

func toJobs(rows []jobRow) []Job {
	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job())
	}
	return jobs
}
