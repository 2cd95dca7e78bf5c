// Package ledger is the durable store of delayed report jobs. Every status
// change is a single conditional UPDATE so concurrent dispatchers, in one
// process or several sharing a database, never run the same job twice.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a scheduled job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// ParseStatus converts a user-supplied status name. The empty string is
// accepted and means "any".
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusPending, StatusRunning, StatusDone, StatusFailed, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("invalid status %q (must be pending, running, done, failed or cancelled)", s)
	}
}

var (
	// ErrInvalidSchedule is returned when a job's fire time is not in the future.
	ErrInvalidSchedule = errors.New("fire time must be in the future")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrNotCancellable is returned when cancelling a job that already left pending.
	ErrNotCancellable = errors.New("job is no longer pending")
	// ErrInvalidTransition is returned when a terminal mark is applied to a job
	// that is not running.
	ErrInvalidTransition = errors.New("job is not running")
)

// Job is one scheduled reply-tracking report.
type Job struct {
	ID                 string     `json:"job_id"`
	Key                string     `json:"job_key"`
	TenantID           string     `json:"tenant_id"`
	GroupName          string     `json:"group_name,omitempty"`
	CorrelationSubject string     `json:"correlation_subject"`
	ReportRecipient    string     `json:"report_recipient"`
	FireAt             time.Time  `json:"fire_at"`
	Status             Status     `json:"status"`
	Reason             string     `json:"reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// NewJob holds the caller-supplied fields of a job to enqueue.
type NewJob struct {
	TenantID           string
	FireAt             time.Time
	CorrelationSubject string
	ReportRecipient    string
	GroupName          string
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	TenantID string
	Status   Status
	Limit    int
}

// JobKey derives the logical identity of a job from its owner, subject and
// fire time. Keys are not unique: enqueuing twice yields two jobs.
func JobKey(tenantID, subject string, fireAt time.Time) string {
	return tenantID + "|" + subject + "|" + fireAt.UTC().Format(time.RFC3339Nano)
}
