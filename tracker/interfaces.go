package tracker

import (
	"context"
	"time"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/gateway"
	"github.com/rgabriel/mcp-mail-tracker/ledger"
	"github.com/rgabriel/mcp-mail-tracker/report"
	smtppkg "github.com/rgabriel/mcp-mail-tracker/smtp"
)

// CredentialResolver is satisfied by *credential.Resolver.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string) (credential.Resolution, error)
	ResolveDurable(ctx context.Context, tenantID string) (credential.Resolution, error)
	Check(ctx context.Context, tenantID string) (credential.Resolution, error)
}

// MailGateway is satisfied by *gateway.Gateway.
type MailGateway interface {
	Send(ctx context.Context, cred *credential.Credential, to []string, subject, body string, opts smtppkg.SendOptions) error
	Search(ctx context.Context, cred *credential.Credential, q gateway.Query) ([]report.Message, error)
}

// Ledger is satisfied by *ledger.Store.
type Ledger interface {
	Enqueue(ctx context.Context, nj ledger.NewJob) (ledger.Job, error)
	DueJobs(ctx context.Context, now time.Time, limit int) ([]ledger.Job, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkDone(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id, reason string, now time.Time) error
	Cancel(ctx context.Context, id string, now time.Time) (ledger.Job, error)
	Get(ctx context.Context, id string) (ledger.Job, error)
	List(ctx context.Context, f ledger.Filter) ([]ledger.Job, error)
	FailStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)
	Purge(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)
}
