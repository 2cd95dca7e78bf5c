package tools

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/directory"
	"github.com/rgabriel/mcp-mail-tracker/gateway"
	"github.com/rgabriel/mcp-mail-tracker/ledger"
	"github.com/rgabriel/mcp-mail-tracker/report"
	smtppkg "github.com/rgabriel/mcp-mail-tracker/smtp"
	"github.com/rgabriel/mcp-mail-tracker/tracker"
)

// CredentialResolver loads a tenant's credential, refreshing it if needed.
// The concrete *credential.Resolver satisfies this.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string) (credential.Resolution, error)
}

// ContactDirectory resolves names to addresses. *directory.Client satisfies this.
type ContactDirectory interface {
	Resolve(ctx context.Context, tok *oauth2.Token, name string) (string, error)
}

// MailSender sends mail as the credential's owner. *gateway.Gateway satisfies this.
type MailSender interface {
	Send(ctx context.Context, cred *credential.Credential, to []string, subject, body string, opts smtppkg.SendOptions) error
}

// ReplySearcher runs the correlation search. *tracker.Correlator satisfies this.
type ReplySearcher interface {
	Search(ctx context.Context, cred *credential.Credential, fragment string) ([]report.Message, error)
}

// ReportScheduler records and manages delayed report jobs. *tracker.Scheduler satisfies this.
type ReportScheduler interface {
	EnqueueReport(ctx context.Context, req tracker.EnqueueRequest) (tracker.Confirmation, error)
	Cancel(ctx context.Context, tenantID, jobID string) (ledger.Job, error)
	List(ctx context.Context, tenantID string, status ledger.Status, limit int) ([]ledger.Job, error)
}

// AccountLinker drives the OAuth consent flow. *credential.Linker satisfies this.
type AccountLinker interface {
	Begin(ctx context.Context, tenantID string) (string, error)
	Complete(ctx context.Context, tenantID, code, state string) (*credential.Credential, error)
}

var (
	_ CredentialResolver = (*credential.Resolver)(nil)
	_ ContactDirectory   = (*directory.Client)(nil)
	_ MailSender         = (*gateway.Gateway)(nil)
	_ ReplySearcher      = (*tracker.Correlator)(nil)
	_ ReportScheduler    = (*tracker.Scheduler)(nil)
	_ AccountLinker      = (*credential.Linker)(nil)
)
