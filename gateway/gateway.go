// Package gateway binds the IMAP and SMTP clients to a tenant credential,
// giving the tracker one mail-provider collaborator.
package gateway

import (
	"context"
	"errors"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/imap"
	"github.com/rgabriel/mcp-mail-tracker/report"
	smtppkg "github.com/rgabriel/mcp-mail-tracker/smtp"
)

// Searcher is the IMAP side of the gateway. *imap.Client satisfies it.
type Searcher interface {
	SearchReplies(ctx context.Context, account, accessToken, subject string, limit int) ([]imap.Reply, error)
}

// Sender is the SMTP side of the gateway. *smtp.Client satisfies it.
type Sender interface {
	SendEmail(ctx context.Context, from, accessToken string, to []string, subject, body string, opts smtppkg.SendOptions) error
}

// Query selects inbound messages whose subject contains Subject and that
// are addressed to the credential's mailbox. At most Limit are returned.
type Query struct {
	Subject string
	Limit   int
}

// Gateway sends and searches mail as the credential's owner.
type Gateway struct {
	searcher Searcher
	sender   Sender
}

// New creates a Gateway.
func New(searcher Searcher, sender Sender) *Gateway {
	return &Gateway{searcher: searcher, sender: sender}
}

var errNoCredential = errors.New("credential with an access token is required")

// Send delivers a message from the credential's mailbox.
func (g *Gateway) Send(ctx context.Context, cred *credential.Credential, to []string, subject, body string, opts smtppkg.SendOptions) error {
	if cred.AccessToken() == "" {
		return errNoCredential
	}
	return g.sender.SendEmail(ctx, cred.Email, cred.AccessToken(), to, subject, body, opts)
}

// Search returns messages matching q, in the order the mailbox reports them.
func (g *Gateway) Search(ctx context.Context, cred *credential.Credential, q Query) ([]report.Message, error) {
	if cred.AccessToken() == "" {
		return nil, errNoCredential
	}
	replies, err := g.searcher.SearchReplies(ctx, cred.Email, cred.AccessToken(), q.Subject, q.Limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]report.Message, 0, len(replies))
	for _, r := range replies {
		msgs = append(msgs, report.Message{Sender: r.From, Body: r.Body})
	}
	return msgs, nil
}
