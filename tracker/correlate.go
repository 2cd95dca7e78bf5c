package tracker

import (
	"context"
	"errors"
	"strings"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/gateway"
	"github.com/rgabriel/mcp-mail-tracker/report"
)

// DefaultSearchLimit caps the replies considered for one report.
const DefaultSearchLimit = 5

// Correlator finds replies to a previously sent thread by subject.
type Correlator struct {
	gw    MailGateway
	limit int
}

// NewCorrelator creates a Correlator. A non-positive limit uses DefaultSearchLimit.
func NewCorrelator(gw MailGateway, limit int) *Correlator {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return &Correlator{gw: gw, limit: limit}
}

// Search returns at most the configured number of messages whose subject
// contains fragment and that were sent to the credential's mailbox. Callers
// must not assume completeness beyond the cap or any particular order.
func (c *Correlator) Search(ctx context.Context, cred *credential.Credential, fragment string) ([]report.Message, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, errors.New("subject fragment is required")
	}
	msgs, err := c.gw.Search(ctx, cred, gateway.Query{Subject: fragment, Limit: c.limit})
	if err != nil {
		return nil, err
	}
	if len(msgs) > c.limit {
		msgs = msgs[:c.limit]
	}
	return msgs, nil
}
