package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	message "github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
)

const (
	// DefaultAddr is the Gmail IMAP endpoint.
	DefaultAddr = "imap.gmail.com:993"

	// DefaultLimit caps how many replies a search returns.
	DefaultLimit = 5

	// NoBody stands in for messages without a readable text/plain part.
	NoBody = "(본문 없음)"

	timeout = 30 * time.Second
	inbox   = "INBOX"
)

// Backend is the subset of *client.Client used for reply searches.
type Backend interface {
	Authenticate(auth sasl.Client) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// Dialer opens an unauthenticated IMAP session.
type Dialer func(ctx context.Context, addr string) (Backend, error)

// Client searches a Gmail mailbox over IMAP. Each search opens its own
// session authenticated with the caller's OAuth access token, so one Client
// serves every tenant.
type Client struct {
	addr   string
	dial   Dialer
	logger *slog.Logger
}

// Reply is an inbound message matched by a search.
type Reply struct {
	UID       uint32    `json:"uid"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
	MessageID string    `json:"messageId,omitempty"`
}

// NewClient creates a Client for the given host:port. An empty addr uses
// DefaultAddr.
func NewClient(addr string, logger *slog.Logger) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		addr:   addr,
		dial:   dialTLS,
		logger: logger.With("component", "imap"),
	}
}

// dialTLS connects with implicit TLS. The connection deadline follows the
// context deadline so a stalled server cannot hold a job past its timeout.
func dialTLS(ctx context.Context, addr string) (Backend, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP address %q: %w", addr, err)
	}
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    &tls.Config{ServerName: host},
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// SearchReplies returns up to limit of the most recent INBOX messages whose
// subject contains subject and that are addressed to account, newest first.
func (c *Client) SearchReplies(ctx context.Context, account, accessToken, subject string, limit int) ([]Reply, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, errors.New("subject fragment is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	b, err := c.open(ctx, account, accessToken)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := b.Logout(); err != nil {
			c.logger.Debug("logout failed", "error", err)
		}
	}()

	if _, err := b.Select(inbox, true); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", inbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", subject)
	if account != "" {
		criteria.Header.Add("To", account)
	}

	uids, err := b.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	if len(uids) == 0 {
		return []Reply{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// UIDs ascend with arrival, so the tail holds the most recent messages.
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- b.UidFetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}, messages)
	}()

	replies := []Reply{}
	for msg := range messages {
		if r := c.parseMessageData(msg); r != nil {
			replies = append(replies, *r)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(replies, func(i, j int) bool { return replies[i].UID > replies[j].UID })
	return replies, nil
}

// open dials and authenticates with OAUTHBEARER.
func (c *Client) open(ctx context.Context, account, accessToken string) (Backend, error) {
	if accessToken == "" {
		return nil, errors.New("access token is required")
	}
	b, err := c.dial(ctx, c.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: account,
		Token:    accessToken,
	})
	if err := b.Authenticate(auth); err != nil {
		b.Logout()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	return b, nil
}

func (c *Client) parseMessageData(msg *imap.Message) *Reply {
	if msg == nil || msg.Envelope == nil {
		return nil
	}

	r := &Reply{
		UID:       msg.Uid,
		Subject:   msg.Envelope.Subject,
		Date:      msg.Envelope.Date,
		MessageID: msg.Envelope.MessageId,
		From:      "Unknown",
	}
	if len(msg.Envelope.From) > 0 && msg.Envelope.From[0] != nil {
		r.From = formatAddress(msg.Envelope.From[0])
	}

	for _, literal := range msg.Body {
		if literal != nil {
			r.Body = c.parseBody(literal)
			break
		}
	}
	if strings.TrimSpace(r.Body) == "" {
		r.Body = NoBody
	}
	return r
}

// parseBody returns the first text/plain part of a raw RFC 822 message.
func (c *Client) parseBody(literal imap.Literal) string {
	if literal == nil {
		return ""
	}
	mr, err := message.CreateReader(literal)
	if err != nil && mr == nil {
		c.logger.Warn("failed to create message reader", "error", err)
		return ""
	}
	defer mr.Close()
	return c.firstPlainPart(mr)
}

func (c *Client) firstPlainPart(mr *message.Reader) string {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return ""
		}
		if err != nil {
			c.logger.Warn("failed to read message part", "error", err)
			return ""
		}

		if h, ok := part.Header.(*message.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if contentType == "" || strings.HasPrefix(contentType, "text/plain") {
				body, err := io.ReadAll(part.Body)
				if err != nil {
					c.logger.Warn("failed to read message body", "error", err)
					return ""
				}
				return strings.TrimSpace(string(body))
			}
		}
	}
}

// formatAddress formats an IMAP address into a string
func formatAddress(addr *imap.Address) string {
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}
