package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/google/uuid"
)

const (
	// DefaultAddr is the Gmail submission endpoint (STARTTLS).
	DefaultAddr = "smtp.gmail.com:587"

	// DefaultSenderName is the display name on outgoing mail.
	DefaultSenderName = "Plan_Manager"

	timeout = 30 * time.Second
)

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Client sends mail through an SMTP submission server, authenticating each
// message with the sender's OAuth access token.
type Client struct {
	addr       string
	senderName string
	sendMail   sendFunc
}

// SendOptions contains optional parameters for sending emails
type SendOptions struct {
	CC      []string
	BCC     []string
	HTML    bool
	Headers map[string]string
}

// NewClient creates a new SMTP client. Empty arguments use DefaultAddr and
// DefaultSenderName.
func NewClient(addr, senderName string) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	if senderName == "" {
		senderName = DefaultSenderName
	}
	return &Client{
		addr:       addr,
		senderName: senderName,
		sendMail:   sendMail,
	}
}

// SendEmail sends an email via SMTP as from, authenticated with accessToken.
func (c *Client) SendEmail(ctx context.Context, from, accessToken string, to []string, subject, body string, opts SendOptions) error {
	if from == "" {
		return errors.New("sender address is required")
	}
	if len(to) == 0 {
		return errors.New("at least one recipient is required")
	}

	msg, err := c.buildMessage(from, to, subject, body, opts)
	if err != nil {
		return err
	}

	// Build recipient list (To + CC + BCC)
	recipients := make([]string, 0, len(to)+len(opts.CC)+len(opts.BCC))
	recipients = append(recipients, to...)
	recipients = append(recipients, opts.CC...)
	recipients = append(recipients, opts.BCC...)

	auth := &oauthBearerAuth{c: sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: from,
		Token:    accessToken,
	})}
	if err := c.sendMail(ctx, c.addr, auth, from, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (c *Client) buildMessage(from string, to []string, subject, body string, opts SendOptions) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: c.senderName, Address: from}})

	toAddrs := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		toAddrs = append(toAddrs, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", toAddrs)

	if len(opts.CC) > 0 {
		ccAddrs := make([]*mail.Address, 0, len(opts.CC))
		for _, addr := range opts.CC {
			ccAddrs = append(ccAddrs, &mail.Address{Address: addr})
		}
		h.SetAddressList("Cc", ccAddrs)
	}

	// BCC is intentionally NOT added to headers

	h.SetSubject(subject)
	h.Set("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from)))

	for key, value := range opts.Headers {
		h.Set(key, value)
	}

	if opts.HTML {
		h.SetContentType("multipart/alternative", nil)
		mw, err := mail.CreateWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if err := writeInline(mw, "text/plain", stripHTML(body)); err != nil {
			mw.Close()
			return nil, err
		}
		if err := writeInline(mw, "text/html", body); err != nil {
			mw.Close()
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("failed to finish message: %w", err)
		}
		return buf.Bytes(), nil
	}

	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	mw, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := mw.Write([]byte(body)); err != nil {
		mw.Close()
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(mw *mail.Writer, contentType, content string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	part, err := mw.CreateSingleInline(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		part.Close()
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return part.Close()
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

// oauthBearerAuth adapts a SASL client to net/smtp.
type oauthBearerAuth struct {
	c sasl.Client
}

func (a *oauthBearerAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return a.c.Start()
}

func (a *oauthBearerAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.c.Next(fromServer)
}

// sendMail is smtp.SendMail with context-aware dialing and a connection
// deadline taken from ctx.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid SMTP address %q: %w", addr, err)
	}

	d := &net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if err := c.Auth(a); err != nil {
		return err
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// stripHTML removes HTML tags for plain text version (basic implementation)
func stripHTML(html string) string {
	// Simple HTML stripping - replace common tags with newlines
	text := strings.ReplaceAll(html, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = strings.ReplaceAll(text, "<br />", "\n")
	text = strings.ReplaceAll(text, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "</div>", "\n")

	inTag := false
	var result strings.Builder
	for _, char := range text {
		if char == '<' {
			inTag = true
			continue
		}
		if char == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(char)
		}
	}

	return strings.TrimSpace(result.String())
}
