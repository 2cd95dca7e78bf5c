package tools

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/ledger"
	"github.com/rgabriel/mcp-mail-tracker/report"
	smtppkg "github.com/rgabriel/mcp-mail-tracker/smtp"
	"github.com/rgabriel/mcp-mail-tracker/tracker"
)

// MockResolver implements CredentialResolver for testing.
type MockResolver struct {
	Resolution credential.Resolution
	Err        error

	LastTenant string
	CallCount  int
}

func (m *MockResolver) Resolve(ctx context.Context, tenantID string) (credential.Resolution, error) {
	m.LastTenant = tenantID
	m.CallCount++
	return m.Resolution, m.Err
}

func readyResolver(email string) *MockResolver {
	return &MockResolver{Resolution: credential.Resolution{
		State: credential.Ready,
		Credential: &credential.Credential{
			TenantID: "alice",
			Email:    email,
			Token:    &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Now().Add(time.Hour)},
		},
	}}
}

// MockDirectory implements ContactDirectory for testing.
type MockDirectory struct {
	Contacts map[string]string
	Err      error

	LastNames []string
	CallCount int
}

func (m *MockDirectory) Resolve(ctx context.Context, tok *oauth2.Token, name string) (string, error) {
	m.LastNames = append(m.LastNames, name)
	m.CallCount++
	if m.Err != nil {
		return "", m.Err
	}
	return m.Contacts[name], nil
}

// MockSender implements MailSender for testing.
type MockSender struct {
	Err error

	LastFrom    string
	LastTo      []string
	LastSubject string
	LastBody    string
	LastOpts    smtppkg.SendOptions
	CallCount   int
}

func (m *MockSender) Send(ctx context.Context, cred *credential.Credential, to []string, subject, body string, opts smtppkg.SendOptions) error {
	m.LastFrom = cred.Email
	m.LastTo = to
	m.LastSubject = subject
	m.LastBody = body
	m.LastOpts = opts
	m.CallCount++
	return m.Err
}

// MockSearcher implements ReplySearcher for testing.
type MockSearcher struct {
	Messages []report.Message
	Err      error

	LastFragment string
	CallCount    int
}

func (m *MockSearcher) Search(ctx context.Context, cred *credential.Credential, fragment string) ([]report.Message, error) {
	m.LastFragment = fragment
	m.CallCount++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Messages, nil
}

// MockScheduler implements ReportScheduler for testing.
type MockScheduler struct {
	Job  ledger.Job
	Jobs []ledger.Job
	Err  error

	LastMethod  string
	LastRequest tracker.EnqueueRequest
	LastTenant  string
	LastJobID   string
	LastStatus  ledger.Status
	LastLimit   int
	CallCount   int
}

func (m *MockScheduler) EnqueueReport(ctx context.Context, req tracker.EnqueueRequest) (tracker.Confirmation, error) {
	m.LastMethod = "EnqueueReport"
	m.LastRequest = req
	m.CallCount++
	if m.Err != nil {
		return tracker.Confirmation{}, m.Err
	}
	job := m.Job
	job.TenantID = req.TenantID
	job.CorrelationSubject = req.Subject
	return tracker.Confirmation{Job: job, Message: fmt.Sprintf("Status report for '%s' scheduled", req.GroupName)}, nil
}

func (m *MockScheduler) Cancel(ctx context.Context, tenantID, jobID string) (ledger.Job, error) {
	m.LastMethod = "Cancel"
	m.LastTenant = tenantID
	m.LastJobID = jobID
	m.CallCount++
	return m.Job, m.Err
}

func (m *MockScheduler) List(ctx context.Context, tenantID string, status ledger.Status, limit int) ([]ledger.Job, error) {
	m.LastMethod = "List"
	m.LastTenant = tenantID
	m.LastStatus = status
	m.LastLimit = limit
	m.CallCount++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Jobs, nil
}

// MockLinker implements AccountLinker for testing.
type MockLinker struct {
	URL  string
	Cred *credential.Credential
	Err  error

	LastTenant string
	LastCode   string
	LastState  string
	CallCount  int
}

func (m *MockLinker) Begin(ctx context.Context, tenantID string) (string, error) {
	m.LastTenant = tenantID
	m.CallCount++
	if m.Err != nil {
		return "", m.Err
	}
	return m.URL, nil
}

func (m *MockLinker) Complete(ctx context.Context, tenantID, code, state string) (*credential.Credential, error) {
	m.LastTenant = tenantID
	m.LastCode = code
	m.LastState = state
	m.CallCount++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Cred, nil
}
