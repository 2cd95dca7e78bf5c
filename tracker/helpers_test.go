package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/rgabriel/mcp-mail-tracker/credential"
	"github.com/rgabriel/mcp-mail-tracker/gateway"
	"github.com/rgabriel/mcp-mail-tracker/ledger"
	"github.com/rgabriel/mcp-mail-tracker/report"
	smtppkg "github.com/rgabriel/mcp-mail-tracker/smtp"
	"github.com/rgabriel/mcp-mail-tracker/storage"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMail struct {
	from    string
	to      []string
	subject string
	body    string
}

// fakeGateway records sends and serves canned search results.
type fakeGateway struct {
	mu sync.Mutex

	results   []report.Message
	searchErr error
	sendErr   error
	// block, when set, makes Search wait on it, ignoring ctx.
	block chan struct{}
	panic bool
	// onSearch, when set, runs at the start of every Search.
	onSearch func()

	searches []gateway.Query
	sent     []sentMail
}

func (g *fakeGateway) Search(_ context.Context, _ *credential.Credential, q gateway.Query) ([]report.Message, error) {
	if g.panic {
		panic("gateway exploded")
	}
	if g.onSearch != nil {
		g.onSearch()
	}
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.searches = append(g.searches, q)
	return g.results, g.searchErr
}

func (g *fakeGateway) Send(_ context.Context, cred *credential.Credential, to []string, subject, body string, _ smtppkg.SendOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, sentMail{from: cred.Email, to: to, subject: subject, body: body})
	return nil
}

func (g *fakeGateway) calls() (searches, sends int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.searches), len(g.sent)
}

func openDB(t *testing.T, dsn string) *sqlx.DB {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func validCredential(tenant, email string) *credential.Credential {
	return &credential.Credential{
		TenantID: tenant,
		Email:    email,
		Token: &oauth2.Token{
			AccessToken:  "access-" + tenant,
			RefreshToken: "refresh-" + tenant,
			TokenType:    "Bearer",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
}

func newResolver(creds ...*credential.Credential) *credential.Resolver {
	return credential.NewResolver(credential.NewMemoryStore(creds...), &oauth2.Config{}, nil)
}

type harness struct {
	clock      *fakeClock
	store      *ledger.Store
	gw         *fakeGateway
	resolver   *credential.Resolver
	scheduler  *Scheduler
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, db *sqlx.DB, gw *fakeGateway, creds ...*credential.Credential) *harness {
	t.Helper()
	clock := &fakeClock{t: baseTime}
	store := ledger.NewStoreWithClock(db, clock.Now)
	resolver := newResolver(creds...)

	sched, err := NewScheduler(SchedulerOptions{
		Ledger:            store,
		Credentials:       resolver,
		ValidateOnEnqueue: true,
		Now:               clock.Now,
	})
	require.NoError(t, err)

	disp, err := NewDispatcher(DispatcherOptions{
		Ledger:      store,
		Credentials: resolver,
		Gateway:     gw,
		JobTimeout:  time.Second,
		Now:         clock.Now,
	})
	require.NoError(t, err)

	return &harness{clock: clock, store: store, gw: gw, resolver: resolver, scheduler: sched, dispatcher: disp}
}
