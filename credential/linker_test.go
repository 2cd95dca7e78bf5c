package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubLookup struct {
	email string
	err   error
}

func (s stubLookup) Me(context.Context, *oauth2.Token) (string, error) {
	return s.email, s.err
}

// exchangeServer accepts only the expected code and records the PKCE verifier.
func exchangeServer(t *testing.T, wantCode string, verifier *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != wantCode {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		*verifier = r.PostForm.Get("code_verifier")
		_, _ = w.Write([]byte(`{"access_token":"linked-access","refresh_token":"linked-refresh",` +
			`"token_type":"Bearer","expires_in":3600,"scope":"https://mail.google.com/ https://www.googleapis.com/auth/contacts.readonly"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestLinker(tokenURL string, store Store, lookup AddressLookup) *Linker {
	return NewLinker(LinkerOptions{
		OAuth:  testOAuthConfig(tokenURL),
		Flows:  NewMemoryFlowStore(),
		Store:  store,
		Lookup: lookup,
	})
}

func TestLinker_BeginAndComplete(t *testing.T) {
	var gotVerifier string
	srv := exchangeServer(t, "good-code", &gotVerifier)
	store := NewMemoryStore()
	l := newTestLinker(srv.URL, store, stubLookup{email: "alice@gmail.com"})
	ctx := context.Background()

	authURL, err := l.Begin(ctx, "alice")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))

	cred, err := l.Complete(ctx, "alice", "good-code", q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "alice@gmail.com", cred.Email)
	assert.Equal(t, "linked-access", cred.AccessToken())
	assert.True(t, cred.HasRefreshToken())
	assert.Equal(t, []string{"https://mail.google.com/", "https://www.googleapis.com/auth/contacts.readonly"}, cred.Scopes)
	assert.NotEmpty(t, gotVerifier)

	stored, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@gmail.com", stored.Email)

	// the flow is consumed
	_, err = l.Complete(ctx, "alice", "good-code", "")
	require.ErrorIs(t, err, ErrFlowNotFound)
}

func TestLinker_CompleteWithoutBegin(t *testing.T) {
	l := newTestLinker("http://unused", NewMemoryStore(), nil)
	_, err := l.Complete(context.Background(), "alice", "code", "")
	require.ErrorIs(t, err, ErrFlowNotFound)
}

func TestLinker_FlowsAreKeyedByTenant(t *testing.T) {
	var v string
	srv := exchangeServer(t, "good-code", &v)
	l := newTestLinker(srv.URL, NewMemoryStore(), stubLookup{email: "a@example.com"})
	ctx := context.Background()

	_, err := l.Begin(ctx, "alice")
	require.NoError(t, err)

	_, err = l.Complete(ctx, "bob", "good-code", "")
	require.ErrorIs(t, err, ErrFlowNotFound)

	_, err = l.Complete(ctx, "alice", "good-code", "")
	require.NoError(t, err)
}

func TestLinker_Failures(t *testing.T) {
	var v string
	srv := exchangeServer(t, "good-code", &v)
	ctx := context.Background()

	tests := []struct {
		name   string
		lookup AddressLookup
		code   string
		state  string
	}{
		{"bad code", stubLookup{email: "a@example.com"}, "bad-code", ""},
		{"state mismatch", stubLookup{email: "a@example.com"}, "good-code", "forged"},
		{"lookup fails", stubLookup{err: errors.New("people api down")}, "good-code", ""},
		{"empty code", stubLookup{email: "a@example.com"}, "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			l := newTestLinker(srv.URL, store, tt.lookup)
			_, err := l.Begin(ctx, "alice")
			require.NoError(t, err)

			_, err = l.Complete(ctx, "alice", tt.code, tt.state)
			require.Error(t, err)

			_, err = store.Get(ctx, "alice")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLinker_BeginRequiresTenant(t *testing.T) {
	l := newTestLinker("http://unused", NewMemoryStore(), nil)
	_, err := l.Begin(context.Background(), " ")
	require.Error(t, err)
}
