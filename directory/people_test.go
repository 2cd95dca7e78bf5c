package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testToken = &oauth2.Token{AccessToken: "people-token", TokenType: "Bearer"}

func newPeopleServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestResolve(t *testing.T) {
	var gotQuery, gotMask, gotAuth string
	c := newPeopleServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/people:searchContacts", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		gotMask = r.URL.Query().Get("readMask")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch gotQuery {
		case "김철수":
			_, _ = w.Write([]byte(`{"results":[
				{"person":{"names":[{"displayName":"김철수"}],"emailAddresses":[{"value":"chulsoo@example.com"},{"value":"cs@work.example.com"}]}},
				{"person":{"names":[{"displayName":"김철수2"}],"emailAddresses":[{"value":"other@example.com"}]}}
			]}`))
		case "no email":
			_, _ = w.Write([]byte(`{"results":[
				{"person":{"names":[{"displayName":"no email"}]}},
				{"person":{"emailAddresses":[{"value":"second@example.com"}]}}
			]}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
	ctx := context.Background()

	addr, err := c.Resolve(ctx, testToken, " 김철수 ")
	require.NoError(t, err)
	assert.Equal(t, "chulsoo@example.com", addr)
	assert.Equal(t, "김철수", gotQuery)
	assert.Equal(t, "names,emailAddresses", gotMask)
	assert.Equal(t, "Bearer people-token", gotAuth)

	addr, err = c.Resolve(ctx, testToken, "nobody")
	require.NoError(t, err)
	assert.Empty(t, addr)

	addr, err = c.Resolve(ctx, testToken, "no email")
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestResolve_LiteralAddressSkipsLookup(t *testing.T) {
	called := false
	c := newPeopleServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	addr, err := c.Resolve(context.Background(), testToken, "Bob <bob@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", addr)
	assert.False(t, called)
}

func TestResolve_Errors(t *testing.T) {
	c := newPeopleServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"insufficient scopes"}}`, http.StatusForbidden)
	})
	ctx := context.Background()

	_, err := c.Resolve(ctx, testToken, "anyone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "insufficient scopes")

	_, err = c.Resolve(ctx, testToken, "  ")
	require.Error(t, err)

	_, err = c.Resolve(ctx, nil, "anyone")
	require.Error(t, err)
}

func TestMe(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"primary wins", `{"emailAddresses":[{"value":"alt@example.com"},{"value":"alice@gmail.com","metadata":{"primary":true}}]}`, "alice@gmail.com", false},
		{"first without primary", `{"emailAddresses":[{"value":"first@example.com"}]}`, "first@example.com", false},
		{"no addresses", `{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newPeopleServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/people/me", r.URL.Path)
				assert.Equal(t, "emailAddresses", r.URL.Query().Get("personFields"))
				_, _ = w.Write([]byte(tt.body))
			})
			got, err := c.Me(context.Background(), testToken)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
