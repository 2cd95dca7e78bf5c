// Package directory resolves contact names to email addresses through the
// Google People API.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the People API root.
const DefaultBaseURL = "https://people.googleapis.com"

const (
	timeout      = 15 * time.Second
	maxErrorBody = 512
)

// Client queries the People API with a caller-supplied token.
type Client struct {
	baseURL string
	base    http.RoundTripper
}

// NewClient creates a Client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), base: http.DefaultTransport}
}

type emailAddress struct {
	Value    string `json:"value"`
	Metadata struct {
		Primary bool `json:"primary"`
	} `json:"metadata"`
}

type person struct {
	Names []struct {
		DisplayName string `json:"displayName"`
	} `json:"names"`
	EmailAddresses []emailAddress `json:"emailAddresses"`
}

type searchResponse struct {
	Results []struct {
		Person person `json:"person"`
	} `json:"results"`
}

// Resolve returns the address for a contact name: the first email of the
// first search match. A string that is already an email address is returned
// as is. It returns "" with no error when nobody matches.
func (c *Client) Resolve(ctx context.Context, tok *oauth2.Token, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("contact name is required")
	}
	if addr, err := mail.ParseAddress(name); err == nil && strings.Contains(name, "@") {
		return addr.Address, nil
	}

	q := url.Values{}
	q.Set("query", name)
	q.Set("readMask", "names,emailAddresses")
	q.Set("pageSize", "10")

	var resp searchResponse
	if err := c.get(ctx, tok, "/v1/people:searchContacts", q, &resp); err != nil {
		return "", fmt.Errorf("searching contacts: %w", err)
	}
	// Only the top-ranked match counts.
	if len(resp.Results) == 0 || len(resp.Results[0].Person.EmailAddresses) == 0 {
		return "", nil
	}
	return resp.Results[0].Person.EmailAddresses[0].Value, nil
}

// Me returns the primary address of the account that owns tok.
func (c *Client) Me(ctx context.Context, tok *oauth2.Token) (string, error) {
	q := url.Values{}
	q.Set("personFields", "emailAddresses")

	var p person
	if err := c.get(ctx, tok, "/v1/people/me", q, &p); err != nil {
		return "", fmt.Errorf("fetching profile: %w", err)
	}
	for _, e := range p.EmailAddresses {
		if e.Metadata.Primary {
			return e.Value, nil
		}
	}
	if len(p.EmailAddresses) > 0 {
		return p.EmailAddresses[0].Value, nil
	}
	return "", errors.New("profile has no email address")
}

func (c *Client) get(ctx context.Context, tok *oauth2.Token, path string, q url.Values, out any) error {
	if tok == nil || tok.AccessToken == "" {
		return errors.New("access token is required")
	}
	hc := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(tok),
			Base:   c.base,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("people api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
