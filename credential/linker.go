package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultFlowTTL bounds how long a started link stays completable.
const DefaultFlowTTL = 10 * time.Minute

// AddressLookup returns the mailbox address that owns a token.
type AddressLookup interface {
	Me(ctx context.Context, tok *oauth2.Token) (string, error)
}

// Linker runs the account linking flow: it hands out an authorization URL
// and later exchanges the returned code for a stored credential.
type Linker struct {
	oauth  *oauth2.Config
	flows  FlowStore
	store  Store
	lookup AddressLookup
	ttl    time.Duration
	logger *slog.Logger
}

// LinkerOptions configures a Linker.
type LinkerOptions struct {
	OAuth  *oauth2.Config
	Flows  FlowStore
	Store  Store
	Lookup AddressLookup
	TTL    time.Duration
	Logger *slog.Logger
}

// NewLinker creates a Linker.
func NewLinker(opts LinkerOptions) *Linker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultFlowTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Linker{
		oauth:  opts.OAuth,
		flows:  opts.Flows,
		store:  opts.Store,
		lookup: opts.Lookup,
		ttl:    opts.TTL,
		logger: opts.Logger.With("component", "credential_linker"),
	}
}

type pendingFlow struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// Begin starts a link for the tenant and returns the URL the user must open.
// Starting again replaces any earlier pending flow for the same tenant.
func (l *Linker) Begin(ctx context.Context, tenantID string) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", errors.New("tenant id is required")
	}
	flow := pendingFlow{
		State:    uuid.NewString(),
		Verifier: oauth2.GenerateVerifier(),
	}
	data, err := json.Marshal(flow)
	if err != nil {
		return "", fmt.Errorf("encoding flow: %w", err)
	}
	if err := l.flows.Put(ctx, tenantID, data, l.ttl); err != nil {
		return "", fmt.Errorf("saving flow: %w", err)
	}

	url := l.oauth.AuthCodeURL(flow.State,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(flow.Verifier),
	)
	l.logger.Info("account link started", "tenant_id", tenantID, "expires_in", l.ttl.String())
	return url, nil
}

// Complete exchanges the authorization code for tokens, looks up the
// account's address and stores the credential. When state is non-empty it
// must match the state issued by Begin.
func (l *Linker) Complete(ctx context.Context, tenantID, code, state string) (*Credential, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	data, err := l.flows.Take(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var flow pendingFlow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("decoding flow: %w", err)
	}
	if state != "" && state != flow.State {
		return nil, errors.New("state mismatch; start again with link_account")
	}

	tok, err := l.oauth.Exchange(ctx, code, oauth2.VerifierOption(flow.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	cred := &Credential{
		TenantID: tenantID,
		Token:    tok,
		Scopes:   grantedScopes(tok, l.oauth.Scopes),
	}
	if l.lookup != nil {
		email, err := l.lookup.Me(ctx, tok)
		if err != nil {
			return nil, fmt.Errorf("looking up account address: %w", err)
		}
		cred.Email = email
	}
	if err := l.store.Put(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}
	l.logger.Info("account linked", "credential", cred)
	return cred, nil
}

func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return splitScopes(s)
	}
	return append([]string(nil), requested...)
}
