package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

var (
	errExpiredNoRefresh = errors.New("access token expired and no refresh token is stored; re-link the account")
	errNoRefreshToken   = errors.New("credential has no refresh token; scheduled jobs need offline access, re-link the account")
)

// Resolver maps a tenant id to a usable, possibly refreshed credential.
type Resolver struct {
	store  Store
	oauth  *oauth2.Config
	logger *slog.Logger
}

// NewResolver creates a Resolver. The oauth config is used only for refresh.
func NewResolver(store Store, oauth *oauth2.Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		oauth:  oauth,
		logger: logger.With("component", "credential_resolver"),
	}
}

// Resolve loads the tenant's credential and refreshes it when expired.
// A missing credential is reported as Absent, a failed refresh as Unusable;
// only store faults are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (Resolution, error) {
	cred, err := r.store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return Resolution{State: Absent}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("loading credential: %w", err)
	}
	if cred.Token == nil || (cred.Token.AccessToken == "" && cred.Token.RefreshToken == "") {
		return Resolution{State: Unusable, Credential: cred, Err: errors.New("stored credential has no token")}, nil
	}
	if cred.Token.Valid() {
		return Resolution{State: Ready, Credential: cred}, nil
	}
	if !cred.HasRefreshToken() {
		return Resolution{State: Unusable, Credential: cred, Err: errExpiredNoRefresh}, nil
	}

	tok, err := r.oauth.TokenSource(ctx, cred.Token).Token()
	if err != nil {
		r.logger.Warn("token refresh failed", "tenant_id", tenantID, "error", err)
		return Resolution{State: Unusable, Credential: cred, Err: fmt.Errorf("refreshing token: %w", err)}, nil
	}

	refreshed := clone(cred)
	refreshed.Token = tok
	if tok.AccessToken != cred.Token.AccessToken {
		if err := r.store.Put(ctx, refreshed); err != nil {
			r.logger.Warn("failed to persist refreshed token", "tenant_id", tenantID, "error", err)
		} else {
			r.logger.Debug("token refreshed", "credential", refreshed)
		}
	}
	return Resolution{State: Ready, Credential: refreshed}, nil
}

// ResolveDurable is Resolve for deferred work: a credential without a
// refresh token is Unusable even when its access token is still valid.
func (r *Resolver) ResolveDurable(ctx context.Context, tenantID string) (Resolution, error) {
	res, err := r.Resolve(ctx, tenantID)
	if err != nil || res.State != Ready {
		return res, err
	}
	if !res.Credential.HasRefreshToken() {
		return Resolution{State: Unusable, Credential: res.Credential, Err: errNoRefreshToken}, nil
	}
	return res, nil
}

// Check inspects the stored credential without touching the network. It is
// used at enqueue time to reject obviously broken setups early; fire-time
// resolution still decides.
func (r *Resolver) Check(ctx context.Context, tenantID string) (Resolution, error) {
	cred, err := r.store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return Resolution{State: Absent}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("loading credential: %w", err)
	}
	if !cred.HasRefreshToken() {
		return Resolution{State: Unusable, Credential: cred, Err: errNoRefreshToken}, nil
	}
	return Resolution{State: Ready, Credential: cred}, nil
}
