package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/99designs/keyring"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
)

// Store persists credentials per tenant.
type Store interface {
	Get(ctx context.Context, tenantID string) (*Credential, error)
	Put(ctx context.Context, cred *Credential) error
}

func clone(c *Credential) *Credential {
	out := *c
	if c.Token != nil {
		tok := *c.Token
		out.Token = &tok
	}
	out.Scopes = append([]string(nil), c.Scopes...)
	return &out
}

// MemoryStore keeps credentials in process memory. It backs the env-var
// strategy, where the single credential is seeded from the environment.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates a MemoryStore seeded with the given credentials.
func NewMemoryStore(seed ...*Credential) *MemoryStore {
	m := &MemoryStore{creds: make(map[string]*Credential)}
	for _, c := range seed {
		m.creds[c.TenantID] = clone(c)
	}
	return m
}

func (m *MemoryStore) Get(_ context.Context, tenantID string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *MemoryStore) Put(_ context.Context, cred *Credential) error {
	if cred == nil || cred.TenantID == "" {
		return errors.New("credential tenant id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.TenantID] = clone(cred)
	return nil
}

const keyringService = "mail-tracker"

// KeyringConfig controls where the local-file strategy keeps credentials.
type KeyringConfig struct {
	FileDir  string
	Password string
}

// OpenKeyring opens the OS keyring, falling back to an encrypted file backend.
func OpenKeyring(cfg KeyringConfig) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore keeps credentials as JSON items in a keyring. It backs the
// local-file strategy.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore wraps an opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func keyringKey(tenantID string) string {
	return "tenant:" + tenantID
}

func (k *KeyringStore) Get(_ context.Context, tenantID string) (*Credential, error) {
	item, err := k.ring.Get(keyringKey(tenantID))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting credential %q: %w", tenantID, err)
	}
	var c Credential
	if err := json.Unmarshal(item.Data, &c); err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", tenantID, err)
	}
	return &c, nil
}

func (k *KeyringStore) Put(_ context.Context, cred *Credential) error {
	if cred == nil || cred.TenantID == "" {
		return errors.New("credential tenant id is required")
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential %q: %w", cred.TenantID, err)
	}
	err = k.ring.Set(keyring.Item{
		Key:   keyringKey(cred.TenantID),
		Data:  data,
		Label: "mail tracker credential for " + cred.TenantID,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", cred.TenantID, err)
	}
	return nil
}

// SQLStore keeps credentials in the credentials table. It backs the
// provider-managed strategy, where many tenants share one server.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLStore creates a SQLStore over an already migrated database.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

type credentialRow struct {
	TenantID     string       `db:"tenant_id"`
	Email        string       `db:"email"`
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	TokenType    string       `db:"token_type"`
	Expiry       sql.NullTime `db:"expiry"`
	Scopes       string       `db:"scopes"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (s *SQLStore) Get(ctx context.Context, tenantID string) (*Credential, error) {
	var row credentialRow
	query := s.db.Rebind(`SELECT tenant_id, email, access_token, refresh_token, token_type,
		expiry, scopes, updated_at FROM credentials WHERE tenant_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential %q: %w", tenantID, err)
	}

	tok := &oauth2.Token{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		TokenType:    row.TokenType,
	}
	if row.Expiry.Valid {
		tok.Expiry = row.Expiry.Time.UTC()
	}
	return &Credential{
		TenantID: row.TenantID,
		Email:    row.Email,
		Token:    tok,
		Scopes:   splitScopes(row.Scopes),
	}, nil
}

func (s *SQLStore) Put(ctx context.Context, cred *Credential) error {
	if cred == nil || cred.TenantID == "" || cred.Token == nil {
		return errors.New("credential tenant id and token are required")
	}
	var expiry sql.NullTime
	if !cred.Token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: cred.Token.Expiry.UTC(), Valid: true}
	}

	query := s.db.Rebind(`INSERT INTO credentials
		(tenant_id, email, access_token, refresh_token, token_type, expiry, scopes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query,
		cred.TenantID, cred.Email, cred.Token.AccessToken, cred.Token.RefreshToken,
		cred.Token.TokenType, expiry, joinScopes(cred.Scopes), s.now().UTC())
	if err != nil {
		return fmt.Errorf("put credential %q: %w", cred.TenantID, err)
	}
	return nil
}
