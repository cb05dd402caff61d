package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkrasnov/float-feed/internal/model"
)

// Errors
var (
	ErrNoToken      = errors.New("no token available")
	ErrNoCredential = errors.New("no credential for identity")
)

// EndpointError is a failure talking to the token endpoint. 403 responses
// mean the API key itself is bad and retrying cannot help.
type EndpointError struct {
	StatusCode int
	IdentityID int64
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned %d for identity %d", e.StatusCode, e.IdentityID)
}

// Recoverable reports whether a retry may succeed.
func (e *EndpointError) Recoverable() bool {
	return e.StatusCode != http.StatusForbidden
}

// CredentialStore looks up API keys for identities.
type CredentialStore interface {
	GetCredential(ctx context.Context, identityID int64) (model.Credential, error)
}

// Config holds Token Manager settings.
type Config struct {
	APIBaseURL      string        // marketplace REST base, e.g. https://csfloat.com/api/v1
	RefreshInterval time.Duration // tokens older than this are stale
	RequestTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 30 * time.Minute,
		RequestTimeout:  10 * time.Second,
	}
}

type entry struct {
	token    string
	issuedAt time.Time
}

// Manager holds per-identity feed tokens. The token cache is mutated only
// through Manager methods; readers go through GetToken.
type Manager struct {
	cfg        Config
	store      CredentialStore
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.RWMutex
	tokens      map[int64]entry
	lastRefresh time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Token Manager.
func NewManager(cfg Config, store CredentialStore, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     slog.Default(),
		tokens:     make(map[int64]entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadTokens fetches tokens for all given identities. A failure for one
// identity does not affect the others; the first error is returned after
// every identity has been attempted.
func (m *Manager) LoadTokens(ctx context.Context, identityIDs []int64) error {
	// A plain group: the derived-context variant would cancel the
	// remaining identities' fetches on the first failure.
	var g errgroup.Group
	for _, id := range identityIDs {
		id := id
		g.Go(func() error {
			if err := m.loadToken(ctx, id); err != nil {
				m.logger.Warn("failed to load token", "identity_id", id, "error", err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	m.mu.Lock()
	m.lastRefresh = time.Now()
	m.mu.Unlock()

	return err
}

// GetToken returns the identity's token, refreshing all tokens first when
// the last refresh is older than the refresh interval. identityID zero
// returns an arbitrary available token: the feed subscription is global,
// so any valid token opens it.
func (m *Manager) GetToken(ctx context.Context, identityID int64) (string, error) {
	m.mu.RLock()
	stale := time.Since(m.lastRefresh) > m.cfg.RefreshInterval
	m.mu.RUnlock()

	if stale {
		m.RefreshTokens(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if identityID != 0 {
		e, ok := m.tokens[identityID]
		if !ok || e.token == "" {
			return "", fmt.Errorf("identity %d: %w", identityID, ErrNoToken)
		}
		return e.token, nil
	}

	var best entry
	for _, e := range m.tokens {
		if e.token != "" && e.issuedAt.After(best.issuedAt) {
			best = e
		}
	}
	if best.token == "" {
		return "", ErrNoToken
	}
	return best.token, nil
}

// InvalidateTokens discards every cached token while keeping the identities
// known, and marks the cache stale so the next GetToken fetches fresh tokens
// before returning. Called when the feed rejects a token outright; retrying
// the connect with the same cached token would fail identically.
func (m *Manager) InvalidateTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.tokens {
		m.tokens[id] = entry{}
	}
	m.lastRefresh = time.Time{}
}

// RefreshTokens refreshes every known identity's token concurrently. One
// identity's failure never aborts the others, and a stale token is kept
// when its refresh fails.
func (m *Manager) RefreshTokens(ctx context.Context) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.tokens))
	for id := range m.tokens {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.loadToken(ctx, id); err != nil {
				m.logger.Warn("token refresh failed, keeping stale token",
					"identity_id", id,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	m.lastRefresh = time.Now()
	m.mu.Unlock()
}

// AddIdentity loads a token for a newly seen identity. Returns false when
// the identity has no stored credential or the endpoint refuses.
func (m *Manager) AddIdentity(ctx context.Context, identityID int64) bool {
	m.mu.RLock()
	_, known := m.tokens[identityID]
	m.mu.RUnlock()
	if known {
		return true
	}

	if err := m.loadToken(ctx, identityID); err != nil {
		m.logger.Warn("failed to add identity", "identity_id", identityID, "error", err)
		return false
	}
	return true
}

// RemoveIdentity drops an identity's token.
func (m *Manager) RemoveIdentity(identityID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, identityID)
}

// ClearTokens drops the given identities' tokens, or all tokens when none
// are given.
func (m *Manager) ClearTokens(identityIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(identityIDs) == 0 {
		m.tokens = make(map[int64]entry)
		return
	}
	for _, id := range identityIDs {
		delete(m.tokens, id)
	}
}

// TokenCount returns the number of cached tokens.
func (m *Manager) TokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

// Identities returns the identity ids with a cached token.
func (m *Manager) Identities() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.tokens))
	for id := range m.tokens {
		ids = append(ids, id)
	}
	return ids
}

// loadToken exchanges an identity's API key for a fresh feed token.
func (m *Manager) loadToken(ctx context.Context, identityID int64) error {
	cred, err := m.store.GetCredential(ctx, identityID)
	if err != nil {
		return fmt.Errorf("identity %d: %w", identityID, err)
	}

	tok, err := m.fetchToken(ctx, identityID, cred.APIKey)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tokens[identityID] = entry{token: tok, issuedAt: time.Now()}
	m.mu.Unlock()

	m.logger.Debug("token loaded", "identity_id", identityID)
	return nil
}

// fetchToken calls GET <api>/user/get-ws-token with the API key as bearer.
func (m *Manager) fetchToken(ctx context.Context, identityID int64, apiKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.APIBaseURL+"/user/get-ws-token", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &EndpointError{StatusCode: resp.StatusCode, IdentityID: identityID}
	}

	var payload struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Data.Token == "" {
		return "", fmt.Errorf("token response missing token")
	}
	return payload.Data.Token, nil
}
