package credentials

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/services"
	"github.com/ribelo/prism-sub000/services/providers"
	"go.uber.org/zap"
)

// Refresher exchanges a refresh token for a new access token
type Refresher interface {
	Refresh(ctx context.Context, cred providers.Credential) (providers.Credential, error)
}

// Persister writes refreshed credentials to durable storage
type Persister interface {
	Save(ctx context.Context, cred providers.Credential) error
	Load(ctx context.Context) ([]providers.Credential, error)
}

// Config holds configuration for the Store
type Config struct {
	// RefreshWindow is how close to expiry the maintenance pass refreshes a token
	RefreshWindow time.Duration
	// Skew is subtracted from expiry times when deciding whether a token is expired
	Skew time.Duration
	// CoalesceWindow makes a forced refresh reuse a token refreshed this recently
	CoalesceWindow time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		RefreshWindow:  5 * time.Minute,
		Skew:           30 * time.Second,
		CoalesceWindow: 10 * time.Second,
	}
}

// Status describes one stored credential without exposing secrets
type Status struct {
	Vendor      string                   `json:"vendor"`
	Kind        providers.CredentialKind `json:"kind"`
	ExpiresAt   *time.Time               `json:"expires_at,omitempty"`
	Expired     bool                     `json:"expired"`
	Refreshable bool                     `json:"refreshable"`
}

// Store is the process-wide credential cache. The mutex guards only the maps;
// network refreshes and persistence run outside it.
type Store struct {
	mu          sync.RWMutex
	creds       map[string]providers.Credential
	lastRefresh map[string]time.Time

	refreshMu sync.Mutex
	vendorMu  map[string]*sync.Mutex

	refresher Refresher
	persister Persister
	config    Config
	logger    *zap.Logger
	now       func() time.Time

	maintenance maintenanceState
}

// NewStore creates a new Store. persister may be nil.
func NewStore(refresher Refresher, persister Persister, config Config, logger *zap.Logger) *Store {
	return &Store{
		creds:       make(map[string]providers.Credential),
		lastRefresh: make(map[string]time.Time),
		vendorMu:    make(map[string]*sync.Mutex),
		refresher:   refresher,
		persister:   persister,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Put stores or replaces the credential for its vendor
func (s *Store) Put(cred providers.Credential) {
	s.mu.Lock()
	s.creds[cred.Vendor] = cred
	s.mu.Unlock()
}

// Load merges persisted credentials into the store. A persisted OAuth
// credential replaces a configured one since it carries the latest refresh.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	stored, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cred := range stored {
		current, ok := s.creds[cred.Vendor]
		if ok && current.Kind == providers.CredentialAPIKey && cred.Kind != providers.CredentialAPIKey {
			continue
		}
		s.creds[cred.Vendor] = cred
	}
	s.logger.Info("credentials loaded", zap.Int("count", len(stored)))
	return nil
}

// Vendors returns the vendors with a stored credential, sorted
func (s *Store) Vendors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vendors := make([]string, 0, len(s.creds))
	for v := range s.creds {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)
	return vendors
}

// Snapshot reports the state of every stored credential
func (s *Store) Snapshot() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.creds))
	for _, cred := range s.creds {
		st := Status{
			Vendor:      cred.Vendor,
			Kind:        cred.Kind,
			Expired:     s.IsExpired(cred),
			Refreshable: cred.Kind == providers.CredentialOAuth && cred.RefreshToken != "",
		}
		if exp, ok := ExpiresAt(cred); ok {
			st.ExpiresAt = &exp
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vendor < out[j].Vendor })
	return out
}

// IsExpired reports whether cred must be refreshed before use.
// Static API keys never expire.
func (s *Store) IsExpired(cred providers.Credential) bool {
	return isExpiredAt(cred, s.now(), s.config.Skew)
}

// Token returns the credential for vendor, refreshing it first if expired
func (s *Store) Token(ctx context.Context, vendor string) (providers.Credential, error) {
	cred, ok := s.get(vendor)
	if !ok {
		return providers.Credential{}, services.CredentialFailure("no credential configured for "+vendor, nil).
			WithDetail("vendor", vendor)
	}
	if !s.IsExpired(cred) {
		return cred, nil
	}
	return s.refresh(ctx, vendor, false)
}

// GetOrRefreshToken forces a refresh of vendor's OAuth credential. Concurrent
// callers within the coalesce window share one refresh. API keys come back unchanged.
func (s *Store) GetOrRefreshToken(ctx context.Context, vendor string) (providers.Credential, error) {
	return s.refresh(ctx, vendor, true)
}

func (s *Store) get(vendor string) (providers.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[vendor]
	return cred, ok
}

func (s *Store) vendorLock(vendor string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	mu, ok := s.vendorMu[vendor]
	if !ok {
		mu = &sync.Mutex{}
		s.vendorMu[vendor] = mu
	}
	return mu
}

func (s *Store) refresh(ctx context.Context, vendor string, force bool) (providers.Credential, error) {
	cred, refreshed, err := s.refreshLocked(ctx, vendor, force)
	if err != nil || !refreshed || s.persister == nil {
		return cred, err
	}

	if perr := s.persister.Save(ctx, cred); perr != nil {
		s.logger.Warn("failed to persist refreshed credential",
			zap.String("vendor", vendor),
			zap.Error(perr),
		)
	}
	return cred, nil
}

// refreshLocked serializes refreshes per vendor and reports whether a new token was obtained
func (s *Store) refreshLocked(ctx context.Context, vendor string, force bool) (providers.Credential, bool, error) {
	mu := s.vendorLock(vendor)
	mu.Lock()
	defer mu.Unlock()

	s.mu.RLock()
	cred, ok := s.creds[vendor]
	last := s.lastRefresh[vendor]
	s.mu.RUnlock()

	if !ok {
		return providers.Credential{}, false, services.CredentialFailure("no credential configured for "+vendor, nil).
			WithDetail("vendor", vendor)
	}
	if cred.Kind != providers.CredentialOAuth {
		return cred, false, nil
	}
	if force && !last.IsZero() && s.now().Sub(last) < s.config.CoalesceWindow {
		return cred, false, nil
	}
	if !force && !s.IsExpired(cred) {
		return cred, false, nil
	}
	if cred.RefreshToken == "" {
		return providers.Credential{}, false, services.CredentialFailure("credential for "+vendor+" cannot be refreshed", nil).
			WithDetail("vendor", vendor)
	}
	if s.refresher == nil {
		return providers.Credential{}, false, services.CredentialFailure("no refresher configured", nil)
	}

	updated, err := s.refresher.Refresh(ctx, cred)
	observability.CredentialRefreshes.WithLabelValues(vendor, observability.OutcomeLabel(err)).Inc()
	if err != nil {
		s.logger.Warn("credential refresh failed", zap.String("vendor", vendor), zap.Error(err))
		return providers.Credential{}, false, services.CredentialFailure("failed to refresh credential for "+vendor, err).
			WithDetail("vendor", vendor)
	}

	s.mu.Lock()
	s.creds[vendor] = updated
	s.lastRefresh[vendor] = s.now()
	s.mu.Unlock()

	s.logger.Info("credential refreshed",
		zap.String("vendor", vendor),
		zap.Time("expires_at", updated.ExpiresAt),
	)
	return updated, true, nil
}
