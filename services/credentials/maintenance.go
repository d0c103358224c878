package credentials

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/services/providers"
	"go.uber.org/zap"
)

// MaintenanceConfig controls the background refresh loop
type MaintenanceConfig struct {
	Interval time.Duration
	Cooldown time.Duration
}

type maintenanceState struct {
	lastRun atomic.Int64 // unix nanoseconds
}

// RunMaintenance refreshes near-expiry credentials every Interval until ctx
// is cancelled. A panic inside a pass restarts the loop after Cooldown.
func (s *Store) RunMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	for {
		err := s.maintenanceLoop(ctx, cfg.Interval)
		if err == nil {
			return
		}
		s.logger.Error("credential maintenance crashed, restarting",
			zap.Error(err),
			zap.Duration("cooldown", cfg.Cooldown),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Cooldown):
		}
	}
}

func (s *Store) maintenanceLoop(ctx context.Context, interval time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("maintenance panic: %v", r)
		}
	}()

	s.MaintainOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.MaintainOnce(ctx)
		}
	}
}

// MaintainOnce refreshes every OAuth credential expiring within the refresh
// window and returns how many were refreshed.
func (s *Store) MaintainOnce(ctx context.Context) int {
	now := s.now()

	s.mu.RLock()
	var due []string
	for vendor, cred := range s.creds {
		if cred.Kind == providers.CredentialOAuth && cred.RefreshToken != "" &&
			expiresWithin(cred, now, s.config.RefreshWindow) {
			due = append(due, vendor)
		}
	}
	s.mu.RUnlock()

	refreshed := 0
	for _, vendor := range due {
		if _, err := s.refreshDue(ctx, vendor); err != nil {
			continue
		}
		refreshed++
	}

	s.maintenance.lastRun.Store(s.now().UnixNano())
	observability.MaintenanceLastRun.Set(float64(s.now().Unix()))
	if refreshed > 0 {
		s.logger.Info("credential maintenance completed", zap.Int("refreshed", refreshed))
	}
	return refreshed
}

// refreshDue refreshes ahead of expiry, so it bypasses the expired check
// but still honours the coalesce window.
func (s *Store) refreshDue(ctx context.Context, vendor string) (providers.Credential, error) {
	return s.refresh(ctx, vendor, true)
}

// LastMaintenance returns when the last maintenance pass completed
func (s *Store) LastMaintenance() time.Time {
	ns := s.maintenance.lastRun.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// IsStale reports whether no maintenance pass completed within d
func (s *Store) IsStale(d time.Duration) bool {
	last := s.LastMaintenance()
	return last.IsZero() || s.now().Sub(last) > d
}
