package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/ribelo/prism-sub000/services/providers"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestStore_MaintainOnce(t *testing.T) {
	refresher := &fakeRefresher{}
	store := NewStore(refresher, nil, DefaultConfig(), zaptest.NewLogger(t))
	store.Put(oauthCred("anthropic", 2*time.Minute))
	store.Put(oauthCred("gemini", 2*time.Hour))
	store.Put(providers.Credential{Vendor: "openai", Kind: providers.CredentialAPIKey, Token: "sk"})

	assert.True(t, store.IsStale(time.Minute))

	refreshed := store.MaintainOnce(context.Background())
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.False(t, store.LastMaintenance().IsZero())
	assert.False(t, store.IsStale(time.Minute))
}

func TestStore_IsStale(t *testing.T) {
	store := NewStore(nil, nil, DefaultConfig(), zaptest.NewLogger(t))
	store.MaintainOnce(context.Background())

	now := time.Now()
	store.now = func() time.Time { return now.Add(10 * time.Minute) }
	assert.True(t, store.IsStale(5*time.Minute))
	assert.False(t, store.IsStale(15*time.Minute))
}

func TestStore_RunMaintenance_RecoversFromPanic(t *testing.T) {
	refresher := &fakeRefresher{panic: true}
	store := NewStore(refresher, nil, DefaultConfig(), zaptest.NewLogger(t))
	store.Put(oauthCred("anthropic", time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunMaintenance(ctx, MaintenanceConfig{Interval: time.Hour, Cooldown: 10 * time.Millisecond})
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return !store.LastMaintenance().IsZero()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), refresher.calls.Load())

	cred, err := store.Token(context.Background(), "anthropic")
	assert.NoError(t, err)
	assert.Equal(t, "fresh-token", cred.Token)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance did not stop after cancel")
	}
}
