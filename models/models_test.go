package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredential(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	cred := NewCredential("anthropic", CredentialKindOAuth, "access").
		WithRefresh("refresh", expires).
		WithClientID("client")

	assert.Equal(t, "anthropic", cred.Vendor)
	assert.Equal(t, CredentialKindOAuth, cred.Kind)
	require.NotNil(t, cred.RefreshToken)
	assert.Equal(t, "refresh", *cred.RefreshToken)
	require.NotNil(t, cred.ExpiresAt)
	assert.True(t, cred.ExpiresAt.Equal(expires))
	require.NotNil(t, cred.ClientID)
	assert.Equal(t, "client", *cred.ClientID)
	assert.False(t, cred.UpdatedAt.IsZero())
}

func TestCredential_OptionalFieldsStayNil(t *testing.T) {
	cred := NewCredential("openai", CredentialKindAPIKey, "sk").
		WithRefresh("", time.Time{}).
		WithClientID("")

	assert.Nil(t, cred.RefreshToken)
	assert.Nil(t, cred.ExpiresAt)
	assert.Nil(t, cred.ClientID)
}

func TestCredential_JSONHidesSecrets(t *testing.T) {
	cred := NewCredential("anthropic", CredentialKindOAuth, "access-secret").
		WithRefresh("refresh-secret", time.Now().Add(time.Hour))

	data, err := json.Marshal(cred)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "access-secret")
	assert.NotContains(t, string(data), "refresh-secret")
	assert.Contains(t, string(data), `"vendor":"anthropic"`)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "vendor_credentials", Credential{}.TableName())
	assert.Equal(t, "route_aliases", RouteAlias{}.TableName())
	assert.Equal(t, "dispatch_logs", DispatchLog{}.TableName())
}

func TestNewRouteAlias(t *testing.T) {
	alias := NewRouteAlias("smart", "anthropic/claude-sonnet-4", "openai/gpt-4o")

	assert.Equal(t, "smart", alias.Name)
	assert.Equal(t, []string{"anthropic/claude-sonnet-4", "openai/gpt-4o"}, alias.Targets)
	assert.False(t, alias.UpdatedAt.IsZero())
}

func TestNewDispatchLog(t *testing.T) {
	log := NewDispatchLog("req-1", "openai", "smart", true)

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, "req-1", log.RequestID)
	assert.Equal(t, "openai", log.InboundFormat)
	assert.Equal(t, "smart", log.OriginalModel)
	assert.True(t, log.Stream)
	assert.Equal(t, DispatchStatusSuccess, log.Status)
	assert.Nil(t, log.Vendor)
	assert.Nil(t, log.ErrorMessage)
}

func TestDispatchLog_BuilderMethods(t *testing.T) {
	t.Run("successful dispatch", func(t *testing.T) {
		log := NewDispatchLog("req-1", "anthropic", "claude-sonnet-4", false).
			WithRoute("anthropic", "claude-sonnet-4", 0.95).
			WithUsage(12, 34)

		require.NotNil(t, log.Vendor)
		assert.Equal(t, "anthropic", *log.Vendor)
		assert.Equal(t, "claude-sonnet-4", *log.Model)
		assert.Equal(t, 0.95, *log.Confidence)
		assert.Equal(t, 12, log.InputTokens)
		assert.Equal(t, 34, log.OutputTokens)
		assert.Equal(t, DispatchStatusSuccess, log.Status)
	})

	t.Run("failed dispatch", func(t *testing.T) {
		log := NewDispatchLog("req-2", "gemini", "gemini-pro", false).
			WithError(502, errors.New("upstream unavailable"))

		assert.Equal(t, DispatchStatusFailed, log.Status)
		assert.Equal(t, 502, log.StatusCode)
		require.NotNil(t, log.ErrorMessage)
		assert.Equal(t, "upstream unavailable", *log.ErrorMessage)
	})

	t.Run("error without cause", func(t *testing.T) {
		log := NewDispatchLog("req-3", "openai", "gpt-4o", false).WithError(404, nil)

		assert.Equal(t, DispatchStatusFailed, log.Status)
		assert.Nil(t, log.ErrorMessage)
	})

	t.Run("finish records latency", func(t *testing.T) {
		log := NewDispatchLog("req-4", "openai", "gpt-4o", false)
		log.CreatedAt = time.Now().Add(-50 * time.Millisecond)
		log.Finish()

		assert.GreaterOrEqual(t, log.LatencyMs, int64(50))
	})
}
