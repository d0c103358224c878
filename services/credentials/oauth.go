package credentials

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ribelo/prism-sub000/services/providers"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Anthropic's public OAuth client
const (
	AnthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	AnthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
)

// Endpoint is where a vendor's refresh tokens are exchanged
type Endpoint struct {
	TokenURL string
	ClientID string
}

// OAuthRefresher renews access tokens with the refresh_token grant
type OAuthRefresher struct {
	endpoints  map[string]Endpoint
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOAuthRefresher creates a refresher. httpClient may be nil.
func NewOAuthRefresher(endpoints map[string]Endpoint, httpClient *http.Client, logger *zap.Logger) *OAuthRefresher {
	return &OAuthRefresher{
		endpoints:  endpoints,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Refresh exchanges cred's refresh token for a new access token
func (r *OAuthRefresher) Refresh(ctx context.Context, cred providers.Credential) (providers.Credential, error) {
	ep, ok := r.endpoints[cred.Vendor]
	if !ok || ep.TokenURL == "" {
		return providers.Credential{}, fmt.Errorf("no token endpoint for %s", cred.Vendor)
	}

	clientID := cred.ClientID
	if clientID == "" {
		clientID = ep.ClientID
	}

	conf := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// An empty access token makes the source refresh immediately.
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return providers.Credential{}, fmt.Errorf("refresh token exchange failed: %w", err)
	}

	out := cred
	out.Token = token.AccessToken
	out.ClientID = clientID
	if token.RefreshToken != "" {
		out.RefreshToken = token.RefreshToken
	}
	out.ExpiresAt = token.Expiry

	r.logger.Debug("token exchanged", zap.String("vendor", cred.Vendor), zap.Time("expiry", token.Expiry))
	return out, nil
}
