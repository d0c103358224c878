package models

import (
	"time"
)

// CredentialKind mirrors the provider credential kinds
type CredentialKind string

const (
	CredentialKindAPIKey CredentialKind = "api_key"
	CredentialKindOAuth  CredentialKind = "oauth"
)

// Credential is the persisted form of a vendor credential. One row per vendor.
type Credential struct {
	Vendor       string         `json:"vendor" db:"vendor"`
	Kind         CredentialKind `json:"kind" db:"kind"`
	AccessToken  string         `json:"-" db:"access_token"`
	RefreshToken *string        `json:"-" db:"refresh_token"`
	ClientID     *string        `json:"client_id,omitempty" db:"client_id"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Credential model
func (Credential) TableName() string {
	return "vendor_credentials"
}

// NewCredential creates a credential row for vendor
func NewCredential(vendor string, kind CredentialKind, accessToken string) *Credential {
	return &Credential{
		Vendor:      vendor,
		Kind:        kind,
		AccessToken: accessToken,
		UpdatedAt:   time.Now(),
	}
}

// WithRefresh sets the refresh token and expiry
func (c *Credential) WithRefresh(refreshToken string, expiresAt time.Time) *Credential {
	if refreshToken != "" {
		c.RefreshToken = &refreshToken
	}
	if !expiresAt.IsZero() {
		c.ExpiresAt = &expiresAt
	}
	return c
}

// WithClientID sets the OAuth client id
func (c *Credential) WithClientID(clientID string) *Credential {
	if clientID != "" {
		c.ClientID = &clientID
	}
	return c
}
