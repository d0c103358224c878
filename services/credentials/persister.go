package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/repositories"
	"github.com/ribelo/prism-sub000/services/providers"
)

// RepositoryPersister stores credentials through a CredentialRepository
type RepositoryPersister struct {
	repo repositories.CredentialRepository
}

// NewRepositoryPersister creates a new persister
func NewRepositoryPersister(repo repositories.CredentialRepository) *RepositoryPersister {
	return &RepositoryPersister{repo: repo}
}

// Save upserts cred
func (p *RepositoryPersister) Save(ctx context.Context, cred providers.Credential) error {
	if err := p.repo.Upsert(ctx, toModel(cred)); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	return nil
}

// Load returns every stored credential
func (p *RepositoryPersister) Load(ctx context.Context) ([]providers.Credential, error) {
	rows, err := p.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	out := make([]providers.Credential, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out, nil
}

func toModel(cred providers.Credential) *models.Credential {
	kind := models.CredentialKindAPIKey
	if cred.Kind == providers.CredentialOAuth {
		kind = models.CredentialKindOAuth
	}
	return models.NewCredential(cred.Vendor, kind, cred.Token).
		WithRefresh(cred.RefreshToken, cred.ExpiresAt).
		WithClientID(cred.ClientID)
}

func fromModel(row *models.Credential) providers.Credential {
	cred := providers.Credential{
		Vendor: row.Vendor,
		Kind:   providers.CredentialAPIKey,
		Token:  row.AccessToken,
	}
	if row.Kind == models.CredentialKindOAuth {
		cred.Kind = providers.CredentialOAuth
	}
	if row.RefreshToken != nil {
		cred.RefreshToken = *row.RefreshToken
	}
	if row.ClientID != nil {
		cred.ClientID = *row.ClientID
	}
	if row.ExpiresAt != nil {
		cred.ExpiresAt = row.ExpiresAt.In(time.UTC)
	}
	return cred
}
