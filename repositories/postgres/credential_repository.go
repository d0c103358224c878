package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/repositories"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// CredentialRepository implements the repositories.CredentialRepository interface
type CredentialRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB, logger *zap.Logger) repositories.CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or replaces the credential for its vendor
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO vendor_credentials (
			vendor, kind, access_token, refresh_token, client_id, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (vendor) DO UPDATE SET
			kind = EXCLUDED.kind,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			client_id = EXCLUDED.client_id,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	_, err := executor.ExecContext(ctx, query,
		cred.Vendor,
		cred.Kind,
		cred.AccessToken,
		cred.RefreshToken,
		cred.ClientID,
		cred.ExpiresAt,
		cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	r.logger.Debug("credential stored", zap.String("vendor", cred.Vendor), zap.String("kind", string(cred.Kind)))
	return nil
}

// GetByVendor retrieves the credential for a vendor
func (r *CredentialRepository) GetByVendor(ctx context.Context, vendor string) (*models.Credential, error) {
	query := `
		SELECT vendor, kind, access_token, refresh_token, client_id, expires_at, updated_at
		FROM vendor_credentials
		WHERE vendor = $1
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	cred := &models.Credential{}
	err := executor.QueryRowContext(ctx, query, vendor).Scan(
		&cred.Vendor,
		&cred.Kind,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.ClientID,
		&cred.ExpiresAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("credential for %s: %w", vendor, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

// List retrieves all stored credentials
func (r *CredentialRepository) List(ctx context.Context) ([]*models.Credential, error) {
	query := `
		SELECT vendor, kind, access_token, refresh_token, client_id, expires_at, updated_at
		FROM vendor_credentials
		ORDER BY vendor
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred := &models.Credential{}
		if err := rows.Scan(
			&cred.Vendor,
			&cred.Kind,
			&cred.AccessToken,
			&cred.RefreshToken,
			&cred.ClientID,
			&cred.ExpiresAt,
			&cred.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the credential for a vendor
func (r *CredentialRepository) Delete(ctx context.Context, vendor string) error {
	executor := bindExecutor(ctx, r.db, r.tx)
	result, err := executor.ExecContext(ctx, `DELETE FROM vendor_credentials WHERE vendor = $1`, vendor)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("credential for %s: %w", vendor, ErrNotFound)
	}
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *CredentialRepository) WithTx(tx repositories.Transaction) repositories.CredentialRepository {
	return &CredentialRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}
