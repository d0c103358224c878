package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/ribelo/prism-sub000/models"
	"github.com/ribelo/prism-sub000/repositories"
	"go.uber.org/zap"
)

// RouteAliasRepository implements the repositories.RouteAliasRepository interface
type RouteAliasRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewRouteAliasRepository creates a new alias repository
func NewRouteAliasRepository(db *DB, logger *zap.Logger) repositories.RouteAliasRepository {
	return &RouteAliasRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or replaces an alias
func (r *RouteAliasRepository) Upsert(ctx context.Context, alias *models.RouteAlias) error {
	if len(alias.Targets) == 0 {
		return fmt.Errorf("alias %s has no targets", alias.Name)
	}

	query := `
		INSERT INTO route_aliases (name, targets, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			targets = EXCLUDED.targets,
			updated_at = EXCLUDED.updated_at
	`

	executor := bindExecutor(ctx, r.db, r.tx)
	if _, err := executor.ExecContext(ctx, query, alias.Name, pq.Array(alias.Targets), alias.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert alias: %w", err)
	}

	r.logger.Debug("alias stored", zap.String("name", alias.Name), zap.Strings("targets", alias.Targets))
	return nil
}

// GetByName retrieves an alias by name
func (r *RouteAliasRepository) GetByName(ctx context.Context, name string) (*models.RouteAlias, error) {
	query := `SELECT name, targets, updated_at FROM route_aliases WHERE name = $1`

	executor := bindExecutor(ctx, r.db, r.tx)
	alias := &models.RouteAlias{}
	err := executor.QueryRowContext(ctx, query, name).Scan(&alias.Name, pq.Array(&alias.Targets), &alias.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alias %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alias: %w", err)
	}
	return alias, nil
}

// List retrieves all aliases ordered by name
func (r *RouteAliasRepository) List(ctx context.Context) ([]*models.RouteAlias, error) {
	query := `SELECT name, targets, updated_at FROM route_aliases ORDER BY name`

	executor := bindExecutor(ctx, r.db, r.tx)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []*models.RouteAlias
	for rows.Next() {
		alias := &models.RouteAlias{}
		if err := rows.Scan(&alias.Name, pq.Array(&alias.Targets), &alias.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aliases: %w", err)
	}
	return aliases, nil
}

// Delete removes an alias
func (r *RouteAliasRepository) Delete(ctx context.Context, name string) error {
	executor := bindExecutor(ctx, r.db, r.tx)
	result, err := executor.ExecContext(ctx, `DELETE FROM route_aliases WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete alias: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alias %s: %w", name, ErrNotFound)
	}
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *RouteAliasRepository) WithTx(tx repositories.Transaction) repositories.RouteAliasRepository {
	return &RouteAliasRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}
