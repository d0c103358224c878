package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ribelo/prism-sub000/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// CredentialRepository stores vendor credentials, one row per vendor
type CredentialRepository interface {
	// Upsert inserts or replaces the credential for its vendor
	Upsert(ctx context.Context, cred *models.Credential) error

	// GetByVendor retrieves the credential for a vendor
	GetByVendor(ctx context.Context, vendor string) (*models.Credential, error)

	// List retrieves all stored credentials
	List(ctx context.Context) ([]*models.Credential, error)

	// Delete removes the credential for a vendor
	Delete(ctx context.Context, vendor string) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) CredentialRepository
}

// RouteAliasRepository stores alias expansions loaded into the route table
type RouteAliasRepository interface {
	// Upsert inserts or replaces an alias
	Upsert(ctx context.Context, alias *models.RouteAlias) error

	// GetByName retrieves an alias by name
	GetByName(ctx context.Context, name string) (*models.RouteAlias, error)

	// List retrieves all aliases ordered by name
	List(ctx context.Context) ([]*models.RouteAlias, error)

	// Delete removes an alias
	Delete(ctx context.Context, name string) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) RouteAliasRepository
}

// DispatchLogRepository stores the dispatch audit trail
type DispatchLogRepository interface {
	// Insert inserts a new dispatch record
	Insert(ctx context.Context, log *models.DispatchLog) error

	// GetByID retrieves a dispatch record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.DispatchLog, error)

	// GetByRequestID retrieves the records of one gateway request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.DispatchLog, error)

	// GetByVendor retrieves records for a vendor with pagination, newest first
	GetByVendor(ctx context.Context, vendor string, limit, offset int) ([]*models.DispatchLog, error)

	// GetByDateRange retrieves records created within a date range
	GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.DispatchLog, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) DispatchLogRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Credentials  CredentialRepository
	RouteAliases RouteAliasRepository
	DispatchLogs DispatchLogRepository
}
