package postgres

import (
	"context"

	"github.com/arcoportus/portal/config"
	"github.com/arcoportus/portal/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for audit events
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// NewRepositoryFactoryFromDB builds a factory over an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

func (f *RepositoryFactory) auditStore() *DB {
	if f.auditDB != nil {
		return f.auditDB
	}
	return f.db
}

// InitAuditSchema creates the audit table on whichever database holds audit events
func (f *RepositoryFactory) InitAuditSchema(ctx context.Context) error {
	return f.auditStore().InitAuditSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		AuditEvents: NewAuditRepository(f.auditStore(), f.logger),
	}
}

// GetDB returns the primary database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// AuditDB returns the dedicated audit database, or nil when audit events share the primary one
func (f *RepositoryFactory) AuditDB() *DB {
	return f.auditDB
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
