package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arcoportus/portal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap adopts an already opened pool, such as a sqlmock handle in tests
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// auditSchema has no foreign keys: actor and tenant are snapshots, and history must
// survive their deletion.
const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id UUID PRIMARY KEY,
		action VARCHAR(100) NOT NULL,
		module VARCHAR(50) NOT NULL,
		target VARCHAR(255) NOT NULL DEFAULT 'N/A',
		details TEXT NOT NULL DEFAULT '',
		severity VARCHAR(10) NOT NULL CHECK (severity IN ('BAIXA', 'MEDIA', 'ALTA')),
		actor_id VARCHAR(255) NOT NULL,
		actor_name VARCHAR(255) NOT NULL,
		actor_role VARCHAR(100) NOT NULL,
		tenant_id VARCHAR(255) NOT NULL,
		tenant_name VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_events_severity ON audit_events(severity);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor_name ON audit_events(actor_name);
	CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_id ON audit_events(tenant_id);
`

// InitAuditSchema creates the audit_events table and its indexes if they do not exist
func (db *DB) InitAuditSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
