package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"

	"storefront-cart-service/internal/domain"
)

// Predefined errors for store operations
var (
	ErrSnapshotNotFound = errors.New("store: cart snapshot not found")
	ErrSnapshotCorrupt  = fmt.Errorf("store: cart snapshot could not be decoded: %w", domain.ErrParse)
	ErrSchemaMissing    = errors.New("store: cart_snapshots table missing, run the migrate command")
	ErrUnknownDriver    = errors.New("store: unknown storage driver")
)

// Dialect holds the driver specific SQL for the snapshot table.
type Dialect struct {
	Name       string // database/sql driver name
	loadSQL    string
	saveSQL    string
	deleteSQL  string
	migrateSQL []string
}

// PostgresDialect keeps snapshots in the storefront schema of a shared Postgres.
var PostgresDialect = Dialect{
	Name:      "postgres",
	loadSQL:   `SELECT payload FROM storefront.cart_snapshots WHERE storage_key = $1;`,
	deleteSQL: `DELETE FROM storefront.cart_snapshots WHERE storage_key = $1;`,
	saveSQL: `
		INSERT INTO storefront.cart_snapshots (storage_key, payload, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (storage_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = CURRENT_TIMESTAMP;
	`,
	migrateSQL: []string{
		`CREATE SCHEMA IF NOT EXISTS storefront;`,
		`CREATE TABLE IF NOT EXISTS storefront.cart_snapshots (
			storage_key TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	},
}

// SQLiteDialect keeps snapshots in an embedded database file next to the service.
var SQLiteDialect = Dialect{
	Name:      "sqlite",
	loadSQL:   `SELECT payload FROM cart_snapshots WHERE storage_key = ?;`,
	deleteSQL: `DELETE FROM cart_snapshots WHERE storage_key = ?;`,
	saveSQL: `
		INSERT INTO cart_snapshots (storage_key, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (storage_key) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP;
	`,
	migrateSQL: []string{
		`CREATE TABLE IF NOT EXISTS cart_snapshots (
			storage_key TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	},
}

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres":
		return PostgresDialect, nil
	case "sqlite":
		return SQLiteDialect, nil
	default:
		return Dialect{}, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// SQLStore implements SnapshotStorer on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewSQLStore creates a new SQLStore instance.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger.Named("store")}
}

// Open connects to the configured database and verifies it is reachable.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.Name, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open %s database: %w", dialect.Name, err)
	}
	if dialect.Name == SQLiteDialect.Name {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping %s database: %w", dialect.Name, err)
	}
	return NewSQLStore(db, dialect, logger), nil
}

// Migrate creates the snapshot table if it does not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.migrateSQL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: Migrate failed: %w", err)
		}
	}
	s.logger.Info("cart snapshot schema is up to date", zap.String("driver", s.dialect.Name))
	return nil
}

func (s *SQLStore) LoadSnapshot(ctx context.Context, key string) ([]domain.CartLine, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.dialect.loadSQL, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, s.mapDriverError("LoadSnapshot", err)
	}

	var lines []domain.CartLine
	if err := json.Unmarshal([]byte(payload), &lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	return lines, nil
}

func (s *SQLStore) SaveSnapshot(ctx context.Context, key string, lines []domain.CartLine) error {
	if lines == nil {
		lines = []domain.CartLine{} // Store "[]" rather than "null"
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("store: SaveSnapshot failed to encode cart: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.saveSQL, key, string(payload)); err != nil {
		return s.mapDriverError("SaveSnapshot", err)
	}
	return nil
}

func (s *SQLStore) DeleteSnapshot(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.deleteSQL, key); err != nil {
		return s.mapDriverError("DeleteSnapshot", err)
	}
	return nil
}

// PingContext is used by the health check.
func (s *SQLStore) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) mapDriverError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" { // undefined_table
		return ErrSchemaMissing
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && strings.Contains(liteErr.Error(), "no such table") {
		return ErrSchemaMissing
	}
	return fmt.Errorf("store: %s failed: %w", op, err)
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		s.logger.Info("closing snapshot database")
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close snapshot database", zap.Error(err))
			return err
		}
		return nil
	}
	return nil
}
