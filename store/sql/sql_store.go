// Package sql provides SQL-based store implementations for MySQL, PostgreSQL,
// TiDB and SQLite.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
)

// Dialect represents the SQL dialect.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectTiDB     Dialect = "tidb"
	DialectSQLite   Dialect = "sqlite"
)

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectTiDB {
		return "mysql"
	}
	return string(d)
}

func (d Dialect) mysqlFamily() bool {
	return d == DialectMySQL || d == DialectTiDB
}

// Config holds the configuration for SQL store.
type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Migrate creates missing tables on startup.
	Migrate bool
}

// DefaultConfig returns the default SQL store configuration.
func DefaultConfig() Config {
	return Config{
		Dialect:         DialectMySQL,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// conn is the subset of *sql.DB and *sql.Tx the queries run against.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the store.Store interface using SQL database.
type Store struct {
	db      *sql.DB
	conn    conn
	tx      *sql.Tx
	dialect Dialect
}

// rebind converts MySQL-style placeholders (?) to the appropriate format for the dialect.
// For PostgreSQL, converts ? to $1, $2, etc.
// For MySQL/TiDB/SQLite, returns the query unchanged.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var result []byte
	paramIndex := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(paramIndex), 10)
			paramIndex++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// forUpdate returns the row-locking suffix; SQLite locks the whole database
// on the first write instead.
func (s *Store) forUpdate() string {
	if s.dialect == DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// insertIgnore turns an INSERT into one that skips rows violating the
// conflict key.
func (s *Store) insertIgnore(table, columns, conflict string, n int) string {
	values := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
	if s.dialect.mysqlFamily() {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, columns, values)
	}
	return s.rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING", table, columns, values, conflict))
}

// New creates a new SQL store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open(cfg.Dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewWithDB(db, cfg.Dialect)
	if cfg.Migrate {
		if err := s.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB creates a new SQL store with an existing database connection.
func NewWithDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		conn:    db,
		dialect: dialect,
	}
}

// WithTx executes a function within a transaction. Calls made on a store
// that is already inside a transaction join it.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return s.inTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) inTx(ctx context.Context, fn func(*Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return safety.NewStoreError("begin", "tx", err)
	}

	txStore := &Store{
		db:      s.db,
		conn:    tx,
		tx:      tx,
		dialect: s.dialect,
	}

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return safety.NewStoreError("commit", "tx", err)
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a duplicate key error from any of
// the supported drivers.
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v)
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ store.Store = (*Store)(nil)
