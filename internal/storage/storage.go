// Package storage opens the database that backs the generation ledger.
// Exactly one backend is active per process; the handle exposes the native
// client for that backend and nil for the others.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Backend names.
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// ErrUnknownType is returned for an unsupported backend name.
var ErrUnknownType = errors.New("unknown storage type")

// Config selects and configures a backend.
type Config struct {
	Type string

	// SQLitePath is the database file (default data/costtrace.db).
	SQLitePath string

	// PostgresURL is a pgx connection string.
	PostgresURL      string
	PostgresMaxConns int

	// MongoURL and MongoDatabase locate the MongoDB database.
	MongoURL      string
	MongoDatabase string
}

// DefaultConfig returns the SQLite defaults.
func DefaultConfig() Config {
	return Config{
		Type:             TypeSQLite,
		SQLitePath:       "data/costtrace.db",
		PostgresMaxConns: 10,
		MongoDatabase:    "costtrace",
	}
}

// DB is an open database handle.
type DB struct {
	kind string

	sqlite *sql.DB
	pool   *pgxpool.Pool
	mongo  *mongo.Client
	mdb    *mongo.Database
}

// Open connects to the configured backend and verifies the connection.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch cfg.Type {
	case TypeSQLite:
		return openSQLite(ctx, cfg.SQLitePath)
	case TypePostgreSQL:
		return openPostgreSQL(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
	case TypeMongoDB:
		return openMongoDB(ctx, cfg.MongoURL, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("%w: %q (valid: sqlite, postgresql, mongodb)", ErrUnknownType, cfg.Type)
	}
}

// Type returns the backend name.
func (d *DB) Type() string { return d.kind }

// SQL returns the SQLite handle, or nil.
func (d *DB) SQL() *sql.DB { return d.sqlite }

// Pool returns the PostgreSQL pool, or nil.
func (d *DB) Pool() *pgxpool.Pool { return d.pool }

// Mongo returns the MongoDB database, or nil.
func (d *DB) Mongo() *mongo.Database { return d.mdb }

// Ping checks that the backend is reachable.
func (d *DB) Ping(ctx context.Context) error {
	switch {
	case d.sqlite != nil:
		return d.sqlite.PingContext(ctx)
	case d.pool != nil:
		return d.pool.Ping(ctx)
	case d.mongo != nil:
		return d.mongo.Ping(ctx, nil)
	}
	return errors.New("storage: not open")
}

// Close releases the connection. Safe on a nil handle.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	switch {
	case d.sqlite != nil:
		return d.sqlite.Close()
	case d.pool != nil:
		d.pool.Close()
	case d.mongo != nil:
		return d.mongo.Disconnect(context.Background())
	}
	return nil
}
