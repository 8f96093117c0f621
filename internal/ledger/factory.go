package ledger

import (
	"context"
	"errors"
	"fmt"

	"costtrace/config"
	"costtrace/internal/storage"
)

// Result holds the ledger writer, its reader and the database it owns.
type Result struct {
	Logger  Writer
	Reader  Reader
	Storage *storage.DB
}

// Close stops the logger and then closes the database. Safe to call more than once.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	return errors.Join(errs...)
}

// New opens the configured database and starts a ledger logger over it.
// When the ledger is disabled it returns a NoopLogger and a nil Reader.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.Ledger.Enabled {
		return &Result{Logger: NoopLogger{}}, nil
	}

	db, err := storage.Open(ctx, StorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger storage: %w", err)
	}

	store, reader, err := newStore(ctx, db, cfg.Ledger.RetentionDays)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Result{
		Logger: NewLogger(store, Config{
			Enabled:       true,
			BufferSize:    cfg.Ledger.BufferSize,
			FlushInterval: cfg.Ledger.FlushInterval,
			RetentionDays: cfg.Ledger.RetentionDays,
		}),
		Reader:  reader,
		Storage: db,
	}, nil
}

// StorageConfig maps application config onto storage settings.
func StorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Type:             cfg.Storage.Type,
		SQLitePath:       cfg.Storage.SQLite.Path,
		PostgresURL:      cfg.Storage.PostgreSQL.URL,
		PostgresMaxConns: cfg.Storage.PostgreSQL.MaxConns,
		MongoURL:         cfg.Storage.MongoDB.URL,
		MongoDatabase:    cfg.Storage.MongoDB.Database,
	}
}

type storeReader interface {
	Store
	Reader
}

func newStore(ctx context.Context, db *storage.DB, retentionDays int) (Store, Reader, error) {
	var (
		s   storeReader
		err error
	)
	switch db.Type() {
	case storage.TypeSQLite:
		s, err = NewSQLiteStore(ctx, db.SQL(), retentionDays)
	case storage.TypePostgreSQL:
		s, err = NewPostgreSQLStore(ctx, db.Pool(), retentionDays)
	case storage.TypeMongoDB:
		s, err = NewMongoDBStore(ctx, db.Mongo(), retentionDays)
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", db.Type())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ledger store: %w", err)
	}
	return s, s, nil
}
