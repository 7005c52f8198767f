// Package store persists the watchlist in a local SQLite file.
//
// The schema is versioned with goose migrations embedded in the binary, so an
// existing database is upgraded in place on Open. Every operation runs in its
// own transaction; WithTx is the only way to group several reads and writes.
package store

import (
	"context"
	"embed"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	_ "github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/store/migrations"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

//go:embed migrations/*.sql migrations/*.go
var embedMigrations embed.FS

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Store)
)

// Store is a handle on one watchlist database. Handles are shared: every Open
// of the same path returns the same *Store until the last Close.
type Store struct {
	path   string
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time

	refs int // guarded by registryMu
}

// Open returns the store at path, creating the file and applying pending
// migrations on first use. Failures wrap models.ErrStorageUnavailable and are
// not remembered, so a later Open tries again.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", models.ErrStorageUnavailable, path, err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if s, ok := registry[key]; ok {
		s.refs++
		return s, nil
	}

	db, err := connect(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}

	s := &Store{
		path:   key,
		db:     db,
		logger: logger,
		now:    time.Now,
		refs:   1,
	}
	registry[key] = s
	logger.Info("Store opened", zap.String("path", key))
	return s, nil
}

// Close releases this handle. The connection closes with the last handle;
// closing an already closed store does nothing.
func (s *Store) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if s.refs <= 0 {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	if registry[s.path] == s {
		delete(registry, s.path)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing store : %w", err)
	}
	return nil
}

// Path is the absolute location of the database file.
func (s *Store) Path() string { return s.path }

func connect(ctx context.Context, path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to db : %w", err)
	}

	// One connection: writers from every goroutine serialize here, and another
	// process is serialized by SQLite's file lock.
	db.SetMaxOpenConns(1)

	if err := migrate(db, 0); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies migrations up to version, or all of them when version is 0.
// goose keeps its settings in package globals, so callers hold registryMu.
func migrate(db *sqlx.DB, version int64) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return fmt.Errorf("setting dialect for migrations : %w", err)
	}

	var err error
	if version == 0 {
		err = goose.Up(db.DB, "migrations")
	} else {
		err = goose.UpTo(db.DB, "migrations", version)
	}
	if err != nil {
		return fmt.Errorf("applying migration : %w", err)
	}
	return nil
}

// Tx is a scoped transaction handed to WithTx callbacks.
type Tx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

// WithTx runs fn in one transaction. It commits when fn returns nil and rolls
// back otherwise; fn must not use the Store directly.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction : %w", models.ErrStorageWrite, err)
	}

	if err := fn(&Tx{tx: sqlTx, now: s.now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction : %w", models.ErrStorageWrite, err)
	}
	return nil
}
