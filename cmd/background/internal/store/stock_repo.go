package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

var (
	// ErrEntryNotFound is returned by Update when the symbol is not tracked.
	ErrEntryNotFound = errors.New("symbol is not on the watchlist")
)

// dbStock represents a watchlist entry as stored in the database.
type dbStock struct {
	Symbol      string          `db:"symbol"`
	Price       sql.NullFloat64 `db:"price"`
	LastUpdated sql.NullInt64   `db:"last_updated"` // unix nanoseconds
	AddedAt     int64           `db:"added_at"`     // unix nanoseconds
	Source      string          `db:"source"`
}

func toDomainStock(row *dbStock) models.StockEntry {
	e := models.StockEntry{
		Symbol:  row.Symbol,
		AddedAt: time.Unix(0, row.AddedAt).UTC(),
		Source:  models.Source(row.Source),
	}
	if row.Price.Valid {
		p := row.Price.Float64
		e.Price = &p
	}
	if row.LastUpdated.Valid {
		ts := time.Unix(0, row.LastUpdated.Int64).UTC()
		e.LastUpdated = &ts
	}
	return e
}

func toDBStock(e models.StockEntry) dbStock {
	row := dbStock{
		Symbol:  e.Symbol,
		AddedAt: e.AddedAt.UnixNano(),
		Source:  string(e.Source),
	}
	if e.Price != nil {
		row.Price = sql.NullFloat64{Float64: *e.Price, Valid: true}
	}
	if e.LastUpdated != nil {
		row.LastUpdated = sql.NullInt64{Int64: e.LastUpdated.UnixNano(), Valid: true}
	}
	return row
}

// lookupKey maps symbol onto its stored form; malformed input is used as is
// and simply matches nothing.
func lookupKey(symbol string) string {
	if s, err := models.NormalizeSymbol(symbol); err == nil {
		return s
	}
	return symbol
}

// Get returns the entry for symbol, or nil when it is not tracked.
func (tx *Tx) Get(ctx context.Context, symbol string) (*models.StockEntry, error) {
	symbol = lookupKey(symbol)
	var row dbStock
	query := `SELECT symbol, price, last_updated, added_at, source FROM stocks WHERE symbol = ?`

	err := tx.tx.GetContext(ctx, &row, query, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s : %w", symbol, err)
	}

	e := toDomainStock(&row)
	return &e, nil
}

// Put upserts entry by symbol, merged over any stored record.
func (tx *Tx) Put(ctx context.Context, entry models.StockEntry) error {
	symbol, err := models.NormalizeSymbol(entry.Symbol)
	if err != nil {
		return err
	}
	entry.Symbol = symbol

	prior, err := tx.Get(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorageWrite, err)
	}

	merged := models.MergeEntry(prior, entry)
	if merged.AddedAt.IsZero() {
		merged.AddedAt = tx.now()
	}
	if merged.Source == "" {
		merged.Source = models.SourceUserBookmark
	}

	query := `INSERT INTO stocks(symbol, price, last_updated, added_at, source)
		      VALUES (:symbol, :price, :last_updated, :added_at, :source)
		      ON CONFLICT(symbol) DO UPDATE SET
		          price = excluded.price,
		          last_updated = excluded.last_updated,
		          added_at = excluded.added_at,
		          source = excluded.source`

	if _, err := tx.tx.NamedExecContext(ctx, query, toDBStock(merged)); err != nil {
		return fmt.Errorf("%w: upserting %s : %w", models.ErrStorageWrite, symbol, err)
	}
	return nil
}

// Remove deletes symbol. Removing an untracked symbol is not an error.
func (tx *Tx) Remove(ctx context.Context, symbol string) error {
	symbol = lookupKey(symbol)
	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM stocks WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("%w: deleting %s : %w", models.ErrStorageWrite, symbol, err)
	}
	return nil
}

// List returns every entry, ordered by symbol.
func (tx *Tx) List(ctx context.Context) ([]models.StockEntry, error) {
	var rows []*dbStock
	query := `SELECT symbol, price, last_updated, added_at, source FROM stocks ORDER BY symbol`

	if err := tx.tx.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("listing stocks : %w", err)
	}

	entries := make([]models.StockEntry, len(rows))
	for i, row := range rows {
		entries[i] = toDomainStock(row)
	}
	return entries, nil
}

// Put upserts entry in its own transaction.
func (s *Store) Put(ctx context.Context, entry models.StockEntry) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.Put(ctx, entry)
	})
}

// Get returns the entry for symbol, or nil when it is not tracked.
func (s *Store) Get(ctx context.Context, symbol string) (*models.StockEntry, error) {
	var entry *models.StockEntry
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		entry, err = tx.Get(ctx, symbol)
		return err
	})
	return entry, err
}

// List returns a consistent snapshot of the whole watchlist. Entries added
// after the snapshot are not included.
func (s *Store) List(ctx context.Context) ([]models.StockEntry, error) {
	var entries []models.StockEntry
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		entries, err = tx.List(ctx)
		return err
	})
	return entries, err
}

// Remove deletes symbol; a no-op when it is not tracked.
func (s *Store) Remove(ctx context.Context, symbol string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.Remove(ctx, symbol)
	})
}

// Update applies fn to the stored entry for symbol and writes the result back
// in the same transaction. It returns ErrEntryNotFound if symbol is not
// tracked, so a concurrent removal is never undone.
func (s *Store) Update(ctx context.Context, symbol string, fn func(e *models.StockEntry) error) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		entry, err := tx.Get(ctx, symbol)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("updating %s: %w", symbol, ErrEntryNotFound)
		}
		if err := fn(entry); err != nil {
			return err
		}
		return tx.Put(ctx, *entry)
	})
}

// Seed adds symbols with source=seed unless they are already tracked. It
// returns how many were inserted.
func (s *Store) Seed(ctx context.Context, symbols []string) (int, error) {
	inserted := 0
	err := s.WithTx(ctx, func(tx *Tx) error {
		query := `INSERT INTO stocks(symbol, added_at, source) VALUES (?, ?, ?)
			      ON CONFLICT(symbol) DO NOTHING`
		for _, raw := range symbols {
			symbol, err := models.NormalizeSymbol(raw)
			if err != nil {
				return err
			}
			res, err := tx.tx.ExecContext(ctx, query, symbol, tx.now().UnixNano(), string(models.SourceSeed))
			if err != nil {
				return fmt.Errorf("%w: seeding %s : %w", models.ErrStorageWrite, symbol, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("checking seed rows affected for %s : %w", symbol, err)
			}
			inserted += int(n)
		}
		return nil
	})
	return inserted, err
}
