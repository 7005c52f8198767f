package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

func init() {
	goose.AddMigrationContext(upAddSource, downAddSource)
}

// upAddSource records provenance for every entry. Rows written by schema v1
// could only come from bookmarks, so they are backfilled as such.
func upAddSource(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `ALTER TABLE stocks ADD COLUMN source TEXT NOT NULL DEFAULT 'user-bookmark'`)
	if err != nil {
		return fmt.Errorf("adding source column : %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE stocks SET source = 'user-bookmark' WHERE source IS NULL OR source = ''`)
	if err != nil {
		return fmt.Errorf("backfilling source : %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("checking backfill : %w", err)
	}

	_, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_stocks_last_updated ON stocks(last_updated)`)
	if err != nil {
		return fmt.Errorf("creating last_updated index : %w", err)
	}
	return nil
}

func downAddSource(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS idx_stocks_last_updated`); err != nil {
		return fmt.Errorf("dropping last_updated index : %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE stocks DROP COLUMN source`); err != nil {
		return fmt.Errorf("dropping source column : %w", err)
	}
	return nil
}
