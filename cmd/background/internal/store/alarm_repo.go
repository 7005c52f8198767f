package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type dbAlarm struct {
	Name       string `db:"name"`
	PeriodNS   int64  `db:"period_ns"`
	NextFireAt int64  `db:"next_fire_at"`
}

// RegisterAlarm creates the named alarm, or leaves it alone when it already
// exists with the same period, and returns when it should next fire. A changed
// period re-arms the alarm one period from now.
func (s *Store) RegisterAlarm(ctx context.Context, name string, period time.Duration) (time.Time, error) {
	var next time.Time
	err := s.WithTx(ctx, func(tx *Tx) error {
		var row dbAlarm
		err := tx.tx.GetContext(ctx, &row, `SELECT name, period_ns, next_fire_at FROM alarms WHERE name = ?`, name)
		switch {
		case err == nil && row.PeriodNS == int64(period):
			next = time.Unix(0, row.NextFireAt).UTC()
			return nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("getting alarm %s : %w", name, err)
		}

		next = tx.now().Add(period).UTC()
		query := `INSERT INTO alarms(name, period_ns, next_fire_at) VALUES (?, ?, ?)
			      ON CONFLICT(name) DO UPDATE SET period_ns = excluded.period_ns, next_fire_at = excluded.next_fire_at`
		if _, err := tx.tx.ExecContext(ctx, query, name, int64(period), next.UnixNano()); err != nil {
			return fmt.Errorf("registering alarm %s : %w", name, err)
		}
		return nil
	})
	return next, err
}

// RescheduleAlarm records the next fire time of an existing alarm.
func (s *Store) RescheduleAlarm(ctx context.Context, name string, next time.Time) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, `UPDATE alarms SET next_fire_at = ? WHERE name = ?`, next.UnixNano(), name); err != nil {
			return fmt.Errorf("rescheduling alarm %s : %w", name, err)
		}
		return nil
	})
}
