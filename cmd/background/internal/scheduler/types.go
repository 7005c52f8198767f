package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/fetcher"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

// Logger abstracts the logging library
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// Store is the part of the watchlist store a sync cycle needs
type Store interface {
	List(ctx context.Context) ([]models.StockEntry, error)
	Update(ctx context.Context, symbol string, fn func(e *models.StockEntry) error) error
	RegisterAlarm(ctx context.Context, name string, period time.Duration) (time.Time, error)
	RescheduleAlarm(ctx context.Context, name string, next time.Time) error
}

// PriceClient returns the latest price for a symbol. Every failure, including
// unknown symbols and rate limiting, is a per-symbol failure.
type PriceClient interface {
	Fetch(ctx context.Context, symbol string) (fetcher.Quote, error)
}

// Notifier is told about every price the scheduler stores
type Notifier interface {
	Notify(ctx context.Context, update models.StockUpdate) error
}

// for deterministic testing
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// State of the scheduler's lifecycle
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// CycleReport summarizes one sync cycle
type CycleReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Attempted int           `json:"attempted"`
	Updated   int           `json:"updated"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"` // removed or newer price already stored
	Err       error         `json:"-"`
}
