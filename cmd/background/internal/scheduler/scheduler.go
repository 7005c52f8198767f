package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/fetcher"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/store"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/config"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

var (
	// ErrCycleRunning is returned by RunCycle while another cycle is in flight.
	ErrCycleRunning = errors.New("sync cycle already running")

	errStaleQuote = errors.New("stored price is newer than quote")
)

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Scheduler refreshes the price of every watched symbol on a fixed interval.
// At most one cycle runs at a time; a fire that finds a cycle running is
// dropped, never queued.
type Scheduler struct {
	cfg      config.SchedulerConfig
	logger   Logger
	store    Store
	prices   PriceClient
	notifier Notifier
	clock    Clock

	started  atomic.Bool
	stopped  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	cycles   sync.WaitGroup

	mu         sync.Mutex
	lastReport *CycleReport
}

func NewScheduler(cfg config.SchedulerConfig, logger Logger, st Store, prices PriceClient, notifier Notifier, clock Clock) *Scheduler {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		prices:   prices,
		notifier: notifier,
		clock:    clock,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start registers the alarm and arms the timer. Registration is idempotent,
// so after a restart the first fire happens when the persisted alarm says,
// immediately if that moment has passed.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	next, err := s.store.RegisterAlarm(ctx, s.cfg.AlarmName, s.cfg.Interval)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("registering alarm %s: %w", s.cfg.AlarmName, err)
	}

	delay := next.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.logger.Info("Scheduler Started",
		zap.String("alarm", s.cfg.AlarmName),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("first_fire_in", delay),
	)

	go s.loop(delay)
	return nil
}

func (s *Scheduler) loop(first time.Duration) {
	defer close(s.done)

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
			s.fire("alarm")

			// Re-armed no matter how the cycle went
			timer.Reset(s.cfg.Interval)
			next := s.clock.Now().Add(s.cfg.Interval)
			if err := s.store.RescheduleAlarm(context.Background(), s.cfg.AlarmName, next); err != nil {
				s.logger.Warn("Failed to persist next alarm", zap.Error(err))
			}
		}
	}
}

// TriggerNow starts a cycle outside the timer. It reports false when the fire
// was dropped because a cycle is already running.
func (s *Scheduler) TriggerNow() bool {
	return s.fire("manual")
}

func (s *Scheduler) fire(reason string) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Sync already running, dropping fire", zap.String("reason", reason))
		return false
	}

	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.running.Store(false)
		// Cycles are not tied to any caller's context; shutdown only stops
		// new fires.
		s.sync(context.Background())
	}()
	return true
}

// RunCycle runs one cycle synchronously.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleRunning
	}
	defer s.running.Store(false)
	return s.sync(ctx), nil
}

// Stop disarms the timer and waits for an in-flight cycle until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.stopped.Store(true)
	if s.started.Load() {
		<-s.done
	}

	finished := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stopped with a cycle in flight")
		return ctx.Err()
	}
}

func (s *Scheduler) State() State {
	switch {
	case s.running.Load():
		return StateRunning
	case s.started.Load() && !s.stopped.Load():
		return StateScheduled
	default:
		return StateIdle
	}
}

// LastReport returns the summary of the most recent finished cycle.
func (s *Scheduler) LastReport() (CycleReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReport == nil {
		return CycleReport{}, false
	}
	return *s.lastReport, true
}

func (s *Scheduler) sync(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: s.clock.Now()}
	defer func() {
		s.mu.Lock()
		s.lastReport = &report
		s.mu.Unlock()
	}()

	entries, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("Listing watchlist failed, skipping cycle", zap.Error(err))
		report.Err = err
		return report
	}
	report.Attempted = len(entries)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Parallelism)

	for _, entry := range entries {
		symbol := entry.Symbol
		g.Go(func() error {
			res := s.refresh(ctx, symbol)

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeUpdated:
				report.Updated++
			case outcomeFailed:
				report.Failed++
			case outcomeSkipped:
				report.Skipped++
			}
			// Never fail the group: one symbol must not stop the others
			return nil
		})
	}
	g.Wait()

	report.Duration = s.clock.Now().Sub(report.StartedAt)
	s.logger.Info("Sync cycle finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("updated", report.Updated),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (s *Scheduler) refresh(ctx context.Context, symbol string) outcome {
	quote, err := s.fetch(ctx, symbol)
	if err != nil {
		s.logger.Warn("Price fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return outcomeFailed
	}

	asOf := quote.AsOf
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	asOf = asOf.UTC()
	price := quote.Price

	var stored models.StockEntry
	err = s.store.Update(ctx, symbol, func(e *models.StockEntry) error {
		if e.LastUpdated != nil && asOf.Before(*e.LastUpdated) {
			return errStaleQuote
		}
		e.Price = &price
		e.LastUpdated = &asOf
		stored = *e
		return nil
	})
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		s.logger.Debug("Symbol removed during cycle", zap.String("symbol", symbol))
		return outcomeSkipped
	case errors.Is(err, errStaleQuote):
		s.logger.Debug("Ignoring stale quote", zap.String("symbol", symbol), zap.Time("as_of", asOf))
		return outcomeSkipped
	case err != nil:
		s.logger.Error("Storing price failed", zap.String("symbol", symbol), zap.Error(err))
		return outcomeFailed
	}

	s.logger.Debug("Price updated", zap.String("symbol", symbol), zap.Float64("price", price))

	if err := s.notifier.Notify(ctx, models.UpdateFromEntry(stored)); err != nil {
		s.logger.Warn("Price notification failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return outcomeUpdated
}

// fetch bounds a single price lookup by FetchTimeout even when the client
// ignores its context.
func (s *Scheduler) fetch(ctx context.Context, symbol string) (fetcher.Quote, error) {
	if s.cfg.FetchTimeout <= 0 {
		return s.prices.Fetch(ctx, symbol)
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		quote fetcher.Quote
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		q, err := s.prices.Fetch(fctx, symbol)
		ch <- result{quote: q, err: err}
	}()

	select {
	case res := <-ch:
		return res.quote, res.err
	case <-fctx.Done():
		return fetcher.Quote{}, fmt.Errorf("%w: %s: %w", models.ErrFetch, symbol, fctx.Err())
	}
}
