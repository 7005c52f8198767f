package testutils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/fetcher"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/store"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

// MockStockStore simulates the SQLite store in memory
type MockStockStore struct {
	Entries map[string]models.StockEntry
	Alarms  map[string]time.Time
	Mu      sync.Mutex

	ListErr  error
	WriteErr error // returned by Put/Update/Remove
	Puts     int
}

func NewMockStockStore(entries ...models.StockEntry) *MockStockStore {
	m := &MockStockStore{
		Entries: make(map[string]models.StockEntry),
		Alarms:  make(map[string]time.Time),
	}
	for _, e := range entries {
		m.Entries[e.Symbol] = e
	}
	return m
}

func (m *MockStockStore) List(ctx context.Context) ([]models.StockEntry, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]models.StockEntry, 0, len(m.Entries))
	for _, e := range m.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MockStockStore) Get(ctx context.Context, symbol string) (*models.StockEntry, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	e, ok := m.Entries[symbol]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MockStockStore) Put(ctx context.Context, entry models.StockEntry) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	symbol, err := models.NormalizeSymbol(entry.Symbol)
	if err != nil {
		return err
	}
	entry.Symbol = symbol
	var prior *models.StockEntry
	if e, ok := m.Entries[symbol]; ok {
		prior = &e
	}
	m.Entries[symbol] = models.MergeEntry(prior, entry)
	m.Puts++
	return nil
}

func (m *MockStockStore) Remove(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	delete(m.Entries, symbol)
	return nil
}

func (m *MockStockStore) Update(ctx context.Context, symbol string, fn func(e *models.StockEntry) error) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	e, ok := m.Entries[symbol]
	if !ok {
		return fmt.Errorf("updating %s: %w", symbol, store.ErrEntryNotFound)
	}
	if err := fn(&e); err != nil {
		return err
	}
	m.Entries[symbol] = e
	m.Puts++
	return nil
}

func (m *MockStockStore) RegisterAlarm(ctx context.Context, name string, period time.Duration) (time.Time, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if next, ok := m.Alarms[name]; ok {
		return next, nil
	}
	next := time.Now().Add(period)
	m.Alarms[name] = next
	return next, nil
}

func (m *MockStockStore) RescheduleAlarm(ctx context.Context, name string, next time.Time) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Alarms[name] = next
	return nil
}

// Snapshot returns a copy of the entry for assertions
func (m *MockStockStore) Snapshot(symbol string) (models.StockEntry, bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	e, ok := m.Entries[symbol]
	return e, ok
}

// MockPriceClient serves canned quotes. Symbols in Fail return ErrFetch;
// when Block is set every call waits on it first.
type MockPriceClient struct {
	Quotes map[string]fetcher.Quote
	Fail   map[string]bool
	Block  chan struct{}
	Calls  map[string]int
	Mu     sync.Mutex

	// Started receives the symbol as each call begins, if set
	Started chan string
}

func NewMockPriceClient(quotes map[string]fetcher.Quote) *MockPriceClient {
	return &MockPriceClient{
		Quotes: quotes,
		Fail:   make(map[string]bool),
		Calls:  make(map[string]int),
	}
}

func (m *MockPriceClient) Fetch(ctx context.Context, symbol string) (fetcher.Quote, error) {
	m.Mu.Lock()
	m.Calls[symbol]++
	block := m.Block
	started := m.Started
	fail := m.Fail[symbol]
	quote, ok := m.Quotes[symbol]
	m.Mu.Unlock()

	if started != nil {
		started <- symbol
	}
	if block != nil {
		<-block
	}

	if fail {
		return fetcher.Quote{}, fmt.Errorf("%w: %s: upstream exploded", models.ErrFetch, symbol)
	}
	if !ok {
		return fetcher.Quote{}, fmt.Errorf("%w: %s: unknown symbol", models.ErrFetch, symbol)
	}
	return quote, nil
}

func (m *MockPriceClient) CallCount(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Calls[symbol]
}

// MockNotifier records every notification
type MockNotifier struct {
	Updates    []models.StockUpdate
	ShouldFail bool
	Mu         sync.Mutex
}

func (m *MockNotifier) Notify(ctx context.Context, update models.StockUpdate) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Updates = append(m.Updates, update)
	if m.ShouldFail {
		return errors.New("notifier down")
	}
	return nil
}

type MockClock struct {
	CurrentTime time.Time
	Mu          sync.Mutex
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}
