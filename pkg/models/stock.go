package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Source records how a symbol entered the watchlist
type Source string

const (
	SourceUserBookmark Source = "user-bookmark"
	SourceSeed         Source = "seed"
)

// Valid reports whether s is a known provenance.
func (s Source) Valid() bool {
	return s == SourceUserBookmark || s == SourceSeed
}

// StockEntry is one tracked symbol. Nil Price and LastUpdated mean the symbol
// has never been refreshed.
type StockEntry struct {
	Symbol      string     `json:"symbol"`
	Price       *float64   `json:"price"`
	LastUpdated *time.Time `json:"last_updated"`
	AddedAt     time.Time  `json:"added_at"`
	Source      Source     `json:"source"`
}

// StockUpdate represents a single refreshed price for a stock symbol
type StockUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic counter per symbol
}

// UpdateFromEntry builds the price event for a refreshed entry. The entry must
// carry a price and a refresh time.
func UpdateFromEntry(e StockEntry) StockUpdate {
	u := StockUpdate{Symbol: e.Symbol}
	if e.Price != nil {
		u.Price = *e.Price
	}
	if e.LastUpdated != nil {
		u.Timestamp = e.LastUpdated.UnixMicro()
		u.SeqID = u.Timestamp
	}
	return u
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

// NormalizeSymbol upper-cases and trims raw, rejecting anything that does not
// look like a ticker.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return s, nil
}

// MergeEntry resolves a write of next over the stored prior record.
//
// AddedAt never moves once set, and a write that carries no refresh time, or an
// older one, keeps the stored price so LastUpdated never goes backwards. A
// price that arrives without a refresh time is dropped.
func MergeEntry(prior *StockEntry, next StockEntry) StockEntry {
	// A price without a refresh time never came from a fetch
	if next.LastUpdated == nil {
		next.Price = nil
	}
	if prior == nil {
		return next
	}

	out := next
	if !prior.AddedAt.IsZero() {
		out.AddedAt = prior.AddedAt
	}
	if out.Source == "" {
		out.Source = prior.Source
	}

	if prior.LastUpdated != nil && (next.LastUpdated == nil || next.LastUpdated.Before(*prior.LastUpdated)) {
		out.Price = prior.Price
		out.LastUpdated = prior.LastUpdated
	} else if next.LastUpdated == nil {
		out.Price = prior.Price
	}
	return out
}
