// Package capture turns a page snapshot into a watchlist candidate and hands
// bookmark actions to the bridge.
package capture

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/config"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

// bookmarkSelector is the overlay button; its data-symbol wins over anything
// else on the page.
const bookmarkSelector = ".bookmark-btn[data-symbol]"

var (
	DefaultSymbolSelectors = []string{"[data-symbol]", "meta[itemprop=tickerSymbol]", ".stock-symbol", "#symbol"}
	DefaultPriceSelectors  = []string{"[data-price]", ".stock-price"}
)

// Candidate is what a page offers for bookmarking. PagePrice is informational;
// the stored price always comes from the price source.
type Candidate struct {
	Entry     models.StockEntry
	PagePrice *decimal.Decimal
}

type Extractor struct {
	symbolSelectors []string
	priceSelectors  []string
}

func NewExtractor(cfg config.CaptureConfig) *Extractor {
	e := &Extractor{
		symbolSelectors: cfg.SymbolSelectors,
		priceSelectors:  cfg.PriceSelectors,
	}
	if len(e.symbolSelectors) == 0 {
		e.symbolSelectors = DefaultSymbolSelectors
	}
	if len(e.priceSelectors) == 0 {
		e.priceSelectors = DefaultPriceSelectors
	}
	return e
}

// Extract reads doc with the default selectors.
func Extract(doc *goquery.Document) (Candidate, error) {
	return NewExtractor(config.CaptureConfig{}).Extract(doc)
}

func (e *Extractor) Extract(doc *goquery.Document) (Candidate, error) {
	symbol, ok := e.symbol(doc)
	if !ok {
		return Candidate{}, models.ErrExtraction
	}
	return Candidate{
		Entry: models.StockEntry{
			Symbol: symbol,
			Source: models.SourceUserBookmark,
		},
		PagePrice: e.price(doc),
	}, nil
}

func (e *Extractor) symbol(doc *goquery.Document) (string, bool) {
	selectors := append([]string{bookmarkSelector}, e.symbolSelectors...)
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(i int, s *goquery.Selection) bool {
			sym, err := models.NormalizeSymbol(value(s, "data-symbol"))
			if err != nil {
				return true
			}
			found = sym
			return false
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

func (e *Extractor) price(doc *goquery.Document) *decimal.Decimal {
	for _, sel := range e.priceSelectors {
		var found *decimal.Decimal
		doc.Find(sel).EachWithBreak(func(i int, s *goquery.Selection) bool {
			d, err := ParsePrice(value(s, "data-price"))
			if err != nil {
				return true
			}
			found = &d
			return false
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// value prefers the data attribute, then a meta content, then the text.
func value(s *goquery.Selection, attr string) string {
	if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if v, ok := s.Attr("content"); ok {
		return v
	}
	return s.Text()
}

// ParsePrice reads a displayed price such as "$1,234.50" or "Rs. 2,101.05".
// Only digits and the decimal point are kept; the result must be positive.
func ParsePrice(raw string) (decimal.Decimal, error) {
	var b strings.Builder
scan:
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r == '.' && b.Len() > 0:
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case r == ',' || r == ' ' || r == '\u00a0':
			// grouping
		case b.Len() > 0:
			// trailing text such as a currency code ends the number
			break scan
		}
	}

	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing price %q: %w", raw, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("price %q is not positive", raw)
	}
	return d, nil
}
