package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

// Submitter hands a command to the store owner. bridge.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, cmd protocol.Command) (protocol.Ack, error)
}

// Overlay handles user actions on a page. It never retries; the Submitter owns
// the delivery policy.
type Overlay struct {
	extractor *Extractor
	submitter Submitter
	logger    *zap.Logger
	now       func() time.Time
}

func NewOverlay(extractor *Extractor, submitter Submitter, logger *zap.Logger) *Overlay {
	return &Overlay{
		extractor: extractor,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleBookmarkAction extracts the symbol from a page snapshot and asks the
// store owner to add it. It returns the entry as stored.
func (o *Overlay) HandleBookmarkAction(ctx context.Context, snapshot io.Reader) (models.StockEntry, error) {
	doc, err := goquery.NewDocumentFromReader(snapshot)
	if err != nil {
		return models.StockEntry{}, fmt.Errorf("%w: reading page: %w", models.ErrExtraction, err)
	}

	cand, err := o.extractor.Extract(doc)
	if err != nil {
		o.logger.Info("Nothing to bookmark on page", zap.Error(err))
		return models.StockEntry{}, err
	}

	fields := []zap.Field{zap.String("symbol", cand.Entry.Symbol)}
	if cand.PagePrice != nil {
		fields = append(fields, zap.String("page_price", cand.PagePrice.String()))
	}
	o.logger.Info("Bookmarking", fields...)

	entry := cand.Entry
	entry.AddedAt = o.now().UTC()

	ack, err := o.submitter.Submit(ctx, protocol.NewCommand(protocol.CommandAdd, entry))
	if err != nil {
		return models.StockEntry{}, fmt.Errorf("bookmarking %s: %w", entry.Symbol, err)
	}
	if ack.Entry != nil {
		return *ack.Entry, nil
	}
	return entry, nil
}
