package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Store is the part of the watchlist store commands touch
type Store interface {
	Get(ctx context.Context, symbol string) (*models.StockEntry, error)
	Put(ctx context.Context, entry models.StockEntry) error
	Remove(ctx context.Context, symbol string) error
}

// Hub applies bridge commands to the store and pushes price events to every
// connected client.
type Hub struct {
	clients map[ClientInterface]bool

	store  Store
	logger *zap.Logger
	now    func() time.Time
	mu     sync.RWMutex
}

func NewHub(store Store, logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[ClientInterface]bool),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle applies one command. Every command is an upsert or delete keyed by
// symbol, so a redelivered command leaves the store as the first one did.
func (h *Hub) Handle(ctx context.Context, cmd protocol.Command) protocol.Ack {
	var (
		entry *models.StockEntry
		err   error
	)
	switch cmd.Type {
	case protocol.CommandAdd:
		entry, err = h.handleAdd(ctx, cmd.Entry)
	case protocol.CommandUpdate:
		entry, err = h.handleUpdate(ctx, cmd.Entry)
	case protocol.CommandRemove:
		err = h.handleRemove(ctx, cmd.Entry.Symbol)
	default:
		err = fmt.Errorf("unknown command type %q", cmd.Type)
	}

	if err != nil {
		h.logger.Warn("Command failed",
			zap.String("id", cmd.ID),
			zap.String("type", cmd.Type),
			zap.String("symbol", cmd.Entry.Symbol),
			zap.Error(err),
		)
		return protocol.Ack{ID: cmd.ID, Status: protocol.StatusError, Message: err.Error()}
	}

	h.logger.Debug("Command applied", zap.String("id", cmd.ID), zap.String("type", cmd.Type))
	return protocol.Ack{ID: cmd.ID, Status: protocol.StatusSuccess, Entry: entry}
}

func (h *Hub) handleAdd(ctx context.Context, e models.StockEntry) (*models.StockEntry, error) {
	symbol, err := models.NormalizeSymbol(e.Symbol)
	if err != nil {
		return nil, err
	}

	// A bookmark never carries a price; the scheduler fills it in
	e.Symbol = symbol
	e.Price = nil
	e.LastUpdated = nil
	if e.AddedAt.IsZero() {
		e.AddedAt = h.now().UTC()
	}
	if e.Source == "" {
		e.Source = models.SourceUserBookmark
	}
	if !e.Source.Valid() {
		return nil, fmt.Errorf("unknown source %q", e.Source)
	}

	if err := h.store.Put(ctx, e); err != nil {
		return nil, err
	}
	return h.store.Get(ctx, symbol)
}

func (h *Hub) handleUpdate(ctx context.Context, e models.StockEntry) (*models.StockEntry, error) {
	symbol, err := models.NormalizeSymbol(e.Symbol)
	if err != nil {
		return nil, err
	}
	if e.Source != "" && !e.Source.Valid() {
		return nil, fmt.Errorf("unknown source %q", e.Source)
	}

	// Prices only change through a refresh; update carries metadata
	e.Symbol = symbol
	e.Price = nil
	e.LastUpdated = nil

	if err := h.store.Put(ctx, e); err != nil {
		return nil, err
	}
	return h.store.Get(ctx, symbol)
}

func (h *Hub) handleRemove(ctx context.Context, raw string) error {
	symbol, err := models.NormalizeSymbol(raw)
	if err != nil {
		return err
	}
	return h.store.Remove(ctx, symbol)
}

func (h *Hub) Register(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.logger.Debug("Client registered", zap.String("client", client.ID()))
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.Close()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Notify broadcasts a stored price to every connected client.
func (h *Hub) Notify(ctx context.Context, update models.StockUpdate) error {
	msg, err := json.Marshal(protocol.Event{Type: protocol.EventPrice, Update: &update})
	if err != nil {
		return fmt.Errorf("encoding price event: %w", err)
	}
	h.Broadcast(msg)
	return nil
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.SendBytes(payload)
	}
}
