package hub_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/hub"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/testutils"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

func setup(entries ...models.StockEntry) (*hub.Hub, *testutils.MockStockStore) {
	store := testutils.NewMockStockStore(entries...)
	return hub.NewHub(store, zap.NewNop()), store
}

func TestHub_Add_Success(t *testing.T) {
	h, store := setup()

	price := 12.0
	cmd := protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: " acme ", Price: &price})
	ack := h.Handle(context.Background(), cmd)

	if !ack.OK() || ack.ID != cmd.ID {
		t.Fatalf("Expected success ack for %s, got %+v", cmd.ID, ack)
	}
	if ack.Entry == nil || ack.Entry.Symbol != "ACME" {
		t.Fatalf("Ack should carry the stored entry, got %+v", ack.Entry)
	}

	got, ok := store.Snapshot("ACME")
	if !ok {
		t.Fatal("ACME should be stored under its normalized symbol")
	}
	if got.Price != nil {
		t.Errorf("A bookmark should start unpriced, got %v", *got.Price)
	}
	if got.Source != models.SourceUserBookmark {
		t.Errorf("Expected source %s, got %s", models.SourceUserBookmark, got.Source)
	}
	if got.AddedAt.IsZero() {
		t.Error("AddedAt should be stamped")
	}
}

func TestHub_Add_Idempotency(t *testing.T) {
	added := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	h, store := setup()

	cmd := protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: "ACME", AddedAt: added})
	h.Handle(context.Background(), cmd)
	// Redelivery of the same command
	h.Handle(context.Background(), cmd)

	entries, _ := store.List(context.Background())
	if len(entries) != 1 {
		t.Fatalf("Expected one record, got %d", len(entries))
	}
	if !entries[0].AddedAt.Equal(added) {
		t.Errorf("AddedAt should be kept, got %s", entries[0].AddedAt)
	}
}

func TestHub_Add_KeepsExistingPrice(t *testing.T) {
	price := 99.0
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	h, store := setup(models.StockEntry{Symbol: "ACME", Price: &price, LastUpdated: &at, AddedAt: at, Source: models.SourceSeed})

	h.Handle(context.Background(), protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: "ACME"}))

	got, _ := store.Snapshot("ACME")
	if got.Price == nil || *got.Price != 99.0 {
		t.Errorf("Re-bookmarking should not drop the known price, got %v", got.Price)
	}
}

func TestHub_Update(t *testing.T) {
	h, store := setup(models.StockEntry{Symbol: "ACME", Source: models.SourceUserBookmark})

	price := 5.5
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	ack := h.Handle(context.Background(), protocol.NewCommand(protocol.CommandUpdate, models.StockEntry{Symbol: "acme", Price: &price, LastUpdated: &at, Source: models.SourceSeed}))
	if !ack.OK() {
		t.Fatalf("Expected success, got %+v", ack)
	}

	got, _ := store.Snapshot("ACME")
	if got.Source != models.SourceSeed {
		t.Errorf("Expected source %s, got %s", models.SourceSeed, got.Source)
	}
	if got.Price != nil || got.LastUpdated != nil {
		t.Errorf("Update must not set a price, got %v at %v", got.Price, got.LastUpdated)
	}
}

func TestHub_Update_UnknownSymbolStaysUnpriced(t *testing.T) {
	h, store := setup()

	price := 5.0
	ack := h.Handle(context.Background(), protocol.NewCommand(protocol.CommandUpdate, models.StockEntry{Symbol: "ZED", Price: &price}))
	if !ack.OK() {
		t.Fatalf("Expected success, got %+v", ack)
	}
	if ack.Entry == nil || ack.Entry.Price != nil {
		t.Errorf("Ack should carry an unpriced entry, got %+v", ack.Entry)
	}

	got, ok := store.Snapshot("ZED")
	if !ok {
		t.Fatal("ZED should be stored")
	}
	if got.Price != nil || got.LastUpdated != nil {
		t.Errorf("Entry no fetch has seen must be unpriced, got %v at %v", got.Price, got.LastUpdated)
	}
}

func TestHub_Update_KeepsFetchedPrice(t *testing.T) {
	prior := 99.0
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	h, store := setup(models.StockEntry{Symbol: "ACME", Price: &prior, LastUpdated: &at, AddedAt: at, Source: models.SourceSeed})

	price := 1.0
	later := at.Add(time.Hour)
	h.Handle(context.Background(), protocol.NewCommand(protocol.CommandUpdate, models.StockEntry{Symbol: "ACME", Price: &price, LastUpdated: &later}))

	got, _ := store.Snapshot("ACME")
	if got.Price == nil || *got.Price != 99.0 || !got.LastUpdated.Equal(at) {
		t.Errorf("Fetched price should be kept, got %v at %v", got.Price, got.LastUpdated)
	}
}

func TestHub_Remove(t *testing.T) {
	h, store := setup(models.StockEntry{Symbol: "ACME"})

	cmd := protocol.NewCommand(protocol.CommandRemove, models.StockEntry{Symbol: "ACME"})
	if ack := h.Handle(context.Background(), cmd); !ack.OK() {
		t.Fatalf("Expected success, got %+v", ack)
	}
	if _, ok := store.Snapshot("ACME"); ok {
		t.Error("ACME should be gone")
	}

	// Removing an absent symbol is not an error
	if ack := h.Handle(context.Background(), cmd); !ack.OK() {
		t.Errorf("Second remove should succeed, got %+v", ack)
	}
}

func TestHub_Errors(t *testing.T) {
	tests := []struct {
		name string
		cmd  protocol.Command
		want string
	}{
		{"unknown type", protocol.Command{ID: "1", Type: "rename", Entry: models.StockEntry{Symbol: "ACME"}}, "unknown command"},
		{"invalid symbol", protocol.Command{ID: "2", Type: protocol.CommandAdd, Entry: models.StockEntry{Symbol: "not a ticker!"}}, "invalid stock symbol"},
		{"empty symbol", protocol.Command{ID: "3", Type: protocol.CommandRemove}, "invalid stock symbol"},
		{"unknown source", protocol.Command{ID: "4", Type: protocol.CommandAdd, Entry: models.StockEntry{Symbol: "ACME", Source: "scraper"}}, "unknown source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := setup()
			ack := h.Handle(context.Background(), tt.cmd)
			if ack.Status != protocol.StatusError || ack.ID != tt.cmd.ID {
				t.Fatalf("Expected error ack for %s, got %+v", tt.cmd.ID, ack)
			}
			if !strings.Contains(ack.Message, tt.want) {
				t.Errorf("Expected message containing %q, got %q", tt.want, ack.Message)
			}
		})
	}
}

func TestHub_StorageFailure(t *testing.T) {
	h, store := setup()
	store.WriteErr = errors.New("disk full")

	ack := h.Handle(context.Background(), protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: "ACME"}))
	if ack.OK() {
		t.Fatal("Expected error ack on storage failure")
	}
	if !strings.Contains(ack.Message, "disk full") {
		t.Errorf("Unexpected message %q", ack.Message)
	}
}

func TestHub_Notify_Broadcast(t *testing.T) {
	h, _ := setup()
	c1 := testutils.NewMockClient("c1")
	c2 := testutils.NewMockClient("c2")
	h.Register(c1)
	h.Register(c2)

	update := models.StockUpdate{Symbol: "ACME", Price: 101.5, Timestamp: 1, SeqID: 1}
	if err := h.Notify(context.Background(), update); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	for _, c := range []*testutils.MockClient{c1, c2} {
		if c.EventCount() != 1 {
			t.Fatalf("%s: expected one event, got %d", c.ID(), c.EventCount())
		}
		ev := c.Events[0]
		if ev.Type != protocol.EventPrice || ev.Update == nil || ev.Update.Price != 101.5 {
			t.Errorf("%s: unexpected event %+v", c.ID(), ev)
		}
	}

	h.Unregister(c1)
	if !c1.Closed {
		t.Error("Unregister should close the client")
	}
	if h.ClientCount() != 1 {
		t.Errorf("Expected one client left, got %d", h.ClientCount())
	}

	h.Notify(context.Background(), update)
	if c1.EventCount() != 1 {
		t.Error("Unregistered client should not receive events")
	}
}
