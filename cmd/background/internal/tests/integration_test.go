package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/fetcher"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/gateway"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/hub"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/publisher"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/scheduler"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/store"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/bridge"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/config"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

var asOf = time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)

type harness struct {
	server *httptest.Server
	quotes *httptest.Server
	mr     *miniredis.Miniredis
	store  *store.Store
	hub    *hub.Hub
	sched  *scheduler.Scheduler
}

func startServer(t *testing.T) *harness {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "watchlist.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	quotes := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "ACME" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"symbol": "ACME", "price": 101.5, "as_of": asOf})
	}))
	t.Cleanup(quotes.Close)

	wsHub := hub.NewHub(st, zap.NewNop())
	notifiers := publisher.Multi{wsHub, publisher.NewRedisPublisher(rdb)}

	cfg := config.SchedulerConfig{AlarmName: "priceUpdate", Interval: time.Hour, Parallelism: 2, FetchTimeout: time.Second}
	sched := scheduler.NewScheduler(cfg, zap.NewNop(), st, fetcher.NewHTTPClient(quotes.URL, time.Second), notifiers, scheduler.RealClock{})

	commands := bridge.NewChannel(16, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go commands.Serve(ctx, wsHub)

	server := httptest.NewServer(gateway.NewHandler(wsHub, commands, sched, zap.NewNop()))
	t.Cleanup(server.Close)

	return &harness{server: server, quotes: quotes, mr: mr, store: st, hub: wsHub, sched: sched}
}

func bridgeURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/bridge"
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	wsConn, _, err := websocket.DefaultDialer.Dial(bridgeURL(serverURL), nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	return wsConn
}

func waitForClients(t *testing.T, h *hub.Hub, n int) {
	for i := 0; i < 50; i++ {
		if h.ClientCount() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d connected clients, got %d", n, h.ClientCount())
}

func TestEndToEnd_BookmarkThenSync(t *testing.T) {
	h := startServer(t)

	sender := bridge.NewWSSender(bridgeURL(h.server.URL), 2*time.Second)
	defer sender.Close()
	client := bridge.NewClient(sender, zap.NewNop(), 1)

	ack, err := client.Submit(context.Background(), protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: "acme"}))
	if err != nil {
		t.Fatalf("Bookmark failed: %v", err)
	}
	if ack.Entry == nil || ack.Entry.Symbol != "ACME" || ack.Entry.Price != nil {
		t.Fatalf("Unexpected stored entry %+v", ack.Entry)
	}

	// A second content context listening for prices
	listener := connectWS(t, h.server.URL)
	defer listener.Close()
	waitForClients(t, h.hub, 2)

	report, err := h.sched.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if report.Updated != 1 {
		t.Fatalf("Expected one update, got %+v", report)
	}

	got, err := h.store.Get(context.Background(), "ACME")
	if err != nil || got == nil {
		t.Fatalf("ACME missing after sync: %v", err)
	}
	if got.Price == nil || *got.Price != 101.5 {
		t.Errorf("Expected price 101.5, got %v", got.Price)
	}
	if got.LastUpdated == nil || !got.LastUpdated.Equal(asOf) {
		t.Errorf("Expected last_updated %s, got %v", asOf, got.LastUpdated)
	}
	if got.Source != models.SourceUserBookmark {
		t.Errorf("Expected user-bookmark source, got %s", got.Source)
	}

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := listener.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to receive price event: %v", err)
	}
	var ev protocol.Event
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Type != protocol.EventPrice || ev.Update == nil || ev.Update.Price != 101.5 {
		t.Errorf("Unexpected event: %s", msg)
	}

	if cached, err := h.mr.Get("watch:ACME"); err != nil || !strings.Contains(cached, "101.5") {
		t.Errorf("Expected cached price in Redis, got %q (%v)", cached, err)
	}

	// The WebSocket sender still works on the same connection
	ack, err = client.Submit(context.Background(), protocol.NewCommand(protocol.CommandRemove, models.StockEntry{Symbol: "ACME"}))
	if err != nil || !ack.OK() {
		t.Fatalf("Remove failed: %+v %v", ack, err)
	}
	if got, _ := h.store.Get(context.Background(), "ACME"); got != nil {
		t.Error("ACME should be removed")
	}
}

func TestEndToEnd_DuplicateDeliveryKeepsOneRecord(t *testing.T) {
	h := startServer(t)

	sender := bridge.NewWSSender(bridgeURL(h.server.URL), 2*time.Second)
	defer sender.Close()

	cmd := protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: "ACME"})
	for i := 0; i < 3; i++ {
		if _, err := sender.Send(context.Background(), cmd); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	entries, err := h.store.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected one record, got %d", len(entries))
	}
}

func TestEndToEnd_RejectedCommand(t *testing.T) {
	h := startServer(t)

	sender := bridge.NewWSSender(bridgeURL(h.server.URL), 2*time.Second)
	defer sender.Close()
	client := bridge.NewClient(sender, zap.NewNop(), 1)

	_, err := client.Submit(context.Background(), protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: "??"}))
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("Expected rejection, got %v", err)
	}
}

func TestEndToEnd_InvalidJSON(t *testing.T) {
	h := startServer(t)
	wsConn := connectWS(t, h.server.URL)
	defer wsConn.Close()

	wsConn.WriteMessage(websocket.TextMessage, []byte(`{ "type": "ad`))

	wsConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, _ := wsConn.ReadMessage()
	if !strings.Contains(string(msg), "Invalid JSON") {
		t.Errorf("Expected error message for bad JSON, got: %s", msg)
	}
}

func TestEndToEnd_MaxMessageSize(t *testing.T) {
	h := startServer(t)
	wsConn := connectWS(t, h.server.URL)
	defer wsConn.Close()

	huge := `{"type":"add","entry":{"symbol":"` + strings.Repeat("a", 65*1024) + `"}}`

	err := wsConn.WriteMessage(websocket.TextMessage, []byte(huge))
	// Depending on timing, write might succeed, but Read should fail (Disconnect)
	if err == nil {
		wsConn.SetReadDeadline(time.Now().Add(1 * time.Second))
		_, _, err := wsConn.ReadMessage()
		if err == nil {
			t.Error("Server should have closed connection for huge message, but it stayed open")
		}
	}
}

func TestEndToEnd_Healthz(t *testing.T) {
	h := startServer(t)
	if _, err := h.store.Seed(context.Background(), []string{"ACME"}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	resp, err := http.Post(h.server.URL+"/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sync failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		t.Fatalf("Unexpected /sync status %d", resp.StatusCode)
	}

	var body struct {
		Status    string                 `json:"status"`
		Scheduler string                 `json:"scheduler"`
		LastCycle *scheduler.CycleReport `json:"last_cycle"`
	}
	for i := 0; i < 50; i++ {
		resp, err := http.Get(h.server.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz failed: %v", err)
		}
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body.LastCycle != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if body.Status != "ok" {
		t.Errorf("Expected ok, got %q", body.Status)
	}
	if body.LastCycle == nil || body.LastCycle.Updated != 1 {
		t.Errorf("Expected last cycle with one update, got %+v", body.LastCycle)
	}
}

func TestEndToEnd_StoreOwnerBusy(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "busy.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	wsHub := hub.NewHub(st, zap.NewNop())
	sched := scheduler.NewScheduler(config.SchedulerConfig{AlarmName: "priceUpdate", Interval: time.Hour, Parallelism: 1}, zap.NewNop(), st, fetcher.NewHTTPClient("http://127.0.0.1:0", time.Second), wsHub, scheduler.RealClock{})

	// Nobody serves the queue yet
	commands := bridge.NewChannel(4, 50*time.Millisecond)
	server := httptest.NewServer(gateway.NewHandler(wsHub, commands, sched, zap.NewNop()))
	defer server.Close()

	sender := bridge.NewWSSender(bridgeURL(server.URL), 2*time.Second)
	defer sender.Close()

	cmd := protocol.NewCommand(protocol.CommandAdd, models.StockEntry{Symbol: "ACME"})
	ack, err := sender.Send(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if ack.OK() || ack.ID != cmd.ID {
		t.Fatalf("Expected error ack for %s, got %+v", cmd.ID, ack)
	}

	// The queued command is applied once the store owner serves the queue
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go commands.Serve(ctx, wsHub)

	for i := 0; i < 50; i++ {
		if got, _ := st.Get(context.Background(), "ACME"); got != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("Queued command was never applied")
}
