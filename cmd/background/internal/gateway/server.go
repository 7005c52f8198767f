package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/hub"
	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/background/internal/scheduler"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/bridge"
)

// SyncStatus is the scheduler surface exposed over HTTP
type SyncStatus interface {
	State() scheduler.State
	LastReport() (scheduler.CycleReport, bool)
	TriggerNow() bool
}

type healthResponse struct {
	Status    string                 `json:"status"`
	Scheduler string                 `json:"scheduler"`
	Clients   int                    `json:"clients"`
	LastCycle *scheduler.CycleReport `json:"last_cycle,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
}

// NewHandler mounts the bridge endpoint and the operational routes. Commands
// received on /bridge go to commands; h tracks the connections for price events.
//
//	GET  /bridge   WebSocket upgrade for content contexts
//	GET  /healthz  scheduler state and last cycle summary
//	POST /sync     start a cycle now; 409 while one is running
func NewHandler(h *hub.Hub, commands bridge.Sender, sync SyncStatus, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/bridge", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			logger.Warn("Upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(conn, h, commands, logger)
		client.Start()
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := healthResponse{
			Status:    "ok",
			Scheduler: sync.State().String(),
			Clients:   h.ClientCount(),
		}
		if report, ok := sync.LastReport(); ok {
			resp.LastCycle = &report
			if report.Err != nil {
				resp.LastError = report.Err.Error()
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !sync.TriggerNow() {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "running"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "started",
			"started_at": time.Now().UTC().Format(time.RFC3339),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
