// Package api provides the HTTP surface of the trader: health,
// portfolio snapshots and the WebSocket event stream.
package api

import (
	"encoding/json"
	"net/http"

	"knifetrader/internal/gateway"
	"knifetrader/internal/portfolio"
)

// NewRouter sets up the HTTP routes.
func NewRouter(tracker *portfolio.Tracker, hub *gateway.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/api/v1/portfolio", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"strategies":   tracker.Snapshot(),
			"total_profit": tracker.TotalRealizedProfit(),
		})
	})

	mux.HandleFunc("/ws", hub.HandleWS)

	return mux
}
