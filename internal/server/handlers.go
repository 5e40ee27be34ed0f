package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/midea/internal/core"
)

type pluginHealth struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler reports plugin health. Any plugin in the error state turns the
// response into a 503.
func HealthHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		out := make([]pluginHealth, 0, len(plugins))
		for _, p := range plugins {
			health := p.Health()
			if health == core.HealthError {
				status = http.StatusServiceUnavailable
			}
			out = append(out, pluginHealth{ID: p.ID(), Status: string(health), Message: p.HealthMessage()})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"plugins": out})
	})
}
