package midea

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/joshp123/midea/internal/core"
)

const (
	appliancesEndpoint = "/midea/appliances"
	homeGroupsEndpoint = "/midea/homegroups"
	sendEndpoint       = "/midea/send"

	maxOrderBytes = 64 << 10
)

var _ core.HTTPRegistrant = (*Plugin)(nil)

func (p Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc(appliancesEndpoint, p.handleAppliances)
	mux.HandleFunc(homeGroupsEndpoint, p.handleHomeGroups)
	mux.HandleFunc(sendEndpoint, p.handleSend)
}

func (p Plugin) handleAppliances(w http.ResponseWriter, r *http.Request) {
	if !p.available(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	appliances := p.client.Appliances()
	homeGroup := r.URL.Query().Get("homegroup")
	if len(appliances) == 0 || homeGroup != "" || r.URL.Query().Get("refresh") == "1" {
		fetched, err := p.client.ListAppliances(ctx, homeGroup)
		if err == nil && fetched == nil {
			err = ErrNotReady
		}
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
		appliances = fetched
	}
	writeJSON(w, map[string]any{"appliances": appliances})
}

func (p Plugin) handleHomeGroups(w http.ResponseWriter, r *http.Request) {
	if !p.available(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	groups, err := p.client.ListHomeGroups(ctx, r.URL.Query().Get("refresh") == "1")
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, map[string]any{"homegroups": groups})
}

// handleSend relays a hex-encoded order and answers with the hex reply, or
// 204 when the appliance has not replied yet.
func (p Plugin) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !p.available(w) {
		return
	}
	applianceID := strings.TrimSpace(r.URL.Query().Get("appliance_id"))
	if applianceID == "" {
		http.Error(w, "appliance_id is required", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOrderBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	order, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil || len(order) == 0 {
		http.Error(w, "body must be a non-empty hex order", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	reply, err := p.client.TransparentSend(ctx, applianceID, order)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, hex.EncodeToString(reply))
}

func (p Plugin) available(w http.ResponseWriter) bool {
	if p.client == nil {
		http.Error(w, "midea unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func statusForError(err error) int {
	if errors.Is(err, ErrNotReady) {
		return http.StatusServiceUnavailable
	}
	var netErr NetworkError
	if errors.As(err, &netErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	var protoErr ProtocolError
	if errors.As(err, &protoErr) && (errors.Is(err, ErrNoDefaultHomeGroup) || errors.Is(err, ErrAmbiguousHomeGroup)) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
