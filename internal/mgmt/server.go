// Package mgmt implements the internal management surface: a small HTTP
// service the control plane uses to enumerate and forcibly terminate
// tunnels. Unauthenticated by design — the deployment must keep it on a
// private network.
package mgmt

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tunnelgate/tunnelgate/internal/registry"
)

// New builds the management HTTP handler, routed with chi like the rest of
// the control plane's surfaces.
func New(reg *registry.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	h := &handler{reg: reg, startedAt: time.Now()}

	r.Get("/healthz", h.health)
	r.Get("/tunnels", h.listTunnels)
	r.Delete("/tunnels/{subdomain}", h.terminateTunnel)

	return r
}

type handler struct {
	reg       *registry.Registry
	startedAt time.Time
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime":         time.Since(h.startedAt).String(),
		"active_tunnels": len(h.reg.ListTunnels()),
	})
}

// tunnelView is the wire shape of a tunnel returned by GET /tunnels.
type tunnelView struct {
	Subdomain   string `json:"subdomain"`
	UserID      string `json:"user_id"`
	ClientIP    string `json:"client_ip"`
	ConnectedAt string `json:"connected_at"`
	IsConnected bool   `json:"is_connected"`
}

func (h *handler) listTunnels(w http.ResponseWriter, r *http.Request) {
	snapshots := h.reg.ListTunnels()
	views := make([]tunnelView, 0, len(snapshots))
	for _, t := range snapshots {
		views = append(views, tunnelView{
			Subdomain:   t.Subdomain,
			UserID:      t.OwnerUserID,
			ClientIP:    t.OriginIP,
			ConnectedAt: t.CreatedAt.UTC().Format(time.RFC3339),
			IsConnected: t.State == registry.StateConnected,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) terminateTunnel(w http.ResponseWriter, r *http.Request) {
	subdomain := chi.URLParam(r, "subdomain")

	err := h.reg.TerminateTunnel(subdomain, "management surface request")
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tunnel not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to terminate tunnel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "tunnel terminated"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
