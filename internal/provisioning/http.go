package provisioning

import (
	"errors"
	"net/http"

	"github.com/landrun/landrun/internal/httpapi"
)

// Handler exposes the provisioning REST surface.
type Handler struct {
	reg *Registry
}

// NewHandler builds the REST handler.
func NewHandler(reg *Registry) *Handler { return &Handler{reg: reg} }

// Routes mounts the provisioning endpoints on a mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/provisioning/servers/register", h.register)
	mux.HandleFunc("DELETE /v1/provisioning/servers/{serverId}", h.deregister)
	mux.HandleFunc("GET /v1/provisioning/servers", h.list)
}

// register doubles as heartbeat: idempotent by serverId.
func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var e ServerEntry
	if !httpapi.Decode(w, r, &e) {
		return
	}
	stored, err := h.reg.Register(r.Context(), e)
	if err != nil {
		httpapi.WriteError(w, r, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, stored)
}

func (h *Handler) deregister(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Deregister(r.Context(), r.PathValue("serverId")); err != nil {
		httpapi.WriteRetryable(w, r, http.StatusInternalServerError, "internal", "deregistration failed")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"deregistered": true})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	servers, err := h.reg.Servers(r.Context())
	if err != nil {
		httpapi.WriteRetryable(w, r, http.StatusInternalServerError, "internal", "listing servers failed")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// IsNoServer reports whether an allocation failure just means "retry later".
func IsNoServer(err error) bool { return errors.Is(err, ErrNoServer) }
