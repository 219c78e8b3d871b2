package admin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/landrun/landrun/internal/httpapi"
	"github.com/landrun/landrun/internal/land"
	"github.com/landrun/landrun/internal/matchmaking"
	"github.com/landrun/landrun/internal/provisioning"
	"github.com/landrun/landrun/internal/realm"
)

// Server is the admin HTTP surface. Every backend is optional: a game node
// serves the land endpoints, a matchmaker node the queue and server ones.
type Server struct {
	realm *realm.Realm
	store matchmaking.Store
	prov  *provisioning.Registry
	auth  *Auth
	log   *slog.Logger
}

// NewServer wires the admin surface.
func NewServer(r *realm.Realm, store matchmaking.Store, prov *provisioning.Registry, auth *Auth, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{realm: r, store: store, prov: prov, auth: auth, log: log}
}

// Routes mounts the admin endpoints. Reads need viewer, replay needs
// operator, retirement needs admin.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/lands", s.auth.require(RoleViewer, s.listLands))
	mux.HandleFunc("GET /admin/lands/{landId}", s.auth.require(RoleViewer, s.getLand))
	mux.HandleFunc("DELETE /admin/lands/{landId}", s.auth.require(RoleAdmin, s.retireLand))
	mux.HandleFunc("GET /admin/stats", s.auth.require(RoleViewer, s.stats))
	mux.HandleFunc("GET /admin/queues", s.auth.require(RoleViewer, s.listQueues))
	mux.HandleFunc("GET /admin/servers", s.auth.require(RoleViewer, s.listServers))
	mux.HandleFunc("POST /admin/reevaluation/replay/start", s.auth.require(RoleOperator, s.startReplay))
}

func (s *Server) listLands(w http.ResponseWriter, r *http.Request) {
	if s.realm == nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no realm on this node")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"lands": s.realm.List()})
}

func (s *Server) getLand(w http.ResponseWriter, r *http.Request) {
	if s.realm == nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no realm on this node")
		return
	}
	id, err := land.ParseID(r.PathValue("landId"))
	if err != nil {
		httpapi.WriteError(w, r, http.StatusBadRequest, "badRequest", "malformed land id")
		return
	}
	k, ok := s.realm.Get(id)
	if !ok {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no such land")
		return
	}
	snapshot, err := k.ServerSnapshot(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, http.StatusConflict, "landClosed", "land is retiring")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"info":  k.Info(),
		"state": snapshot,
	})
}

func (s *Server) retireLand(w http.ResponseWriter, r *http.Request) {
	if s.realm == nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no realm on this node")
		return
	}
	id, err := land.ParseID(r.PathValue("landId"))
	if err != nil {
		httpapi.WriteError(w, r, http.StatusBadRequest, "badRequest", "malformed land id")
		return
	}
	if err := s.realm.Retire(id, land.KickCodeRetired, "retired by admin"); err != nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no such land")
		return
	}
	s.log.Info("land retired by admin", "land", id.String(), "request_id", httpapi.RequestID(r))
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"retired": true})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.realm != nil {
		out["realm"] = s.realm.Stats()
	}
	if s.store != nil {
		queues := map[string]int{}
		if keys, err := s.store.QueueKeys(r.Context()); err == nil {
			for _, key := range keys {
				if tickets, err := s.store.QueuedTickets(r.Context(), key); err == nil {
					queues[key] = len(tickets)
				}
			}
		}
		out["queues"] = queues
	}
	if s.prov != nil {
		if servers, err := s.prov.Servers(r.Context()); err == nil {
			out["servers"] = len(servers)
		}
	}
	httpapi.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no matchmaking store on this node")
		return
	}
	keys, err := s.store.QueueKeys(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, http.StatusInternalServerError, "internal", "listing queues failed")
		return
	}
	out := make(map[string][]matchmaking.Ticket, len(keys))
	for _, key := range keys {
		tickets, err := s.store.QueuedTickets(r.Context(), key)
		if err != nil {
			httpapi.WriteError(w, r, http.StatusInternalServerError, "internal", "loading queue failed")
			return
		}
		out[key] = tickets
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"queues": out})
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	if s.prov == nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no provisioning registry on this node")
		return
	}
	servers, err := s.prov.Servers(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, http.StatusInternalServerError, "internal", "listing servers failed")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

type replayRequest struct {
	LandType      string `json:"landType"`
	RecordingFile string `json:"recordingFile"`
}

// startReplay re-executes a recording against the land type's replay alias
// and reports whether the per-tick hash stream matched.
func (s *Server) startReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if !httpapi.Decode(w, r, &req) {
		return
	}
	if req.LandType == "" || req.RecordingFile == "" {
		httpapi.WriteError(w, r, http.StatusBadRequest, "badRequest", "landType and recordingFile are required")
		return
	}
	if s.realm == nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no realm on this node")
		return
	}
	alias, ok := s.realm.Type(req.LandType + realm.ReplaySuffix)
	if !ok {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "land type has no replay alias registered")
		return
	}
	rec, err := land.LoadRecording(req.RecordingFile)
	if err != nil {
		httpapi.WriteError(w, r, http.StatusBadRequest, "badRequest", "recording could not be loaded")
		return
	}

	started := time.Now()
	result, err := land.Replay(alias.Definition, rec, s.log)
	if err != nil {
		s.log.Error("replay run failed", "land_type", req.LandType, "err", err)
		httpapi.WriteError(w, r, http.StatusUnprocessableEntity, "replayFailed", err.Error())
		return
	}
	s.log.Info("replay run finished",
		"land_type", req.LandType, "ticks", result.Ticks, "match", result.Match,
		"elapsed", time.Since(started))
	httpapi.WriteJSON(w, http.StatusOK, result)
}
