package matchmaking

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/landrun/landrun/internal/httpapi"
	"github.com/landrun/landrun/internal/matchtoken"
)

// API is the matchmaking REST surface served by api-role nodes.
type API struct {
	store  Store
	signer *matchtoken.Signer
	log    *slog.Logger
	now    func() time.Time
}

// NewAPI builds the REST handler.
func NewAPI(store Store, signer *matchtoken.Signer, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{store: store, signer: signer, log: log, now: time.Now}
}

// Routes mounts the matchmaking endpoints on a mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/matchmaking/enqueue", a.enqueue)
	mux.HandleFunc("POST /v1/matchmaking/cancel", a.cancel)
	mux.HandleFunc("GET /v1/matchmaking/status/{ticketId}", a.status)
	mux.HandleFunc("GET /.well-known/jwks.json", a.jwks)
}

type enqueueRequest struct {
	QueueKey  string   `json:"queueKey"`
	GroupID   string   `json:"groupId"`
	Members   []string `json:"members"`
	GroupSize int      `json:"groupSize"`
	Region    string   `json:"region"`
}

func (a *API) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !httpapi.Decode(w, r, &req) {
		return
	}
	if req.QueueKey == "" || len(req.Members) == 0 {
		httpapi.WriteError(w, r, http.StatusBadRequest, "badRequest", "queueKey and members are required")
		return
	}
	if req.GroupID == "" {
		req.GroupID = uuid.NewString()
	}
	if req.GroupSize <= 0 {
		req.GroupSize = len(req.Members)
	}
	t := Ticket{
		TicketID:  uuid.NewString(),
		GroupID:   req.GroupID,
		QueueKey:  req.QueueKey,
		Members:   req.Members,
		GroupSize: req.GroupSize,
		Region:    req.Region,
		Status:    StatusQueued,
		CreatedAt: a.now(),
	}
	stored, created, err := a.store.CreateTicket(r.Context(), t)
	if err != nil {
		httpapi.WriteRetryable(w, r, http.StatusInternalServerError, "internal", "enqueue failed")
		return
	}
	if !created {
		// Same group already queued: hand back the existing ticket.
		a.log.Debug("enqueue deduplicated", "group", req.GroupID, "ticket", stored.TicketID)
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{
		"ticketId": stored.TicketID,
		"status":   stored.Status,
	})
}

func (a *API) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TicketID string `json:"ticketId"`
	}
	if !httpapi.Decode(w, r, &req) {
		return
	}
	cancelled, err := a.store.CancelTicket(r.Context(), req.TicketID)
	if err != nil {
		httpapi.WriteRetryable(w, r, http.StatusInternalServerError, "internal", "cancel failed")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	t, ok, err := a.store.GetTicket(r.Context(), r.PathValue("ticketId"))
	if err != nil {
		httpapi.WriteRetryable(w, r, http.StatusInternalServerError, "internal", "status lookup failed")
		return
	}
	if !ok {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no such ticket")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{
		"ticketId":   t.TicketID,
		"status":     t.Status,
		"assignment": t.Assignment,
	})
}

func (a *API) jwks(w http.ResponseWriter, r *http.Request) {
	if a.signer == nil {
		httpapi.WriteError(w, r, http.StatusNotFound, "notFound", "no signing key configured")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, a.signer.JWKS())
}
