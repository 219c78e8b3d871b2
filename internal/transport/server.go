package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/landrun/landrun/internal/land"
	"github.com/landrun/landrun/internal/matchtoken"
	"github.com/landrun/landrun/internal/realm"
)

// ServerConfig tunes the WebSocket endpoint.
type ServerConfig struct {
	Encoding    Encoding
	HashedPaths bool
	QueueSize   int
	// RequireToken rejects connections that carry no match token. Off by
	// default so free-roam land types stay joinable without the control
	// plane.
	RequireToken bool
}

// Server upgrades connections on the realm's land-type paths and hands them
// to the protocol adapter. It also tracks joined sessions per user so the
// cluster directory can kick a previous login locally.
type Server struct {
	realm   *realm.Realm
	adapter *Adapter
	cfg     ServerConfig
	log     *slog.Logger

	upgrader websocket.Upgrader
	verifier atomic.Pointer[matchtoken.Verifier]

	// OnAccept and OnRelease fire when a session with a user identity
	// attaches/detaches, for cluster lease management. Either may be nil.
	OnAccept  func(ctx context.Context, userID string)
	OnRelease func(userID string)

	mu     sync.Mutex
	byUser map[string]*Session
}

// NewServer builds the WebSocket front door.
func NewServer(r *realm.Realm, cfg ServerConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		realm:   r,
		adapter: NewAdapter(r, log),
		cfg:     cfg,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		byUser: make(map[string]*Session),
	}
	s.adapter.OnLeave = func(sess land.Session) { s.release(sess) }
	return s
}

// SetVerifier installs or replaces the match-token verifier. Safe to call
// while serving; a JWKS refresh loop swaps it in place.
func (s *Server) SetVerifier(v *matchtoken.Verifier) { s.verifier.Store(v) }

// FetchJWKS pulls a key set from the control plane's well-known endpoint.
func FetchJWKS(ctx context.Context, client *http.Client, url string) (matchtoken.JWKS, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return matchtoken.JWKS{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return matchtoken.JWKS{}, fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return matchtoken.JWKS{}, fmt.Errorf("jwks endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return matchtoken.JWKS{}, err
	}
	return matchtoken.ParseJWKS(body)
}

// KickUser closes the local session of a user, if one is attached. Used by
// the cluster directory when the same user logs in elsewhere.
func (s *Server) KickUser(userID string, code int, reason string) bool {
	s.mu.Lock()
	sess, ok := s.byUser[userID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.Close(code, reason)
	return true
}

func (s *Server) track(sess *Session) {
	uid := sess.Identity().UserID
	if uid == "" {
		return
	}
	s.mu.Lock()
	prev := s.byUser[uid]
	s.byUser[uid] = sess
	s.mu.Unlock()
	if prev != nil && prev != sess {
		prev.Close(CloseDuplicateLogin, "duplicate login")
	}
}

func (s *Server) release(identity land.Session) {
	if identity.UserID == "" {
		return
	}
	s.mu.Lock()
	if cur, ok := s.byUser[identity.UserID]; ok && cur.ID() == identity.SessionID {
		delete(s.byUser, identity.UserID)
	}
	s.mu.Unlock()
}

// ServeHTTP upgrades one connection. The path selects the land type; the
// optional match token authenticates and pins the join target.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lt, ok := s.realm.ResolveByPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	identity := land.Session{
		SessionID: uuid.NewString(),
		ClientID:  r.URL.Query().Get("clientId"),
		UserID:    r.URL.Query().Get("userId"),
		DeviceID:  r.URL.Query().Get("deviceId"),
	}
	if claims != nil {
		// The token's player identity wins over anything self-reported.
		identity.UserID = claims.PlayerID
	}
	if identity.ClientID == "" {
		identity.ClientID = identity.SessionID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "err", err)
		return
	}

	sess := NewSession(conn, identity, SessionConfig{
		Encoding:    s.cfg.Encoding,
		HashedPaths: s.cfg.HashedPaths,
		QueueSize:   s.cfg.QueueSize,
	}, s.log)
	s.track(sess)
	if s.OnAccept != nil && identity.UserID != "" {
		s.OnAccept(r.Context(), identity.UserID)
	}
	s.log.Info("session accepted", "session", identity.SessionID, "path", r.URL.Path, "land_type", lt.Name)

	s.adapter.Serve(r.Context(), sess, lt, claims)
	s.release(identity)
	if s.OnRelease != nil && identity.UserID != "" {
		s.OnRelease(identity.UserID)
	}
}

// authenticate validates the match token when one is present. Absence is
// only an error when the server requires tokens.
func (s *Server) authenticate(r *http.Request) (*matchtoken.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		if s.cfg.RequireToken {
			return nil, fmt.Errorf("match token required")
		}
		return nil, nil
	}
	v := s.verifier.Load()
	if v == nil {
		if s.cfg.RequireToken {
			return nil, fmt.Errorf("token validation unavailable")
		}
		s.log.Warn("match token presented but no verifier configured; ignoring token")
		return nil, nil
	}
	claims, err := v.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("invalid match token")
	}
	return claims, nil
}
