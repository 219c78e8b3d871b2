package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/landrun/landrun/internal/admin"
	"github.com/landrun/landrun/internal/cluster"
	"github.com/landrun/landrun/internal/config"
	"github.com/landrun/landrun/internal/demo"
	"github.com/landrun/landrun/internal/matchtoken"
	"github.com/landrun/landrun/internal/provisioning"
	"github.com/landrun/landrun/internal/realm"
	"github.com/landrun/landrun/internal/transport"
)

const GameConfigPath = "config/gameserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := GameConfigPath
	if p := os.Getenv("LANDRUN_GAME_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadGameServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	log := slog.Default()

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	log.Info("game server starting", "node", nodeID, "log_level", cfg.LogLevel)

	r := realm.New(ctx, log, cfg.RetireGrace())
	if err := demo.Register(r); err != nil {
		return fmt.Errorf("registering land types: %w", err)
	}

	enc, err := transport.ParseEncoding(cfg.TransportEncoding)
	if err != nil {
		return fmt.Errorf("transport encoding: %w", err)
	}
	wsServer := transport.NewServer(r, transport.ServerConfig{
		Encoding:     enc,
		HashedPaths:  cfg.HashedPaths,
		QueueSize:    cfg.SendQueueSize,
		RequireToken: cfg.RequireMatchToken,
	}, log)

	auth, err := adminAuth(cfg.Admin)
	if err != nil {
		return fmt.Errorf("admin config: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/game/", wsServer)
	admin.NewServer(r, nil, nil, auth, log).Routes(mux)

	g, gctx := errgroup.WithContext(ctx)

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
		defer rdb.Close()

		dir := cluster.NewRedisDirectory(rdb, cfg.DirectoryTTL())
		inbox := cluster.NewRedisInbox(rdb, log)
		guard := cluster.NewGuard(dir, inbox, nodeID, log)
		guard.Kick = func(userID string, code int, reason string) {
			wsServer.KickUser(userID, code, reason)
		}
		wsServer.OnAccept = func(ctx context.Context, userID string) {
			if err := guard.OnConnect(ctx, userID); err != nil {
				log.Warn("lease acquire failed", "user", userID, "err", err)
			}
		}
		wsServer.OnRelease = func(userID string) {
			guard.OnDisconnect(context.Background(), userID)
		}

		g.Go(func() error { return inbox.Run(gctx, nodeID, guard.HandleInbox) })
		g.Go(func() error { return guard.RunRenewal(gctx, cfg.DirectoryTTL()) })
		log.Info("cluster directory enabled", "redis", cfg.Redis.Addr(), "lease_ttl", cfg.DirectoryTTL())
	}

	if cfg.ProvisioningBaseURL != "" {
		client := provisioning.NewClient(cfg.ProvisioningBaseURL, nil, log)
		g.Go(func() error {
			return client.RunHeartbeat(gctx, cfg.HeartbeatInterval(), func() provisioning.ServerEntry {
				return provisioning.ServerEntry{
					ServerID:      nodeID,
					Host:          hostOrDefault(cfg.BindAddress),
					Port:          cfg.Port,
					LandType:      "duel",
					ConnectHost:   cfg.ConnectHost,
					ConnectPort:   cfg.ConnectPort,
					ConnectScheme: cfg.ConnectScheme,
					Capacity:      cfg.Capacity,
					ActiveLands:   r.Stats().Lands,
				}
			})
		})
		g.Go(func() error { return runJWKSRefresh(gctx, cfg.ProvisioningBaseURL, wsServer, log) })
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler: mux,
	}
	g.Go(func() error {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// runJWKSRefresh keeps the match-token verifier current against the control
// plane's published key set. The first successful fetch arms token checks;
// later failures keep the previous keys.
func runJWKSRefresh(ctx context.Context, baseURL string, srv *transport.Server, log *slog.Logger) error {
	url := baseURL + "/.well-known/jwks.json"
	refresh := func() {
		set, err := transport.FetchJWKS(ctx, nil, url)
		if err != nil {
			log.Warn("jwks fetch failed", "url", url, "err", err)
			return
		}
		v, err := matchtoken.NewVerifier(set, "")
		if err != nil {
			log.Warn("jwks unusable", "err", err)
			return
		}
		srv.SetVerifier(v)
	}
	refresh()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refresh()
		}
	}
}

func adminAuth(cfg config.AdminConfig) (*admin.Auth, error) {
	keys := make(map[string]admin.Role, len(cfg.APIKeys))
	for key, roleName := range cfg.APIKeys {
		role, err := admin.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("api key role: %w", err)
		}
		keys[key] = role
	}
	return admin.NewAuth(keys), nil
}

// hostOrDefault maps the wildcard bind address to a registrable hostname.
func hostOrDefault(bind string) string {
	if bind == "" || bind == "0.0.0.0" || bind == "::" {
		host, err := os.Hostname()
		if err == nil && host != "" {
			return host
		}
		return "localhost"
	}
	return bind
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
