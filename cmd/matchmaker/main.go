package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
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
	"github.com/landrun/landrun/internal/matchmaking"
	"github.com/landrun/landrun/internal/matchtoken"
	"github.com/landrun/landrun/internal/provisioning"
	"github.com/landrun/landrun/internal/realtime"
)

const MatchmakerConfigPath = "config/matchmaker.yaml"

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
	cfgPath := MatchmakerConfigPath
	if p := os.Getenv("LANDRUN_MATCHMAKER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadMatchmaker(cfgPath)
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
	log.Info("matchmaker starting", "node", nodeID, "role", cfg.Role, "log_level", cfg.LogLevel)

	signer, err := buildSigner(cfg)
	if err != nil {
		return fmt.Errorf("match token signer: %w", err)
	}

	var (
		rdb      *redis.Client
		store    matchmaking.Store
		srvStore provisioning.Store
		locator  realtime.Locator
		inbox    *cluster.RedisInbox
	)
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
		defer rdb.Close()
		store = matchmaking.NewRedisStore(rdb)
		srvStore = provisioning.NewRedisStore(rdb, provisioning.DefaultTTL)
		locator = realtime.NewRedisLocator(rdb)
		inbox = cluster.NewRedisInbox(rdb, log)
		log.Info("redis coordination enabled", "addr", cfg.Redis.Addr())
	} else {
		store = matchmaking.NewMemoryStore()
		srvStore = provisioning.NewMemoryStore(provisioning.DefaultTTL)
		locator = realtime.NewMemoryLocator()
	}
	registry := provisioning.NewRegistry(srvStore, provisioning.DefaultTTL, log)

	auth, err := adminAuth(cfg.Admin)
	if err != nil {
		return fmt.Errorf("admin config: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var gw *realtime.Gateway
	if cfg.RunsAPI() {
		gw = realtime.NewGateway(nodeID, locator, log)

		mux := http.NewServeMux()
		matchmaking.NewAPI(store, signer, log).Routes(mux)
		provisioning.NewHandler(registry).Routes(mux)
		mux.Handle("GET /realtime", gw)
		admin.NewServer(nil, store, registry, auth, log).Routes(mux)

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

		if rdb != nil {
			g.Go(func() error { return realtime.RunBroadcast(gctx, rdb, gw, log) })
			if cfg.UseNodeInbox {
				g.Go(func() error { return inbox.Run(gctx, nodeID, realtime.HandleInbox(gw, log)) })
			}
		}
	}

	if cfg.RunsWorker() {
		// Without Redis the worker and gateway share a process, so assignments
		// are delivered in-memory. With Redis they travel over pub/sub and the
		// worker may live on a different node.
		var pub matchmaking.AssignmentPublisher
		if rdb != nil {
			pub = realtime.NewPublisher(rdb, inbox, locator, cfg.UseNodeInbox, log)
		} else if gw != nil {
			pub = gw
		} else {
			return fmt.Errorf("role %q needs redis: a lone worker has no way to push assignments", cfg.Role)
		}

		worker := matchmaking.NewWorker(store, registry, signer, pub, matchmaking.WorkerConfig{
			Interval:   cfg.TickInterval(),
			MinWait:    cfg.MinWait(),
			RelaxAfter: cfg.RelaxAfter(),
			TicketTTL:  cfg.TicketTTL(),
		}, log)
		g.Go(func() error { return worker.Run(gctx) })
	}

	return g.Wait()
}

// buildSigner loads the RSA signing key from disk, or generates an ephemeral
// one. Generated keys are fine for a single node; multi-node API deployments
// must share a key file so every node serves the same JWKS.
func buildSigner(cfg config.Matchmaker) (*matchtoken.Signer, error) {
	if cfg.SigningKeyFile == "" {
		return matchtoken.GenerateSigner(cfg.TokenIssuer, cfg.TokenTTL())
	}
	data, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing key %s is not PEM", cfg.SigningKeyFile)
	}
	key, err := parseRSAKey(block)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	return matchtoken.NewSigner(key, cfg.TokenIssuer, cfg.TokenTTL())
}

func parseRSAKey(block *pem.Block) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return key, nil
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
