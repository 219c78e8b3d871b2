package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultHeartbeatInterval keeps entries comfortably inside the 90s TTL.
const DefaultHeartbeatInterval = 30 * time.Second

// Client is the game-server side of provisioning: it registers the node on
// boot and heartbeats for as long as the process lives.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// NewClient builds a provisioning client against the control plane base
// URL.
func NewClient(baseURL string, httpClient *http.Client, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{baseURL: baseURL, http: httpClient, log: log}
}

// Register registers or heartbeats this server.
func (c *Client) Register(ctx context.Context, e ServerEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/provisioning/servers/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registering server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registration returned %s", resp.Status)
	}
	return nil
}

// Deregister removes this server from the directory.
func (c *Client) Deregister(ctx context.Context, serverID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/provisioning/servers/"+serverID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deregistering server: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// RunHeartbeat registers immediately and then heartbeats until the context
// is cancelled, deregistering on the way out. entry is called per beat so
// the node can report current load.
func (c *Client) RunHeartbeat(ctx context.Context, interval time.Duration, entry func() ServerEntry) error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	beat := func() {
		if err := c.Register(ctx, entry()); err != nil {
			c.log.Warn("heartbeat failed", "err", err)
		}
	}
	beat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Deregister(shutdownCtx, entry().ServerID); err != nil {
				c.log.Warn("deregistration on shutdown failed", "err", err)
			}
			return ctx.Err()
		case <-ticker.C:
			beat()
		}
	}
}
