// Package transport is the HTTP client for the real-time transport's
// publish API. It implements the two primitives the dispatcher consumes:
// a batched multi-channel publish and a per-channel publish.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Circuit breaker settings for the batched path. The per-channel path is
// deliberately unprotected: it is already the fallback and must not gain
// retry-like behaviour.
const (
	breakerThreshold = 5
	breakerTimeout   = 10 * time.Second
)

// Config represents the transport client config structure.
type Config struct {
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`

	// Disabled turns the client off entirely; the dispatcher then runs
	// in no-op mode.
	Disabled bool `koanf:"disabled"`
}

// Client talks to the transport's publish API.
type Client struct {
	cfg     *Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// New returns a transport Client.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg: &cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "transport-publish-multi",
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("transport breaker state changed",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		log: log,
	}
}

type publishReq struct {
	AppID    string          `json:"app_id"`
	Channel  string          `json:"channel,omitempty"`
	Channels json.RawMessage `json:"channels,omitempty"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// PublishMulti publishes one event to many channels in a single call.
// channels is a JSON array of channel names. Calls are routed through a
// circuit breaker so a struggling transport fails fast into the
// dispatcher's per-channel fallback.
func (c *Client) PublishMulti(ctx context.Context, appID string, channels []byte, event string, payload []byte) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, "/api/publish-multi", publishReq{
			AppID:    appID,
			Channels: channels,
			Event:    event,
			Data:     payload,
		})
	})
	return err
}

// Publish publishes one event to one channel.
func (c *Client) Publish(ctx context.Context, appID, channel, event string, payload []byte) error {
	return c.post(ctx, "/api/publish", publishReq{
		AppID:   appID,
		Channel: channel,
		Event:   event,
		Data:    payload,
	})
}

func (c *Client) post(ctx context.Context, path string, body publishReq) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshalling publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("error creating publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "apikey "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing publish request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected publish status: %d", resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("error decoding publish response: %w", err)
	}
	if e, ok := out["error"]; ok && e != nil {
		return fmt.Errorf("transport error: %v", e)
	}
	return nil
}
