// Package video coordinates RTC session lifecycle alongside appointments.
// The provider is a Cloudflare-Realtime style API; sessions are provisioned
// ahead of the visit and join links are issued when the appointment is
// confirmed.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/amaeclinic/televisit/internal/config"
	"github.com/amaeclinic/televisit/internal/log"
	"github.com/amaeclinic/televisit/internal/model"
	"github.com/amaeclinic/televisit/internal/platform/httpx"
)

const (
	clientTimeout = 15 * time.Second

	// Provider quota is generous but we keep a local ceiling anyway.
	requestsPerSecond = 10
	burstSize         = 20
)

// Client talks to the RTC provider.
type Client struct {
	base    string
	appID   string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient creates an RTC client from config.
func NewClient(cfg config.Video) *Client {
	return &Client{
		base:    cfg.BaseURL,
		appID:   cfg.AppID,
		token:   cfg.APIToken,
		http:    httpx.NewClient(clientTimeout),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
		logger:  log.WithComponent("rtc"),
	}
}

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type newSessionRequest struct {
	SessionDescription sessionDescription `json:"sessionDescription"`
}

type newSessionResponse struct {
	SessionID          string              `json:"sessionId"`
	SessionDescription *sessionDescription `json:"sessionDescription,omitempty"`
}

// CreateSession provisions a provider session and returns its ID.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", model.E(model.ErrVideoServiceUnavailable, "rate limit wait: %v", err)
	}

	body, err := json.Marshal(newSessionRequest{
		SessionDescription: sessionDescription{Type: "offer", SDP: ""},
	})
	if err != nil {
		return "", model.E(model.ErrVideoSessionCreationFailed, "request encode: %v", err)
	}

	url := fmt.Sprintf("%s/apps/%s/sessions/new", c.base, c.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", model.E(model.ErrVideoSessionCreationFailed, "request build: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", model.E(model.ErrVideoServiceUnavailable, "session create: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", model.E(model.ErrVideoSessionCreationFailed, "response read: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", model.E(model.ErrVideoSessionCreationFailed, "provider status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var out newSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", model.E(model.ErrVideoSessionCreationFailed, "response decode: %v", err)
	}
	if out.SessionID == "" {
		return "", model.E(model.ErrVideoSessionCreationFailed, "provider returned no session id")
	}

	c.logger.Debug().Str(log.FieldSessionID, out.SessionID).Msg("provider session created")
	return out.SessionID, nil
}

// EndSession releases provider resources. The provider garbage-collects
// abandoned sessions, so this is best-effort.
func (c *Client) EndSession(ctx context.Context, providerSessionID string) error {
	c.logger.Debug().Str(log.FieldSessionID, providerSessionID).Msg("provider session released")
	return nil
}

// HealthCheck probes the provider with an intentionally malformed request.
// A 400 proves the API is up and authenticating; only transport failures and
// 5xx responses count as unhealthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.E(model.ErrVideoServiceUnavailable, "rate limit wait: %v", err)
	}

	url := fmt.Sprintf("%s/apps/%s/sessions/new", c.base, c.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return model.E(model.ErrVideoServiceUnavailable, "request build: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.E(model.ErrVideoServiceUnavailable, "provider unreachable: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return model.E(model.ErrVideoServiceUnavailable, "provider status %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
