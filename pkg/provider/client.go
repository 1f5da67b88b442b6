// Package provider implements the HTTP client for the external real-time
// chat provider: channel create/query/delete, membership add/remove, and
// the listing/relabel operations reconciliation depends on.
//
// The provider is treated as a cache that may drift. Callers persist local
// state only after a remote create succeeds; divergence is detected by the
// reconciliation auditor, never papered over here.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fitlane/chatroom/pkg/domain"
)

// Config holds provider connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to the provider's server-side REST API. Requests are
// authenticated with a short-lived JWT signed with the API secret.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new provider client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Channel is the provider's view of a conversation.
type Channel struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Namespace string   `json:"team"`
	Members   []string `json:"members"`
}

// CreateChannelParams describes the channel to create. MemberIDs are
// external identities encoded under the room's owning tenant.
type CreateChannelParams struct {
	Kind      string   `json:"kind"`
	Namespace string   `json:"team"`
	MemberIDs []string `json:"members"`
}

// CreateChannel creates a remote channel and returns its provider id.
func (c *Client) CreateChannel(ctx context.Context, params CreateChannelParams) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/channels", params, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// QueryChannel fetches the provider's current state for a channel.
func (c *Client) QueryChannel(ctx context.Context, channelID string) (*Channel, error) {
	var channel Channel
	if err := c.do(ctx, http.MethodGet, "/v1/channels/"+url.PathEscape(channelID), nil, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

// DeleteChannel removes a remote channel.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/channels/"+url.PathEscape(channelID), nil, nil)
}

// AddMembers adds external identities to a channel.
func (c *Client) AddMembers(ctx context.Context, channelID string, memberIDs []string) error {
	body := map[string][]string{"members": memberIDs}
	return c.do(ctx, http.MethodPost, "/v1/channels/"+url.PathEscape(channelID)+"/members", body, nil)
}

// RemoveMembers removes external identities from a channel.
func (c *Client) RemoveMembers(ctx context.Context, channelID string, memberIDs []string) error {
	body := map[string][]string{"members": memberIDs}
	return c.do(ctx, http.MethodDelete, "/v1/channels/"+url.PathEscape(channelID)+"/members", body, nil)
}

// ListChannels returns the provider's channels, filtered to one namespace
// when namespace is non-empty. The auditor scans all namespaces with "".
func (c *Client) ListChannels(ctx context.Context, namespace string) ([]Channel, error) {
	path := "/v1/channels"
	if namespace != "" {
		path += "?team=" + url.QueryEscape(namespace)
	}
	var resp struct {
		Channels []Channel `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// UpdateChannelNamespace relabels a channel's partitioning namespace.
func (c *Client) UpdateChannelNamespace(ctx context.Context, channelID, namespace string) error {
	body := map[string]string{"team": namespace}
	return c.do(ctx, http.MethodPatch, "/v1/channels/"+url.PathEscape(channelID), body, nil)
}

// serverToken mints a short-lived server-to-server JWT.
func (c *Client) serverToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.config.APIKey,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.config.APISecret))
}

// do performs one provider call with bounded retries. Transient failures
// (network errors, 5xx) retry with capped exponential backoff and finally
// surface as domain.ErrProviderUnavailable. 4xx responses are permanent:
// logged with the response body and surfaced as domain.ErrProviderRejected.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 2*time.Second {
				backoff *= 2
			}
		}

		retry, err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		c.logger.Warn("provider call failed, retrying",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return fmt.Errorf("%s %s after %d attempts: %w: %w",
		method, path, c.config.MaxRetries+1, domain.ErrProviderUnavailable, lastErr)
}

// attempt runs a single HTTP round trip. The bool result reports whether
// the failure is transient and worth retrying.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) (bool, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return false, err
	}

	token, err := c.serverToken()
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Api-Key", c.config.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		return true, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return false, fmt.Errorf("decode provider response: %w", err)
			}
		}
		return false, nil

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("provider returned %d", resp.StatusCode)

	default:
		// Permanent rejection. Keep the full exchange for audit.
		c.logger.Error("provider rejected request",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"request", string(payload),
			"response", string(respBody),
		)
		return false, fmt.Errorf("provider returned %d: %w", resp.StatusCode, domain.ErrProviderRejected)
	}
}
