// Package notify is an HTTP client for the push notification service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Config holds the notification service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the push notification service.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a notification service client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

type pushRequest struct {
	UserIDs []string `json:"user_ids"`
	Preview string   `json:"preview"`
}

// Send delivers a message preview push to the given users.
func (c *Client) Send(ctx context.Context, userIDs []uuid.UUID, preview string) error {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}
	payload, err := json.Marshal(pushRequest{UserIDs: ids, Preview: preview})
	if err != nil {
		return err
	}

	url := c.config.BaseURL + "/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notification service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}
