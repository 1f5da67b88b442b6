// Package events is an HTTP client for the event registration service. It
// answers whether a user holds an active registration for an event such as
// a class or a training session.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Config holds the event service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the event registration service.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates an event service client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

type registrationResponse struct {
	Registered bool `json:"registered"`
}

// IsRegistered reports whether the user holds an active registration for
// the event.
func (c *Client) IsRegistered(ctx context.Context, userID, eventID uuid.UUID) (bool, error) {
	url := fmt.Sprintf("%s/v1/events/%s/registrations/%s", c.config.BaseURL, eventID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-API-Key", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("event service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("event service returned %d", resp.StatusCode)
	}

	var body registrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("event service: decoding response: %w", err)
	}
	return body.Registered, nil
}
