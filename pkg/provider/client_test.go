package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitlane/chatroom/pkg/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:    server.URL,
		APIKey:     "key",
		APISecret:  "secret",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateChannel_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/channels" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing bearer token")
		}
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("X-Api-Key = %q, want %q", r.Header.Get("X-Api-Key"), "key")
		}
		w.Write([]byte(`{"id":"chan-123"}`))
	})

	id, err := client.CreateChannel(context.Background(), CreateChannelParams{
		Kind:      "direct",
		Namespace: "tenant_x",
		MemberIDs: []string{"tenant_x_user_a", "tenant_x_user_b"},
	})
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}
	if id != "chan-123" {
		t.Errorf("channel id = %q, want %q", id, "chan-123")
	}
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"chan-1"}`))
	})

	if _, err := client.CreateChannel(context.Background(), CreateChannelParams{}); err != nil {
		t.Fatalf("CreateChannel failed after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustedRetriesIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.CreateChannel(context.Background(), CreateChannelParams{})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestDo_ClientErrorIsRejectedAndNotRetried(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"malformed member identity"}`))
	})

	_, err := client.CreateChannel(context.Background(), CreateChannelParams{})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Errorf("error = %v, want ErrProviderRejected", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not be retried)", calls)
	}
}

func TestListChannels_NamespaceFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("team") != "tenant_abc" {
			t.Errorf("team filter = %q, want %q", r.URL.Query().Get("team"), "tenant_abc")
		}
		w.Write([]byte(`{"channels":[{"id":"c1","kind":"group","team":"tenant_abc","members":[]}]}`))
	})

	channels, err := client.ListChannels(context.Background(), "tenant_abc")
	if err != nil {
		t.Fatalf("ListChannels failed: %v", err)
	}
	if len(channels) != 1 || channels[0].ID != "c1" {
		t.Errorf("channels = %+v, want one channel c1", channels)
	}
}
