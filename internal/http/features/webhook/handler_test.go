package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/identity"
	"github.com/fitlane/chatroom/pkg/rooms"
)

// stubStore backs the access service with a single bound room.
type stubStore struct {
	room    *domain.Room
	channel string
	members map[uuid.UUID]bool
}

func (s *stubStore) GetByChannelID(_ context.Context, channelID string) (*domain.Room, error) {
	if s.room != nil && channelID == s.channel {
		return s.room, nil
	}
	return nil, domain.ErrRoomNotFound
}

func (s *stubStore) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	if s.room == nil || roomID != s.room.ID {
		return false, nil
	}
	return s.members[userID], nil
}

func (s *stubStore) GetByKey(context.Context, string) (*domain.Room, error) {
	return nil, domain.ErrRoomNotFound
}

func (s *stubStore) GetByID(context.Context, uuid.UUID) (*domain.Room, error) {
	return nil, domain.ErrRoomNotFound
}

func (s *stubStore) CreateWithHandle(context.Context, *domain.Room, []uuid.UUID, *domain.ExternalHandle) error {
	return nil
}

func (s *stubStore) MembersOf(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubStore) ListForUser(context.Context, uuid.UUID, uuid.UUID) ([]*domain.Room, error) {
	return nil, nil
}

func (s *stubStore) HandleOf(context.Context, uuid.UUID) (*domain.ExternalHandle, error) {
	return nil, domain.ErrHandleNotFound
}

func (s *stubStore) RemoveHandle(context.Context, uuid.UUID) error { return nil }
func (s *stubStore) Close(context.Context, uuid.UUID) error        { return nil }

type stubEvents struct{}

func (stubEvents) IsRegistered(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

type recordingSender struct {
	recipients []uuid.UUID
	preview    string
	err        error
}

func (s *recordingSender) Send(_ context.Context, userIDs []uuid.UUID, preview string) error {
	s.recipients = userIDs
	s.preview = preview
	return s.err
}

func newTestHandler(store *stubStore, sender rooms.NotificationSender) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	access := rooms.NewAccessService(logger, store, stubEvents{})
	return NewHandler(logger, access, sender)
}

func TestAccess(t *testing.T) {
	tenant := uuid.New()
	member := uuid.New()
	outsider := uuid.New()

	store := &stubStore{
		room: &domain.Room{
			ID:             uuid.New(),
			Kind:           domain.RoomKindGroup,
			Status:         domain.RoomStatusActive,
			OwningTenantID: tenant,
			CreatedAt:      time.Now().UTC(),
		},
		channel: "chan-1",
		members: map[uuid.UUID]bool{member: true},
	}
	handler := newTestHandler(store, nil)

	tests := []struct {
		name      string
		body      string
		wantAllow bool
	}{
		{
			name:      "member allowed",
			body:      fmt.Sprintf(`{"user":%q,"channel_id":"chan-1","action":"read"}`, identity.Encode(tenant, member)),
			wantAllow: true,
		},
		{
			name:      "non-member denied",
			body:      fmt.Sprintf(`{"user":%q,"channel_id":"chan-1","action":"read"}`, identity.Encode(tenant, outsider)),
			wantAllow: false,
		},
		{
			name:      "unknown channel denied",
			body:      fmt.Sprintf(`{"user":%q,"channel_id":"chan-unknown","action":"read"}`, identity.Encode(tenant, member)),
			wantAllow: false,
		},
		{
			name:      "malformed identity denied",
			body:      `{"user":"not-an-identity","channel_id":"chan-1","action":"read"}`,
			wantAllow: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/webhooks/access", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.Access(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
			}
			var decision rooms.Decision
			if err := json.NewDecoder(w.Body).Decode(&decision); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if decision.Allow != tt.wantAllow {
				t.Errorf("allow = %v (%q), want %v", decision.Allow, decision.Reason, tt.wantAllow)
			}
			if decision.Reason == "" {
				t.Error("reason must not be empty")
			}
		})
	}
}

func TestMessage_NotifiesEligibleRecipients(t *testing.T) {
	tenant := uuid.New()
	sender := uuid.New()
	unreadOffline := uuid.New()
	online := uuid.New()
	caughtUp := uuid.New()

	push := &recordingSender{}
	handler := newTestHandler(&stubStore{}, push)

	body := fmt.Sprintf(`{
		"channel_id": "chan-1",
		"sender": %q,
		"preview": "see you at the 6pm class",
		"members": [
			{"user": %q, "unread_count": 3, "online": false},
			{"user": %q, "unread_count": 2, "online": true},
			{"user": %q, "unread_count": 0, "online": false},
			{"user": %q, "unread_count": 5, "online": false}
		]
	}`,
		identity.Encode(tenant, sender),
		identity.Encode(tenant, unreadOffline),
		identity.Encode(tenant, online),
		identity.Encode(tenant, caughtUp),
		identity.Encode(tenant, sender),
	)

	req := httptest.NewRequest("POST", "/v1/webhooks/message", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Message(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["delivered_to"] != 1 {
		t.Errorf("delivered_to = %d, want 1", resp["delivered_to"])
	}
	if len(push.recipients) != 1 || push.recipients[0] != unreadOffline {
		t.Errorf("recipients = %v, want only the offline unread member", push.recipients)
	}
	if push.preview != "see you at the 6pm class" {
		t.Errorf("preview = %q", push.preview)
	}
}

func TestMessage_SenderFailureStillResponds(t *testing.T) {
	tenant := uuid.New()
	sender := uuid.New()
	recipient := uuid.New()

	push := &recordingSender{err: fmt.Errorf("push gateway down")}
	handler := newTestHandler(&stubStore{}, push)

	body := fmt.Sprintf(`{
		"channel_id": "chan-1",
		"sender": %q,
		"members": [{"user": %q, "unread_count": 1, "online": false}]
	}`, identity.Encode(tenant, sender), identity.Encode(tenant, recipient))

	req := httptest.NewRequest("POST", "/v1/webhooks/message", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Message(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("got status %d, want %d: push failures are not webhook failures", w.Code, http.StatusOK)
	}
}

func TestMessage_MalformedSenderRejected(t *testing.T) {
	handler := newTestHandler(&stubStore{}, nil)

	body := `{"channel_id": "chan-1", "sender": "garbage", "members": []}`
	req := httptest.NewRequest("POST", "/v1/webhooks/message", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Message(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMessage_SkipsMalformedMembers(t *testing.T) {
	tenant := uuid.New()
	sender := uuid.New()
	recipient := uuid.New()

	push := &recordingSender{}
	handler := newTestHandler(&stubStore{}, push)

	body := fmt.Sprintf(`{
		"channel_id": "chan-1",
		"sender": %q,
		"members": [
			{"user": "garbage", "unread_count": 1, "online": false},
			{"user": %q, "unread_count": 1, "online": false}
		]
	}`, identity.Encode(tenant, sender), identity.Encode(tenant, recipient))

	req := httptest.NewRequest("POST", "/v1/webhooks/message", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.Message(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
	if len(push.recipients) != 1 || push.recipients[0] != recipient {
		t.Errorf("recipients = %v, want only the well-formed member", push.recipients)
	}
}
