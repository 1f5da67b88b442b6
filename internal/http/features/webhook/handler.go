package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fitlane/chatroom/internal/http/middleware"
	"github.com/fitlane/chatroom/internal/httputil"
	"github.com/fitlane/chatroom/pkg/identity"
	"github.com/fitlane/chatroom/pkg/rooms"
)

// Handler handles synchronous callbacks from the chat provider.
type Handler struct {
	logger *slog.Logger
	access *rooms.AccessService
	sender rooms.NotificationSender
}

// NewHandler creates a new webhook handler. sender may be nil when no push
// transport is configured; message webhooks then report zero deliveries.
func NewHandler(logger *slog.Logger, access *rooms.AccessService, sender rooms.NotificationSender) *Handler {
	return &Handler{
		logger: logger,
		access: access,
		sender: sender,
	}
}

// AccessRequest is the provider's pre-action authorization callback.
type AccessRequest struct {
	User      string `json:"user"`
	ChannelID string `json:"channel_id"`
	Action    string `json:"action"`
}

// MessageRequest is the provider's post-message callback used to fan out
// push notifications.
type MessageRequest struct {
	ChannelID string          `json:"channel_id"`
	Sender    string          `json:"sender"`
	Preview   string          `json:"preview"`
	Members   []messageMember `json:"members"`
}

type messageMember struct {
	User        string `json:"user"`
	UnreadCount int    `json:"unread_count"`
	Online      bool   `json:"online"`
}

// Access decides whether a user may perform an action on a channel.
// POST /v1/webhooks/access
//
// Always responds 200 with an allow/deny decision: a failed decision is a
// deny, not a transport error the provider would retry.
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	var req AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision := h.access.Decide(r.Context(), req.User, req.ChannelID, req.Action)
	httputil.JSON(w, http.StatusOK, decision)
}

// Message evaluates notification eligibility for a delivered message and
// hands eligible recipients to the push transport.
// POST /v1/webhooks/message
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sender, err := identity.Decode(req.Sender)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "malformed sender identity")
		return
	}

	members := make([]rooms.MemberState, 0, len(req.Members))
	for _, m := range req.Members {
		decoded, err := identity.Decode(m.User)
		if err != nil {
			// A malformed member cannot be notified; skip rather than
			// failing the whole fan-out.
			h.logger.Warn("skipping malformed member identity", "channel_id", req.ChannelID)
			continue
		}
		members = append(members, rooms.MemberState{
			UserID:      decoded.UserID,
			UnreadCount: m.UnreadCount,
			Online:      m.Online,
		})
	}

	eligible := rooms.EligibleRecipients(sender.UserID, members)

	if len(eligible) > 0 && h.sender != nil {
		if err := h.sender.Send(r.Context(), eligible, req.Preview); err != nil {
			// Delivery is best-effort; the provider already accepted the
			// message.
			h.logger.Error("push delivery failed",
				"channel_id", req.ChannelID,
				"recipients", len(eligible),
				"error", err,
			)
		}
	}

	httputil.JSON(w, http.StatusOK, map[string]int{"delivered_to": len(eligible)})
}
