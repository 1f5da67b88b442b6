package room

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fitlane/chatroom/internal/http/middleware"
	"github.com/fitlane/chatroom/internal/httputil"
	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/rooms"
)

// Handler handles room resolution endpoints.
type Handler struct {
	logger  *slog.Logger
	service *rooms.Service
}

// NewHandler creates a new room handler.
func NewHandler(logger *slog.Logger, service *rooms.Service) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
	}
}

// ResolveRequest represents a room resolution request.
type ResolveRequest struct {
	Kind        string   `json:"kind"`
	RequesterID string   `json:"requester_id"`
	TenantID    string   `json:"tenant_id"`
	PeerID      string   `json:"peer_id,omitempty"`
	MemberIDs   []string `json:"member_ids,omitempty"`
	EventID     string   `json:"event_id,omitempty"`
}

// RoomResponse represents a room in API responses. Canonical keys and
// provider channel ids are internal and never leave the service.
type RoomResponse struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toRoomResponse(room *domain.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID.String(),
		Kind:      string(room.Kind),
		Status:    string(room.Status),
		TenantID:  room.OwningTenantID.String(),
		CreatedAt: room.CreatedAt,
	}
}

// Resolve resolves a conversation to its room, creating it if needed.
// POST /v1/rooms/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if middleware.HandleMaxBytesError(w, err) {
			return
		}
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "requester_id must be a UUID")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "tenant_id must be a UUID")
		return
	}

	resolve := rooms.ResolveRequest{
		Kind:             domain.RoomKind(req.Kind),
		RequesterID:      requesterID,
		RequestingTenant: tenantID,
	}
	if req.PeerID != "" {
		peerID, err := uuid.Parse(req.PeerID)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "peer_id must be a UUID")
			return
		}
		resolve.PeerID = peerID
	}
	for _, raw := range req.MemberIDs {
		memberID, err := uuid.Parse(raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "member_ids must be UUIDs")
			return
		}
		resolve.MemberIDs = append(resolve.MemberIDs, memberID)
	}
	if req.EventID != "" {
		eventID, err := uuid.Parse(req.EventID)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "event_id must be a UUID")
			return
		}
		resolve.EventID = eventID
	}

	room, err := h.service.ResolveOrCreate(r.Context(), resolve)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toRoomResponse(room))
}

// List returns the rooms visible to a user within a tenant.
// GET /v1/rooms?user_id=&tenant_id=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "user_id must be a UUID")
		return
	}
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "tenant_id must be a UUID")
		return
	}

	visible, err := h.service.ListForUser(r.Context(), userID, tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	responses := make([]RoomResponse, 0, len(visible))
	for _, room := range visible {
		responses = append(responses, toRoomResponse(room))
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"rooms": responses})
}

// Close closes a room.
// DELETE /v1/rooms/{roomID}?actor_id=
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(chi.URLParam(r, "roomID"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "room id must be a UUID")
		return
	}
	actorID, err := uuid.Parse(r.URL.Query().Get("actor_id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "actor_id must be a UUID")
		return
	}

	if err := h.service.CloseRoom(r.Context(), roomID, actorID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors to stable HTTP responses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		httputil.Error(w, http.StatusBadRequest, "invalid room request")
	case errors.Is(err, domain.ErrNoSharedTenant):
		httputil.Error(w, http.StatusUnprocessableEntity, "participants share no tenant")
	case errors.Is(err, domain.ErrNotAuthorized):
		httputil.Error(w, http.StatusForbidden, "not authorized for this action")
	case errors.Is(err, domain.ErrNotAMember):
		httputil.Error(w, http.StatusForbidden, "not a member of the room")
	case errors.Is(err, domain.ErrRoomNotFound):
		httputil.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, domain.ErrRoomClosed):
		httputil.Error(w, http.StatusConflict, "room is closed")
	case errors.Is(err, domain.ErrTenantNotFound):
		httputil.Error(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, domain.ErrProviderUnavailable):
		h.logger.Error("chat provider unreachable", "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "chat provider unavailable")
	case errors.Is(err, domain.ErrProviderRejected):
		h.logger.Error("chat provider rejected request", "error", err)
		httputil.Error(w, http.StatusBadGateway, "chat provider error")
	default:
		h.logger.Error("room operation failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
