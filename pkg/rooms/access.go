package rooms

import (
	"context"
	"log/slog"

	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/identity"
	"github.com/fitlane/chatroom/pkg/roomkey"
)

// Decision is the provider's fixed two-field access-check contract.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

func deny(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// AccessService answers the provider's synchronous "can this identity
// read/write this channel" webhook. Decisions are computed from local state
// only: calling back into the provider here would deadlock its own request.
type AccessService struct {
	logger *slog.Logger
	store  Store
	events EventRegistry
}

// NewAccessService creates an access-decision service.
func NewAccessService(logger *slog.Logger, store Store, events EventRegistry) *AccessService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessService{logger: logger, store: store, events: events}
}

// Decide evaluates one authorization request. It never fails: internal
// errors resolve to a denial.
func (s *AccessService) Decide(ctx context.Context, externalIdentity, channelID, action string) Decision {
	decoded, err := identity.Decode(externalIdentity)
	if err != nil {
		return deny("invalid identity")
	}

	room, err := s.store.GetByChannelID(ctx, channelID)
	if err != nil {
		if err != domain.ErrRoomNotFound {
			s.logger.Error("access check failed", "channel_id", channelID, "error", err)
			return deny("access check unavailable")
		}
		return deny("unknown channel")
	}
	if !room.IsActive() {
		return deny("room closed")
	}

	isMember, err := s.store.IsMember(ctx, room.ID, decoded.UserID)
	if err != nil {
		s.logger.Error("access check failed", "room_id", room.ID, "error", err)
		return deny("access check unavailable")
	}
	if !isMember {
		return deny("not a member")
	}

	// Event rooms require an active registration on top of room membership:
	// being a tenant member must not open an event's chat. Without an event
	// registry, membership alone decides.
	if room.Kind == domain.RoomKindEvent && s.events != nil {
		_, eventID, err := roomkey.ParseEventKey(room.CanonicalKey)
		if err != nil {
			s.logger.Error("event room with unparsable key", "room_id", room.ID, "error", err)
			return deny("access check unavailable")
		}
		registered, err := s.events.IsRegistered(ctx, decoded.UserID, eventID)
		if err != nil {
			s.logger.Error("event registration lookup failed", "room_id", room.ID, "error", err)
			return deny("access check unavailable")
		}
		if !registered {
			return deny("not registered for event")
		}
	}

	return Decision{Allow: true, Reason: "member"}
}
