package domain

import (
	"time"

	"github.com/google/uuid"
)

// RoomKind classifies what a conversation is for.
type RoomKind string

const (
	RoomKindDirect    RoomKind = "direct"
	RoomKindGroup     RoomKind = "group"
	RoomKindEvent     RoomKind = "event"
	RoomKindBroadcast RoomKind = "tenant_broadcast"
)

// Valid reports whether the kind is one of the known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomKindDirect, RoomKindGroup, RoomKindEvent, RoomKindBroadcast:
		return true
	}
	return false
}

// RoomStatus represents the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusClosed RoomStatus = "closed"
)

// Room is the local source-of-truth record for a conversation.
// CanonicalKey is unique among active rooms; OwningTenantID is the tenant
// whose namespace the remote channel lives in.
type Room struct {
	ID             uuid.UUID
	Kind           RoomKind
	CanonicalKey   string
	Status         RoomStatus
	OwningTenantID uuid.UUID
	CreatedAt      time.Time
	ClosedAt       *time.Time
}

// IsActive returns true if the room has not been closed.
func (r *Room) IsActive() bool {
	return r.Status == RoomStatusActive
}

// RoomMembership is one participant of a room.
type RoomMembership struct {
	RoomID   uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
}

// ExternalHandle binds a room to the provider's channel identifier and the
// namespace ("team") label the channel was created under.
type ExternalHandle struct {
	RoomID    uuid.UUID
	ChannelID string
	Namespace string
	CreatedAt time.Time
}

// BoundRoom pairs an active room with its external handle.
type BoundRoom struct {
	Room   *Room
	Handle *ExternalHandle
}
