// Package rooms is the resolution engine: it decides which conversation a
// set of participants belongs to, creates the room locally and remotely
// exactly once, and answers the provider's access and notification
// questions from local state.
package rooms

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/gate"
	"github.com/fitlane/chatroom/pkg/identity"
	"github.com/fitlane/chatroom/pkg/provider"
	"github.com/fitlane/chatroom/pkg/roomkey"
)

// Store is the relational source of truth for rooms and memberships.
type Store interface {
	GetByKey(ctx context.Context, canonicalKey string) (*domain.Room, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	GetByChannelID(ctx context.Context, channelID string) (*domain.Room, error)
	CreateWithHandle(ctx context.Context, room *domain.Room, memberIDs []uuid.UUID, handle *domain.ExternalHandle) error
	MembersOf(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ListForUser(ctx context.Context, userID, tenantID uuid.UUID) ([]*domain.Room, error)
	HandleOf(ctx context.Context, roomID uuid.UUID) (*domain.ExternalHandle, error)
	RemoveHandle(ctx context.Context, roomID uuid.UUID) error
	Close(ctx context.Context, roomID uuid.UUID) error
}

// Directory reads tenant memberships owned by the account subsystem.
type Directory interface {
	TenantsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	SharedTenants(ctx context.Context, userA, userB uuid.UUID) ([]uuid.UUID, error)
	Role(ctx context.Context, userID, tenantID uuid.UUID) (domain.Role, error)
	ActiveMembers(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

// Provider is the subset of the chat-provider API the resolver needs.
type Provider interface {
	CreateChannel(ctx context.Context, params provider.CreateChannelParams) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// EventRegistry answers whether a user holds an active registration for an
// event. Owned by the event subsystem.
type EventRegistry interface {
	IsRegistered(ctx context.Context, userID, eventID uuid.UUID) (bool, error)
}

// NotificationSender delivers out-of-band pushes. Owned by the notification
// transport; delivery failures are outside this engine's error taxonomy.
type NotificationSender interface {
	Send(ctx context.Context, userIDs []uuid.UUID, preview string) error
}

// Service resolves conversations to rooms.
type Service struct {
	logger   *slog.Logger
	store    Store
	dir      Directory
	provider Provider
	gate     gate.Gate
	cache    Cache
}

// NewService creates a room-resolution service. cache may be nil.
func NewService(logger *slog.Logger, store Store, dir Directory, prov Provider, g gate.Gate, cache Cache) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:   logger,
		store:    store,
		dir:      dir,
		provider: prov,
		gate:     g,
		cache:    cache,
	}
}

// ResolveRequest describes the conversation a caller wants to open.
// RequesterID and RequestingTenant come from the authenticated context.
type ResolveRequest struct {
	Kind             domain.RoomKind
	RequesterID      uuid.UUID
	RequestingTenant uuid.UUID

	// PeerID is the other participant of a direct room.
	PeerID uuid.UUID
	// MemberIDs are the participants of a group or event room.
	MemberIDs []uuid.UUID
	// EventID identifies the event for an event room.
	EventID uuid.UUID
}

// resolution is the planned identity of a room before it exists.
type resolution struct {
	key          string
	kind         domain.RoomKind
	owningTenant uuid.UUID
	members      []uuid.UUID
}

// ResolveOrCreate returns the active room for the request, creating it
// locally and remotely when none exists. Two concurrent calls for the same
// canonical key converge on a single room: the loser of the gate observes
// the winner's result.
func (s *Service) ResolveOrCreate(ctx context.Context, req ResolveRequest) (*domain.Room, error) {
	res, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	// The cache is keyed by the full canonical key, never by participants
	// plus the requesting tenant: the same logical request from a different
	// shared tenant must hit the same entry.
	if s.cache != nil {
		if roomID, ok := s.cache.Get(ctx, res.key); ok {
			room, err := s.store.GetByID(ctx, roomID)
			if err == nil && room.IsActive() {
				return room, nil
			}
			s.cache.Delete(ctx, res.key)
		}
	}

	var room *domain.Room
	err = s.gate.WithLock(ctx, res.key, func(ctx context.Context) error {
		existing, err := s.store.GetByKey(ctx, res.key)
		if err == nil {
			room = existing
			return nil
		}
		if !errors.Is(err, domain.ErrRoomNotFound) {
			return err
		}
		room, err = s.create(ctx, res)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, res.key, room.ID)
	}
	return room, nil
}

// plan computes the canonical key, owning tenant and member set for a
// request without touching the provider.
func (s *Service) plan(ctx context.Context, req ResolveRequest) (resolution, error) {
	switch req.Kind {
	case domain.RoomKindDirect:
		if req.PeerID == uuid.Nil || req.PeerID == req.RequesterID {
			return resolution{}, domain.ErrInvalidRequest
		}
		shared, err := s.dir.SharedTenants(ctx, req.RequesterID, req.PeerID)
		if err != nil {
			return resolution{}, err
		}
		owning, err := roomkey.SelectOwningTenant(shared, req.RequestingTenant)
		if err != nil {
			return resolution{}, err
		}
		return resolution{
			key:          roomkey.DirectKey(req.RequesterID, req.PeerID),
			kind:         domain.RoomKindDirect,
			owningTenant: owning,
			members:      []uuid.UUID{req.RequesterID, req.PeerID},
		}, nil

	case domain.RoomKindGroup:
		members := withRequester(req.MemberIDs, req.RequesterID)
		if len(members) < 2 {
			return resolution{}, domain.ErrInvalidRequest
		}
		// Groups are tenant-scoped by construction: every member must hold
		// an active membership in the requesting tenant.
		for _, memberID := range members {
			if _, err := s.dir.Role(ctx, memberID, req.RequestingTenant); err != nil {
				return resolution{}, err
			}
		}
		return resolution{
			key:          roomkey.GroupKey(req.RequestingTenant, members),
			kind:         domain.RoomKindGroup,
			owningTenant: req.RequestingTenant,
			members:      members,
		}, nil

	case domain.RoomKindEvent:
		if req.EventID == uuid.Nil {
			return resolution{}, domain.ErrInvalidRequest
		}
		return resolution{
			key:          roomkey.EventKey(req.RequestingTenant, req.EventID),
			kind:         domain.RoomKindEvent,
			owningTenant: req.RequestingTenant,
			members:      withRequester(req.MemberIDs, req.RequesterID),
		}, nil

	case domain.RoomKindBroadcast:
		role, err := s.dir.Role(ctx, req.RequesterID, req.RequestingTenant)
		if err != nil {
			return resolution{}, err
		}
		if !role.AtLeast(domain.RoleStaff) {
			return resolution{}, domain.ErrNotAuthorized
		}
		members, err := s.dir.ActiveMembers(ctx, req.RequestingTenant)
		if err != nil {
			return resolution{}, err
		}
		return resolution{
			key:          roomkey.BroadcastKey(req.RequestingTenant),
			kind:         domain.RoomKindBroadcast,
			owningTenant: req.RequestingTenant,
			members:      members,
		}, nil
	}
	return resolution{}, domain.ErrInvalidRequest
}

// create makes the remote channel first and commits locally only after the
// provider call succeeded, so an aborted resolution never leaves a local
// room pointing at nothing.
func (s *Service) create(ctx context.Context, res resolution) (*domain.Room, error) {
	// Every participant is addressed under the room's owning tenant, not
	// their "current" tenant.
	externalIDs := make([]string, len(res.members))
	for i, memberID := range res.members {
		externalIDs[i] = identity.Encode(res.owningTenant, memberID)
	}

	channelID, err := s.provider.CreateChannel(ctx, provider.CreateChannelParams{
		Kind:      string(res.kind),
		Namespace: identity.Namespace(res.owningTenant),
		MemberIDs: externalIDs,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	room := &domain.Room{
		ID:             uuid.New(),
		Kind:           res.kind,
		CanonicalKey:   res.key,
		Status:         domain.RoomStatusActive,
		OwningTenantID: res.owningTenant,
		CreatedAt:      now,
	}
	handle := &domain.ExternalHandle{
		RoomID:    room.ID,
		ChannelID: channelID,
		Namespace: identity.Namespace(res.owningTenant),
		CreatedAt: now,
	}

	err = s.store.CreateWithHandle(ctx, room, res.members, handle)
	if err == nil {
		s.logger.Info("room created",
			"room_id", room.ID,
			"kind", room.Kind,
			"owning_tenant", res.owningTenant,
			"channel_id", channelID,
		)
		return room, nil
	}

	// Our remote channel is now surplus either way; remove it so it cannot
	// linger as an orphan. The auditor still catches a failed delete.
	if delErr := s.provider.DeleteChannel(ctx, channelID); delErr != nil {
		s.logger.Error("failed to delete surplus remote channel",
			"channel_id", channelID,
			"error", delErr,
		)
	}

	if errors.Is(err, domain.ErrDuplicateKey) {
		// Lost a create race with a writer outside our gate. Adopt the winner.
		return s.store.GetByKey(ctx, res.key)
	}
	return nil, err
}

// ListForUser returns the requester's active rooms visible from a tenant.
func (s *Service) ListForUser(ctx context.Context, userID, tenantID uuid.UUID) ([]*domain.Room, error) {
	return s.store.ListForUser(ctx, userID, tenantID)
}

// CloseRoom closes a room. The actor must be a participant or hold staff or
// better in the owning tenant. The room closes locally even when the remote
// delete fails; the handle is removed only after explicit remote deletion.
func (s *Service) CloseRoom(ctx context.Context, roomID, actorID uuid.UUID) error {
	room, err := s.store.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive() {
		return domain.ErrRoomClosed
	}

	isMember, err := s.store.IsMember(ctx, room.ID, actorID)
	if err != nil {
		return err
	}
	if !isMember {
		role, err := s.dir.Role(ctx, actorID, room.OwningTenantID)
		if err != nil || !role.AtLeast(domain.RoleStaff) {
			return domain.ErrNotAuthorized
		}
	}

	if err := s.store.Close(ctx, room.ID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Delete(ctx, room.CanonicalKey)
	}

	handle, err := s.store.HandleOf(ctx, room.ID)
	if err != nil {
		if errors.Is(err, domain.ErrHandleNotFound) {
			return nil
		}
		return err
	}
	if err := s.provider.DeleteChannel(ctx, handle.ChannelID); err != nil {
		// Leave the handle bound; reconciliation will find the leftover.
		s.logger.Warn("remote channel delete failed on close",
			"room_id", room.ID,
			"channel_id", handle.ChannelID,
			"error", err,
		)
		return nil
	}
	if err := s.store.RemoveHandle(ctx, room.ID); err != nil {
		return err
	}

	s.logger.Info("room closed", "room_id", room.ID, "actor", actorID)
	return nil
}

// withRequester returns members with requester included exactly once.
func withRequester(members []uuid.UUID, requester uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(members)+1)
	seen := make(map[uuid.UUID]struct{}, len(members)+1)
	for _, m := range append([]uuid.UUID{requester}, members...) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
