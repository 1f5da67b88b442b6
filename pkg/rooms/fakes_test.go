package rooms

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/provider"
)

// fakeDirectory holds user -> tenant -> role assignments.
type fakeDirectory struct {
	mu          sync.Mutex
	memberships map[uuid.UUID]map[uuid.UUID]domain.Role
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{memberships: make(map[uuid.UUID]map[uuid.UUID]domain.Role)}
}

func (d *fakeDirectory) join(userID, tenantID uuid.UUID, role domain.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.memberships[userID] == nil {
		d.memberships[userID] = make(map[uuid.UUID]domain.Role)
	}
	d.memberships[userID][tenantID] = role
}

func (d *fakeDirectory) TenantsForUser(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var tenants []uuid.UUID
	for tenantID := range d.memberships[userID] {
		tenants = append(tenants, tenantID)
	}
	sortUUIDs(tenants)
	return tenants, nil
}

func (d *fakeDirectory) SharedTenants(_ context.Context, userA, userB uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var shared []uuid.UUID
	for tenantID := range d.memberships[userA] {
		if _, ok := d.memberships[userB][tenantID]; ok {
			shared = append(shared, tenantID)
		}
	}
	sortUUIDs(shared)
	return shared, nil
}

func (d *fakeDirectory) Role(_ context.Context, userID, tenantID uuid.UUID) (domain.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	role, ok := d.memberships[userID][tenantID]
	if !ok {
		return "", domain.ErrMembershipNotFound
	}
	return role, nil
}

func (d *fakeDirectory) ActiveMembers(_ context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var members []uuid.UUID
	for userID, tenants := range d.memberships {
		if _, ok := tenants[tenantID]; ok {
			members = append(members, userID)
		}
	}
	sortUUIDs(members)
	return members, nil
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// fakeStore is an in-memory Store honoring the canonical-key uniqueness
// invariant.
type fakeStore struct {
	mu      sync.Mutex
	dir     *fakeDirectory
	rooms   map[uuid.UUID]*domain.Room
	byKey   map[string]uuid.UUID
	members map[uuid.UUID]map[uuid.UUID]time.Time
	handles map[uuid.UUID]*domain.ExternalHandle
}

func newFakeStore(dir *fakeDirectory) *fakeStore {
	return &fakeStore{
		dir:     dir,
		rooms:   make(map[uuid.UUID]*domain.Room),
		byKey:   make(map[string]uuid.UUID),
		members: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		handles: make(map[uuid.UUID]*domain.ExternalHandle),
	}
}

func (s *fakeStore) GetByKey(_ context.Context, canonicalKey string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.byKey[canonicalKey]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	room := *s.rooms[roomID]
	return &room, nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (s *fakeStore) GetByChannelID(_ context.Context, channelID string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, handle := range s.handles {
		if handle.ChannelID == channelID {
			copied := *s.rooms[roomID]
			return &copied, nil
		}
	}
	return nil, domain.ErrRoomNotFound
}

func (s *fakeStore) CreateWithHandle(_ context.Context, room *domain.Room, memberIDs []uuid.UUID, handle *domain.ExternalHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[room.CanonicalKey]; ok {
		return domain.ErrDuplicateKey
	}
	copied := *room
	s.rooms[room.ID] = &copied
	s.byKey[room.CanonicalKey] = room.ID
	s.members[room.ID] = make(map[uuid.UUID]time.Time, len(memberIDs))
	for _, memberID := range memberIDs {
		s.members[room.ID][memberID] = room.CreatedAt
	}
	handleCopy := *handle
	s.handles[room.ID] = &handleCopy
	return nil
}

func (s *fakeStore) MembersOf(_ context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []uuid.UUID
	for memberID := range s.members[roomID] {
		members = append(members, memberID)
	}
	sortUUIDs(members)
	return members, nil
}

func (s *fakeStore) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[roomID][userID]
	return ok, nil
}

func (s *fakeStore) ListForUser(_ context.Context, userID, tenantID uuid.UUID) ([]*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var visible []*domain.Room
	for roomID, room := range s.rooms {
		if room.Status != domain.RoomStatusActive {
			continue
		}
		if _, ok := s.members[roomID][userID]; !ok {
			continue
		}
		if room.OwningTenantID == tenantID {
			copied := *room
			visible = append(visible, &copied)
			continue
		}
		allShared := true
		for memberID := range s.members[roomID] {
			if _, ok := s.dir.memberships[memberID][tenantID]; !ok {
				allShared = false
				break
			}
		}
		if allShared {
			copied := *room
			visible = append(visible, &copied)
		}
	}
	return visible, nil
}

func (s *fakeStore) HandleOf(_ context.Context, roomID uuid.UUID) (*domain.ExternalHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[roomID]
	if !ok {
		return nil, domain.ErrHandleNotFound
	}
	copied := *handle
	return &copied, nil
}

func (s *fakeStore) RemoveHandle(_ context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, roomID)
	return nil
}

func (s *fakeStore) Close(_ context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok || room.Status != domain.RoomStatusActive {
		return domain.ErrRoomNotFound
	}
	room.Status = domain.RoomStatusClosed
	now := time.Now().UTC()
	room.ClosedAt = &now
	delete(s.byKey, room.CanonicalKey)
	return nil
}

func (s *fakeStore) activeRoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, room := range s.rooms {
		if room.Status == domain.RoomStatusActive {
			n++
		}
	}
	return n
}

// fakeProvider records channel operations.
type fakeProvider struct {
	mu          sync.Mutex
	seq         int
	createErr   error
	createCalls int
	channels    map[string]provider.Channel
	deleted     []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{channels: make(map[string]provider.Channel)}
}

func (p *fakeProvider) CreateChannel(_ context.Context, params provider.CreateChannelParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return "", p.createErr
	}
	p.seq++
	id := fmt.Sprintf("chan-%d", p.seq)
	p.channels[id] = provider.Channel{
		ID:        id,
		Kind:      params.Kind,
		Namespace: params.Namespace,
		Members:   params.MemberIDs,
	}
	return id, nil
}

func (p *fakeProvider) DeleteChannel(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, channelID)
	p.deleted = append(p.deleted, channelID)
	return nil
}

func (p *fakeProvider) channelCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

// fakeEvents is a registration set keyed by (user, event).
type fakeEvents struct {
	registered map[uuid.UUID]map[uuid.UUID]bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{registered: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (e *fakeEvents) register(userID, eventID uuid.UUID) {
	if e.registered[userID] == nil {
		e.registered[userID] = make(map[uuid.UUID]bool)
	}
	e.registered[userID][eventID] = true
}

func (e *fakeEvents) IsRegistered(_ context.Context, userID, eventID uuid.UUID) (bool, error) {
	return e.registered[userID][eventID], nil
}

// fakeCache records which keys were used, to assert that lookups are keyed
// by the full canonical key.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]uuid.UUID
	keys    map[string]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]uuid.UUID), keys: make(map[string]int)}
}

func (c *fakeCache) Get(_ context.Context, key string) (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key]++
	id, ok := c.entries[key]
	return id, ok
}

func (c *fakeCache) Set(_ context.Context, key string, roomID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key]++
	c.entries[key] = roomID
}

func (c *fakeCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
