// Package reconcile compares the local room store against the provider's
// state, classifies drift, and carries out explicit repairs.
//
// The auditor only classifies. Every repair is a separate idempotent
// operation, safe to re-run, logged with before and after state. Drift is a
// structured finding, never an exception, and is never auto-applied for
// event rooms.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/identity"
	"github.com/fitlane/chatroom/pkg/provider"
)

// Store is the subset of the room store the auditor reads and repairs.
type Store interface {
	ActiveRoomsWithHandles(ctx context.Context, tenantID *uuid.UUID) ([]domain.BoundRoom, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	GetByKey(ctx context.Context, canonicalKey string) (*domain.Room, error)
	GetByChannelID(ctx context.Context, channelID string) (*domain.Room, error)
	MembersOf(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	HandleOf(ctx context.Context, roomID uuid.UUID) (*domain.ExternalHandle, error)
	RebindHandle(ctx context.Context, handle *domain.ExternalHandle) error
	AddMember(ctx context.Context, roomID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error
}

// Provider is the provider surface the auditor needs.
type Provider interface {
	ListChannels(ctx context.Context, namespace string) ([]provider.Channel, error)
	QueryChannel(ctx context.Context, channelID string) (*provider.Channel, error)
	CreateChannel(ctx context.Context, params provider.CreateChannelParams) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
	AddMembers(ctx context.Context, channelID string, memberIDs []string) error
	RemoveMembers(ctx context.Context, channelID string, memberIDs []string) error
	UpdateChannelNamespace(ctx context.Context, channelID, namespace string) error
}

// Directory reads tenant rosters for broadcast-room convergence.
type Directory interface {
	ActiveMembers(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

// Tenants reads the tenant directory for dead-namespace annotation and for
// validating repair targets.
type Tenants interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// OrphanRemote is a provider channel with no local handle.
type OrphanRemote struct {
	ChannelID     string
	Namespace     string
	Kind          string
	DeadNamespace bool
}

// OrphanLocal is a bound room whose remote channel no longer exists.
type OrphanLocal struct {
	RoomID    uuid.UUID
	ChannelID string
}

// NamespaceMismatch is a bound room whose remote partition label disagrees
// with its owning tenant.
type NamespaceMismatch struct {
	RoomID    uuid.UUID
	ChannelID string
	Local     string
	Remote    string
}

// MembershipMismatch is a bound room whose remote member set disagrees with
// the local room membership.
type MembershipMismatch struct {
	RoomID        uuid.UUID
	ChannelID     string
	MissingRemote []string
	ExtraRemote   []string
}

// BroadcastDrift is a broadcast room whose local membership has fallen
// behind the tenant roster.
type BroadcastDrift struct {
	RoomID   uuid.UUID
	TenantID uuid.UUID
	Missing  []uuid.UUID
	Extra    []uuid.UUID
}

// Report is the classified outcome of one audit run.
type Report struct {
	OrphanedRemote     []OrphanRemote
	OrphanedLocal      []OrphanLocal
	NamespaceMismatch  []NamespaceMismatch
	MembershipMismatch []MembershipMismatch
	BroadcastDrift     []BroadcastDrift
}

// Empty reports whether the audit found no drift.
func (r *Report) Empty() bool {
	return len(r.OrphanedRemote) == 0 &&
		len(r.OrphanedLocal) == 0 &&
		len(r.NamespaceMismatch) == 0 &&
		len(r.MembershipMismatch) == 0 &&
		len(r.BroadcastDrift) == 0
}

// Auditor compares local and remote state.
type Auditor struct {
	logger   *slog.Logger
	store    Store
	provider Provider
	dir      Directory
	tenants  Tenants
}

// NewAuditor creates a reconciliation auditor.
func NewAuditor(logger *slog.Logger, store Store, prov Provider, dir Directory, tenants Tenants) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, store: store, provider: prov, dir: dir, tenants: tenants}
}

// Audit compares the store against the provider. A nil tenantID audits the
// whole deployment; otherwise the scan is scoped to one tenant's namespace.
func (a *Auditor) Audit(ctx context.Context, tenantID *uuid.UUID) (*Report, error) {
	namespace := ""
	if tenantID != nil {
		namespace = identity.Namespace(*tenantID)
	}

	remote, err := a.provider.ListChannels(ctx, namespace)
	if err != nil {
		return nil, err
	}
	bound, err := a.store.ActiveRoomsWithHandles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	activeTenants, err := a.tenants.ActiveTenantIDs(ctx)
	if err != nil {
		return nil, err
	}
	tenantSet := make(map[uuid.UUID]struct{}, len(activeTenants))
	for _, id := range activeTenants {
		tenantSet[id] = struct{}{}
	}

	remoteByID := make(map[string]provider.Channel, len(remote))
	for _, channel := range remote {
		remoteByID[channel.ID] = channel
	}
	boundByChannel := make(map[string]domain.BoundRoom, len(bound))
	for _, b := range bound {
		boundByChannel[b.Handle.ChannelID] = b
	}

	report := &Report{}

	// A channel with no handle is an orphan, full stop. Its namespace may
	// point at a tenant that no longer exists; that makes it a dead-namespace
	// orphan, not a namespace mismatch, because there is no bound room whose
	// owning tenant could disagree.
	for _, channel := range remote {
		if _, ok := boundByChannel[channel.ID]; ok {
			continue
		}
		dead := true
		if nsTenant, err := identity.ParseNamespace(channel.Namespace); err == nil {
			_, alive := tenantSet[nsTenant]
			dead = !alive
		}
		report.OrphanedRemote = append(report.OrphanedRemote, OrphanRemote{
			ChannelID:     channel.ID,
			Namespace:     channel.Namespace,
			Kind:          channel.Kind,
			DeadNamespace: dead,
		})
	}

	for _, b := range bound {
		channel, ok := remoteByID[b.Handle.ChannelID]
		if !ok && namespace != "" {
			// A scoped listing covers a single namespace, so a channel whose
			// label drifted to another tenant is absent from it. Look the
			// handle up directly before declaring the channel gone.
			queried, err := a.provider.QueryChannel(ctx, b.Handle.ChannelID)
			switch {
			case err == nil:
				channel = *queried
				ok = true
			case !errors.Is(err, domain.ErrProviderRejected):
				return nil, err
			}
		}
		if !ok {
			report.OrphanedLocal = append(report.OrphanedLocal, OrphanLocal{
				RoomID:    b.Room.ID,
				ChannelID: b.Handle.ChannelID,
			})
			continue
		}

		expectedNamespace := identity.Namespace(b.Room.OwningTenantID)
		if channel.Namespace != expectedNamespace {
			report.NamespaceMismatch = append(report.NamespaceMismatch, NamespaceMismatch{
				RoomID:    b.Room.ID,
				ChannelID: channel.ID,
				Local:     expectedNamespace,
				Remote:    channel.Namespace,
			})
		}

		missing, extra, err := a.memberDiff(ctx, b.Room, channel.Members)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 || len(extra) > 0 {
			report.MembershipMismatch = append(report.MembershipMismatch, MembershipMismatch{
				RoomID:        b.Room.ID,
				ChannelID:     channel.ID,
				MissingRemote: missing,
				ExtraRemote:   extra,
			})
		}

		if b.Room.Kind == domain.RoomKindBroadcast {
			drift, err := a.broadcastDrift(ctx, b.Room)
			if err != nil {
				return nil, err
			}
			if drift != nil {
				report.BroadcastDrift = append(report.BroadcastDrift, *drift)
			}
		}
	}

	return report, nil
}

// memberDiff compares the local member set, encoded under the room's owning
// tenant, against the provider's member list.
func (a *Auditor) memberDiff(ctx context.Context, room *domain.Room, remoteMembers []string) (missing, extra []string, err error) {
	localMembers, err := a.store.MembersOf(ctx, room.ID)
	if err != nil {
		return nil, nil, err
	}
	expected := make(map[string]struct{}, len(localMembers))
	for _, userID := range localMembers {
		expected[identity.Encode(room.OwningTenantID, userID)] = struct{}{}
	}
	remoteSet := make(map[string]struct{}, len(remoteMembers))
	for _, member := range remoteMembers {
		remoteSet[member] = struct{}{}
		if _, ok := expected[member]; !ok {
			extra = append(extra, member)
		}
	}
	for member := range expected {
		if _, ok := remoteSet[member]; !ok {
			missing = append(missing, member)
		}
	}
	return missing, extra, nil
}

// broadcastDrift diffs a broadcast room's local membership against the
// tenant roster. Roster changes converge here, not synchronously on
// join/leave.
func (a *Auditor) broadcastDrift(ctx context.Context, room *domain.Room) (*BroadcastDrift, error) {
	desired, err := a.dir.ActiveMembers(ctx, room.OwningTenantID)
	if err != nil {
		return nil, err
	}
	current, err := a.store.MembersOf(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	desiredSet := make(map[uuid.UUID]struct{}, len(desired))
	for _, id := range desired {
		desiredSet[id] = struct{}{}
	}
	currentSet := make(map[uuid.UUID]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	drift := &BroadcastDrift{RoomID: room.ID, TenantID: room.OwningTenantID}
	for _, id := range desired {
		if _, ok := currentSet[id]; !ok {
			drift.Missing = append(drift.Missing, id)
		}
	}
	for _, id := range current {
		if _, ok := desiredSet[id]; !ok {
			drift.Extra = append(drift.Extra, id)
		}
	}
	if len(drift.Missing) == 0 && len(drift.Extra) == 0 {
		return nil, nil
	}
	return drift, nil
}
