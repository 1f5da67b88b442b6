package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
	"github.com/fitlane/chatroom/pkg/identity"
	"github.com/fitlane/chatroom/pkg/provider"
	"github.com/fitlane/chatroom/pkg/roomkey"
)

// RepairOrphanedRemote deletes a provider channel that has no local handle.
// Channels created for event rooms are system-managed and are refused
// unless force is set: orphan cleanup must not be a path to deleting event
// chats. Safe to re-run; a channel that is already gone is a no-op.
func (a *Auditor) RepairOrphanedRemote(ctx context.Context, channelID string, force bool) error {
	channel, err := a.provider.QueryChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, domain.ErrProviderRejected) {
			// Already gone.
			return nil
		}
		return err
	}

	// Re-check the binding: the channel may have been adopted since the
	// audit that reported it.
	if _, err := a.store.GetByChannelID(ctx, channelID); err == nil {
		a.logger.Info("skipping orphan repair, channel is bound", "channel_id", channelID)
		return nil
	} else if !errors.Is(err, domain.ErrRoomNotFound) {
		return err
	}

	if channel.Kind == string(domain.RoomKindEvent) && !force {
		return domain.ErrEventRoomProtected
	}

	a.logger.Info("repairing orphaned remote channel",
		"channel_id", channelID,
		"namespace", channel.Namespace,
		"kind", channel.Kind,
		"before", "channel present, unbound",
	)
	if err := a.provider.DeleteChannel(ctx, channelID); err != nil {
		return err
	}
	a.logger.Info("repaired orphaned remote channel",
		"channel_id", channelID,
		"after", "channel deleted",
	)
	return nil
}

// RepairOrphanedLocal recreates the remote channel for a bound room whose
// channel disappeared, and rebinds the handle. Re-running after success is
// a no-op because the bound channel exists again.
func (a *Auditor) RepairOrphanedLocal(ctx context.Context, roomID uuid.UUID) error {
	room, err := a.store.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive() {
		return nil
	}
	handle, err := a.store.HandleOf(ctx, roomID)
	if err != nil {
		return err
	}
	if _, err := a.provider.QueryChannel(ctx, handle.ChannelID); err == nil {
		// Channel exists after all.
		return nil
	} else if !errors.Is(err, domain.ErrProviderRejected) {
		return err
	}

	members, err := a.store.MembersOf(ctx, roomID)
	if err != nil {
		return err
	}
	externalIDs := make([]string, len(members))
	for i, userID := range members {
		externalIDs[i] = identity.Encode(room.OwningTenantID, userID)
	}

	a.logger.Info("repairing orphaned local room",
		"room_id", roomID,
		"before", "handle bound to missing channel "+handle.ChannelID,
	)
	channelID, err := a.provider.CreateChannel(ctx, provider.CreateChannelParams{
		Kind:      string(room.Kind),
		Namespace: identity.Namespace(room.OwningTenantID),
		MemberIDs: externalIDs,
	})
	if err != nil {
		return err
	}
	err = a.store.RebindHandle(ctx, &domain.ExternalHandle{
		RoomID:    roomID,
		ChannelID: channelID,
		Namespace: identity.Namespace(room.OwningTenantID),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	a.logger.Info("repaired orphaned local room",
		"room_id", roomID,
		"after", "rebound to channel "+channelID,
	)
	return nil
}

// RepairNamespace relabels a channel whose remote namespace drifted from
// the room's owning tenant. Relabeling (rather than recreating) preserves
// the provider-side message history. Idempotent: an agreeing channel is a
// no-op.
func (a *Auditor) RepairNamespace(ctx context.Context, roomID uuid.UUID) error {
	room, err := a.store.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	handle, err := a.store.HandleOf(ctx, roomID)
	if err != nil {
		return err
	}
	expected := identity.Namespace(room.OwningTenantID)

	channel, err := a.provider.QueryChannel(ctx, handle.ChannelID)
	if err != nil {
		return err
	}
	if channel.Namespace == expected && handle.Namespace == expected {
		return nil
	}

	a.logger.Info("repairing namespace mismatch",
		"room_id", roomID,
		"channel_id", handle.ChannelID,
		"before", channel.Namespace,
		"after", expected,
	)
	if channel.Namespace != expected {
		if err := a.provider.UpdateChannelNamespace(ctx, handle.ChannelID, expected); err != nil {
			return err
		}
	}
	if handle.Namespace != expected {
		handle.Namespace = expected
		if err := a.store.RebindHandle(ctx, handle); err != nil {
			return err
		}
	}
	return nil
}

// RepairMembership syncs the provider's member set to the local room
// membership. Idempotent: diffs are computed fresh on every run.
func (a *Auditor) RepairMembership(ctx context.Context, roomID uuid.UUID) error {
	room, err := a.store.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	handle, err := a.store.HandleOf(ctx, roomID)
	if err != nil {
		return err
	}
	channel, err := a.provider.QueryChannel(ctx, handle.ChannelID)
	if err != nil {
		return err
	}

	missing, extra, err := a.memberDiff(ctx, room, channel.Members)
	if err != nil {
		return err
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	a.logger.Info("repairing membership mismatch",
		"room_id", roomID,
		"channel_id", handle.ChannelID,
		"adding", missing,
		"removing", extra,
	)
	if len(missing) > 0 {
		if err := a.provider.AddMembers(ctx, handle.ChannelID, missing); err != nil {
			return err
		}
	}
	if len(extra) > 0 {
		if err := a.provider.RemoveMembers(ctx, handle.ChannelID, extra); err != nil {
			return err
		}
	}
	a.logger.Info("repaired membership mismatch", "room_id", roomID)
	return nil
}

// SyncBroadcastMembership converges a tenant's broadcast room onto the
// current tenant roster, locally and remotely. No-op when the tenant has no
// broadcast room yet.
func (a *Auditor) SyncBroadcastMembership(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := a.tenants.GetByID(ctx, tenantID); err != nil {
		return err
	}
	room, err := a.store.GetByKey(ctx, roomkey.BroadcastKey(tenantID))
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		return err
	}

	drift, err := a.broadcastDrift(ctx, room)
	if err != nil {
		return err
	}
	if drift == nil {
		return nil
	}

	handle, err := a.store.HandleOf(ctx, room.ID)
	if err != nil {
		return err
	}

	a.logger.Info("syncing broadcast membership",
		"room_id", room.ID,
		"tenant_id", tenantID,
		"adding", len(drift.Missing),
		"removing", len(drift.Extra),
	)
	for _, userID := range drift.Missing {
		if err := a.store.AddMember(ctx, room.ID, userID); err != nil {
			return err
		}
	}
	for _, userID := range drift.Extra {
		if err := a.store.RemoveMember(ctx, room.ID, userID); err != nil {
			return err
		}
	}

	var addRemote, removeRemote []string
	for _, userID := range drift.Missing {
		addRemote = append(addRemote, identity.Encode(tenantID, userID))
	}
	for _, userID := range drift.Extra {
		removeRemote = append(removeRemote, identity.Encode(tenantID, userID))
	}
	if len(addRemote) > 0 {
		if err := a.provider.AddMembers(ctx, handle.ChannelID, addRemote); err != nil {
			return err
		}
	}
	if len(removeRemote) > 0 {
		if err := a.provider.RemoveMembers(ctx, handle.ChannelID, removeRemote); err != nil {
			return err
		}
	}
	return nil
}
