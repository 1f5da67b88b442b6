// Package roomkey computes the canonical key that identifies a conversation.
//
// Canonical keys are deterministic: the same logical conversation always
// resolves to the same key, no matter which tenant context requested it,
// in what order participants were listed, or how many times the request is
// retried. Direct keys deliberately exclude the tenant, so two users who
// share several tenants converge on a single room.
package roomkey

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/fitlane/chatroom/pkg/domain"
)

// DirectKey returns the canonical key for a one-to-one conversation.
// Tenant-independent: participant order does not matter.
func DirectKey(u1, u2 uuid.UUID) string {
	a, b := u1.String(), u2.String()
	if b < a {
		a, b = b, a
	}
	return "direct:" + a + ":" + b
}

// GroupKey returns the canonical key for a tenant-scoped group. The member
// set is digested after sorting so listing order never matters.
func GroupKey(owningTenant uuid.UUID, members []uuid.UUID) string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.String()
	}
	sort.Strings(ids)
	sum := blake2b.Sum256([]byte(strings.Join(ids, ",")))
	return fmt.Sprintf("group:%s:%s", owningTenant, hex.EncodeToString(sum[:]))
}

// EventKey returns the canonical key for an event's chat room.
func EventKey(owningTenant, eventID uuid.UUID) string {
	return fmt.Sprintf("event:%s:%s", owningTenant, eventID)
}

// BroadcastKey returns the canonical key for a tenant's broadcast room.
func BroadcastKey(owningTenant uuid.UUID) string {
	return "broadcast:" + owningTenant.String()
}

// ParseEventKey recovers the owning tenant and event id from an event key.
func ParseEventKey(key string) (tenantID, eventID uuid.UUID, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "event" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("not an event key")
	}
	tenantID, err = uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad tenant in event key: %w", err)
	}
	eventID, err = uuid.Parse(parts[2])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad event id in event key: %w", err)
	}
	return tenantID, eventID, nil
}

// SelectOwningTenant picks the tenant namespace for a new direct room given
// the set of tenants shared by both participants. The requesting tenant wins
// when it is in the shared set; otherwise the smallest shared tenant id is
// used. The pick must never depend on iteration order: a non-deterministic
// choice here puts the same pair of users in different rooms across retries.
func SelectOwningTenant(shared []uuid.UUID, requesting uuid.UUID) (uuid.UUID, error) {
	if len(shared) == 0 {
		return uuid.Nil, domain.ErrNoSharedTenant
	}
	min := shared[0]
	for _, t := range shared {
		if t == requesting {
			return t, nil
		}
		if t.String() < min.String() {
			min = t
		}
	}
	return min, nil
}
