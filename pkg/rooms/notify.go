package rooms

import "github.com/google/uuid"

// MemberState is the per-member signal attached to a provider message-sent
// event. Online presence is an external signal; this engine only reads it.
type MemberState struct {
	UserID      uuid.UUID
	UnreadCount int
	Online      bool
}

// EligibleRecipients computes which members should receive an out-of-band
// push for a message: everyone except the sender who has unread messages
// and is not currently online. Pure; performs no I/O.
func EligibleRecipients(senderID uuid.UUID, members []MemberState) []uuid.UUID {
	var eligible []uuid.UUID
	for _, m := range members {
		if m.UserID == senderID {
			continue
		}
		if m.UnreadCount <= 0 || m.Online {
			continue
		}
		eligible = append(eligible, m.UserID)
	}
	return eligible
}
