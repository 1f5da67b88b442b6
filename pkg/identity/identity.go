// Package identity maps internal (tenant, user) pairs to the string
// identities the external chat provider understands, and back.
//
// Two syntactic forms are accepted on decode: the namespaced form
// "tenant_{T}_user_{U}" and the legacy pre-multi-tenancy form "user_{U}".
// Both forms resolve to the same internal user id; the legacy form carries
// no tenant, so callers that need one must supply it from context.
package identity

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fitlane/chatroom/pkg/domain"
)

const (
	tenantPrefix  = "tenant_"
	userPrefix    = "user_"
	userSeparator = "_user_"
)

// Decoded is the result of parsing an external identity string.
// TenantID is nil for legacy-form identities.
type Decoded struct {
	TenantID *uuid.UUID
	UserID   uuid.UUID
}

// Encode produces the namespaced external identity for a user within a
// tenant. The output always decodes back to the identical pair.
func Encode(tenantID, userID uuid.UUID) string {
	return tenantPrefix + tenantID.String() + userSeparator + userID.String()
}

// Decode parses an external identity string in either form. Returns
// domain.ErrMalformedIdentity if the string matches neither.
func Decode(s string) (Decoded, error) {
	switch {
	case strings.HasPrefix(s, tenantPrefix):
		rest := strings.TrimPrefix(s, tenantPrefix)
		i := strings.Index(rest, userSeparator)
		if i < 0 {
			return Decoded{}, domain.ErrMalformedIdentity
		}
		tenantID, err := uuid.Parse(rest[:i])
		if err != nil {
			return Decoded{}, domain.ErrMalformedIdentity
		}
		userID, err := uuid.Parse(rest[i+len(userSeparator):])
		if err != nil {
			return Decoded{}, domain.ErrMalformedIdentity
		}
		return Decoded{TenantID: &tenantID, UserID: userID}, nil

	case strings.HasPrefix(s, userPrefix):
		userID, err := uuid.Parse(strings.TrimPrefix(s, userPrefix))
		if err != nil {
			return Decoded{}, domain.ErrMalformedIdentity
		}
		return Decoded{UserID: userID}, nil
	}
	return Decoded{}, domain.ErrMalformedIdentity
}

// Namespace is the provider-side partitioning label ("team") for a tenant.
func Namespace(tenantID uuid.UUID) string {
	return tenantPrefix + tenantID.String()
}

// ParseNamespace recovers the tenant id from a namespace label.
func ParseNamespace(ns string) (uuid.UUID, error) {
	if !strings.HasPrefix(ns, tenantPrefix) {
		return uuid.Nil, domain.ErrMalformedIdentity
	}
	tenantID, err := uuid.Parse(strings.TrimPrefix(ns, tenantPrefix))
	if err != nil {
		return uuid.Nil, domain.ErrMalformedIdentity
	}
	return tenantID, nil
}
