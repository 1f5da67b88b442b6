package domain

import "errors"

// Resolution errors
var (
	ErrMalformedIdentity = errors.New("malformed external identity")
	ErrInvalidRequest    = errors.New("invalid room request")
	ErrNoSharedTenant    = errors.New("participants share no tenant")
	ErrDuplicateKey      = errors.New("active room already exists for canonical key")
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomClosed        = errors.New("room is closed")
	ErrHandleNotFound    = errors.New("external handle not found")
)

// Provider errors
var (
	ErrProviderUnavailable = errors.New("chat provider unavailable")
	ErrProviderRejected    = errors.New("chat provider rejected the request")
)

// Authorization errors
var (
	ErrNotAMember         = errors.New("user is not a member of the room")
	ErrNotAuthorized      = errors.New("actor is not authorized for this action")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrTenantNotFound     = errors.New("tenant not found")
)

// Reconciliation errors
var (
	ErrEventRoomProtected = errors.New("event room channels require explicit authorization to delete")
)
