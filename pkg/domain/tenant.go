package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated organizational scope (a gym). Provisioned by an
// external administrative subsystem; immutable for this engine.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	CreatedAt time.Time
	DeletedAt *time.Time
}
