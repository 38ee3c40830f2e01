package grants

import (
	"time"

	"family-health-access/internal/domain/permissions"
)

type Status string

const (
	StatusInvited Status = "invited"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Grant vincula un usuario no-owner a la familia de un owner con un rol.
// La revocación es monotónica: un grant revocado no se reactiva jamás;
// re-invitar crea un grant nuevo.
type Grant struct {
	ID string

	OwnerUserID   string // quien comparte su familia
	GranteeUserID string // delegado (guardian/caregiver/viewer)

	Role   permissions.Role
	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
	RevokedAt *time.Time
}
