package privacy

import (
	"time"

	"family-health-access/internal/domain/permissions"
)

// CommunicationType define los canales de contacto configurables.
type CommunicationType string

const (
	CommunicationEmail CommunicationType = "email"
	CommunicationSMS   CommunicationType = "sms"
	CommunicationPush  CommunicationType = "push"
)

// FamilySettings es el documento de privacidad family-wide (uno por owner).
// Solo lo muta el owner o un delegado con manage-access.
type FamilySettings struct {
	OwnerUserID string

	ShareWithCaregivers bool
	AllowExport         bool

	// Preferencias de comunicación a nivel familia.
	AllowedCommunications []CommunicationType

	// Política de retención por defecto (días). 0 = sin límite explícito.
	RetentionDays int
	AutoDelete    bool

	UpdatedAt time.Time
}

// ChildSettings es el override por hijo (cero o uno por childID).
// Lifecycle: se crea lazy la primera vez que alguien restringe acceso a un
// hijo puntual; el owner puede borrarlo (o resetear inheritFromParent).
type ChildSettings struct {
	ChildID     string
	OwnerUserID string

	// true => este hijo no aporta restricción propia; aplican los permisos
	// family-wide del rol sin modificar.
	InheritFromParent bool

	// Invariante: con restrictedAccess=true, solo usuarios en AllowedUsers
	// pueden recibir permiso alguno sobre este hijo, sin importar su rol.
	RestrictedAccess bool
	AllowedUsers     []string

	// Por usuario: subset exacto de permisos para este hijo.
	CustomPermissions map[string][]permissions.Permission

	// Canales bloqueados específicamente para este hijo.
	BlockedCommunications []CommunicationType

	// Overrides de retención (nil = hereda de familia).
	RetentionDaysOverride *int
	AutoDeleteOverride    *bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAllowedUser busca userID en la allowlist del override.
func (cs ChildSettings) HasAllowedUser(userID string) bool {
	for _, u := range cs.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// RetentionPolicy es el resultado de resolver retención entre familia e hijos.
type RetentionPolicy struct {
	Days       int // mínimo entre todos los que opinan; 0 = sin límite
	AutoDelete bool
}
