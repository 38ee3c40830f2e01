package sharetokens

import (
	"time"

	"family-health-access/internal/domain/permissions"
)

// Token es un magic link: credencial bearer no adivinable que da a un
// tercero (el médico) un subset de permisos view sobre UN hijo, acotado
// por tiempo y por cantidad de usos. Transiciona solo hacia adelante:
// active → (expired | exhausted | revoked), nunca para atrás.
type Token struct {
	ID     string // uuid interno (revocar, listar)
	Secret string // el token del link, alta entropía; se comparte por URL

	ChildID        string
	OwnerUserID    string
	IssuedByUserID string

	ProviderName  string
	ProviderEmail string
	Notes         string

	Permissions []permissions.Permission

	ExpiresAt      time.Time
	MaxAccessCount *int // nil = sin tope de usos
	AccessCount    int

	IsActive bool

	CreatedAt    time.Time
	LastAccessAt *time.Time
}

// Valid computa la validez en un instante dado:
// isActive ∧ now < expiresAt ∧ (sin tope ∨ accessCount < tope).
func (t Token) Valid(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if !now.Before(t.ExpiresAt) {
		return false
	}
	if t.MaxAccessCount != nil && t.AccessCount >= *t.MaxAccessCount {
		return false
	}
	return true
}

// InvalidReason explica por qué no es válido ("" si es válido).
func (t Token) InvalidReason(now time.Time) string {
	switch {
	case !t.IsActive:
		return ReasonRevoked
	case !now.Before(t.ExpiresAt):
		return ReasonExpired
	case t.MaxAccessCount != nil && t.AccessCount >= *t.MaxAccessCount:
		return ReasonExhausted
	default:
		return ""
	}
}

const (
	ReasonRevoked   = "revoked"
	ReasonExpired   = "expired"
	ReasonExhausted = "exhausted"
)

// Scope es lo que ve el portador del link al validar/consumir.
type Scope struct {
	ChildID       string                   `json:"child_id"`
	Permissions   []permissions.Permission `json:"permissions"`
	ProviderLabel string                   `json:"provider_label"`
}

func (t Token) Scope() Scope {
	return Scope{
		ChildID:       t.ChildID,
		Permissions:   t.Permissions,
		ProviderLabel: t.ProviderName,
	}
}
