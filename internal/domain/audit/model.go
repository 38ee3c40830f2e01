package audit

import "time"

// ActorType distingue quién disparó la decisión.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeToken  ActorType = "token"
	ActorTypeSystem ActorType = "system"
)

// Outcome registra el veredicto de la operación auditada.
type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// Entry es un registro append-only. Nunca se muta ni se borra desde el motor;
// la retención la maneja un proceso de purga aparte.
type Entry struct {
	ID          string
	OwnerUserID string // familia dueña (partición lógica)

	ActorID   string
	ActorType ActorType

	Action       string // ej: "symptoms:view", "token.issue", "session.invalidate"
	ResourceType string
	ResourceID   string
	ChildID      string // opcional

	Outcome Outcome
	Reason  string

	CreatedAt time.Time
}

// ListFilter filtra la exportación de auditoría de una familia.
type ListFilter struct {
	From         *time.Time
	To           *time.Time
	ActorID      string
	ResourceType string
	Limit        int
}
