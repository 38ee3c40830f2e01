package children

import "time"

// Child representa el perfil mínimo de un menor cuyo historial se comparte.
// El detalle médico (síntomas, tratamientos, vitales) vive en los módulos
// CRUD externos; acá solo se ancla ownership para decidir acceso.
type Child struct {
	ID          string
	OwnerUserID string

	Name      string
	BirthDate *time.Time
	Notes     string

	CreatedAt time.Time
	UpdatedAt time.Time
}
