package sessions

import (
	"context"
	"time"
)

// Repository persiste sesiones. Touch y ConsumeElevation son atómicos a
// nivel storage: varias tabs del mismo usuario validan en paralelo y el
// refresh de lastValidatedAt no puede pisarse (check-then-act).
type Repository interface {
	Create(ctx context.Context, s Session) error
	GetByID(ctx context.Context, id string) (Session, error)

	// Touch valida fingerprint + frescura y refresca LastValidatedAt en un
	// único paso. Mismatch o staleness dejan la sesión invalidated (terminal)
	// y devuelven el error correspondiente.
	Touch(ctx context.Context, id, deviceFingerprint string, now time.Time, freshness time.Duration) (Session, error)

	// Elevate marca la sesión como elevated (si sigue viva).
	Elevate(ctx context.Context, id string, now time.Time) (Session, error)

	// ConsumeElevation apaga la elevación y reporta si estaba vigente
	// (elevated y dentro de la ventana), todo en un paso.
	ConsumeElevation(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error)

	// Invalidate es terminal; una sesión invalidada no revive.
	Invalidate(ctx context.Context, id, reason string) error
}
