package sharetokens

import (
	"context"
	"time"
)

// Repository persiste tokens. Consume es la única operación que muta el
// contador y tiene que ser un update condicional atómico a nivel storage:
// dos consumidores compitiendo por el último uso no pueden ganar ambos.
type Repository interface {
	Create(ctx context.Context, t Token) error
	GetByID(ctx context.Context, id string) (Token, error)
	GetBySecret(ctx context.Context, secret string) (Token, error)
	ListByChild(ctx context.Context, childID string) ([]Token, error)

	// Consume revalida (activo, expiry, tope) e incrementa accessCount en un
	// único paso indivisible. Falla con ErrRevoked/ErrExpired/ErrExhausted.
	Consume(ctx context.Context, id string, now time.Time) (Token, error)

	// Revoke apaga isActive. Irreversible.
	Revoke(ctx context.Context, id string) error
}
