package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"family-health-access/internal/domain/sessions"

	goredis "github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"

	// TTL duro de la key: pasado esto la sesión desaparece sola del store,
	// independiente de la ventana de frescura (que es mucho más corta).
	sessionTTL = 24 * time.Hour
)

// SessionsRepo guarda cada sesión como blob JSON bajo session:{id}.
// Las mutaciones check-then-act (Touch, ConsumeElevation) van con WATCH:
// si otra tab tocó la key en el medio, el tx falla y se reintenta.
type SessionsRepo struct {
	client *goredis.Client
}

func NewSessionsRepo(client *goredis.Client) *SessionsRepo {
	return &SessionsRepo{client: client}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *SessionsRepo) Create(ctx context.Context, s sessions.Session) error {
	if s.ID == "" {
		return errors.New("session id required")
	}

	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	ok, err := r.client.SetNX(ctx, sessionKey(s.ID), b, sessionTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("session already exists")
	}
	return nil
}

func (r *SessionsRepo) GetByID(ctx context.Context, id string) (sessions.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return sessions.Session{}, sessions.ErrNotFound
		}
		return sessions.Session{}, err
	}

	var s sessions.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return sessions.Session{}, err
	}
	return s, nil
}

func (r *SessionsRepo) Touch(ctx context.Context, id, deviceFingerprint string, now time.Time, freshness time.Duration) (sessions.Session, error) {
	var result sessions.Session
	var checkErr error

	err := r.mutate(ctx, id, func(s *sessions.Session) bool {
		if s.Invalidated {
			checkErr = sessions.ErrInvalidated
			return false
		}
		if s.DeviceFingerprint != deviceFingerprint {
			s.Invalidated = true
			s.InvalidatedReason = sessions.ReasonFingerprintMismatch
			checkErr = sessions.ErrFingerprintMismatch
			return true
		}
		if now.Sub(s.LastValidatedAt) > freshness {
			s.Invalidated = true
			s.InvalidatedReason = sessions.ReasonStale
			checkErr = sessions.ErrStale
			return true
		}

		s.LastValidatedAt = now
		result = *s
		return true
	})
	if err != nil {
		return sessions.Session{}, err
	}
	if checkErr != nil {
		return sessions.Session{}, checkErr
	}
	return result, nil
}

func (r *SessionsRepo) Elevate(ctx context.Context, id string, now time.Time) (sessions.Session, error) {
	var result sessions.Session
	var checkErr error

	err := r.mutate(ctx, id, func(s *sessions.Session) bool {
		if s.Invalidated {
			checkErr = sessions.ErrInvalidated
			return false
		}
		s.Elevated = true
		s.ElevatedAt = &now
		result = *s
		return true
	})
	if err != nil {
		return sessions.Session{}, err
	}
	if checkErr != nil {
		return sessions.Session{}, checkErr
	}
	return result, nil
}

func (r *SessionsRepo) ConsumeElevation(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error) {
	var valid bool
	var checkErr error

	err := r.mutate(ctx, id, func(s *sessions.Session) bool {
		if s.Invalidated {
			checkErr = sessions.ErrInvalidated
			return false
		}

		valid = s.Elevated && s.ElevatedAt != nil && now.Sub(*s.ElevatedAt) <= window

		if !s.Elevated {
			return false
		}
		s.Elevated = false
		s.ElevatedAt = nil
		return true
	})
	if err != nil {
		return false, err
	}
	if checkErr != nil {
		return false, checkErr
	}
	return valid, nil
}

func (r *SessionsRepo) Invalidate(ctx context.Context, id, reason string) error {
	return r.mutate(ctx, id, func(s *sessions.Session) bool {
		s.Invalidated = true
		s.InvalidatedReason = reason
		s.Elevated = false
		s.ElevatedAt = nil
		return true
	})
}

// mutate ejecuta read-modify-write optimista sobre la key de la sesión.
// fn devuelve false para saltear la escritura (solo lectura del estado).
func (r *SessionsRepo) mutate(ctx context.Context, id string, fn func(*sessions.Session) bool) error {
	key := sessionKey(id)

	txn := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return sessions.ErrNotFound
			}
			return err
		}

		var s sessions.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}

		if !fn(&s) {
			return nil
		}

		b, err := json.Marshal(s)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, goredis.KeepTTL)
			return nil
		})
		return err
	}

	// Reintentos acotados ante colisión de WATCH.
	for i := 0; i < 5; i++ {
		err := r.client.Watch(ctx, txn, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return goredis.TxFailedErr
}
