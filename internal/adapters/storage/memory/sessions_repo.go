package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"family-health-access/internal/domain/sessions"
)

type sessionRepo struct {
	mu   sync.Mutex
	byID map[string]sessions.Session
}

func NewSessionsRepo() sessions.Repository {
	return &sessionRepo{
		byID: make(map[string]sessions.Session),
	}
}

func (r *sessionRepo) Create(ctx context.Context, s sessions.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		return errors.New("session id required")
	}
	if _, exists := r.byID[s.ID]; exists {
		return errors.New("session already exists")
	}
	r.byID[s.ID] = s
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (sessions.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return sessions.Session{}, sessions.ErrNotFound
	}
	return s, nil
}

// Touch hace el check-then-refresh bajo un solo lock: varias tabs del mismo
// usuario validando en paralelo no pueden pisarse el lastValidatedAt.
func (r *sessionRepo) Touch(ctx context.Context, id, deviceFingerprint string, now time.Time, freshness time.Duration) (sessions.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return sessions.Session{}, sessions.ErrNotFound
	}

	if s.Invalidated {
		return sessions.Session{}, sessions.ErrInvalidated
	}

	if s.DeviceFingerprint != deviceFingerprint {
		s.Invalidated = true
		s.InvalidatedReason = sessions.ReasonFingerprintMismatch
		r.byID[id] = s
		return sessions.Session{}, sessions.ErrFingerprintMismatch
	}

	if now.Sub(s.LastValidatedAt) > freshness {
		s.Invalidated = true
		s.InvalidatedReason = sessions.ReasonStale
		r.byID[id] = s
		return sessions.Session{}, sessions.ErrStale
	}

	s.LastValidatedAt = now
	r.byID[id] = s
	return s, nil
}

func (r *sessionRepo) Elevate(ctx context.Context, id string, now time.Time) (sessions.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return sessions.Session{}, sessions.ErrNotFound
	}
	if s.Invalidated {
		return sessions.Session{}, sessions.ErrInvalidated
	}

	s.Elevated = true
	s.ElevatedAt = &now
	r.byID[id] = s
	return s, nil
}

// ConsumeElevation es one-shot: chequeo de vigencia y apagado en un paso.
func (r *sessionRepo) ConsumeElevation(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return false, sessions.ErrNotFound
	}
	if s.Invalidated {
		return false, sessions.ErrInvalidated
	}

	valid := s.Elevated && s.ElevatedAt != nil && now.Sub(*s.ElevatedAt) <= window

	if s.Elevated {
		s.Elevated = false
		s.ElevatedAt = nil
		r.byID[id] = s
	}

	return valid, nil
}

func (r *sessionRepo) Invalidate(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return sessions.ErrNotFound
	}

	s.Invalidated = true
	s.InvalidatedReason = reason
	s.Elevated = false
	s.ElevatedAt = nil
	r.byID[id] = s
	return nil
}
