package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"family-health-access/internal/domain/sharetokens"
)

type tokenRepo struct {
	mu       sync.Mutex
	byID     map[string]sharetokens.Token
	bySecret map[string]string // secret -> id
}

func NewShareTokensRepo() sharetokens.Repository {
	return &tokenRepo{
		byID:     make(map[string]sharetokens.Token),
		bySecret: make(map[string]string),
	}
}

func (r *tokenRepo) Create(ctx context.Context, t sharetokens.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" || t.Secret == "" {
		return errors.New("token id and secret required")
	}
	if _, exists := r.byID[t.ID]; exists {
		return errors.New("token already exists")
	}
	if _, exists := r.bySecret[t.Secret]; exists {
		// 32 bytes de crypto/rand: si esto pasa, algo está muy roto.
		return errors.New("token secret collision")
	}

	r.byID[t.ID] = t
	r.bySecret[t.Secret] = t.ID
	return nil
}

func (r *tokenRepo) GetByID(ctx context.Context, id string) (sharetokens.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return sharetokens.Token{}, ErrNotFound
	}
	return t, nil
}

func (r *tokenRepo) GetBySecret(ctx context.Context, secret string) (sharetokens.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySecret[secret]
	if !ok {
		return sharetokens.Token{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *tokenRepo) ListByChild(ctx context.Context, childID string) ([]sharetokens.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]sharetokens.Token, 0)
	for _, t := range r.byID {
		if t.ChildID == childID {
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// Consume revalida e incrementa bajo el mismo lock: es el update condicional
// atómico que evita que dos consumidores ganen el último uso a la vez.
func (r *tokenRepo) Consume(ctx context.Context, id string, now time.Time) (sharetokens.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return sharetokens.Token{}, ErrNotFound
	}

	switch {
	case !t.IsActive:
		return sharetokens.Token{}, sharetokens.ErrRevoked
	case !now.Before(t.ExpiresAt):
		return sharetokens.Token{}, sharetokens.ErrExpired
	case t.MaxAccessCount != nil && t.AccessCount >= *t.MaxAccessCount:
		return sharetokens.Token{}, sharetokens.ErrExhausted
	}

	t.AccessCount++
	t.LastAccessAt = &now
	r.byID[id] = t

	return t, nil
}

func (r *tokenRepo) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}

	// Irreversible: isActive solo transiciona hacia false.
	t.IsActive = false
	r.byID[id] = t
	return nil
}
