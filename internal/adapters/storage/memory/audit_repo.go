package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"family-health-access/internal/domain/audit"
)

type auditRepo struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewAuditRepo() audit.Repository {
	return &auditRepo{
		entries: make([]audit.Entry, 0),
	}
}

// Append solo agrega; no existe update ni delete sobre entries.
func (r *auditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		return errors.New("entry id required")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *auditRepo) ListByOwner(ctx context.Context, ownerUserID string, filter audit.ListFilter) ([]audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	out := make([]audit.Entry, 0)
	for _, e := range r.entries {
		if e.OwnerUserID != ownerUserID {
			continue
		}

		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		if a := strings.TrimSpace(filter.ActorID); a != "" && e.ActorID != a {
			continue
		}
		if rt := strings.TrimSpace(filter.ResourceType); rt != "" && e.ResourceType != rt {
			continue
		}

		out = append(out, e)
	}

	// Más reciente primero, como exporte de auditoría.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}
