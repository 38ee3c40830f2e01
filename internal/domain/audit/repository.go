package audit

import "context"

// Repository es append-only a propósito: no hay Update ni Delete.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	ListByOwner(ctx context.Context, ownerUserID string, filter ListFilter) ([]Entry, error)
}
