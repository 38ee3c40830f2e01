package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"family-health-access/internal/domain/audit"
)

// AuditRepo escribe en una tabla append-only: acá no existen UPDATE ni DELETE,
// la purga por retención corre como job aparte.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, owner_user_id, actor_id, actor_type,
			action, resource_type, resource_id, child_id,
			outcome, reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		e.ID,
		e.OwnerUserID,
		e.ActorID,
		string(e.ActorType),
		e.Action,
		e.ResourceType,
		e.ResourceID,
		e.ChildID,
		string(e.Outcome),
		e.Reason,
		e.CreatedAt,
	)
	return err
}

func (r *AuditRepo) ListByOwner(ctx context.Context, ownerUserID string, filter audit.ListFilter) ([]audit.Entry, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return nil, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, owner_user_id, actor_id, actor_type,
		       action, resource_type, resource_id, child_id,
		       outcome, reason, created_at
		FROM audit_entries
		WHERE owner_user_id = $1`
	args := []any{ownerUserID}

	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if a := strings.TrimSpace(filter.ActorID); a != "" {
		args = append(args, a)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if rt := strings.TrimSpace(filter.ResourceType); rt != "" {
		args = append(args, rt)
		query += fmt.Sprintf(" AND resource_type = $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var actorType, outcome string

		if err := rows.Scan(
			&e.ID,
			&e.OwnerUserID,
			&e.ActorID,
			&actorType,
			&e.Action,
			&e.ResourceType,
			&e.ResourceID,
			&e.ChildID,
			&outcome,
			&e.Reason,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}

		e.ActorType = audit.ActorType(actorType)
		e.Outcome = audit.Outcome(outcome)
		out = append(out, e)
	}

	return out, rows.Err()
}
