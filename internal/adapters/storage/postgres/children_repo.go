package postgres

import (
	"context"
	"database/sql"
	"strings"

	"family-health-access/internal/domain/children"
)

type ChildrenRepo struct {
	db *sql.DB
}

func NewChildrenRepo(db *sql.DB) *ChildrenRepo {
	return &ChildrenRepo{db: db}
}

func (r *ChildrenRepo) Create(ctx context.Context, c children.Child) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO children (
			id, owner_user_id, name, birth_date, notes,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		c.ID,
		c.OwnerUserID,
		c.Name,
		toNullTime(c.BirthDate),
		c.Notes,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return err
}

func (r *ChildrenRepo) GetByID(ctx context.Context, id string) (children.Child, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return children.Child{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, name, birth_date, notes, created_at, updated_at
		FROM children
		WHERE id = $1
	`, id)

	var c children.Child
	var birthDate sql.NullTime

	if err := row.Scan(
		&c.ID,
		&c.OwnerUserID,
		&c.Name,
		&birthDate,
		&c.Notes,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return children.Child{}, ErrNotFound
		}
		return children.Child{}, err
	}

	if birthDate.Valid {
		t := birthDate.Time
		c.BirthDate = &t
	}

	return c, nil
}

func (r *ChildrenRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]children.Child, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_user_id, name, birth_date, notes, created_at, updated_at
		FROM children
		WHERE owner_user_id = $1
		ORDER BY created_at ASC
	`, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]children.Child, 0)
	for rows.Next() {
		var c children.Child
		var birthDate sql.NullTime

		if err := rows.Scan(
			&c.ID,
			&c.OwnerUserID,
			&c.Name,
			&birthDate,
			&c.Notes,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if birthDate.Valid {
			t := birthDate.Time
			c.BirthDate = &t
		}

		out = append(out, c)
	}

	return out, rows.Err()
}
