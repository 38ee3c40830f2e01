package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"family-health-access/internal/domain/sharetokens"
)

type ShareTokensRepo struct {
	db *sql.DB
}

func NewShareTokensRepo(db *sql.DB) *ShareTokensRepo {
	return &ShareTokensRepo{db: db}
}

func (r *ShareTokensRepo) Create(ctx context.Context, t sharetokens.Token) error {
	perms, err := json.Marshal(t.Permissions)
	if err != nil {
		return err
	}

	var maxCount sql.NullInt64
	if t.MaxAccessCount != nil {
		maxCount = sql.NullInt64{Int64: int64(*t.MaxAccessCount), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO share_tokens (
			id, secret, child_id, owner_user_id, issued_by_user_id,
			provider_name, provider_email, notes,
			permissions, expires_at, max_access_count, access_count,
			is_active, created_at, last_access_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		t.ID,
		t.Secret,
		t.ChildID,
		t.OwnerUserID,
		t.IssuedByUserID,
		t.ProviderName,
		t.ProviderEmail,
		t.Notes,
		perms,
		t.ExpiresAt,
		maxCount,
		t.AccessCount,
		t.IsActive,
		t.CreatedAt,
		toNullTime(t.LastAccessAt),
	)
	return err
}

func (r *ShareTokensRepo) GetByID(ctx context.Context, id string) (sharetokens.Token, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return sharetokens.Token{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, tokenSelect+` WHERE id = $1`, id)
	return scanToken(row)
}

func (r *ShareTokensRepo) GetBySecret(ctx context.Context, secret string) (sharetokens.Token, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return sharetokens.Token{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, tokenSelect+` WHERE secret = $1`, secret)
	return scanToken(row)
}

func (r *ShareTokensRepo) ListByChild(ctx context.Context, childID string) ([]sharetokens.Token, error) {
	childID = strings.TrimSpace(childID)
	if childID == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, tokenSelect+`
		WHERE child_id = $1
		ORDER BY created_at DESC
	`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]sharetokens.Token, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// Consume es el update condicional: solo incrementa si el token sigue activo,
// no venció y no agotó los usos. El WHERE hace de compare-and-swap; con dos
// consumidores peleando por el último uso, uno solo ve RowsAffected=1.
func (r *ShareTokensRepo) Consume(ctx context.Context, id string, now time.Time) (sharetokens.Token, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE share_tokens
		SET access_count = access_count + 1,
		    last_access_at = $2
		WHERE id = $1
		  AND is_active
		  AND expires_at > $2
		  AND (max_access_count IS NULL OR access_count < max_access_count)
		RETURNING `+tokenColumns,
		id, now,
	)

	t, err := scanToken(row)
	if err == nil {
		return t, nil
	}
	if err != ErrNotFound {
		return sharetokens.Token{}, err
	}

	// El update no matcheó: releer para distinguir por qué.
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return sharetokens.Token{}, sharetokens.ErrNotFound
	}

	switch {
	case !current.IsActive:
		return sharetokens.Token{}, sharetokens.ErrRevoked
	case !now.Before(current.ExpiresAt):
		return sharetokens.Token{}, sharetokens.ErrExpired
	default:
		return sharetokens.Token{}, sharetokens.ErrExhausted
	}
}

func (r *ShareTokensRepo) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE share_tokens SET is_active = FALSE WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const tokenColumns = `
	id, secret, child_id, owner_user_id, issued_by_user_id,
	provider_name, provider_email, notes,
	permissions, expires_at, max_access_count, access_count,
	is_active, created_at, last_access_at`

const tokenSelect = `SELECT ` + tokenColumns + ` FROM share_tokens`

func scanToken(row rowScanner) (sharetokens.Token, error) {
	var t sharetokens.Token
	var perms []byte
	var maxCount sql.NullInt64
	var lastAccess sql.NullTime

	if err := row.Scan(
		&t.ID,
		&t.Secret,
		&t.ChildID,
		&t.OwnerUserID,
		&t.IssuedByUserID,
		&t.ProviderName,
		&t.ProviderEmail,
		&t.Notes,
		&perms,
		&t.ExpiresAt,
		&maxCount,
		&t.AccessCount,
		&t.IsActive,
		&t.CreatedAt,
		&lastAccess,
	); err != nil {
		if err == sql.ErrNoRows {
			return sharetokens.Token{}, ErrNotFound
		}
		return sharetokens.Token{}, err
	}

	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &t.Permissions); err != nil {
			return sharetokens.Token{}, err
		}
	}
	if maxCount.Valid {
		v := int(maxCount.Int64)
		t.MaxAccessCount = &v
	}
	if lastAccess.Valid {
		v := lastAccess.Time
		t.LastAccessAt = &v
	}

	return t, nil
}
