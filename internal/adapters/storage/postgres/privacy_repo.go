package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"family-health-access/internal/domain/privacy"
)

// PrivacyRepo persiste settings. Los campos estructurados (allowlist, custom
// permissions, canales) van como JSONB: se leen siempre como documento
// completo, nunca se filtra por dentro.
type PrivacyRepo struct {
	db *sql.DB
}

func NewPrivacyRepo(db *sql.DB) *PrivacyRepo {
	return &PrivacyRepo{db: db}
}

func (r *PrivacyRepo) GetFamily(ctx context.Context, ownerUserID string) (privacy.FamilySettings, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return privacy.FamilySettings{}, privacy.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT owner_user_id, share_with_caregivers, allow_export,
		       allowed_communications, retention_days, auto_delete, updated_at
		FROM family_privacy_settings
		WHERE owner_user_id = $1
	`, ownerUserID)

	var fs privacy.FamilySettings
	var comms []byte

	if err := row.Scan(
		&fs.OwnerUserID,
		&fs.ShareWithCaregivers,
		&fs.AllowExport,
		&comms,
		&fs.RetentionDays,
		&fs.AutoDelete,
		&fs.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return privacy.FamilySettings{}, privacy.ErrNotFound
		}
		return privacy.FamilySettings{}, err
	}

	if len(comms) > 0 {
		if err := json.Unmarshal(comms, &fs.AllowedCommunications); err != nil {
			return privacy.FamilySettings{}, err
		}
	}

	return fs, nil
}

func (r *PrivacyRepo) SaveFamily(ctx context.Context, fs privacy.FamilySettings) error {
	comms, err := json.Marshal(fs.AllowedCommunications)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO family_privacy_settings (
			owner_user_id, share_with_caregivers, allow_export,
			allowed_communications, retention_days, auto_delete, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (owner_user_id) DO UPDATE SET
			share_with_caregivers = EXCLUDED.share_with_caregivers,
			allow_export = EXCLUDED.allow_export,
			allowed_communications = EXCLUDED.allowed_communications,
			retention_days = EXCLUDED.retention_days,
			auto_delete = EXCLUDED.auto_delete,
			updated_at = EXCLUDED.updated_at
	`,
		fs.OwnerUserID,
		fs.ShareWithCaregivers,
		fs.AllowExport,
		comms,
		fs.RetentionDays,
		fs.AutoDelete,
		fs.UpdatedAt,
	)
	return err
}

func (r *PrivacyRepo) GetChild(ctx context.Context, childID string) (privacy.ChildSettings, error) {
	childID = strings.TrimSpace(childID)
	if childID == "" {
		return privacy.ChildSettings{}, privacy.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT child_id, owner_user_id, inherit_from_parent, restricted_access,
		       allowed_users, custom_permissions, blocked_communications,
		       retention_days_override, auto_delete_override,
		       created_at, updated_at
		FROM child_privacy_settings
		WHERE child_id = $1
	`, childID)

	return scanChildSettings(row)
}

func (r *PrivacyRepo) SaveChild(ctx context.Context, cs privacy.ChildSettings) error {
	allowedUsers, err := json.Marshal(cs.AllowedUsers)
	if err != nil {
		return err
	}
	custom, err := json.Marshal(cs.CustomPermissions)
	if err != nil {
		return err
	}
	blocked, err := json.Marshal(cs.BlockedCommunications)
	if err != nil {
		return err
	}

	var retOverride sql.NullInt64
	if cs.RetentionDaysOverride != nil {
		retOverride = sql.NullInt64{Int64: int64(*cs.RetentionDaysOverride), Valid: true}
	}
	var autoOverride sql.NullBool
	if cs.AutoDeleteOverride != nil {
		autoOverride = sql.NullBool{Bool: *cs.AutoDeleteOverride, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO child_privacy_settings (
			child_id, owner_user_id, inherit_from_parent, restricted_access,
			allowed_users, custom_permissions, blocked_communications,
			retention_days_override, auto_delete_override,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (child_id) DO UPDATE SET
			inherit_from_parent = EXCLUDED.inherit_from_parent,
			restricted_access = EXCLUDED.restricted_access,
			allowed_users = EXCLUDED.allowed_users,
			custom_permissions = EXCLUDED.custom_permissions,
			blocked_communications = EXCLUDED.blocked_communications,
			retention_days_override = EXCLUDED.retention_days_override,
			auto_delete_override = EXCLUDED.auto_delete_override,
			updated_at = EXCLUDED.updated_at
	`,
		cs.ChildID,
		cs.OwnerUserID,
		cs.InheritFromParent,
		cs.RestrictedAccess,
		allowedUsers,
		custom,
		blocked,
		retOverride,
		autoOverride,
		cs.CreatedAt,
		cs.UpdatedAt,
	)
	return err
}

func (r *PrivacyRepo) DeleteChild(ctx context.Context, childID string) error {
	childID = strings.TrimSpace(childID)
	if childID == "" {
		return privacy.ErrNotFound
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM child_privacy_settings WHERE child_id = $1
	`, childID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return privacy.ErrNotFound
	}
	return nil
}

func (r *PrivacyRepo) ListChildOverrides(ctx context.Context, ownerUserID string) ([]privacy.ChildSettings, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT child_id, owner_user_id, inherit_from_parent, restricted_access,
		       allowed_users, custom_permissions, blocked_communications,
		       retention_days_override, auto_delete_override,
		       created_at, updated_at
		FROM child_privacy_settings
		WHERE owner_user_id = $1
		ORDER BY created_at ASC
	`, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]privacy.ChildSettings, 0)
	for rows.Next() {
		cs, err := scanChildSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}

	return out, rows.Err()
}

func scanChildSettings(row rowScanner) (privacy.ChildSettings, error) {
	var cs privacy.ChildSettings
	var allowedUsers, custom, blocked []byte
	var retOverride sql.NullInt64
	var autoOverride sql.NullBool

	if err := row.Scan(
		&cs.ChildID,
		&cs.OwnerUserID,
		&cs.InheritFromParent,
		&cs.RestrictedAccess,
		&allowedUsers,
		&custom,
		&blocked,
		&retOverride,
		&autoOverride,
		&cs.CreatedAt,
		&cs.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return privacy.ChildSettings{}, privacy.ErrNotFound
		}
		return privacy.ChildSettings{}, err
	}

	if len(allowedUsers) > 0 {
		if err := json.Unmarshal(allowedUsers, &cs.AllowedUsers); err != nil {
			return privacy.ChildSettings{}, err
		}
	}
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &cs.CustomPermissions); err != nil {
			return privacy.ChildSettings{}, err
		}
	}
	if len(blocked) > 0 {
		if err := json.Unmarshal(blocked, &cs.BlockedCommunications); err != nil {
			return privacy.ChildSettings{}, err
		}
	}

	if retOverride.Valid {
		v := int(retOverride.Int64)
		cs.RetentionDaysOverride = &v
	}
	if autoOverride.Valid {
		v := autoOverride.Bool
		cs.AutoDeleteOverride = &v
	}

	return cs, nil
}
