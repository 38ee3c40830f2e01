package privacy

import "context"

// Repository es la interface angosta hacia el settings store externo.
type Repository interface {
	GetFamily(ctx context.Context, ownerUserID string) (FamilySettings, error)
	SaveFamily(ctx context.Context, fs FamilySettings) error

	GetChild(ctx context.Context, childID string) (ChildSettings, error)
	SaveChild(ctx context.Context, cs ChildSettings) error
	DeleteChild(ctx context.Context, childID string) error
	ListChildOverrides(ctx context.Context, ownerUserID string) ([]ChildSettings, error)
}
