package privacy

import (
	"context"
	"errors"
	"strings"
	"time"

	"family-health-access/internal/domain/permissions"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// ErrConflict: el write contradice un override más específico ya existente.
	// Se devuelve al caller en vez de resolverlo en silencio.
	ErrConflict = errors.New("configuration conflict")
)

// CacheInvalidator avisa al decision cache que los settings de una familia
// cambiaron. Interface chica acá para no importar el paquete access.
type CacheInvalidator interface {
	InvalidateOwner(ownerUserID string)
}

const defaultRetentionDays = 365

type Service struct {
	repo        Repository
	invalidator CacheInvalidator // opcional
	now         func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// SetCacheInvalidator engancha la invalidación síncrona del decision cache.
func (s *Service) SetCacheInvalidator(ci CacheInvalidator) {
	s.invalidator = ci
}

func (s *Service) invalidate(ownerUserID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateOwner(ownerUserID)
	}
}

// GetFamily devuelve los settings family-wide, con defaults si nunca se
// guardaron (lazy: no escribimos el default, solo lo devolvemos).
func (s *Service) GetFamily(ctx context.Context, ownerUserID string) (FamilySettings, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return FamilySettings{}, ErrInvalidInput
	}

	fs, err := s.repo.GetFamily(ctx, ownerUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return defaultFamilySettings(ownerUserID), nil
		}
		return FamilySettings{}, err
	}
	return fs, nil
}

type UpdateFamilyInput struct {
	ShareWithCaregivers   bool
	AllowExport           bool
	AllowedCommunications []CommunicationType
	RetentionDays         int
	AutoDelete            bool
}

func (s *Service) UpdateFamily(ctx context.Context, ownerUserID string, in UpdateFamilyInput) (FamilySettings, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return FamilySettings{}, ErrInvalidInput
	}
	if in.RetentionDays < 0 {
		return FamilySettings{}, ErrInvalidInput
	}
	for _, c := range in.AllowedCommunications {
		if c != CommunicationEmail && c != CommunicationSMS && c != CommunicationPush {
			return FamilySettings{}, ErrInvalidInput
		}
	}

	// Conflict check: apagar sharing a nivel familia mientras existen
	// overrides por hijo con allowlists vivas contradice la config más
	// específica. Lo rechazamos explícito (el owner debe limpiar overrides).
	if !in.ShareWithCaregivers {
		overrides, err := s.repo.ListChildOverrides(ctx, ownerUserID)
		if err != nil {
			return FamilySettings{}, err
		}
		for _, cs := range overrides {
			if cs.InheritFromParent {
				continue
			}
			if len(cs.AllowedUsers) > 0 || len(cs.CustomPermissions) > 0 {
				return FamilySettings{}, ErrConflict
			}
		}
	}

	fs := FamilySettings{
		OwnerUserID:           ownerUserID,
		ShareWithCaregivers:   in.ShareWithCaregivers,
		AllowExport:           in.AllowExport,
		AllowedCommunications: in.AllowedCommunications,
		RetentionDays:         in.RetentionDays,
		AutoDelete:            in.AutoDelete,
		UpdatedAt:             s.now(),
	}

	if err := s.repo.SaveFamily(ctx, fs); err != nil {
		return FamilySettings{}, err
	}

	s.invalidate(ownerUserID)
	return fs, nil
}

// GetChild devuelve el override del hijo, o ErrNotFound si nunca se creó.
func (s *Service) GetChild(ctx context.Context, childID string) (ChildSettings, error) {
	childID = strings.TrimSpace(childID)
	if childID == "" {
		return ChildSettings{}, ErrInvalidInput
	}
	return s.repo.GetChild(ctx, childID)
}

type UpsertChildInput struct {
	InheritFromParent     bool
	RestrictedAccess      bool
	AllowedUsers          []string
	CustomPermissions     map[string][]permissions.Permission
	BlockedCommunications []CommunicationType
	RetentionDaysOverride *int
	AutoDeleteOverride    *bool
}

// UpsertChild crea (lazy) o actualiza el override de un hijo.
func (s *Service) UpsertChild(ctx context.Context, ownerUserID, childID string, in UpsertChildInput) (ChildSettings, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	childID = strings.TrimSpace(childID)
	if ownerUserID == "" || childID == "" {
		return ChildSettings{}, ErrInvalidInput
	}
	if in.RetentionDaysOverride != nil && *in.RetentionDaysOverride <= 0 {
		return ChildSettings{}, ErrInvalidInput
	}

	// Custom permissions: validación estricta del vocabulario.
	custom := map[string][]permissions.Permission{}
	for userID, perms := range in.CustomPermissions {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		normalized, err := permissions.NormalizeStrict(perms)
		if err != nil {
			return ChildSettings{}, ErrInvalidInput
		}
		custom[userID] = normalized
	}

	allowed := make([]string, 0, len(in.AllowedUsers))
	seen := map[string]struct{}{}
	for _, u := range in.AllowedUsers {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		allowed = append(allowed, u)
	}

	if in.RestrictedAccess && in.InheritFromParent {
		// inheritFromParent=true significa "este hijo no aporta restricción";
		// combinarlo con restrictedAccess es contradictorio.
		return ChildSettings{}, ErrConflict
	}

	now := s.now()

	cs, err := s.repo.GetChild(ctx, childID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return ChildSettings{}, err
		}
		cs = ChildSettings{
			ChildID:     childID,
			OwnerUserID: ownerUserID,
			CreatedAt:   now,
		}
	}
	if cs.OwnerUserID != ownerUserID {
		return ChildSettings{}, ErrInvalidInput
	}

	cs.InheritFromParent = in.InheritFromParent
	cs.RestrictedAccess = in.RestrictedAccess
	cs.AllowedUsers = allowed
	cs.CustomPermissions = custom
	cs.BlockedCommunications = in.BlockedCommunications
	cs.RetentionDaysOverride = in.RetentionDaysOverride
	cs.AutoDeleteOverride = in.AutoDeleteOverride
	cs.UpdatedAt = now

	if err := s.repo.SaveChild(ctx, cs); err != nil {
		return ChildSettings{}, err
	}

	s.invalidate(ownerUserID)
	return cs, nil
}

// RemoveChild borra el override (vuelve a herencia pura de familia).
func (s *Service) RemoveChild(ctx context.Context, ownerUserID, childID string) error {
	ownerUserID = strings.TrimSpace(ownerUserID)
	childID = strings.TrimSpace(childID)
	if ownerUserID == "" || childID == "" {
		return ErrInvalidInput
	}

	cs, err := s.repo.GetChild(ctx, childID)
	if err != nil {
		return err
	}
	if cs.OwnerUserID != ownerUserID {
		return ErrInvalidInput
	}

	if err := s.repo.DeleteChild(ctx, childID); err != nil {
		return err
	}

	s.invalidate(ownerUserID)
	return nil
}

// EffectivePermissions carga los overrides y delega en el resolver puro.
// Es la cara con I/O del conflict resolver; la matemática vive en resolver.go.
func (s *Service) EffectivePermissions(ctx context.Context, actorID, ownerUserID string, childIDs []string, requested []permissions.Permission) (EffectiveResult, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return EffectiveResult{}, ErrInvalidInput
	}

	overrides := map[string]*ChildSettings{}
	for _, childID := range childIDs {
		cs, err := s.repo.GetChild(ctx, childID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // sin override => hereda
			}
			return EffectiveResult{}, err
		}
		copied := cs
		overrides[childID] = &copied
	}

	return Effective(actorID, childIDs, overrides, requested), nil
}

// RetentionFor resuelve la política de retención vigente de la familia.
func (s *Service) RetentionFor(ctx context.Context, ownerUserID string) (RetentionPolicy, error) {
	fs, err := s.GetFamily(ctx, ownerUserID)
	if err != nil {
		return RetentionPolicy{}, err
	}
	overrides, err := s.repo.ListChildOverrides(ctx, ownerUserID)
	if err != nil {
		return RetentionPolicy{}, err
	}
	return ResolveRetention(fs, overrides), nil
}

// PurgeUser saca a userID de allowedUsers y customPermissions de todos los
// overrides de la familia. Lo llama grants al revocar (ver DESIGN).
func (s *Service) PurgeUser(ctx context.Context, ownerUserID, userID string) error {
	ownerUserID = strings.TrimSpace(ownerUserID)
	userID = strings.TrimSpace(userID)
	if ownerUserID == "" || userID == "" {
		return ErrInvalidInput
	}

	overrides, err := s.repo.ListChildOverrides(ctx, ownerUserID)
	if err != nil {
		return err
	}

	changed := false
	for _, cs := range overrides {
		dirty := false

		filtered := cs.AllowedUsers[:0:0]
		for _, u := range cs.AllowedUsers {
			if u == userID {
				dirty = true
				continue
			}
			filtered = append(filtered, u)
		}
		cs.AllowedUsers = filtered

		if _, ok := cs.CustomPermissions[userID]; ok {
			delete(cs.CustomPermissions, userID)
			dirty = true
		}

		if dirty {
			cs.UpdatedAt = s.now()
			if err := s.repo.SaveChild(ctx, cs); err != nil {
				return err
			}
			changed = true
		}
	}

	if changed {
		s.invalidate(ownerUserID)
	}
	return nil
}

func defaultFamilySettings(ownerUserID string) FamilySettings {
	return FamilySettings{
		OwnerUserID:         ownerUserID,
		ShareWithCaregivers: true,
		AllowExport:         false,
		AllowedCommunications: []CommunicationType{
			CommunicationEmail, CommunicationPush,
		},
		RetentionDays: defaultRetentionDays,
		AutoDelete:    false,
	}
}
