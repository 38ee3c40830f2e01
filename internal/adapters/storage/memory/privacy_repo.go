package memory

import (
	"context"
	"sync"

	"family-health-access/internal/domain/permissions"
	"family-health-access/internal/domain/privacy"
)

type privacyRepo struct {
	mu       sync.RWMutex
	families map[string]privacy.FamilySettings // por ownerUserID
	byChild  map[string]privacy.ChildSettings  // por childID
}

func NewPrivacyRepo() privacy.Repository {
	return &privacyRepo{
		families: make(map[string]privacy.FamilySettings),
		byChild:  make(map[string]privacy.ChildSettings),
	}
}

func (r *privacyRepo) GetFamily(ctx context.Context, ownerUserID string) (privacy.FamilySettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fs, ok := r.families[ownerUserID]
	if !ok {
		// Devolvemos el sentinel del dominio para que el service
		// distinga "sin settings" (=> defaults) de un error real.
		return privacy.FamilySettings{}, privacy.ErrNotFound
	}
	return fs, nil
}

func (r *privacyRepo) SaveFamily(ctx context.Context, fs privacy.FamilySettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.families[fs.OwnerUserID] = fs
	return nil
}

func (r *privacyRepo) GetChild(ctx context.Context, childID string) (privacy.ChildSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cs, ok := r.byChild[childID]
	if !ok {
		return privacy.ChildSettings{}, privacy.ErrNotFound
	}
	return cloneChildSettings(cs), nil
}

func (r *privacyRepo) SaveChild(ctx context.Context, cs privacy.ChildSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byChild[cs.ChildID] = cloneChildSettings(cs)
	return nil
}

func (r *privacyRepo) DeleteChild(ctx context.Context, childID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byChild[childID]; !ok {
		return privacy.ErrNotFound
	}
	delete(r.byChild, childID)
	return nil
}

func (r *privacyRepo) ListChildOverrides(ctx context.Context, ownerUserID string) ([]privacy.ChildSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]privacy.ChildSettings, 0)
	for _, cs := range r.byChild {
		if cs.OwnerUserID == ownerUserID {
			out = append(out, cloneChildSettings(cs))
		}
	}
	return out, nil
}

// cloneChildSettings copia maps/slices para que los callers no muten
// el estado interno del repo por referencia compartida.
func cloneChildSettings(cs privacy.ChildSettings) privacy.ChildSettings {
	out := cs

	out.AllowedUsers = append([]string(nil), cs.AllowedUsers...)
	out.BlockedCommunications = append([]privacy.CommunicationType(nil), cs.BlockedCommunications...)

	if cs.CustomPermissions != nil {
		out.CustomPermissions = make(map[string][]permissions.Permission, len(cs.CustomPermissions))
		for userID, perms := range cs.CustomPermissions {
			out.CustomPermissions[userID] = append([]permissions.Permission(nil), perms...)
		}
	}
	return out
}
