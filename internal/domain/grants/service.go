package grants

import (
	"context"
	"errors"
	"strings"
	"time"

	"family-health-access/internal/domain/permissions"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadState     = errors.New("invalid state")
)

// PrivacyPurger limpia referencias a un usuario en los overrides por hijo
// cuando su grant se revoca (allowedUsers / customPermissions huérfanos).
// Interface chica acá para no importar el paquete privacy (rompe ciclos).
type PrivacyPurger interface {
	PurgeUser(ctx context.Context, ownerUserID, userID string) error
}

// CacheInvalidator tira las decisiones cacheadas de una familia. Un cambio
// de rol vía dedup de Invite cambia el set efectivo del delegado y no puede
// quedar sirviéndose viejo hasta que venza el TTL.
type CacheInvalidator interface {
	InvalidateOwner(ownerUserID string)
}

type Service struct {
	repo        Repository
	purger      PrivacyPurger    // opcional
	invalidator CacheInvalidator // opcional
	now         func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// SetPrivacyPurger engancha la limpieza de overrides post-revoke.
// Se setea después de construir ambos services (dependencia circular suave).
func (s *Service) SetPrivacyPurger(p PrivacyPurger) {
	s.purger = p
}

func (s *Service) SetCacheInvalidator(inv CacheInvalidator) {
	s.invalidator = inv
}

func (s *Service) invalidate(ownerUserID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateOwner(ownerUserID)
	}
}

type InviteInput struct {
	OwnerUserID   string
	GranteeUserID string
	Role          permissions.Role
}

func (s *Service) Invite(ctx context.Context, in InviteInput) (Grant, error) {
	ownerID := strings.TrimSpace(in.OwnerUserID)
	granteeID := strings.TrimSpace(in.GranteeUserID)

	if ownerID == "" || granteeID == "" {
		return Grant{}, ErrInvalidInput
	}
	if ownerID == granteeID {
		// El owner no se delega a sí mismo; ya es full-privileged.
		return Grant{}, ErrInvalidInput
	}

	role := permissions.Role(strings.TrimSpace(string(in.Role)))
	if role == "" {
		role = permissions.RoleViewer
	}
	if role == permissions.RoleOwner || !permissions.ValidRole(role) {
		return Grant{}, ErrInvalidInput
	}

	now := s.now()

	// 1) Buscar grants existentes para (ownerID, granteeID)
	existing, allMatches, err := s.findLatestMatch(ctx, ownerID, granteeID)
	if err == nil && existing.ID != "" {
		// Revocado => monotónico: nunca se reactiva, se crea uno nuevo abajo.
		if existing.Status != StatusRevoked {
			// 2) Deduplicar: revocar cualquier otro matching grant no-revoked
			_ = s.revokeOtherMatches(ctx, existing.ID, allMatches, now)

			// 3) Actualizar rol del winner (permite "cambiar" rol sin endpoint extra)
			existing.Role = role
			existing.UpdatedAt = now

			if err := s.repo.Update(ctx, existing); err != nil {
				return Grant{}, err
			}
			s.invalidate(ownerID)
			return existing, nil
		}
	}

	g := Grant{
		ID:            uuid.NewString(),
		OwnerUserID:   ownerID,
		GranteeUserID: granteeID,
		Role:          role,
		Status:        StatusInvited,
		CreatedAt:     now,
		UpdatedAt:     now,
		RevokedAt:     nil,
	}

	if err := s.repo.Create(ctx, g); err != nil {
		return Grant{}, err
	}
	s.invalidate(ownerID)
	return g, nil
}

func (s *Service) Accept(ctx context.Context, grantID, granteeUserID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	granteeUserID = strings.TrimSpace(granteeUserID)

	if grantID == "" || granteeUserID == "" {
		return Grant{}, ErrInvalidInput
	}

	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return Grant{}, ErrNotFound
	}

	if g.GranteeUserID != granteeUserID {
		return Grant{}, ErrForbidden
	}
	if g.Status == StatusRevoked {
		return Grant{}, ErrBadState
	}

	// Idempotente
	if g.Status == StatusActive {
		return g, nil
	}
	if g.Status != StatusInvited {
		return Grant{}, ErrBadState
	}

	now := s.now()
	g.Status = StatusActive
	g.UpdatedAt = now

	if err := s.repo.Update(ctx, g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

func (s *Service) Revoke(ctx context.Context, grantID, ownerUserID string) (Grant, error) {
	grantID = strings.TrimSpace(grantID)
	ownerUserID = strings.TrimSpace(ownerUserID)

	if grantID == "" || ownerUserID == "" {
		return Grant{}, ErrInvalidInput
	}

	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return Grant{}, ErrNotFound
	}

	if g.OwnerUserID != ownerUserID {
		return Grant{}, ErrForbidden
	}

	// Idempotente
	if g.Status == StatusRevoked {
		return g, nil
	}

	now := s.now()
	g.Status = StatusRevoked
	g.UpdatedAt = now
	g.RevokedAt = &now

	if err := s.repo.Update(ctx, g); err != nil {
		return Grant{}, err
	}

	// Limpiar customPermissions/allowedUsers del usuario en overrides por hijo.
	// Dejarlos huérfanos re-armaría permisos viejos si se re-invita al usuario.
	if s.purger != nil {
		_ = s.purger.PurgeUser(ctx, ownerUserID, g.GranteeUserID)
	}
	s.invalidate(ownerUserID)

	return g, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerUserID string) ([]Grant, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByOwner(ctx, ownerUserID)
}

func (s *Service) ListByGrantee(ctx context.Context, granteeUserID string) ([]Grant, error) {
	granteeUserID = strings.TrimSpace(granteeUserID)
	if granteeUserID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByGrantee(ctx, granteeUserID)
}

// ActiveRole devuelve el rol del grant activo de granteeUserID bajo ownerUserID.
// Lo consume el permission resolver (paso 2 de la decisión).
func (s *Service) ActiveRole(ctx context.Context, ownerUserID, granteeUserID string) (permissions.Role, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	granteeUserID = strings.TrimSpace(granteeUserID)

	if ownerUserID == "" || granteeUserID == "" {
		return "", ErrInvalidInput
	}
	g, err := s.repo.GetActiveGrant(ctx, ownerUserID, granteeUserID)
	if err != nil {
		return "", ErrNotFound
	}
	return g.Role, nil
}

func (s *Service) findLatestMatch(ctx context.Context, ownerID, granteeID string) (Grant, []Grant, error) {
	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return Grant{}, nil, err
	}

	matches := make([]Grant, 0)
	var winner Grant
	hasWinner := false

	for _, g := range items {
		if g.OwnerUserID != ownerID || g.GranteeUserID != granteeID {
			continue
		}
		matches = append(matches, g)

		if !hasWinner || g.UpdatedAt.After(winner.UpdatedAt) {
			winner = g
			hasWinner = true
		}
	}

	if !hasWinner {
		return Grant{}, matches, ErrNotFound
	}
	return winner, matches, nil
}

func (s *Service) revokeOtherMatches(ctx context.Context, winnerID string, matches []Grant, now time.Time) error {
	for _, g := range matches {
		if g.ID == "" || g.ID == winnerID {
			continue
		}
		if g.Status == StatusRevoked {
			continue
		}
		g.Status = StatusRevoked
		g.UpdatedAt = now
		g.RevokedAt = &now
		_ = s.repo.Update(ctx, g) // best-effort (MVP)
	}
	return nil
}
