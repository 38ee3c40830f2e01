package sharetokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"family-health-access/internal/domain/access"
	"family-health-access/internal/domain/audit"
	"family-health-access/internal/domain/permissions"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")

	// ErrExcessScope: el request de emisión pide más de lo que el emisor
	// mismo tiene efectivo sobre ese hijo.
	ErrExcessScope = errors.New("excess scope")

	// ErrElevationRequired: emitir links es operación administrativa;
	// con sesión presente, exige elevación one-shot previa.
	ErrElevationRequired = errors.New("session elevation required")

	// Estados inválidos del token (repo.Consume los distingue).
	ErrRevoked   = errors.New("token revoked")
	ErrExpired   = errors.New("token expired")
	ErrExhausted = errors.New("token exhausted")
)

const (
	defaultTTLHours = 24
	maxTTLHours     = 24 * 30
)

// AccessChecker es lo que necesitamos del permission resolver: el veredicto
// manage-access y el set efectivo del emisor (para acotar el token).
type AccessChecker interface {
	Resolve(ctx context.Context, req access.Request) (access.Decision, error)
	EffectiveForChild(ctx context.Context, actorID, ownerUserID, childID string) ([]permissions.Permission, error)
}

// ElevationConsumer gasta la elevación one-shot de una sesión.
// Implementado por sessions.Service; opcional (modo dev sin sesiones).
type ElevationConsumer interface {
	ConsumeElevation(ctx context.Context, sessionID string) (bool, error)
}

type Service struct {
	repo     Repository
	resolver AccessChecker
	auditor  *audit.Service
	elevator ElevationConsumer // opcional

	now func() time.Time
}

func NewService(repo Repository, resolver AccessChecker, auditor *audit.Service) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		auditor:  auditor,
		now:      time.Now,
	}
}

func (s *Service) SetElevationConsumer(e ElevationConsumer) {
	s.elevator = e
}

type IssueInput struct {
	RequesterID string
	OwnerUserID string
	ChildID     string

	ProviderName  string
	ProviderEmail string
	Notes         string

	Permissions    []permissions.Permission
	ExpiresInHours int
	MaxAccessCount *int

	// Si viene, el requester opera con sesión y debe estar elevado.
	SessionID string
}

// Issue emite un magic link. El emisor necesita manage-access sobre el hijo
// y el token nunca puede otorgar más de lo que el emisor mismo tiene.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Token, error) {
	requesterID := strings.TrimSpace(in.RequesterID)
	ownerID := strings.TrimSpace(in.OwnerUserID)
	childID := strings.TrimSpace(in.ChildID)
	providerName := strings.TrimSpace(in.ProviderName)

	if requesterID == "" || ownerID == "" || childID == "" || providerName == "" {
		return Token{}, ErrInvalidInput
	}

	hours := in.ExpiresInHours
	if hours == 0 {
		hours = defaultTTLHours
	}
	if hours < 0 || hours > maxTTLHours {
		return Token{}, ErrInvalidInput
	}
	if in.MaxAccessCount != nil && *in.MaxAccessCount <= 0 {
		return Token{}, ErrInvalidInput
	}

	perms, err := permissions.NormalizeStrict(in.Permissions)
	if err != nil || len(perms) == 0 {
		return Token{}, ErrInvalidInput
	}

	// Los links de proveedor son de lectura: un permiso de escritura en el
	// request es scope en exceso por definición.
	if len(permissions.ViewOnly(perms)) != len(perms) {
		return Token{}, ErrExcessScope
	}

	// manage-access sobre el hijo (decisión auditada por el resolver).
	decision, err := s.resolver.Resolve(ctx, access.Request{
		ActorID:  requesterID,
		OwnerID:  ownerID,
		ChildID:  childID,
		Category: permissions.CategoryPrivacy,
		Action:   permissions.ActionManage,
	})
	if err != nil {
		return Token{}, err
	}
	if !decision.Granted {
		return Token{}, ErrForbidden
	}

	// Subset check: token.permissions ⊆ set efectivo del emisor.
	effective, err := s.resolver.EffectiveForChild(ctx, requesterID, ownerID, childID)
	if err != nil {
		return Token{}, err
	}
	for _, p := range perms {
		if !permissions.Contains(effective, p) {
			return Token{}, ErrExcessScope
		}
	}

	// Elevación one-shot si el request viene con sesión.
	if sessionID := strings.TrimSpace(in.SessionID); sessionID != "" && s.elevator != nil {
		elevated, err := s.elevator.ConsumeElevation(ctx, sessionID)
		if err != nil {
			return Token{}, err
		}
		if !elevated {
			return Token{}, ErrElevationRequired
		}
	}

	secret, err := newSecret()
	if err != nil {
		return Token{}, err
	}

	now := s.now()
	t := Token{
		ID:             uuid.NewString(),
		Secret:         secret,
		ChildID:        childID,
		OwnerUserID:    ownerID,
		IssuedByUserID: requesterID,
		ProviderName:   providerName,
		ProviderEmail:  strings.TrimSpace(in.ProviderEmail),
		Notes:          strings.TrimSpace(in.Notes),
		Permissions:    perms,
		ExpiresAt:      now.Add(time.Duration(hours) * time.Hour),
		MaxAccessCount: in.MaxAccessCount,
		AccessCount:    0,
		IsActive:       true,
		CreatedAt:      now,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return Token{}, err
	}

	if _, err := s.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  ownerID,
		ActorID:      requesterID,
		ActorType:    audit.ActorTypeUser,
		Action:       "token.issue",
		ResourceType: "share_token",
		ResourceID:   t.ID,
		ChildID:      childID,
		Outcome:      audit.OutcomeGranted,
		Reason:       "token issued for " + providerName,
	}); err != nil {
		// Sin audit no hay token: lo apagamos y fallamos.
		_ = s.repo.Revoke(ctx, t.ID)
		return Token{}, err
	}

	return t, nil
}

// Validate chequea el token sin mutar nada: llamarla N veces jamás toca
// accessCount. Devuelve el token y "" si es válido, o la razón si no.
func (s *Service) Validate(ctx context.Context, secret string) (Token, string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Token{}, "", ErrInvalidInput
	}

	t, err := s.repo.GetBySecret(ctx, secret)
	if err != nil {
		return Token{}, "", ErrNotFound
	}

	return t, t.InvalidReason(s.now()), nil
}

// Consume revalida e incrementa el contador en un paso atómico del repo.
// Todo resultado (éxito o probing con token muerto) queda auditado.
func (s *Service) Consume(ctx context.Context, secret string) (Token, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Token{}, ErrInvalidInput
	}

	t, err := s.repo.GetBySecret(ctx, secret)
	if err != nil {
		return Token{}, ErrNotFound
	}

	consumed, err := s.repo.Consume(ctx, t.ID, s.now())
	if err != nil {
		reason := "token invalid"
		switch {
		case errors.Is(err, ErrRevoked):
			reason = ReasonRevoked
		case errors.Is(err, ErrExpired):
			reason = ReasonExpired
		case errors.Is(err, ErrExhausted):
			reason = ReasonExhausted
		}

		// Probing visible: el intento fallido también se audita, y si el
		// audit no entra, el error que sale es ese (nada queda sin registro).
		if _, auditErr := s.auditor.Append(ctx, audit.AppendInput{
			OwnerUserID:  t.OwnerUserID,
			ActorID:      t.ID,
			ActorType:    audit.ActorTypeToken,
			Action:       "token.consume",
			ResourceType: "share_token",
			ResourceID:   t.ID,
			ChildID:      t.ChildID,
			Outcome:      audit.OutcomeDenied,
			Reason:       reason,
		}); auditErr != nil {
			return Token{}, auditErr
		}
		return Token{}, err
	}

	if _, err := s.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  consumed.OwnerUserID,
		ActorID:      consumed.ID,
		ActorType:    audit.ActorTypeToken,
		Action:       "token.consume",
		ResourceType: "share_token",
		ResourceID:   consumed.ID,
		ChildID:      consumed.ChildID,
		Outcome:      audit.OutcomeGranted,
		Reason:       "provider access",
	}); err != nil {
		// El uso ya se descontó pero sin audit no se otorga nada.
		return Token{}, err
	}

	return consumed, nil
}

// Revoke apaga el token. Requiere manage-access del actor sobre el hijo.
func (s *Service) Revoke(ctx context.Context, tokenID, actorID string) error {
	tokenID = strings.TrimSpace(tokenID)
	actorID = strings.TrimSpace(actorID)
	if tokenID == "" || actorID == "" {
		return ErrInvalidInput
	}

	t, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return ErrNotFound
	}

	decision, err := s.resolver.Resolve(ctx, access.Request{
		ActorID:  actorID,
		OwnerID:  t.OwnerUserID,
		ChildID:  t.ChildID,
		Category: permissions.CategoryPrivacy,
		Action:   permissions.ActionManage,
	})
	if err != nil {
		return err
	}
	if !decision.Granted {
		return ErrForbidden
	}

	if err := s.repo.Revoke(ctx, tokenID); err != nil {
		return err
	}

	_, err = s.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  t.OwnerUserID,
		ActorID:      actorID,
		ActorType:    audit.ActorTypeUser,
		Action:       "token.revoke",
		ResourceType: "share_token",
		ResourceID:   tokenID,
		ChildID:      t.ChildID,
		Outcome:      audit.OutcomeGranted,
		Reason:       "token revoked",
	})
	return err
}

func (s *Service) ListByChild(ctx context.Context, childID string) ([]Token, error) {
	childID = strings.TrimSpace(childID)
	if childID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListByChild(ctx, childID)
}

// newSecret genera el token del link: 32 bytes de crypto/rand en base64 URL.
func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
