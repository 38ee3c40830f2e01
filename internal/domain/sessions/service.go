package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"family-health-access/internal/domain/audit"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// Errores de validación: cualquiera de estos obliga a re-autenticar,
	// nunca a degradar permisos en silencio.
	ErrInvalidated         = errors.New("session invalidated")
	ErrFingerprintMismatch = errors.New("device fingerprint mismatch")
	ErrStale               = errors.New("session stale")
)

const (
	DefaultFreshnessWindow = 15 * time.Minute
	DefaultElevationWindow = 2 * time.Minute

	ReasonLogout              = "logout"
	ReasonFingerprintMismatch = "fingerprint mismatch"
	ReasonStale               = "stale"
)

type Service struct {
	repo    Repository
	auditor *audit.Service

	freshness time.Duration
	elevation time.Duration

	now func() time.Time
}

type Options struct {
	FreshnessWindow time.Duration
	ElevationWindow time.Duration
}

func NewService(repo Repository, auditor *audit.Service, opts Options) *Service {
	freshness := opts.FreshnessWindow
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	elevation := opts.ElevationWindow
	if elevation <= 0 {
		elevation = DefaultElevationWindow
	}

	return &Service{
		repo:      repo,
		auditor:   auditor,
		freshness: freshness,
		elevation: elevation,
		now:       time.Now,
	}
}

func (s *Service) Create(ctx context.Context, userID, deviceFingerprint string) (Session, error) {
	userID = strings.TrimSpace(userID)
	deviceFingerprint = strings.TrimSpace(deviceFingerprint)

	if userID == "" || deviceFingerprint == "" {
		return Session{}, ErrInvalidInput
	}

	now := s.now()
	sess := Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		DeviceFingerprint: deviceFingerprint,
		CreatedAt:         now,
		LastValidatedAt:   now,
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return Session{}, err
	}

	// Lifecycle events van al audit log de la partición del propio usuario.
	if _, err := s.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  userID,
		ActorID:      userID,
		ActorType:    audit.ActorTypeUser,
		Action:       "session.create",
		ResourceType: "session",
		ResourceID:   sess.ID,
		Outcome:      audit.OutcomeGranted,
		Reason:       "session created",
	}); err != nil {
		// Sin audit no hay sesión: la invalidamos y fallamos.
		_ = s.repo.Invalidate(ctx, sess.ID, "audit write failed")
		return Session{}, err
	}

	return sess, nil
}

// Validate chequea fingerprint + frescura y refresca lastValidatedAt
// (atómico en el repo). Implementa la precondición que consulta el
// permission resolver para requests con identidad.
func (s *Service) Validate(ctx context.Context, sessionID, deviceFingerprint string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidInput
	}

	_, err := s.repo.Touch(ctx, sessionID, strings.TrimSpace(deviceFingerprint), s.now(), s.freshness)
	if err == nil {
		return nil
	}

	// Mismatch y staleness dejaron la sesión terminal en el repo;
	// acá solo queda auditar el evento.
	switch {
	case errors.Is(err, ErrFingerprintMismatch), errors.Is(err, ErrStale):
		if sess, getErr := s.repo.GetByID(ctx, sessionID); getErr == nil {
			if _, auditErr := s.auditor.Append(ctx, audit.AppendInput{
				OwnerUserID:  sess.UserID,
				ActorID:      sess.UserID,
				ActorType:    audit.ActorTypeUser,
				Action:       "session.invalidate",
				ResourceType: "session",
				ResourceID:   sessionID,
				Outcome:      audit.OutcomeDenied,
				Reason:       err.Error(),
			}); auditErr != nil {
				// El evento no quedó registrado: ese error manda.
				return auditErr
			}
		}
	}

	return err
}

func (s *Service) GetByID(ctx context.Context, sessionID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, sessionID)
}

// Elevate escala la sesión para la próxima operación administrativa.
// Requiere que la sesión valide (fingerprint + frescura) en el momento.
func (s *Service) Elevate(ctx context.Context, sessionID, deviceFingerprint string) (Session, error) {
	if err := s.Validate(ctx, sessionID, deviceFingerprint); err != nil {
		return Session{}, err
	}

	sess, err := s.repo.Elevate(ctx, sessionID, s.now())
	if err != nil {
		return Session{}, err
	}

	if _, err := s.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  sess.UserID,
		ActorID:      sess.UserID,
		ActorType:    audit.ActorTypeUser,
		Action:       "session.elevate",
		ResourceType: "session",
		ResourceID:   sess.ID,
		Outcome:      audit.OutcomeGranted,
		Reason:       "elevation granted",
	}); err != nil {
		return Session{}, err
	}

	return sess, nil
}

// ConsumeElevation gasta la elevación one-shot. Devuelve false si la sesión
// no estaba elevada o la ventana ya venció.
func (s *Service) ConsumeElevation(ctx context.Context, sessionID string) (bool, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return false, ErrInvalidInput
	}
	return s.repo.ConsumeElevation(ctx, sessionID, s.now(), s.elevation)
}

func (s *Service) Invalidate(ctx context.Context, sessionID, reason string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidInput
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonLogout
	}

	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return ErrNotFound
	}

	if err := s.repo.Invalidate(ctx, sessionID, reason); err != nil {
		return err
	}

	if _, err := s.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  sess.UserID,
		ActorID:      sess.UserID,
		ActorType:    audit.ActorTypeUser,
		Action:       "session.invalidate",
		ResourceType: "session",
		ResourceID:   sessionID,
		Outcome:      audit.OutcomeGranted,
		Reason:       reason,
	}); err != nil {
		return err
	}

	return nil
}
