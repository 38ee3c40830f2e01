package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrAppendFailed: un acceso sin auditar se trata como defecto de seguridad,
	// así que quien recibe este error debe abortar la operación que lo disparó.
	ErrAppendFailed = errors.New("audit append failed")
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

type AppendInput struct {
	OwnerUserID  string
	ActorID      string
	ActorType    ActorType
	Action       string
	ResourceType string
	ResourceID   string
	ChildID      string
	Outcome      Outcome
	Reason       string
}

// Append escribe un entry. Nunca falla en silencio: si el repo falla,
// devolvemos ErrAppendFailed y el caller debe tratar su operación como fallida.
func (s *Service) Append(ctx context.Context, in AppendInput) (Entry, error) {
	if strings.TrimSpace(in.OwnerUserID) == "" {
		return Entry{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return Entry{}, ErrInvalidInput
	}
	if strings.TrimSpace(in.Action) == "" {
		return Entry{}, ErrInvalidInput
	}
	if in.Outcome != OutcomeGranted && in.Outcome != OutcomeDenied {
		return Entry{}, ErrInvalidInput
	}

	at := in.ActorType
	if at == "" {
		at = ActorTypeUser
	}

	e := Entry{
		ID:           uuid.NewString(),
		OwnerUserID:  strings.TrimSpace(in.OwnerUserID),
		ActorID:      strings.TrimSpace(in.ActorID),
		ActorType:    at,
		Action:       strings.TrimSpace(in.Action),
		ResourceType: strings.TrimSpace(in.ResourceType),
		ResourceID:   strings.TrimSpace(in.ResourceID),
		ChildID:      strings.TrimSpace(in.ChildID),
		Outcome:      in.Outcome,
		Reason:       strings.TrimSpace(in.Reason),
		CreatedAt:    s.now(),
	}

	if err := s.repo.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	return e, nil
}

// Query lista entries de la familia. La autorización (owner o delegado con
// manage-access) la decide el handler vía resolver; acá solo filtramos.
func (s *Service) Query(ctx context.Context, ownerUserID string, filter ListFilter) ([]Entry, error) {
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return nil, ErrInvalidInput
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.ListByOwner(ctx, ownerUserID, filter)
}
