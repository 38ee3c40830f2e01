package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testRepo struct {
	entries []Entry
	fail    bool

	// captura el filtro del último ListByOwner
	lastFilter ListFilter
}

func (r *testRepo) Append(ctx context.Context, e Entry) error {
	if r.fail {
		return errors.New("disk full")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *testRepo) ListByOwner(ctx context.Context, ownerUserID string, filter ListFilter) ([]Entry, error) {
	r.lastFilter = filter
	out := make([]Entry, 0)
	for _, e := range r.entries {
		if e.OwnerUserID == ownerUserID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestAppend_RequiresOwnerActorActionOutcome(t *testing.T) {
	svc := NewService(&testRepo{})

	base := AppendInput{
		OwnerUserID: "owner-1",
		ActorID:     "actor-1",
		Action:      "symptoms:view",
		Outcome:     OutcomeGranted,
	}

	cases := []struct {
		name   string
		mutate func(*AppendInput)
	}{
		{"sin owner", func(in *AppendInput) { in.OwnerUserID = " " }},
		{"sin actor", func(in *AppendInput) { in.ActorID = "" }},
		{"sin action", func(in *AppendInput) { in.Action = "" }},
		{"outcome inventado", func(in *AppendInput) { in.Outcome = "maybe" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			if _, err := svc.Append(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	// El happy path completa ID, timestamp y actor type por defecto
	e, err := svc.Append(context.Background(), base)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() || e.ActorType != ActorTypeUser {
		t.Fatalf("unexpected entry: %#v", e)
	}
}

func TestAppend_RepoFailure_IsErrAppendFailed(t *testing.T) {
	svc := NewService(&testRepo{fail: true})

	_, err := svc.Append(context.Background(), AppendInput{
		OwnerUserID: "owner-1",
		ActorID:     "actor-1",
		Action:      "symptoms:view",
		Outcome:     OutcomeDenied,
	})
	if !errors.Is(err, ErrAppendFailed) {
		t.Fatalf("expected ErrAppendFailed, got %v", err)
	}
}

func TestQuery_DefaultsLimit_AndScopesToOwner(t *testing.T) {
	repo := &testRepo{}
	svc := NewService(repo)

	now := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for _, owner := range []string{"owner-1", "owner-1", "owner-2"} {
		if _, err := svc.Append(context.Background(), AppendInput{
			OwnerUserID: owner,
			ActorID:     "actor-1",
			Action:      "symptoms:view",
			Outcome:     OutcomeGranted,
		}); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got, err := svc.Query(context.Background(), "owner-1", ListFilter{})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for owner-1, got %d", len(got))
	}
	if repo.lastFilter.Limit != 100 {
		t.Fatalf("expected default limit 100, got %d", repo.lastFilter.Limit)
	}

	if _, err := svc.Query(context.Background(), "  ", ListFilter{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank owner, got %v", err)
	}
}
