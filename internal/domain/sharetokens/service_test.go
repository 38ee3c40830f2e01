package sharetokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"family-health-access/internal/domain/access"
	"family-health-access/internal/domain/audit"
	"family-health-access/internal/domain/permissions"
)

// -------------------------
// Test repo (in-memory, atómico como los adapters reales)
// -------------------------

type testRepo struct {
	mu       sync.Mutex
	byID     map[string]Token
	bySecret map[string]string
}

func newTestRepo() *testRepo {
	return &testRepo{
		byID:     map[string]Token{},
		bySecret: map[string]string{},
	}
}

func (r *testRepo) Create(ctx context.Context, t Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" || t.Secret == "" {
		return errors.New("repo: id and secret required")
	}
	r.byID[t.ID] = t
	r.bySecret[t.Secret] = t.ID
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return Token{}, errors.New("repo: not found")
	}
	return t, nil
}

func (r *testRepo) GetBySecret(ctx context.Context, secret string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySecret[secret]
	if !ok {
		return Token{}, errors.New("repo: not found")
	}
	return r.byID[id], nil
}

func (r *testRepo) ListByChild(ctx context.Context, childID string) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Token, 0)
	for _, t := range r.byID {
		if t.ChildID == childID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *testRepo) Consume(ctx context.Context, id string, now time.Time) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return Token{}, errors.New("repo: not found")
	}

	switch {
	case !t.IsActive:
		return Token{}, ErrRevoked
	case !now.Before(t.ExpiresAt):
		return Token{}, ErrExpired
	case t.MaxAccessCount != nil && t.AccessCount >= *t.MaxAccessCount:
		return Token{}, ErrExhausted
	}

	t.AccessCount++
	t.LastAccessAt = &now
	r.byID[id] = t
	return t, nil
}

func (r *testRepo) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return errors.New("repo: not found")
	}
	t.IsActive = false
	r.byID[id] = t
	return nil
}

// -------------------------
// Fakes
// -------------------------

type fakeResolver struct {
	granted   bool
	effective []permissions.Permission
}

func (f *fakeResolver) Resolve(ctx context.Context, req access.Request) (access.Decision, error) {
	if f.granted {
		return access.Decision{Granted: true, Reason: access.ReasonGranted}, nil
	}
	return access.Decision{Granted: false, Reason: access.ReasonNoGrant}, nil
}

func (f *fakeResolver) EffectiveForChild(ctx context.Context, actorID, ownerUserID, childID string) ([]permissions.Permission, error) {
	return f.effective, nil
}

type fakeElevator struct {
	elevated bool
	consumed int
}

func (f *fakeElevator) ConsumeElevation(ctx context.Context, sessionID string) (bool, error) {
	f.consumed++
	was := f.elevated
	f.elevated = false // one-shot
	return was, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []audit.Entry
	fail    bool
}

func (r *fakeAuditRepo) Append(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("audit store down")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeAuditRepo) ListByOwner(ctx context.Context, ownerUserID string, filter audit.ListFilter) ([]audit.Entry, error) {
	return nil, nil
}

func viewEffective() []permissions.Permission {
	return []permissions.Permission{
		permissions.PermViewSymptoms,
		permissions.PermViewTreatments,
		permissions.PermManageAccess,
	}
}

func newTestService(repo Repository, auditRepo *fakeAuditRepo) *Service {
	return NewService(repo, &fakeResolver{granted: true, effective: viewEffective()}, audit.NewService(auditRepo))
}

func baseIssueInput() IssueInput {
	return IssueInput{
		RequesterID:  "owner-1",
		OwnerUserID:  "owner-1",
		ChildID:      "child-1",
		ProviderName: "Dr. Rivas",
		Permissions:  []permissions.Permission{permissions.PermViewSymptoms},
	}
}

// -------------------------
// Tests
// -------------------------

func TestIssue_RejectsWritePermissions(t *testing.T) {
	svc := newTestService(newTestRepo(), &fakeAuditRepo{})

	in := baseIssueInput()
	in.Permissions = []permissions.Permission{permissions.PermViewSymptoms, permissions.PermEditSymptoms}

	_, err := svc.Issue(context.Background(), in)
	if !errors.Is(err, ErrExcessScope) {
		t.Fatalf("expected ErrExcessScope for write perm, got %v", err)
	}
}

func TestIssue_RejectsScopeBeyondIssuerEffective(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, &fakeResolver{
		granted:   true,
		effective: []permissions.Permission{permissions.PermViewTreatments}, // sin view-symptoms
	}, audit.NewService(&fakeAuditRepo{}))

	_, err := svc.Issue(context.Background(), baseIssueInput())
	if !errors.Is(err, ErrExcessScope) {
		t.Fatalf("expected ErrExcessScope beyond effective set, got %v", err)
	}
}

func TestIssue_RequiresManageAccess(t *testing.T) {
	svc := NewService(newTestRepo(), &fakeResolver{granted: false}, audit.NewService(&fakeAuditRepo{}))

	_, err := svc.Issue(context.Background(), baseIssueInput())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden without manage-access, got %v", err)
	}
}

func TestIssue_WithSession_ConsumesElevationOneShot(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo, &fakeAuditRepo{})
	elevator := &fakeElevator{elevated: true}
	svc.SetElevationConsumer(elevator)

	in := baseIssueInput()
	in.SessionID = "sess-1"

	if _, err := svc.Issue(context.Background(), in); err != nil {
		t.Fatalf("Issue with elevated session error: %v", err)
	}

	// La elevación se gastó: el segundo issue con la misma sesión falla
	_, err := svc.Issue(context.Background(), in)
	if !errors.Is(err, ErrElevationRequired) {
		t.Fatalf("expected ErrElevationRequired on second issue, got %v", err)
	}
	if elevator.consumed != 2 {
		t.Fatalf("expected 2 consume attempts, got %d", elevator.consumed)
	}
}

func TestIssue_AuditFailure_RevokesToken(t *testing.T) {
	repo := newTestRepo()
	auditRepo := &fakeAuditRepo{fail: true}
	svc := newTestService(repo, auditRepo)

	_, err := svc.Issue(context.Background(), baseIssueInput())
	if err == nil {
		t.Fatal("expected error when audit write fails")
	}

	// El token creado quedó apagado, no vivo sin audit trail
	for _, tok := range repo.byID {
		if tok.IsActive {
			t.Fatal("expected token revoked after audit failure")
		}
	}
}

func TestValidate_DoesNotMutateCount(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo, &fakeAuditRepo{})

	issued, err := svc.Issue(context.Background(), baseIssueInput())
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	for i := 0; i < 5; i++ {
		tok, reason, err := svc.Validate(context.Background(), issued.Secret)
		if err != nil {
			t.Fatalf("Validate #%d error: %v", i+1, err)
		}
		if reason != "" {
			t.Fatalf("Validate #%d: expected valid, got reason %q", i+1, reason)
		}
		if tok.AccessCount != 0 {
			t.Fatalf("Validate #%d: expected count untouched, got %d", i+1, tok.AccessCount)
		}
	}
}

func TestConsume_Expiry_WithFakeClock(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo, &fakeAuditRepo{})

	start := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	in := baseIssueInput()
	in.ExpiresInHours = 1

	issued, err := svc.Issue(context.Background(), in)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// Dentro de la ventana consume OK
	if _, err := svc.Consume(context.Background(), issued.Secret); err != nil {
		t.Fatalf("Consume before expiry error: %v", err)
	}

	// Pasada la hora, expira
	svc.now = func() time.Time { return start.Add(61 * time.Minute) }
	_, err = svc.Consume(context.Background(), issued.Secret)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	// Y Validate reporta la razón sin error
	_, reason, err := svc.Validate(context.Background(), issued.Secret)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if reason != ReasonExpired {
		t.Fatalf("expected expired reason, got %q", reason)
	}
}

func TestConsume_Concurrent_NeverExceedsMaxCount(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo, &fakeAuditRepo{})

	max := 5
	in := baseIssueInput()
	in.MaxAccessCount = &max

	issued, err := svc.Issue(context.Background(), in)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	const workers = 25
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(context.Background(), issued.Secret)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	okCount := 0
	exhaustedCount := 0
	for err := range results {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrExhausted):
			exhaustedCount++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}

	if okCount != max {
		t.Fatalf("expected exactly %d successful consumes, got %d", max, okCount)
	}
	if exhaustedCount != workers-max {
		t.Fatalf("expected %d exhausted, got %d", workers-max, exhaustedCount)
	}

	final, err := repo.GetByID(context.Background(), issued.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if final.AccessCount != max {
		t.Fatalf("expected final count %d, got %d", max, final.AccessCount)
	}
}

func TestConsume_DeniedPath_AuditFailure_SurfacesError(t *testing.T) {
	repo := newTestRepo()
	auditRepo := &fakeAuditRepo{}
	svc := newTestService(repo, auditRepo)

	issued, err := svc.Issue(context.Background(), baseIssueInput())
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if err := repo.Revoke(context.Background(), issued.ID); err != nil {
		t.Fatalf("repo Revoke error: %v", err)
	}

	// El intento sobre el token muerto debe quedar auditado; si el audit
	// no entra, ese error es el que sale, no el estado del token
	auditRepo.fail = true
	_, err = svc.Consume(context.Background(), issued.Secret)
	if !errors.Is(err, audit.ErrAppendFailed) {
		t.Fatalf("expected ErrAppendFailed, got %v", err)
	}
}

func TestRevoke_IsTerminal(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(repo, &fakeAuditRepo{})

	issued, err := svc.Issue(context.Background(), baseIssueInput())
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if err := svc.Revoke(context.Background(), issued.ID, "owner-1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	_, err = svc.Consume(context.Background(), issued.Secret)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked after revoke, got %v", err)
	}
}
