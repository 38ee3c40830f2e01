package grants

import (
	"context"
	"errors"
	"testing"
	"time"

	"family-health-access/internal/domain/permissions"
)

// -------------------------
// Test repo (in-memory)
// -------------------------

var errRepoNotFound = errors.New("repo: not found")

type testRepo struct {
	byID map[string]Grant
}

func newTestRepo() *testRepo {
	return &testRepo{byID: map[string]Grant{}}
}

func (r *testRepo) Create(ctx context.Context, g Grant) error {
	if g.ID == "" {
		return errors.New("repo: id required")
	}
	if _, ok := r.byID[g.ID]; ok {
		return errors.New("repo: already exists")
	}
	r.byID[g.ID] = g
	return nil
}

func (r *testRepo) Update(ctx context.Context, g Grant) error {
	if g.ID == "" {
		return errors.New("repo: id required")
	}
	if _, ok := r.byID[g.ID]; !ok {
		return errRepoNotFound
	}
	r.byID[g.ID] = g
	return nil
}

func (r *testRepo) GetByID(ctx context.Context, id string) (Grant, error) {
	g, ok := r.byID[id]
	if !ok {
		return Grant{}, errRepoNotFound
	}
	return g, nil
}

func (r *testRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]Grant, error) {
	out := make([]Grant, 0)
	for _, g := range r.byID {
		if g.OwnerUserID == ownerUserID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *testRepo) ListByGrantee(ctx context.Context, granteeUserID string) ([]Grant, error) {
	out := make([]Grant, 0)
	for _, g := range r.byID {
		if g.GranteeUserID == granteeUserID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *testRepo) GetActiveGrant(ctx context.Context, ownerUserID, granteeUserID string) (Grant, error) {
	var winner Grant
	has := false

	for _, g := range r.byID {
		if g.OwnerUserID != ownerUserID || g.GranteeUserID != granteeUserID {
			continue
		}
		if g.Status != StatusActive {
			continue
		}
		if !has || g.UpdatedAt.After(winner.UpdatedAt) {
			winner = g
			has = true
		}
	}

	if !has {
		return Grant{}, errRepoNotFound
	}
	return winner, nil
}

type testPurger struct {
	calls [][2]string
}

func (p *testPurger) PurgeUser(ctx context.Context, ownerUserID, userID string) error {
	p.calls = append(p.calls, [2]string{ownerUserID, userID})
	return nil
}

type testInvalidator struct {
	owners []string
}

func (i *testInvalidator) InvalidateOwner(ownerUserID string) {
	i.owners = append(i.owners, ownerUserID)
}

// -------------------------
// Tests
// -------------------------

func TestService_Invite_DefaultsToViewer_WhenRoleEmpty(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	g, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
	})
	if err != nil {
		t.Fatalf("Invite returned error: %v", err)
	}
	if g.Status != StatusInvited {
		t.Fatalf("expected status invited, got %s", g.Status)
	}
	if g.Role != permissions.RoleViewer {
		t.Fatalf("expected default role viewer, got %s", g.Role)
	}
	if g.CreatedAt != now || g.UpdatedAt != now {
		t.Fatalf("expected CreatedAt/UpdatedAt to be now")
	}
}

func TestService_Invite_RejectsOwnerRole_AndUnknownRole(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	for _, role := range []permissions.Role{permissions.RoleOwner, "superadmin"} {
		_, err := svc.Invite(context.Background(), InviteInput{
			OwnerUserID:   "owner-1",
			GranteeUserID: "delegate-1",
			Role:          role,
		})
		if err != ErrInvalidInput {
			t.Fatalf("role %q: expected ErrInvalidInput, got %v", role, err)
		}
	}
}

func TestService_Invite_RejectsSelfGrant(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	_, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "owner-1",
		Role:          permissions.RoleCaregiver,
	})
	if err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for self grant, got %v", err)
	}
}

func TestService_Invite_Dedup_UpdatesRoleOnSameGrant(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	now1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	now2 := now1.Add(5 * time.Minute)

	svc.now = func() time.Time { return now1 }
	g1, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleViewer,
	})
	if err != nil {
		t.Fatalf("Invite #1 error: %v", err)
	}

	svc.now = func() time.Time { return now2 }
	g2, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleCaregiver,
	})
	if err != nil {
		t.Fatalf("Invite #2 error: %v", err)
	}

	if g2.ID != g1.ID {
		t.Fatalf("expected same grant ID (dedup), got %s vs %s", g1.ID, g2.ID)
	}
	if g2.Role != permissions.RoleCaregiver {
		t.Fatalf("expected role updated to caregiver, got %s", g2.Role)
	}
	if g2.UpdatedAt != now2 {
		t.Fatalf("expected UpdatedAt to change on reinvite")
	}
}

func TestService_Revoke_IsMonotonic_ReinviteCreatesNewGrant(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	g1, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleCaregiver,
	})
	if err != nil {
		t.Fatalf("Invite error: %v", err)
	}
	if _, err := svc.Accept(context.Background(), g1.ID, "delegate-1"); err != nil {
		t.Fatalf("Accept error: %v", err)
	}

	revoked, err := svc.Revoke(context.Background(), g1.ID, "owner-1")
	if err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	if revoked.Status != StatusRevoked || revoked.RevokedAt == nil {
		t.Fatalf("expected revoked with RevokedAt, got %#v", revoked)
	}

	// Revocado no revive: re-invitar crea un grant nuevo en invited
	g2, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleCaregiver,
	})
	if err != nil {
		t.Fatalf("Reinvite error: %v", err)
	}
	if g2.ID == g1.ID {
		t.Fatal("expected a new grant after revoke, got the revoked one reactivated")
	}
	if g2.Status != StatusInvited {
		t.Fatalf("expected new grant invited, got %s", g2.Status)
	}

	if stored, _ := repo.GetByID(context.Background(), g1.ID); stored.Status != StatusRevoked {
		t.Fatalf("expected original grant to stay revoked, got %s", stored.Status)
	}
}

func TestService_Revoke_PurgesUserFromChildOverrides(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)
	purger := &testPurger{}
	svc.SetPrivacyPurger(purger)

	g, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleCaregiver,
	})
	if err != nil {
		t.Fatalf("Invite error: %v", err)
	}
	if _, err := svc.Accept(context.Background(), g.ID, "delegate-1"); err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if _, err := svc.Revoke(context.Background(), g.ID, "owner-1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	if len(purger.calls) != 1 {
		t.Fatalf("expected 1 purge call, got %d", len(purger.calls))
	}
	if purger.calls[0] != [2]string{"owner-1", "delegate-1"} {
		t.Fatalf("unexpected purge args: %v", purger.calls[0])
	}
}

func TestService_Writes_InvalidateDecisionCache(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)
	inv := &testInvalidator{}
	svc.SetCacheInvalidator(inv)

	g, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleViewer,
	})
	if err != nil {
		t.Fatalf("Invite error: %v", err)
	}
	if _, err := svc.Accept(context.Background(), g.ID, "delegate-1"); err != nil {
		t.Fatalf("Accept error: %v", err)
	}

	// Cambio de rol vía dedup: el set efectivo cacheado del delegado cambió
	if _, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleCaregiver,
	}); err != nil {
		t.Fatalf("Reinvite error: %v", err)
	}

	if _, err := svc.Revoke(context.Background(), g.ID, "owner-1"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	if len(inv.owners) != 3 {
		t.Fatalf("expected 3 invalidations (invite, role change, revoke), got %d", len(inv.owners))
	}
	for _, o := range inv.owners {
		if o != "owner-1" {
			t.Fatalf("unexpected invalidated owner %q", o)
		}
	}
}

func TestService_Accept_OnlyGrantee_AndIdempotent(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	g, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleViewer,
	})
	if err != nil {
		t.Fatalf("Invite error: %v", err)
	}

	if _, err := svc.Accept(context.Background(), g.ID, "other-user"); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden for wrong grantee, got %v", err)
	}

	accepted, err := svc.Accept(context.Background(), g.ID, "delegate-1")
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if accepted.Status != StatusActive {
		t.Fatalf("expected active, got %s", accepted.Status)
	}

	// idempotente
	accepted2, err := svc.Accept(context.Background(), g.ID, "delegate-1")
	if err != nil {
		t.Fatalf("Accept #2 error: %v", err)
	}
	if accepted2.Status != StatusActive {
		t.Fatalf("expected active after idempotent accept, got %s", accepted2.Status)
	}
}

func TestService_ActiveRole_RequiresActiveGrant(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo)

	g, err := svc.Invite(context.Background(), InviteInput{
		OwnerUserID:   "owner-1",
		GranteeUserID: "delegate-1",
		Role:          permissions.RoleCaregiver,
	})
	if err != nil {
		t.Fatalf("Invite error: %v", err)
	}

	// invited todavía no cuenta
	if _, err := svc.ActiveRole(context.Background(), "owner-1", "delegate-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before accept, got %v", err)
	}

	if _, err := svc.Accept(context.Background(), g.ID, "delegate-1"); err != nil {
		t.Fatalf("Accept error: %v", err)
	}

	role, err := svc.ActiveRole(context.Background(), "owner-1", "delegate-1")
	if err != nil {
		t.Fatalf("ActiveRole error: %v", err)
	}
	if role != permissions.RoleCaregiver {
		t.Fatalf("expected caregiver, got %s", role)
	}
}
