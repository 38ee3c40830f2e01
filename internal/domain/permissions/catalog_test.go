package permissions

import "testing"

func TestDefaultsFor_EveryRoleResolves(t *testing.T) {
	for _, r := range []Role{RoleOwner, RoleGuardian, RoleCaregiver, RoleViewer} {
		set, err := DefaultsFor(r)
		if err != nil {
			t.Fatalf("DefaultsFor(%s) error: %v", r, err)
		}
		if len(set) == 0 {
			t.Fatalf("DefaultsFor(%s) empty", r)
		}
		for _, p := range set {
			if !IsValid(p) {
				t.Fatalf("role %s default contains unknown permission %q", r, p)
			}
		}
	}

	if _, err := DefaultsFor(Role("admin")); err != ErrUnknownRole {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestDefaultsFor_EditAlwaysCarriesView(t *testing.T) {
	// edit no implica view en runtime: los defaults deben listar ambos.
	pairs := map[Permission]Permission{
		PermEditSymptoms:   PermViewSymptoms,
		PermEditTreatments: PermViewTreatments,
		PermEditVitals:     PermViewVitals,
		PermEditNotes:      PermViewNotes,
		PermUploadFiles:    PermViewFiles,
	}

	for _, r := range []Role{RoleOwner, RoleGuardian, RoleCaregiver, RoleViewer} {
		set, _ := DefaultsFor(r)
		for edit, view := range pairs {
			if Contains(set, edit) && !Contains(set, view) {
				t.Fatalf("role %s has %s without %s", r, edit, view)
			}
		}
	}
}

func TestRequired_TableIsComplete(t *testing.T) {
	cases := []struct {
		category DataCategory
		action   Action
		want     Permission
	}{
		{CategorySymptoms, ActionView, PermViewSymptoms},
		{CategorySymptoms, ActionEdit, PermEditSymptoms},
		{CategoryTreatments, ActionView, PermViewTreatments},
		{CategoryTreatments, ActionEdit, PermEditTreatments},
		{CategoryVitals, ActionView, PermViewVitals},
		{CategoryVitals, ActionEdit, PermEditVitals},
		{CategoryNotes, ActionView, PermViewNotes},
		{CategoryNotes, ActionEdit, PermEditNotes},
		{CategoryFiles, ActionView, PermViewFiles},
		{CategoryFiles, ActionUpload, PermUploadFiles},
		{CategoryAnalytics, ActionView, PermViewAnalytics},
		{CategoryAnalytics, ActionExport, PermExportData},
		{CategoryAudit, ActionView, PermManageAccess},
		{CategoryPrivacy, ActionManage, PermManageAccess},
	}

	for _, tc := range cases {
		got, ok := Required(tc.category, tc.action)
		if !ok {
			t.Fatalf("Required(%s,%s) not mapped", tc.category, tc.action)
		}
		if got != tc.want {
			t.Fatalf("Required(%s,%s)=%s want %s", tc.category, tc.action, got, tc.want)
		}
	}

	// combinación sin sentido => no mapeada, nunca inventada
	if _, ok := Required(CategorySymptoms, ActionUpload); ok {
		t.Fatalf("expected symptoms+upload to be unmapped")
	}
	if _, ok := Required(CategoryAudit, ActionEdit); ok {
		t.Fatalf("expected audit+edit to be unmapped")
	}
}

func TestNormalizeStrict(t *testing.T) {
	out, err := NormalizeStrict([]Permission{PermViewVitals, " view-vitals ", PermEditNotes})
	if err != nil {
		t.Fatalf("NormalizeStrict error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected dedup to 2, got %#v", out)
	}

	if _, err := NormalizeStrict([]Permission{PermViewVitals, "view-everything"}); err != ErrUnknownPermission {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
}

func TestViewOnly_StripsWrites(t *testing.T) {
	out := ViewOnly([]Permission{PermViewSymptoms, PermEditSymptoms, PermManageAccess, PermViewFiles})
	if len(out) != 2 || !Contains(out, PermViewSymptoms) || !Contains(out, PermViewFiles) {
		t.Fatalf("unexpected view-only set %#v", out)
	}
}
