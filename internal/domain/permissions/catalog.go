package permissions

import (
	"errors"
	"strings"
)

var (
	ErrUnknownPermission = errors.New("unknown permission")
	ErrUnknownRole       = errors.New("unknown role")
)

// Role define los roles soportados dentro de una familia.
// @Enum owner, guardian, caregiver, viewer
type Role string

const (
	RoleOwner     Role = "owner"
	RoleGuardian  Role = "guardian"
	RoleCaregiver Role = "caregiver"
	RoleViewer    Role = "viewer"
)

// Permission es el vocabulario cerrado de permisos.
// Son atómicos: "edit implica view" se expresa listando ambos en los defaults,
// nunca infiriéndolo en runtime.
type Permission string

const (
	PermViewSymptoms   Permission = "view-symptoms"
	PermEditSymptoms   Permission = "edit-symptoms"
	PermViewTreatments Permission = "view-treatments"
	PermEditTreatments Permission = "edit-treatments"
	PermViewVitals     Permission = "view-vitals"
	PermEditVitals     Permission = "edit-vitals"
	PermViewNotes      Permission = "view-notes"
	PermEditNotes      Permission = "edit-notes"
	PermViewFiles      Permission = "view-files"
	PermUploadFiles    Permission = "upload-files"
	PermViewAnalytics  Permission = "view-analytics"
	PermExportData     Permission = "export-data"
	PermManageAccess   Permission = "manage-access"
)

// DataCategory clasifica el recurso médico sobre el que se decide acceso.
type DataCategory string

const (
	CategorySymptoms   DataCategory = "symptoms"
	CategoryTreatments DataCategory = "treatments"
	CategoryVitals     DataCategory = "vitals"
	CategoryNotes      DataCategory = "notes"
	CategoryFiles      DataCategory = "files"
	CategoryAnalytics  DataCategory = "analytics"
	CategoryAudit      DataCategory = "audit"
	CategoryPrivacy    DataCategory = "privacy"
)

// Action es lo que el actor intenta hacer sobre la categoría.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionUpload Action = "upload"
	ActionExport Action = "export"
	ActionManage Action = "manage"
)

// All lista el vocabulario completo (orden estable, útil para tests y docs).
func All() []Permission {
	return []Permission{
		PermViewSymptoms, PermEditSymptoms,
		PermViewTreatments, PermEditTreatments,
		PermViewVitals, PermEditVitals,
		PermViewNotes, PermEditNotes,
		PermViewFiles, PermUploadFiles,
		PermViewAnalytics, PermExportData,
		PermManageAccess,
	}
}

var known = func() map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(All()))
	for _, p := range All() {
		m[p] = struct{}{}
	}
	return m
}()

func IsValid(p Permission) bool {
	_, ok := known[p]
	return ok
}

// roleDefaults mapea cada rol a su set de permisos por defecto.
// Tabla fija en compile time; los edits listan explícitamente su view.
var roleDefaults = map[Role][]Permission{
	RoleOwner: All(),
	RoleGuardian: {
		PermViewSymptoms, PermEditSymptoms,
		PermViewTreatments, PermEditTreatments,
		PermViewVitals, PermEditVitals,
		PermViewNotes, PermEditNotes,
		PermViewFiles, PermUploadFiles,
		PermViewAnalytics, PermExportData,
	},
	RoleCaregiver: {
		PermViewSymptoms, PermEditSymptoms,
		PermViewTreatments,
		PermViewVitals, PermEditVitals,
		PermViewNotes, PermEditNotes,
		PermViewFiles,
	},
	RoleViewer: {
		PermViewSymptoms,
		PermViewTreatments,
		PermViewVitals,
		PermViewNotes,
		PermViewFiles,
	},
}

// DefaultsFor devuelve una copia del set por defecto del rol.
// Copia defensiva: los llamadores filtran/recortan la lista.
func DefaultsFor(r Role) ([]Permission, error) {
	base, ok := roleDefaults[r]
	if !ok {
		return nil, ErrUnknownRole
	}
	out := make([]Permission, len(base))
	copy(out, base)
	return out, nil
}

func ValidRole(r Role) bool {
	_, ok := roleDefaults[r]
	return ok
}

// RoleIncludes valida si el set por defecto del rol contiene el permiso.
func RoleIncludes(r Role, p Permission) bool {
	base, ok := roleDefaults[r]
	if !ok {
		return false
	}
	for _, q := range base {
		if q == p {
			return true
		}
	}
	return false
}

// required mapea (categoría, acción) al permiso exigido.
// Tabla fija: una combinación fuera de la tabla se niega siempre.
var required = map[DataCategory]map[Action]Permission{
	CategorySymptoms: {
		ActionView: PermViewSymptoms,
		ActionEdit: PermEditSymptoms,
	},
	CategoryTreatments: {
		ActionView: PermViewTreatments,
		ActionEdit: PermEditTreatments,
	},
	CategoryVitals: {
		ActionView: PermViewVitals,
		ActionEdit: PermEditVitals,
	},
	CategoryNotes: {
		ActionView: PermViewNotes,
		ActionEdit: PermEditNotes,
	},
	CategoryFiles: {
		ActionView:   PermViewFiles,
		ActionUpload: PermUploadFiles,
	},
	CategoryAnalytics: {
		ActionView:   PermViewAnalytics,
		ActionExport: PermExportData,
	},
	CategoryAudit: {
		ActionView: PermManageAccess,
	},
	CategoryPrivacy: {
		ActionView:   PermManageAccess,
		ActionManage: PermManageAccess,
	},
}

// Required resuelve el permiso exigido para (categoría, acción).
// ok=false significa combinación no soportada (se niega, no se inventa).
func Required(c DataCategory, a Action) (Permission, bool) {
	byAction, ok := required[c]
	if !ok {
		return "", false
	}
	p, ok := byAction[a]
	return p, ok
}

// NormalizeStrict valida y deduplica una lista de permisos.
// Desconocido => error (mismo criterio que scopes de grants: estricto).
func NormalizeStrict(in []Permission) ([]Permission, error) {
	seen := map[Permission]struct{}{}
	out := make([]Permission, 0, len(in))

	for _, raw := range in {
		p := Permission(strings.TrimSpace(string(raw)))
		if p == "" {
			continue
		}
		if !IsValid(p) {
			return nil, ErrUnknownPermission
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	return out, nil
}

// Contains busca p dentro de set.
func Contains(set []Permission, p Permission) bool {
	for _, q := range set {
		if q == p {
			return true
		}
	}
	return false
}

// Intersect devuelve a ∩ b preservando el orden de a.
func Intersect(a, b []Permission) []Permission {
	out := make([]Permission, 0, len(a))
	for _, p := range a {
		if Contains(b, p) {
			out = append(out, p)
		}
	}
	return out
}

// ViewOnly filtra un set dejando solo permisos de lectura.
// Los magic links para proveedores nunca llevan permisos de escritura.
func ViewOnly(set []Permission) []Permission {
	out := make([]Permission, 0, len(set))
	for _, p := range set {
		switch p {
		case PermViewSymptoms, PermViewTreatments, PermViewVitals,
			PermViewNotes, PermViewFiles, PermViewAnalytics:
			out = append(out, p)
		}
	}
	return out
}
