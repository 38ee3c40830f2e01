package privacy

import (
	"family-health-access/internal/domain/permissions"
)

// Este archivo es el conflict resolver: puro, sin I/O, sin side effects.
// Recibe settings ya cargados y computa el set efectivo most-restrictive-wins.
// Eso lo hace testeable con casos table-driven sin tocar repos.

// EffectiveResult reporta el set efectivo y qué hijo fue el más restrictivo
// (para audit/UX cuando una operación multi-hijo queda recortada).
type EffectiveResult struct {
	Permissions          []permissions.Permission
	MostRestrictiveChild string
}

// ContributionFor computa qué permisos aporta UN hijo para el actor.
// Reglas en orden de precedencia:
//  1. sin override, o inheritFromParent=true => el hijo no recorta nada
//  2. restrictedAccess=true y actor fuera de allowedUsers => set vacío
//  3. customPermissions[actor] presente => exactamente custom ∩ requested
//  4. allowed sin custom => requested sin modificar
//
// Con inheritFromParent=false el override reemplaza por completo a la config
// family-wide: acá no se consulta nada de la familia.
func ContributionFor(actorID string, cs *ChildSettings, requested []permissions.Permission) []permissions.Permission {
	if cs == nil || cs.InheritFromParent {
		out := make([]permissions.Permission, len(requested))
		copy(out, requested)
		return out
	}

	if cs.RestrictedAccess && !cs.HasAllowedUser(actorID) {
		return []permissions.Permission{}
	}

	if custom, ok := cs.CustomPermissions[actorID]; ok {
		return permissions.Intersect(requested, custom)
	}

	out := make([]permissions.Permission, len(requested))
	copy(out, requested)
	return out
}

// Effective computa el set efectivo para un actor sobre uno o más hijos.
// Multi-hijo: intersección de las contribuciones — el hijo más restrictivo
// acota la operación completa.
func Effective(actorID string, childIDs []string, overrides map[string]*ChildSettings, requested []permissions.Permission) EffectiveResult {
	result := EffectiveResult{
		Permissions: make([]permissions.Permission, len(requested)),
	}
	copy(result.Permissions, requested)

	if len(childIDs) == 0 {
		return result
	}

	// Arrancamos de requested y vamos intersectando hijo por hijo.
	minSize := -1
	for _, childID := range childIDs {
		contribution := ContributionFor(actorID, overrides[childID], requested)
		result.Permissions = permissions.Intersect(result.Permissions, contribution)

		if minSize == -1 || len(contribution) < minSize {
			minSize = len(contribution)
			result.MostRestrictiveChild = childID
		}
	}

	return result
}

// ResolveRetention aplica most-restrictive-wins a retención:
// el período es el mínimo entre familia e hijos no-heredantes con override,
// y cualquier hijo que exija borrado automático lo fuerza global.
func ResolveRetention(family FamilySettings, overrides []ChildSettings) RetentionPolicy {
	out := RetentionPolicy{
		Days:       family.RetentionDays,
		AutoDelete: family.AutoDelete,
	}

	for _, cs := range overrides {
		if cs.InheritFromParent {
			continue
		}
		if cs.RetentionDaysOverride != nil {
			d := *cs.RetentionDaysOverride
			if d > 0 && (out.Days == 0 || d < out.Days) {
				out.Days = d
			}
		}
		if cs.AutoDeleteOverride != nil && *cs.AutoDeleteOverride {
			out.AutoDelete = true
		}
	}

	return out
}

// ResolveCommunications devuelve los canales permitidos para una operación
// que abarca a estos hijos: un canal bloqueado por UN hijo no-heredante
// queda bloqueado para toda la operación.
func ResolveCommunications(family FamilySettings, overrides []ChildSettings) []CommunicationType {
	blocked := map[CommunicationType]struct{}{}
	for _, cs := range overrides {
		if cs.InheritFromParent {
			continue
		}
		for _, c := range cs.BlockedCommunications {
			blocked[c] = struct{}{}
		}
	}

	out := make([]CommunicationType, 0, len(family.AllowedCommunications))
	for _, c := range family.AllowedCommunications {
		if _, ok := blocked[c]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}
