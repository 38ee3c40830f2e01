package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"family-health-access/internal/domain/audit"
	"family-health-access/internal/domain/permissions"
	"family-health-access/internal/domain/privacy"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuditWrite: no pudimos auditar la decisión. La operación que la
	// disparó debe tratarse como fallida — un grant sin audit trail es
	// indistinguible de una escalación silenciosa.
	ErrAuditWrite = errors.New("audit write failed")
)

// Reason strings de cada regla. Van al caller (UX) y al audit log, así que
// tienen que ser legibles sin filtrar settings ajenos.
const (
	ReasonOwner            = "owner"
	ReasonGranted          = "granted"
	ReasonNoGrant          = "no grant"
	ReasonRoleLacks        = "role lacks permission"
	ReasonChildRestricted  = "restricted by child privacy settings"
	ReasonSessionInvalid   = "session invalid"
	ReasonUnsupported      = "unsupported operation"
)

// GrantSource expone el rol activo de un delegado bajo un owner.
// Implementado por grants.Service; interface acá para romper ciclos.
type GrantSource interface {
	ActiveRole(ctx context.Context, ownerUserID, granteeUserID string) (permissions.Role, error)
}

// SettingsSource es la cara del conflict resolver (privacy.Service).
type SettingsSource interface {
	EffectivePermissions(ctx context.Context, actorID, ownerUserID string, childIDs []string, requested []permissions.Permission) (privacy.EffectiveResult, error)
}

// SessionChecker valida liveness de la sesión que acompaña el request.
// Implementado por sessions.Service.
type SessionChecker interface {
	Validate(ctx context.Context, sessionID, deviceFingerprint string) error
}

// Request es el contexto explícito de una decisión. Nada ambiente: cada
// Resolve es función pura de sus inputs más el settings store.
type Request struct {
	ActorID string
	OwnerID string
	ChildID string // opcional

	Category permissions.DataCategory
	Action   permissions.Action

	// Opcionales: si vienen, la sesión debe validar antes de decidir.
	SessionID         string
	DeviceFingerprint string
}

type Decision struct {
	Granted bool
	Reason  string
}

// Resolver combina rol, settings de privacidad y restricciones por hijo en
// un único veredicto grant/deny. Solo side effect: el audit write.
type Resolver struct {
	grants   GrantSource
	settings SettingsSource
	sessions SessionChecker // opcional (nil = requests sin sesión, modo dev)
	auditor  *audit.Service

	cache *decisionCache
	now   func() time.Time
}

type ResolverOptions struct {
	CacheTTL        time.Duration
	CacheMaxEntries int
}

func NewResolver(grants GrantSource, settings SettingsSource, auditor *audit.Service, opts ResolverOptions) *Resolver {
	return &Resolver{
		grants:   grants,
		settings: settings,
		auditor:  auditor,
		cache:    newDecisionCache(opts.CacheTTL, opts.CacheMaxEntries),
		now:      time.Now,
	}
}

// SetSessionChecker engancha el session manager (precondición de identidad).
func (r *Resolver) SetSessionChecker(sc SessionChecker) {
	r.sessions = sc
}

// InvalidateOwner expone la invalidación del cache a privacy/grants.
func (r *Resolver) InvalidateOwner(ownerUserID string) {
	r.cache.InvalidateOwner(ownerUserID)
}

// Resolve es la decisión central:
//  1. owner => grant incondicional sobre su propia familia
//  2. si no, exige FamilyAccessGrant activo
//  3. (categoría, acción) => permiso requerido vía tabla fija
//  4. con childID, el set efectivo del conflict resolver manda
//
// Cada rama escribe exactamente un audit entry antes de retornar; si esa
// escritura falla, la decisión completa falla (nunca granted sin audit).
// Seguro para dry-runs: no muta tokens ni sesiones.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Decision, error) {
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.ChildID = strings.TrimSpace(req.ChildID)

	if req.ActorID == "" || req.OwnerID == "" {
		return Decision{}, ErrInvalidInput
	}

	// Precondición de sesión (solo requests con identidad + sesión).
	if req.SessionID != "" && r.sessions != nil {
		if err := r.sessions.Validate(ctx, req.SessionID, req.DeviceFingerprint); err != nil {
			return r.finish(ctx, req, Decision{Granted: false, Reason: ReasonSessionInvalid})
		}
	}

	// 1) Owner bypass: siempre full-privileged sobre su familia.
	if req.ActorID == req.OwnerID {
		return r.finish(ctx, req, Decision{Granted: true, Reason: ReasonOwner})
	}

	required, ok := permissions.Required(req.Category, req.Action)
	if !ok {
		return r.finish(ctx, req, Decision{Granted: false, Reason: ReasonUnsupported})
	}

	// 2) Grant activo obligatorio.
	role, err := r.grants.ActiveRole(ctx, req.OwnerID, req.ActorID)
	if err != nil {
		return r.finish(ctx, req, Decision{Granted: false, Reason: ReasonNoGrant})
	}

	// 3) El set por defecto del rol debe incluir el permiso requerido.
	if !permissions.RoleIncludes(role, required) {
		return r.finish(ctx, req, Decision{Granted: false, Reason: ReasonRoleLacks})
	}

	// 4) Con childID, consultar el set efectivo (con cache TTL).
	if req.ChildID != "" {
		effective, err := r.effectiveFor(ctx, req.ActorID, req.OwnerID, req.ChildID, role)
		if err != nil {
			return Decision{}, err
		}
		if !permissions.Contains(effective, required) {
			return r.finish(ctx, req, Decision{Granted: false, Reason: ReasonChildRestricted})
		}
	}

	return r.finish(ctx, req, Decision{Granted: true, Reason: ReasonGranted})
}

// EffectiveForChild devuelve el set efectivo completo del actor sobre un hijo
// (rol + overrides). Lo usa sharetokens para acotar qué puede emitirse.
func (r *Resolver) EffectiveForChild(ctx context.Context, actorID, ownerUserID, childID string) ([]permissions.Permission, error) {
	actorID = strings.TrimSpace(actorID)
	ownerUserID = strings.TrimSpace(ownerUserID)
	if actorID == "" || ownerUserID == "" {
		return nil, ErrInvalidInput
	}

	if actorID == ownerUserID {
		return permissions.DefaultsFor(permissions.RoleOwner)
	}

	role, err := r.grants.ActiveRole(ctx, ownerUserID, actorID)
	if err != nil {
		return []permissions.Permission{}, nil
	}
	return r.effectiveFor(ctx, actorID, ownerUserID, childID, role)
}

// CanSeeChild decide si el actor puede ver siquiera el perfil del hijo:
// owner, o delegado con al menos un permiso view efectivo. También se audita.
func (r *Resolver) CanSeeChild(ctx context.Context, actorID, ownerUserID, childID string) (bool, error) {
	effective, err := r.EffectiveForChild(ctx, actorID, ownerUserID, childID)
	if err != nil {
		return false, err
	}

	granted := len(permissions.ViewOnly(effective)) > 0

	outcome := audit.OutcomeDenied
	reason := ReasonChildRestricted
	if granted {
		outcome = audit.OutcomeGranted
		reason = ReasonGranted
		if actorID == ownerUserID {
			reason = ReasonOwner
		}
	}

	if _, err := r.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  ownerUserID,
		ActorID:      actorID,
		ActorType:    audit.ActorTypeUser,
		Action:       "profile:view",
		ResourceType: "child",
		ResourceID:   childID,
		ChildID:      childID,
		Outcome:      outcome,
		Reason:       reason,
	}); err != nil {
		return false, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	return granted, nil
}

// CanManagePrivacy / CanViewPrivacy / CanViewAudit son atajos de Resolve
// para los handlers de settings y auditoría (interfaces chicas en esos
// paquetes evitan el import circular con access).
func (r *Resolver) CanManagePrivacy(ctx context.Context, actorID, ownerUserID, childID string) (bool, error) {
	d, err := r.Resolve(ctx, Request{
		ActorID:  actorID,
		OwnerID:  ownerUserID,
		ChildID:  childID,
		Category: permissions.CategoryPrivacy,
		Action:   permissions.ActionManage,
	})
	if err != nil {
		return false, err
	}
	return d.Granted, nil
}

func (r *Resolver) CanViewPrivacy(ctx context.Context, actorID, ownerUserID, childID string) (bool, error) {
	d, err := r.Resolve(ctx, Request{
		ActorID:  actorID,
		OwnerID:  ownerUserID,
		ChildID:  childID,
		Category: permissions.CategoryPrivacy,
		Action:   permissions.ActionView,
	})
	if err != nil {
		return false, err
	}
	return d.Granted, nil
}

func (r *Resolver) CanViewAudit(ctx context.Context, actorID, ownerUserID string) (bool, error) {
	d, err := r.Resolve(ctx, Request{
		ActorID:  actorID,
		OwnerID:  ownerUserID,
		Category: permissions.CategoryAudit,
		Action:   permissions.ActionView,
	})
	if err != nil {
		return false, err
	}
	return d.Granted, nil
}

func (r *Resolver) effectiveFor(ctx context.Context, actorID, ownerUserID, childID string, role permissions.Role) ([]permissions.Permission, error) {
	if cached, ok := r.cache.get(actorID, ownerUserID, childID); ok {
		return cached, nil
	}

	base, err := permissions.DefaultsFor(role)
	if err != nil {
		return nil, err
	}

	result, err := r.settings.EffectivePermissions(ctx, actorID, ownerUserID, []string{childID}, base)
	if err != nil {
		return nil, err
	}

	r.cache.set(actorID, ownerUserID, childID, result.Permissions)
	return result.Permissions, nil
}

// finish audita la decisión y la devuelve. Falla => nada granted.
func (r *Resolver) finish(ctx context.Context, req Request, d Decision) (Decision, error) {
	outcome := audit.OutcomeDenied
	if d.Granted {
		outcome = audit.OutcomeGranted
	}

	_, err := r.auditor.Append(ctx, audit.AppendInput{
		OwnerUserID:  req.OwnerID,
		ActorID:      req.ActorID,
		ActorType:    audit.ActorTypeUser,
		Action:       fmt.Sprintf("%s:%s", req.Category, req.Action),
		ResourceType: string(req.Category),
		ChildID:      req.ChildID,
		Outcome:      outcome,
		Reason:       d.Reason,
	})
	if err != nil {
		return Decision{Granted: false, Reason: d.Reason}, fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}

	return d, nil
}
