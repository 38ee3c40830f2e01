package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"family-health-access/internal/domain/permissions"
	"family-health-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// Authorizer es la cara del permission resolver que necesitan estos handlers.
// Interface chica acá porque access importa privacy (sería ciclo al revés).
type Authorizer interface {
	CanViewPrivacy(ctx context.Context, actorID, ownerUserID, childID string) (bool, error)
	CanManagePrivacy(ctx context.Context, actorID, ownerUserID, childID string) (bool, error)
}

// ChildOwnerLookup resuelve a qué familia pertenece un hijo.
// Implementado por children.Service.
type ChildOwnerLookup interface {
	OwnerOf(ctx context.Context, childID string) (string, error)
}

// ElevationConsumer gasta la elevación one-shot de una sesión (opcional).
type ElevationConsumer interface {
	ConsumeElevation(ctx context.Context, sessionID string) (bool, error)
}

func RegisterRoutes(r chi.Router, svc *Service, authz Authorizer, childOwner ChildOwnerLookup, elevator ElevationConsumer) {
	// Settings family-wide
	r.Route("/privacy", func(pr chi.Router) {
		pr.Get("/", getFamilySettingsHandler(svc, authz))
		pr.Put("/", updateFamilySettingsHandler(svc, authz))
	})

	// Override por hijo
	r.Route("/children/{childID}/privacy", func(cr chi.Router) {
		cr.Get("/", getChildSettingsHandler(svc, authz, childOwner))
		cr.Put("/", upsertChildSettingsHandler(svc, authz, childOwner))
		cr.Delete("/", removeChildSettingsHandler(svc, authz, childOwner, elevator))
	})
}

type familySettingsResponse struct {
	OwnerUserID           string              `json:"owner_user_id"`
	ShareWithCaregivers   bool                `json:"share_with_caregivers"`
	AllowExport           bool                `json:"allow_export"`
	AllowedCommunications []CommunicationType `json:"allowed_communications"`
	RetentionDays         int                 `json:"retention_days"`
	AutoDelete            bool                `json:"auto_delete"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

type updateFamilySettingsRequest struct {
	ShareWithCaregivers   bool                `json:"share_with_caregivers"`
	AllowExport           bool                `json:"allow_export"`
	AllowedCommunications []CommunicationType `json:"allowed_communications"`
	RetentionDays         int                 `json:"retention_days"`
	AutoDelete            bool                `json:"auto_delete"`
}

type childSettingsResponse struct {
	ChildID               string                               `json:"child_id"`
	OwnerUserID           string                               `json:"owner_user_id"`
	InheritFromParent     bool                                 `json:"inherit_from_parent"`
	RestrictedAccess      bool                                 `json:"restricted_access"`
	AllowedUsers          []string                             `json:"allowed_users"`
	CustomPermissions     map[string][]permissions.Permission  `json:"custom_permissions"`
	BlockedCommunications []CommunicationType                  `json:"blocked_communications"`
	RetentionDaysOverride *int                                 `json:"retention_days_override,omitempty"`
	AutoDeleteOverride    *bool                                `json:"auto_delete_override,omitempty"`
	CreatedAt             time.Time                            `json:"created_at"`
	UpdatedAt             time.Time                            `json:"updated_at"`
}

type upsertChildSettingsRequest struct {
	InheritFromParent     bool                                `json:"inherit_from_parent"`
	RestrictedAccess      bool                                `json:"restricted_access"`
	AllowedUsers          []string                            `json:"allowed_users"`
	CustomPermissions     map[string][]permissions.Permission `json:"custom_permissions"`
	BlockedCommunications []CommunicationType                 `json:"blocked_communications"`
	RetentionDaysOverride *int                                `json:"retention_days_override"`
	AutoDeleteOverride    *bool                               `json:"auto_delete_override"`
}

// targetOwner: ?owner= permite a un delegado con permiso operar sobre otra
// familia; sin query param, el owner es el propio usuario.
func targetOwner(r *http.Request, selfID string) string {
	if o := strings.TrimSpace(r.URL.Query().Get("owner")); o != "" {
		return o
	}
	return selfID
}

func getFamilySettingsHandler(svc *Service, authz Authorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ownerID := targetOwner(r, claims.UserID)
		if ownerID != claims.UserID {
			allowed, err := authz.CanViewPrivacy(r.Context(), claims.UserID, ownerID, "")
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		fs, err := svc.GetFamily(r.Context(), ownerID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toFamilySettingsResponse(fs))
	}
}

func updateFamilySettingsHandler(svc *Service, authz Authorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ownerID := targetOwner(r, claims.UserID)
		if ownerID != claims.UserID {
			allowed, err := authz.CanManagePrivacy(r.Context(), claims.UserID, ownerID, "")
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		var req updateFamilySettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		fs, err := svc.UpdateFamily(r.Context(), ownerID, UpdateFamilyInput{
			ShareWithCaregivers:   req.ShareWithCaregivers,
			AllowExport:           req.AllowExport,
			AllowedCommunications: req.AllowedCommunications,
			RetentionDays:         req.RetentionDays,
			AutoDelete:            req.AutoDelete,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrConflict):
				// El caller tiene que limpiar los overrides por hijo primero.
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, toFamilySettingsResponse(fs))
	}
}

func getChildSettingsHandler(svc *Service, authz Authorizer, childOwner ChildOwnerLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		childID := chi.URLParam(r, "childID")
		ownerID, err := childOwner.OwnerOf(r.Context(), childID)
		if err != nil {
			http.Error(w, "child not found", http.StatusNotFound)
			return
		}

		if ownerID != claims.UserID {
			allowed, err := authz.CanViewPrivacy(r.Context(), claims.UserID, ownerID, childID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		cs, err := svc.GetChild(r.Context(), childID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Sin override explícito: hereda familia. Devolvemos el default
				// en vez de un 404 (el override es lazy).
				writeJSON(w, http.StatusOK, childSettingsResponse{
					ChildID:           childID,
					OwnerUserID:       ownerID,
					InheritFromParent: true,
					AllowedUsers:      []string{},
				})
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toChildSettingsResponse(cs))
	}
}

func upsertChildSettingsHandler(svc *Service, authz Authorizer, childOwner ChildOwnerLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		childID := chi.URLParam(r, "childID")
		ownerID, err := childOwner.OwnerOf(r.Context(), childID)
		if err != nil {
			http.Error(w, "child not found", http.StatusNotFound)
			return
		}

		if ownerID != claims.UserID {
			allowed, err := authz.CanManagePrivacy(r.Context(), claims.UserID, ownerID, childID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		var req upsertChildSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		cs, err := svc.UpsertChild(r.Context(), ownerID, childID, UpsertChildInput{
			InheritFromParent:     req.InheritFromParent,
			RestrictedAccess:      req.RestrictedAccess,
			AllowedUsers:          req.AllowedUsers,
			CustomPermissions:     req.CustomPermissions,
			BlockedCommunications: req.BlockedCommunications,
			RetentionDaysOverride: req.RetentionDaysOverride,
			AutoDeleteOverride:    req.AutoDeleteOverride,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrConflict):
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, toChildSettingsResponse(cs))
	}
}

func removeChildSettingsHandler(svc *Service, authz Authorizer, childOwner ChildOwnerLookup, elevator ElevationConsumer) http.HandlerFunc {
	// Quitar el override ABRE acceso (vuelve a herencia plena), así que con
	// sesión presente pedimos elevación one-shot.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		childID := chi.URLParam(r, "childID")
		ownerID, err := childOwner.OwnerOf(r.Context(), childID)
		if err != nil {
			http.Error(w, "child not found", http.StatusNotFound)
			return
		}

		if ownerID != claims.UserID {
			allowed, err := authz.CanManagePrivacy(r.Context(), claims.UserID, ownerID, childID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		if sessionID := strings.TrimSpace(r.Header.Get("X-Session-ID")); sessionID != "" && elevator != nil {
			elevated, err := elevator.ConsumeElevation(r.Context(), sessionID)
			if err != nil {
				http.Error(w, "session invalid", http.StatusUnauthorized)
				return
			}
			if !elevated {
				http.Error(w, "session elevation required", http.StatusForbidden)
				return
			}
		}

		if err := svc.RemoveChild(r.Context(), ownerID, childID); err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func toFamilySettingsResponse(fs FamilySettings) familySettingsResponse {
	return familySettingsResponse{
		OwnerUserID:           fs.OwnerUserID,
		ShareWithCaregivers:   fs.ShareWithCaregivers,
		AllowExport:           fs.AllowExport,
		AllowedCommunications: fs.AllowedCommunications,
		RetentionDays:         fs.RetentionDays,
		AutoDelete:            fs.AutoDelete,
		UpdatedAt:             fs.UpdatedAt,
	}
}

func toChildSettingsResponse(cs ChildSettings) childSettingsResponse {
	return childSettingsResponse{
		ChildID:               cs.ChildID,
		OwnerUserID:           cs.OwnerUserID,
		InheritFromParent:     cs.InheritFromParent,
		RestrictedAccess:      cs.RestrictedAccess,
		AllowedUsers:          cs.AllowedUsers,
		CustomPermissions:     cs.CustomPermissions,
		BlockedCommunications: cs.BlockedCommunications,
		RetentionDaysOverride: cs.RetentionDaysOverride,
		AutoDeleteOverride:    cs.AutoDeleteOverride,
		CreatedAt:             cs.CreatedAt,
		UpdatedAt:             cs.UpdatedAt,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
