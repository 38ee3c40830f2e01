package sharetokens

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

// ChildOwnerLookup resuelve a qué familia pertenece un hijo.
// Implementado por children.Service.
type ChildOwnerLookup interface {
	OwnerOf(ctx context.Context, childID string) (string, error)
}

// Authorizer es el recorte del permission resolver para el listado de tokens.
type Authorizer interface {
	CanManagePrivacy(ctx context.Context, actorID, ownerUserID, childID string) (bool, error)
}

func RegisterRoutes(r chi.Router, svc *Service, childOwner ChildOwnerLookup, authz Authorizer) {
	r.Route("/children/{childID}/share-tokens", func(tr chi.Router) {
		tr.Post("/", issueTokenHandler(svc, childOwner))
		tr.Get("/", listTokensHandler(svc, childOwner, authz))
	})

	r.Post("/share-tokens/{tokenID}/revoke", revokeTokenHandler(svc))
}

// RegisterPublicRoutes monta el endpoint del magic link: sin auth, el secret
// ES la credencial.
func RegisterPublicRoutes(r chi.Router, svc *Service) {
	r.Get("/provider-access/{token}", providerAccessHandler(svc))
}

type issueTokenRequest struct {
	ProviderName   string   `json:"provider_name"`
	ProviderEmail  string   `json:"provider_email"`
	Notes          string   `json:"notes"`
	Permissions    []string `json:"permissions"`
	ExpiresInHours int      `json:"expires_in_hours"`
	MaxAccessCount *int     `json:"max_access_count"`
}

type tokenResponse struct {
	ID             string                   `json:"id"`
	Secret         string                   `json:"secret,omitempty"`
	ChildID        string                   `json:"child_id"`
	OwnerUserID    string                   `json:"owner_user_id"`
	IssuedByUserID string                   `json:"issued_by_user_id"`
	ProviderName   string                   `json:"provider_name"`
	ProviderEmail  string                   `json:"provider_email,omitempty"`
	Notes          string                   `json:"notes,omitempty"`
	Permissions    []permissions.Permission `json:"permissions"`
	ExpiresAt      time.Time                `json:"expires_at"`
	MaxAccessCount *int                     `json:"max_access_count,omitempty"`
	AccessCount    int                      `json:"access_count"`
	IsActive       bool                     `json:"is_active"`
	CreatedAt      time.Time                `json:"created_at"`
	LastAccessAt   *time.Time               `json:"last_access_at,omitempty"`
}

type providerAccessResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Scope  *Scope `json:"scope,omitempty"`
}

func issueTokenHandler(svc *Service, childOwner ChildOwnerLookup) http.HandlerFunc {
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

		var req issueTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		perms := make([]permissions.Permission, 0, len(req.Permissions))
		for _, p := range req.Permissions {
			perms = append(perms, permissions.Permission(strings.TrimSpace(p)))
		}

		t, err := svc.Issue(r.Context(), IssueInput{
			RequesterID:    claims.UserID,
			OwnerUserID:    ownerID,
			ChildID:        childID,
			ProviderName:   req.ProviderName,
			ProviderEmail:  req.ProviderEmail,
			Notes:          req.Notes,
			Permissions:    perms,
			ExpiresInHours: req.ExpiresInHours,
			MaxAccessCount: req.MaxAccessCount,
			SessionID:      strings.TrimSpace(r.Header.Get("X-Session-ID")),
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrExcessScope):
				// 422: el request es bien formado pero pide más scope del que
				// el emisor tiene.
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			case errors.Is(err, ErrElevationRequired):
				http.Error(w, err.Error(), http.StatusForbidden)
			case errors.Is(err, ErrForbidden):
				http.Error(w, "forbidden", http.StatusForbidden)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		// Única respuesta que incluye el secret: después solo queda el link.
		writeJSON(w, http.StatusCreated, toTokenResponse(t, true))
	}
}

func listTokensHandler(svc *Service, childOwner ChildOwnerLookup, authz Authorizer) http.HandlerFunc {
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

		items, err := svc.ListByChild(r.Context(), childID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]tokenResponse, 0, len(items))
		for _, t := range items {
			out = append(out, toTokenResponse(t, false))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func revokeTokenHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		tokenID := chi.URLParam(r, "tokenID")
		if err := svc.Revoke(r.Context(), tokenID, claims.UserID); err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, ErrForbidden):
				http.Error(w, "forbidden", http.StatusForbidden)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func providerAccessHandler(svc *Service) http.HandlerFunc {
	// Consume un uso del token y devuelve el scope. Un token muerto devuelve
	// 200 con valid=false: el motivo exacto sí se informa (revoked/expired/
	// exhausted son visibles para el proveedor, que tiene el link en mano).
	return func(w http.ResponseWriter, r *http.Request) {
		secret := chi.URLParam(r, "token")

		t, err := svc.Consume(r.Context(), secret)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
				http.Error(w, "not found", http.StatusNotFound)
				return
			case errors.Is(err, ErrRevoked), errors.Is(err, ErrExpired), errors.Is(err, ErrExhausted):
				writeJSON(w, http.StatusOK, providerAccessResponse{
					Valid:  false,
					Reason: err.Error(),
				})
				return
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}

		scope := t.Scope()
		writeJSON(w, http.StatusOK, providerAccessResponse{
			Valid: true,
			Scope: &scope,
		})
	}
}

func toTokenResponse(t Token, includeSecret bool) tokenResponse {
	resp := tokenResponse{
		ID:             t.ID,
		ChildID:        t.ChildID,
		OwnerUserID:    t.OwnerUserID,
		IssuedByUserID: t.IssuedByUserID,
		ProviderName:   t.ProviderName,
		ProviderEmail:  t.ProviderEmail,
		Notes:          t.Notes,
		Permissions:    t.Permissions,
		ExpiresAt:      t.ExpiresAt,
		MaxAccessCount: t.MaxAccessCount,
		AccessCount:    t.AccessCount,
		IsActive:       t.IsActive,
		CreatedAt:      t.CreatedAt,
		LastAccessAt:   t.LastAccessAt,
	}
	if includeSecret {
		resp.Secret = t.Secret
	}
	return resp
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
