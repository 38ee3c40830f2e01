package children

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"family-health-access/internal/domain/grants"
	"family-health-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// AccessDecider evita importar el paquete access desde acá:
// children solo necesita el veredicto "puede ver el perfil".
type AccessDecider interface {
	CanSeeChild(ctx context.Context, actorID, ownerUserID, childID string) (bool, error)
}

func RegisterRoutes(r chi.Router, svc *Service, decider AccessDecider, grantsSvc *grants.Service) {
	r.Route("/children", func(cr chi.Router) {
		cr.Post("/", createChildHandler(svc))
		cr.Get("/", listChildrenHandler(svc))

		// Perfil (owner o delegado con algún permiso view efectivo)
		cr.Get("/{childID}", getChildHandler(svc, decider))
	})

	// Hijos compartidos conmigo (delegado)
	r.Get("/me/children", listMySharedChildrenHandler(svc, decider, grantsSvc))
}

type createChildRequest struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"` // YYYY-MM-DD opcional
	Notes     string `json:"notes"`
}

type childResponse struct {
	ID          string     `json:"id"`
	OwnerUserID string     `json:"owner_user_id"`
	Name        string     `json:"name"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	Notes       string     `json:"notes"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func createChildHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createChildRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		var bd *time.Time
		if strings.TrimSpace(req.BirthDate) != "" {
			t, err := time.Parse("2006-01-02", req.BirthDate)
			if err != nil {
				http.Error(w, "birth_date must be YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			bd = &t
		}

		c, err := svc.Create(r.Context(), claims.UserID, CreateInput{
			Name:      req.Name,
			BirthDate: bd,
			Notes:     req.Notes,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusCreated, toChildResponse(c))
	}
}

func listChildrenHandler(svc *Service) http.HandlerFunc {
	// Owner-only (sin mezclar shared)
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListByOwner(r.Context(), claims.UserID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]childResponse, 0, len(items))
		for _, c := range items {
			out = append(out, toChildResponse(c))
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func getChildHandler(svc *Service, decider AccessDecider) http.HandlerFunc {
	// Owner bypass; delegado pasa por el permission resolver.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		childID := chi.URLParam(r, "childID")
		c, err := svc.GetByID(r.Context(), childID)
		if err != nil {
			http.Error(w, "child not found", http.StatusNotFound)
			return
		}

		allowed, err := decider.CanSeeChild(r.Context(), claims.UserID, c.OwnerUserID, childID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		writeJSON(w, http.StatusOK, toChildResponse(c))
	}
}

func listMySharedChildrenHandler(svc *Service, decider AccessDecider, grantsSvc *grants.Service) http.HandlerFunc {
	// Devuelve hijos de familias que me compartieron acceso (grants activos),
	// recortados por los overrides de privacidad de cada hijo.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		myGrants, err := grantsSvc.ListByGrantee(r.Context(), claims.UserID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		seenOwner := map[string]struct{}{}
		out := make([]childResponse, 0)

		for _, g := range myGrants {
			if g.Status != grants.StatusActive {
				continue
			}
			if _, ok := seenOwner[g.OwnerUserID]; ok {
				continue
			}
			seenOwner[g.OwnerUserID] = struct{}{}

			kids, err := svc.ListByOwner(r.Context(), g.OwnerUserID)
			if err != nil {
				continue
			}

			for _, c := range kids {
				allowed, err := decider.CanSeeChild(r.Context(), claims.UserID, c.OwnerUserID, c.ID)
				if err != nil || !allowed {
					continue
				}
				out = append(out, toChildResponse(c))
			}
		}

		writeJSON(w, http.StatusOK, out)
	}
}

func toChildResponse(c Child) childResponse {
	return childResponse{
		ID:          c.ID,
		OwnerUserID: c.OwnerUserID,
		Name:        c.Name,
		BirthDate:   c.BirthDate,
		Notes:       c.Notes,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
