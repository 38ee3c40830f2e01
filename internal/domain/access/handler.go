package access

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"family-health-access/internal/domain/permissions"
	"family-health-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, resolver *Resolver) {
	// Dry-run: mismo camino de decisión que usan los handlers de datos,
	// sin consumir tokens ni elevaciones.
	r.Post("/access/check", checkAccessHandler(resolver))
}

type checkAccessRequest struct {
	OwnerUserID string `json:"owner_user_id"`
	ChildID     string `json:"child_id"`
	Category    string `json:"category"`
	Action      string `json:"action"`
}

type checkAccessResponse struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

func checkAccessHandler(resolver *Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req checkAccessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.OwnerUserID) == "" {
			http.Error(w, "owner_user_id required", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Category) == "" || strings.TrimSpace(req.Action) == "" {
			http.Error(w, "category and action required", http.StatusBadRequest)
			return
		}

		d, err := resolver.Resolve(r.Context(), Request{
			ActorID:           claims.UserID,
			OwnerID:           req.OwnerUserID,
			ChildID:           req.ChildID,
			Category:          permissions.DataCategory(strings.TrimSpace(req.Category)),
			Action:            permissions.Action(strings.TrimSpace(req.Action)),
			SessionID:         strings.TrimSpace(r.Header.Get("X-Session-ID")),
			DeviceFingerprint: strings.TrimSpace(r.Header.Get("X-Device-Fingerprint")),
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, checkAccessResponse{
			Granted: d.Granted,
			Reason:  d.Reason,
		})
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
