package sessions

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"family-health-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/sessions", func(sr chi.Router) {
		sr.Post("/", createSessionHandler(svc))

		sr.Route("/{sessionID}", func(ir chi.Router) {
			ir.Post("/validate", validateSessionHandler(svc))
			ir.Post("/elevate", elevateSessionHandler(svc))
			ir.Delete("/", invalidateSessionHandler(svc))
		})
	})
}

type createSessionRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
}

type sessionResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	CreatedAt       time.Time  `json:"created_at"`
	LastValidatedAt time.Time  `json:"last_validated_at"`
	Elevated        bool       `json:"elevated"`
	ElevatedAt      *time.Time `json:"elevated_at,omitempty"`
}

func createSessionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		sess, err := svc.Create(r.Context(), claims.UserID, req.DeviceFingerprint)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusCreated, toSessionResponse(sess))
	}
}

func validateSessionHandler(svc *Service) http.HandlerFunc {
	// El fingerprint viaja en header, como en el resto de los requests.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sessionID := chi.URLParam(r, "sessionID")
		fingerprint := strings.TrimSpace(r.Header.Get("X-Device-Fingerprint"))

		// Ownership ANTES de tocar la sesión: Validate muta (refresca o
		// invalida terminal), y un tercero con el id ajeno no puede ni
		// refrescarla ni matarla mandando un fingerprint cualquiera.
		existing, err := svc.GetByID(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if existing.UserID != claims.UserID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if err := svc.Validate(r.Context(), sessionID, fingerprint); err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, ErrInvalidated), errors.Is(err, ErrFingerprintMismatch), errors.Is(err, ErrStale):
				// 401: el cliente tiene que re-autenticar, no reintentar.
				http.Error(w, err.Error(), http.StatusUnauthorized)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		sess, err := svc.GetByID(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func elevateSessionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sessionID := chi.URLParam(r, "sessionID")
		fingerprint := strings.TrimSpace(r.Header.Get("X-Device-Fingerprint"))

		// Solo el dueño de la sesión puede elevarla.
		existing, err := svc.GetByID(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if existing.UserID != claims.UserID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		sess, err := svc.Elevate(r.Context(), sessionID, fingerprint)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrNotFound):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, ErrInvalidated), errors.Is(err, ErrFingerprintMismatch), errors.Is(err, ErrStale):
				http.Error(w, err.Error(), http.StatusUnauthorized)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func invalidateSessionHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		sessionID := chi.URLParam(r, "sessionID")

		existing, err := svc.GetByID(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if existing.UserID != claims.UserID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		if err := svc.Invalidate(r.Context(), sessionID, ReasonLogout); err != nil {
			switch {
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

func toSessionResponse(s Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		UserID:          s.UserID,
		CreatedAt:       s.CreatedAt,
		LastValidatedAt: s.LastValidatedAt,
		Elevated:        s.Elevated,
		ElevatedAt:      s.ElevatedAt,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
