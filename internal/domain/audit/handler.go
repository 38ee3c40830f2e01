package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"family-health-access/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// Authorizer decide si el actor puede leer el audit trail de una familia.
// Interface chica acá: access importa audit, no al revés.
type Authorizer interface {
	CanViewAudit(ctx context.Context, actorID, ownerUserID string) (bool, error)
}

func RegisterRoutes(r chi.Router, svc *Service, authz Authorizer) {
	r.Get("/audit", listAuditHandler(svc, authz))
}

type entryResponse struct {
	ID           string    `json:"id"`
	OwnerUserID  string    `json:"owner_user_id"`
	ActorID      string    `json:"actor_id"`
	ActorType    ActorType `json:"actor_type"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ChildID      string    `json:"child_id,omitempty"`
	Outcome      Outcome   `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func listAuditHandler(svc *Service, authz Authorizer) http.HandlerFunc {
	// GET /audit?owner=&from=&to=&actor=&resource_type=&limit=
	// Sin ?owner= lista la partición del propio usuario.
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()

		ownerID := strings.TrimSpace(q.Get("owner"))
		if ownerID == "" {
			ownerID = claims.UserID
		}

		if ownerID != claims.UserID {
			allowed, err := authz.CanViewAudit(r.Context(), claims.UserID, ownerID)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		filter, err := parseListFilter(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		items, err := svc.Query(r.Context(), ownerID, filter)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]entryResponse, 0, len(items))
		for _, e := range items {
			out = append(out, toEntryResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseListFilter(q map[string][]string) (ListFilter, error) {
	get := func(key string) string {
		if vals := q[key]; len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}

	var filter ListFilter

	if raw := get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ListFilter{}, fmt.Errorf("from must be RFC3339")
		}
		filter.From = &t
	}
	if raw := get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ListFilter{}, fmt.Errorf("to must be RFC3339")
		}
		filter.To = &t
	}
	if raw := get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ListFilter{}, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = n
	}

	filter.ActorID = get("actor")
	filter.ResourceType = get("resource_type")

	return filter, nil
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:           e.ID,
		OwnerUserID:  e.OwnerUserID,
		ActorID:      e.ActorID,
		ActorType:    e.ActorType,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		ChildID:      e.ChildID,
		Outcome:      e.Outcome,
		Reason:       e.Reason,
		CreatedAt:    e.CreatedAt,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
