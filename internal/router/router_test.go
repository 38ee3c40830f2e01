package router_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"family-health-access/internal/router"
)

func TestHTTP_EndToEnd_GrantLifecycle(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil}))
	defer ts.Close()

	ownerID := "owner-1"
	delegateID := "caregiver-1"

	// 1) Owner crea hijo
	childID := createChild(t, ts.URL, ownerID, map[string]any{
		"name":       "Lucia",
		"birth_date": "2019-04-12",
	})

	// 2) Delegado NO puede ver el perfil aún
	{
		st, _ := doReq(t, ts.URL, "GET", "/children/"+childID, delegateID, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 before grant, got %d", st)
		}
	}

	// 3) Owner invita delegado como caregiver
	grantID := inviteGrant(t, ts.URL, ownerID, delegateID, "caregiver")

	// 4) Delegado ve su invitación
	{
		st, body := doReq(t, ts.URL, "GET", "/me/grants?status=invited", delegateID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 listing my grants, got %d body=%s", st, string(body))
		}
	}

	// 5) Delegado acepta
	{
		st, body := doReq(t, ts.URL, "POST", "/grants/"+grantID+"/accept", delegateID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 accept grant, got %d body=%s", st, string(body))
		}
	}

	// 6) Delegado ya puede ver el perfil
	{
		st, body := doReq(t, ts.URL, "GET", "/children/"+childID, delegateID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 get child by delegate, got %d body=%s", st, string(body))
		}
	}

	// 7) El dry-run de acceso concede view de síntomas
	{
		granted, reason := checkAccess(t, ts.URL, delegateID, ownerID, childID, "symptoms", "view")
		if !granted {
			t.Fatalf("expected symptoms:view granted, reason=%s", reason)
		}
	}

	// 8) Owner revoca
	{
		st, body := doReq(t, ts.URL, "POST", "/grants/"+grantID+"/revoke", ownerID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 revoke grant by owner, got %d body=%s", st, string(body))
		}
	}

	// 9) Delegado pierde acceso inmediatamente
	{
		st, _ := doReq(t, ts.URL, "GET", "/children/"+childID, delegateID, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 get child after revoke, got %d", st)
		}
	}
	{
		granted, _ := checkAccess(t, ts.URL, delegateID, ownerID, childID, "symptoms", "view")
		if granted {
			t.Fatal("expected symptoms:view denied after revoke")
		}
	}
}

func TestHTTP_InviteGrant_RejectsUnknownRole(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil}))
	defer ts.Close()

	st, _ := doReq(t, ts.URL, "POST", "/family/grants", "owner-1", map[string]any{
		"grantee_user_id": "caregiver-1",
		"role":            "superadmin",
	})
	if st != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", st)
	}
}

func TestHTTP_ChildPrivacyOverride_RestrictsDelegate(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil}))
	defer ts.Close()

	ownerID := "owner-2"
	delegateID := "caregiver-2"

	childID := createChild(t, ts.URL, ownerID, map[string]any{"name": "Mateo"})

	grantID := inviteGrant(t, ts.URL, ownerID, delegateID, "caregiver")
	{
		st, body := doReq(t, ts.URL, "POST", "/grants/"+grantID+"/accept", delegateID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 accept, got %d body=%s", st, string(body))
		}
	}

	// Con grant activo el delegado ve al hijo
	{
		st, _ := doReq(t, ts.URL, "GET", "/children/"+childID, delegateID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 before override, got %d", st)
		}
	}

	// Owner restringe el hijo con allowlist vacía: nadie delegado entra
	{
		st, body := doReq(t, ts.URL, "PUT", "/children/"+childID+"/privacy", ownerID, map[string]any{
			"inherit_from_parent": false,
			"restricted_access":   true,
			"allowed_users":       []string{},
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 upsert child privacy, got %d body=%s", st, string(body))
		}
	}

	// El override le gana al rol, sin esperar TTL de cache
	{
		st, _ := doReq(t, ts.URL, "GET", "/children/"+childID, delegateID, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 after restriction, got %d", st)
		}
	}
	{
		granted, reason := checkAccess(t, ts.URL, delegateID, ownerID, childID, "symptoms", "view")
		if granted {
			t.Fatalf("expected denied after restriction, reason=%s", reason)
		}
	}

	// Owner borra el override: vuelve la herencia de familia
	{
		st, _ := doReq(t, ts.URL, "DELETE", "/children/"+childID+"/privacy", ownerID, nil)
		if st != http.StatusNoContent {
			t.Fatalf("expected 204 delete child privacy, got %d", st)
		}
	}
	{
		st, _ := doReq(t, ts.URL, "GET", "/children/"+childID, delegateID, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 after removing override, got %d", st)
		}
	}

	// Apagar sharing a nivel familia con overrides con allowlist viva => 409
	{
		st, body := doReq(t, ts.URL, "PUT", "/children/"+childID+"/privacy", ownerID, map[string]any{
			"inherit_from_parent": false,
			"restricted_access":   true,
			"allowed_users":       []string{delegateID},
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 re-creating override, got %d body=%s", st, string(body))
		}

		st, body = doReq(t, ts.URL, "PUT", "/privacy", ownerID, map[string]any{
			"share_with_caregivers": false,
			"retention_days":        365,
		})
		if st != http.StatusConflict {
			t.Fatalf("expected 409 configuration conflict, got %d body=%s", st, string(body))
		}
	}
}

func TestHTTP_ShareToken_ProviderAccess(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil}))
	defer ts.Close()

	ownerID := "owner-3"
	childID := createChild(t, ts.URL, ownerID, map[string]any{"name": "Emma"})

	// Emitir pidiendo permisos de escritura => scope en exceso
	{
		st, _ := doReq(t, ts.URL, "POST", "/children/"+childID+"/share-tokens", ownerID, map[string]any{
			"provider_name": "Dr. Rivas",
			"permissions":   []string{"edit-symptoms"},
		})
		if st != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for write scope, got %d", st)
		}
	}

	// Emisión válida: view-only, 2 usos
	var secret, tokenID string
	{
		st, body := doReq(t, ts.URL, "POST", "/children/"+childID+"/share-tokens", ownerID, map[string]any{
			"provider_name":    "Dr. Rivas",
			"permissions":      []string{"view-symptoms", "view-treatments"},
			"expires_in_hours": 24,
			"max_access_count": 2,
		})
		if st != http.StatusCreated {
			t.Fatalf("expected 201 issue token, got %d body=%s", st, string(body))
		}

		var resp struct {
			ID     string `json:"id"`
			Secret string `json:"secret"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.ID == "" || resp.Secret == "" {
			t.Fatalf("issue token: missing id/secret body=%s", string(body))
		}
		secret = resp.Secret
		tokenID = resp.ID
	}

	// Dos accesos del proveedor pasan, el tercero agota
	for i := 0; i < 2; i++ {
		valid, reason, scope := providerAccess(t, ts.URL, secret)
		if !valid {
			t.Fatalf("access %d: expected valid token, reason=%s", i+1, reason)
		}
		if scope.ChildID != childID {
			t.Fatalf("access %d: scope child = %s, want %s", i+1, scope.ChildID, childID)
		}
	}
	{
		valid, reason, _ := providerAccess(t, ts.URL, secret)
		if valid {
			t.Fatal("expected exhausted token")
		}
		if reason != "token exhausted" {
			t.Fatalf("expected exhausted reason, got %q", reason)
		}
	}

	// Revocar y emitir de nuevo: el revocado reporta revoked
	{
		st, _ := doReq(t, ts.URL, "POST", "/share-tokens/"+tokenID+"/revoke", ownerID, nil)
		if st != http.StatusNoContent {
			t.Fatalf("expected 204 revoke token, got %d", st)
		}

		valid, reason, _ := providerAccess(t, ts.URL, secret)
		if valid || reason != "token revoked" {
			t.Fatalf("expected revoked token, valid=%v reason=%q", valid, reason)
		}
	}

	// Token random => 404, ni siquiera respuesta estructurada
	{
		st, _ := doReqNoAuth(t, ts.URL, "GET", "/provider-access/nope")
		if st != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown secret, got %d", st)
		}
	}
}

func TestHTTP_AuditTrail_RecordsDecisions(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil}))
	defer ts.Close()

	ownerID := "owner-4"
	strangerID := "stranger-1"
	childID := createChild(t, ts.URL, ownerID, map[string]any{"name": "Leo"})

	// Un intento denegado también queda en el trail
	{
		st, _ := doReq(t, ts.URL, "GET", "/children/"+childID, strangerID, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 stranger, got %d", st)
		}
	}

	st, body := doReq(t, ts.URL, "GET", "/audit", ownerID, nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 audit list, got %d body=%s", st, string(body))
	}

	var entries []struct {
		ActorID string `json:"actor_id"`
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}

	foundDenied := false
	for _, e := range entries {
		if e.ActorID == strangerID && e.Outcome == "denied" {
			foundDenied = true
		}
	}
	if !foundDenied {
		t.Fatalf("expected denied entry for stranger in audit trail, entries=%s", string(body))
	}

	// Un extraño no puede leer el trail ajeno
	{
		st, _ := doReq(t, ts.URL, "GET", "/audit?owner="+ownerID, strangerID, nil)
		if st != http.StatusForbidden {
			t.Fatalf("expected 403 audit for stranger, got %d", st)
		}
	}
}

func TestHTTP_SessionValidate_OtherUserCannotTouchSession(t *testing.T) {
	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil}))
	defer ts.Close()

	victimID := "owner-6"
	attackerID := "stranger-6"

	// Víctima abre sesión con su fingerprint
	st, body := doReq(t, ts.URL, "POST", "/sessions", victimID, map[string]any{
		"device_fingerprint": "fp-victim",
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 create session, got %d body=%s", st, string(body))
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &created)
	if created.ID == "" {
		t.Fatalf("create session: missing id body=%s", string(body))
	}

	// Otro usuario con el id ajeno y un fingerprint cualquiera: 403 y
	// la sesión no se toca (ni refresco ni invalidación terminal)
	st, _ = doReqFP(t, ts.URL, "POST", "/sessions/"+created.ID+"/validate", attackerID, "fp-wrong", nil)
	if st != http.StatusForbidden {
		t.Fatalf("expected 403 validating someone else's session, got %d", st)
	}

	// La víctima sigue pudiendo validar con su fingerprint real
	st, body = doReqFP(t, ts.URL, "POST", "/sessions/"+created.ID+"/validate", victimID, "fp-victim", nil)
	if st != http.StatusOK {
		t.Fatalf("expected 200 validating own session, got %d body=%s", st, string(body))
	}
}

func createChild(t *testing.T, baseURL, userID string, payload map[string]any) string {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/children", userID, payload)
	if st != http.StatusCreated {
		t.Fatalf("expected 201 create child, got %d body=%s", st, string(body))
	}

	var resp struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.ID == "" {
		t.Fatalf("create child: missing id body=%s", string(body))
	}
	return resp.ID
}

func inviteGrant(t *testing.T, baseURL, ownerID, granteeID, role string) string {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/family/grants", ownerID, map[string]any{
		"grantee_user_id": granteeID,
		"role":            role,
	})
	if st != http.StatusCreated {
		t.Fatalf("expected 201 invite grant, got %d body=%s", st, string(body))
	}

	var resp struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &resp)
	if resp.ID == "" {
		t.Fatalf("invite grant: missing id body=%s", string(body))
	}
	return resp.ID
}

func checkAccess(t *testing.T, baseURL, actorID, ownerID, childID, category, action string) (bool, string) {
	t.Helper()

	st, body := doReq(t, baseURL, "POST", "/access/check", actorID, map[string]any{
		"owner_user_id": ownerID,
		"child_id":      childID,
		"category":      category,
		"action":        action,
	})
	if st != http.StatusOK {
		t.Fatalf("expected 200 access check, got %d body=%s", st, string(body))
	}

	var resp struct {
		Granted bool   `json:"granted"`
		Reason  string `json:"reason"`
	}
	_ = json.Unmarshal(body, &resp)
	return resp.Granted, resp.Reason
}

type providerScope struct {
	ChildID     string   `json:"child_id"`
	Permissions []string `json:"permissions"`
}

func providerAccess(t *testing.T, baseURL, secret string) (bool, string, providerScope) {
	t.Helper()

	st, body := doReqNoAuth(t, baseURL, "GET", "/provider-access/"+secret)
	if st != http.StatusOK {
		t.Fatalf("expected 200 provider access, got %d body=%s", st, string(body))
	}

	var resp struct {
		Valid  bool           `json:"valid"`
		Reason string         `json:"reason"`
		Scope  *providerScope `json:"scope"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal provider access: %v", err)
	}

	scope := providerScope{}
	if resp.Scope != nil {
		scope = *resp.Scope
	}
	return resp.Valid, resp.Reason, scope
}

func doReqNoAuth(t *testing.T, baseURL, method, path string) (int, []byte) {
	t.Helper()
	return doReq(t, baseURL, method, path, "", nil)
}

func doReqFP(t *testing.T, baseURL, method, path, debugUserID, fingerprint string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if debugUserID != "" {
		req.Header.Set("X-Debug-User-ID", debugUserID)
	}
	if fingerprint != "" {
		req.Header.Set("X-Device-Fingerprint", fingerprint)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, respBody
}

func doReq(t *testing.T, baseURL, method, path, debugUserID string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if debugUserID != "" {
		req.Header.Set("X-Debug-User-ID", debugUserID)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, respBody
}
