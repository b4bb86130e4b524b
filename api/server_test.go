package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"osprey-ptx/config"
	"osprey-ptx/core/actionitems"
	"osprey-ptx/core/auth"
	"osprey-ptx/core/engagements"
	"osprey-ptx/core/metrics"
	"osprey-ptx/core/rbac"
	"osprey-ptx/core/reports"
	"osprey-ptx/core/store"
)

type testEnv struct {
	server *httptest.Server
	users  store.UsersStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "osprey_test.db"),
		Engagements: config.EngagementsConfig{
			RequiredApproverRoles: []string{"coordinator", "sponsor"},
		},
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	engagementsStore := store.NewEngagementsStore(db)
	techniquesStore := store.NewTechniquesStore(db)
	metricsStore := store.NewMetricsStore(db)
	orgsStore := store.NewOrgsStore(db)
	actionItemsStore := store.NewActionItemsStore(db)

	policy, err := rbac.NewPolicy(rbac.DefaultRoles())
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	tracker := engagements.NewTracker(engagementsStore, audits, nil)
	required := engagements.RequiredApproverRoles(cfg.Engagements.RequiredApproverRoles, nil)
	lifecycle := engagements.NewStateMachine(engagementsStore, techniquesStore, tracker, required, audits, nil)
	metricsSvc := metrics.NewService(engagementsStore, techniquesStore, metricsStore, orgsStore, audits, nil)
	reportsSvc := reports.NewService(engagementsStore, techniquesStore, metricsStore, actionItemsStore, audits, nil)
	scheduler := actionitems.NewRetestScheduler(actionItemsStore, audits, &cfg.Scheduler, nil)

	srv := NewServer(ServerDeps{
		Cfg:            cfg,
		Users:          users,
		Sessions:       sessions,
		Audits:         audits,
		Engagements:    engagementsStore,
		Techniques:     techniquesStore,
		Metrics:        metricsStore,
		Orgs:           orgsStore,
		ActionItems:    actionItemsStore,
		SessionManager: auth.NewSessionManager(sessions, cfg, nil),
		Policy:         policy,
		Lifecycle:      lifecycle,
		Tracker:        tracker,
		MetricsSvc:     metricsSvc,
		ReportsSvc:     reportsSvc,
		Scheduler:      scheduler,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, users: users}
}

func (e *testEnv) createUser(t *testing.T, username, password string, roles []string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &store.User{Username: username, PasswordHash: hash, Active: true}
	if _, err := e.users.Create(context.Background(), u, roles); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
}

func (e *testEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(e.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "osprey_session" {
			return c
		}
	}
	t.Fatalf("no session cookie in login response")
	return nil
}

func (e *testEnv) do(t *testing.T, cookie *http.Cookie, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func decodeBody(t *testing.T, raw []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
}

func TestEngagementLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "admin", "s3cret-pass", []string{"admin"})
	cookie := env.login(t, "admin", "s3cret-pass")

	// Create.
	resp, raw := env.do(t, cookie, "POST", "/api/engagements/", map[string]any{
		"name":        "q3 purple team",
		"methodology": "atomic",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", resp.StatusCode, raw)
	}
	var eng struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeBody(t, raw, &eng)
	if eng.Status != "draft" || eng.ID == "" {
		t.Fatalf("created engagement = %+v", eng)
	}
	base := "/api/engagements/" + eng.ID

	// Malformed id is rejected before any lookup.
	resp, _ = env.do(t, cookie, "GET", "/api/engagements/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d, want 400", resp.StatusCode)
	}

	// Skip-forward transition fails with a structured 409.
	resp, raw = env.do(t, cookie, "POST", base+"/transition", map[string]string{"target": "ready"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("skip transition status = %d body=%s", resp.StatusCode, raw)
	}
	var conflict struct {
		Error struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, raw, &conflict)
	if conflict.Error.Reason != "skip_forward" || conflict.Error.Message != "cannot skip states" {
		t.Fatalf("conflict body = %+v", conflict)
	}

	// draft -> planning needs a generated plan.
	resp, _ = env.do(t, cookie, "POST", base+"/transition", map[string]string{"target": "planning"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("planning without plan status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, cookie, "POST", base+"/plan", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plan status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, cookie, "POST", base+"/transition", map[string]string{"target": "planning"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("to planning status = %d", resp.StatusCode)
	}

	// planning -> ready needs both approvals.
	for _, role := range []string{"coordinator", "sponsor"} {
		resp, _ = env.do(t, cookie, "POST", base+"/approvals", map[string]string{"role": role})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("approve %s status = %d", role, resp.StatusCode)
		}
	}
	resp, _ = env.do(t, cookie, "POST", base+"/transition", map[string]string{"target": "ready"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("to ready status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, cookie, "POST", base+"/transition", map[string]string{"target": "active"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("to active status = %d", resp.StatusCode)
	}

	// Add an executed technique with outcomes.
	resp, raw = env.do(t, cookie, "POST", base+"/techniques", map[string]any{
		"technique_ref": "T1059.001",
		"tactic":        "execution",
		"status":        "done",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("technique create status = %d body=%s", resp.StatusCode, raw)
	}
	var tech struct {
		ID string `json:"id"`
	}
	decodeBody(t, raw, &tech)
	resp, _ = env.do(t, cookie, "POST", "/api/techniques/"+tech.ID+"/outcomes", map[string]string{
		"tool": "edr", "outcome": "alerted_high",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("outcome status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, cookie, "POST", base+"/transition", map[string]string{"target": "reporting"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("to reporting status = %d", resp.StatusCode)
	}

	// Metrics: 404 before recompute, populated after.
	resp, _ = env.do(t, cookie, "GET", base+"/metrics", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics before recompute status = %d, want 404", resp.StatusCode)
	}
	resp, raw = env.do(t, cookie, "POST", base+"/metrics/recompute", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recompute status = %d body=%s", resp.StatusCode, raw)
	}
	var m struct {
		ApplicableCount int     `json:"applicable_count"`
		DetectionRate   float64 `json:"detection_rate"`
	}
	decodeBody(t, raw, &m)
	if m.ApplicableCount != 1 || m.DetectionRate != 100 {
		t.Fatalf("metrics = %+v", m)
	}

	// Report snapshot bundles everything.
	resp, raw = env.do(t, cookie, "GET", base+"/report", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d", resp.StatusCode)
	}
	var snap struct {
		Techniques []json.RawMessage `json:"techniques"`
		Metrics    *json.RawMessage  `json:"metrics"`
	}
	decodeBody(t, raw, &snap)
	if len(snap.Techniques) != 1 || snap.Metrics == nil {
		t.Fatalf("snapshot = %s", raw)
	}

	resp, _ = env.do(t, cookie, "POST", base+"/transition", map[string]string{"target": "completed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("to completed status = %d", resp.StatusCode)
	}
}

func TestPermissionGuards(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "admin", "s3cret-pass", []string{"admin"})
	env.createUser(t, "watcher", "view-only-1", []string{"spectator"})

	admin := env.login(t, "admin", "s3cret-pass")
	watcher := env.login(t, "watcher", "view-only-1")

	resp, raw := env.do(t, admin, "POST", "/api/engagements/", map[string]string{"name": "guarded"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin create status = %d", resp.StatusCode)
	}
	var eng struct {
		ID string `json:"id"`
	}
	decodeBody(t, raw, &eng)

	// Spectator can read but not mutate.
	resp, _ = env.do(t, watcher, "GET", "/api/engagements/"+eng.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("spectator get status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, watcher, "POST", "/api/engagements/", map[string]string{"name": "nope"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("spectator create status = %d, want 403", resp.StatusCode)
	}
	resp, _ = env.do(t, watcher, "POST", "/api/engagements/"+eng.ID+"/transition", map[string]string{"target": "planning"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("spectator transition status = %d, want 403", resp.StatusCode)
	}

	// No session at all.
	resp, _ = env.do(t, nil, "GET", "/api/engagements/", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "admin", "s3cret-pass", []string{"admin"})

	// Wrong password.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, err := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", resp.StatusCode)
	}

	cookie := env.login(t, "admin", "s3cret-pass")
	r, raw := env.do(t, cookie, "GET", "/api/auth/me", nil)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", r.StatusCode)
	}
	var me struct {
		User struct {
			Username string   `json:"username"`
			Roles    []string `json:"roles"`
		} `json:"user"`
	}
	decodeBody(t, raw, &me)
	if me.User.Username != "admin" || len(me.User.Roles) != 1 || me.User.Roles[0] != "admin" {
		t.Fatalf("me = %+v", me)
	}

	r, _ = env.do(t, cookie, "POST", "/api/auth/logout", nil)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", r.StatusCode)
	}
	r, _ = env.do(t, cookie, "GET", "/api/auth/me", nil)
	if r.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d, want 401", r.StatusCode)
	}
}

func TestOrgWeightOverridesAffectMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "admin", "s3cret-pass", []string{"admin"})
	cookie := env.login(t, "admin", "s3cret-pass")

	resp, raw := env.do(t, cookie, "POST", "/api/organizations/", map[string]string{"name": "acme"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("org create status = %d", resp.StatusCode)
	}
	var org struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, raw, &org)
	orgPath := fmt.Sprintf("/api/organizations/%d", org.ID)

	resp, _ = env.do(t, cookie, "PUT", orgPath+"/weights", map[string]any{
		"outcome": "alerted_high", "weight": 1.0,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set weight status = %d", resp.StatusCode)
	}

	resp, raw = env.do(t, cookie, "POST", "/api/engagements/", map[string]any{
		"name":            "weighted",
		"organization_id": org.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("engagement create status = %d", resp.StatusCode)
	}
	var eng struct {
		ID string `json:"id"`
	}
	decodeBody(t, raw, &eng)

	resp, raw = env.do(t, cookie, "POST", "/api/engagements/"+eng.ID+"/techniques", map[string]any{
		"technique_ref": "T1055", "tactic": "defense-evasion", "status": "done",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("technique status = %d", resp.StatusCode)
	}
	var tech struct {
		ID string `json:"id"`
	}
	decodeBody(t, raw, &tech)
	resp, _ = env.do(t, cookie, "POST", "/api/techniques/"+tech.ID+"/outcomes", map[string]string{
		"tool": "edr", "outcome": "alerted_high",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("outcome status = %d", resp.StatusCode)
	}

	resp, raw = env.do(t, cookie, "POST", "/api/engagements/"+eng.ID+"/metrics/recompute", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recompute status = %d", resp.StatusCode)
	}
	var m struct {
		ThreatResilienceScore float64 `json:"threat_resilience_score"`
	}
	decodeBody(t, raw, &m)
	if m.ThreatResilienceScore != 100 {
		t.Fatalf("resilience with override = %v, want 100", m.ThreatResilienceScore)
	}
}

func TestActionItemsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "admin", "s3cret-pass", []string{"admin"})
	cookie := env.login(t, "admin", "s3cret-pass")

	resp, raw := env.do(t, cookie, "POST", "/api/engagements/", map[string]string{"name": "with items"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("engagement status = %d", resp.StatusCode)
	}
	var eng struct {
		ID string `json:"id"`
	}
	decodeBody(t, raw, &eng)

	resp, raw = env.do(t, cookie, "POST", "/api/engagements/"+eng.ID+"/action-items", map[string]any{
		"title":    "enable script block logging",
		"severity": "high",
		"retest":   true,
		"due_date": "2026-09-01",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("item create status = %d body=%s", resp.StatusCode, raw)
	}
	var item struct {
		ID       string `json:"id"`
		Severity string `json:"severity"`
		Status   string `json:"status"`
	}
	decodeBody(t, raw, &item)
	if item.Severity != "high" || item.Status != "open" {
		t.Fatalf("item = %+v", item)
	}

	resp, raw = env.do(t, cookie, "PUT", "/api/action-items/"+item.ID, map[string]string{"status": "done"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("item update status = %d body=%s", resp.StatusCode, raw)
	}
	var updated struct {
		Status string `json:"status"`
	}
	decodeBody(t, raw, &updated)
	if updated.Status != "done" {
		t.Fatalf("updated status = %q", updated.Status)
	}

	resp, _ = env.do(t, cookie, "DELETE", "/api/action-items/"+item.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("item delete status = %d", resp.StatusCode)
	}
}
