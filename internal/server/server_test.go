package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"teamline/internal/analytics"
	"teamline/internal/cicd"
	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.BcryptCost = 4
	cfg.CI.GitHubSecret = "gh-secret"
	cfg.CI.GitLabToken = "gl-token"
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:    e,
		CICD:      cicd.New(conn),
		Analytics: analytics.New(e.Repo),
		BasePath:  "/v1",
		Auth: AuthConfig{
			JWTSecret:       cfg.Auth.JWTSecret,
			TokenTTLMinutes: cfg.Auth.TokenTTLMinutes,
			RefreshTTLHours: cfg.Auth.RefreshTTLHours,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// registerAndLogin creates a user through the API and returns its auth
// session.
func registerAndLogin(t *testing.T, srv *testServer, email, name, role string) AuthResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/register", map[string]any{
		"email":    email,
		"name":     name,
		"role":     role,
		"password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    email,
		"password": "hunter2hunter2",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, res.StatusCode, string(data))
	}
	var session AuthResponse
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("login returned incomplete token pair: %s", string(data))
	}
	return session
}

func bearer(session AuthResponse) map[string]string {
	return map[string]string{"Authorization": "Bearer " + session.Token}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	session := registerAndLogin(t, srv, "pm@example.com", "Pat", domain.RoleProductManager)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/me", nil, bearer(session))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.Email != "pm@example.com" || me.Role != domain.RoleProductManager {
		t.Fatalf("unexpected me payload: %+v", me)
	}

	// A refresh token must not pass as an access token.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/me", nil, map[string]string{
		"Authorization": "Bearer " + session.RefreshToken,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh token accepted as access token: %d", res.StatusCode)
	}
}

func TestRefreshRotatesTokenPair(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	session := registerAndLogin(t, srv, "dev@example.com", "Dana", domain.RoleBackendDeveloper)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", map[string]any{
		"refresh_token": session.RefreshToken,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d %s", res.StatusCode, string(data))
	}
	var next AuthResponse
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("unmarshal refresh response: %v", err)
	}
	if next.Token == "" || next.User.ID != session.User.ID {
		t.Fatalf("unexpected refresh payload: %s", string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/refresh", map[string]any{
		"refresh_token": session.Token,
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("access token accepted as refresh token: %d", res.StatusCode)
	}
}

func TestTaskHandoffFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	pm := registerAndLogin(t, srv, "pm@example.com", "Pat", domain.RoleProductManager)
	qa := registerAndLogin(t, srv, "qa@example.com", "Quinn", domain.RoleQAEngineer)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"key":  "WEB",
		"name": "Webshop",
	}, bearer(pm))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
		"title":       "Checkout breaks on empty cart",
		"priority":    "high",
		"assignee_id": pm.User.ID,
	}, bearer(pm))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.Key != "WEB-1" {
		t.Fatalf("expected key WEB-1, got %s", task.Key)
	}
	if task.Status != domain.TaskBacklog {
		t.Fatalf("assigned task should still start in backlog, got %s", task.Status)
	}
	if task.CurrentRole != nil {
		t.Fatalf("current_role should be unset before the first handoff: %+v", task)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks/"+task.ID+"/handoff", map[string]any{
		"to_role":    domain.RoleQAEngineer,
		"to_user_id": qa.User.ID,
		"notes":      "please verify on staging",
	}, bearer(pm))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("handoff: %d %s", res.StatusCode, string(data))
	}
	var after TaskResponse
	if err := json.Unmarshal(data, &after); err != nil {
		t.Fatalf("unmarshal handoff result: %v", err)
	}
	if after.Status != domain.TaskInQA {
		t.Fatalf("handoff to qa should move task to in_qa, got %s", after.Status)
	}
	if after.AssigneeID == nil || *after.AssigneeID != qa.User.ID {
		t.Fatalf("task not reassigned: %+v", after)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/notifications", nil, bearer(qa))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list notifications: %d %s", res.StatusCode, string(data))
	}
	var page paginatedNotifications
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	var handoffs int
	for _, n := range page.Items {
		if n.Type == domain.NotifyTaskHandoff {
			handoffs++
		}
	}
	if handoffs != 1 {
		t.Fatalf("expected exactly one handoff notification, got %d in %s", handoffs, string(data))
	}
}

func TestListUsersActiveFilter(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	admin := registerAndLogin(t, srv, "admin@example.com", "Ada", domain.RoleAdmin)
	dev := registerAndLogin(t, srv, "dev@example.com", "Dana", domain.RoleBackendDeveloper)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/users/"+dev.User.ID, map[string]any{
		"active": false,
	}, bearer(admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deactivate user: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/users?active=true", nil, bearer(admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list active users: %d %s", res.StatusCode, string(data))
	}
	var users []UserResponse
	if err := json.Unmarshal(data, &users); err != nil {
		t.Fatalf("unmarshal users: %v", err)
	}
	for _, u := range users {
		if u.ID == dev.User.ID {
			t.Fatalf("deactivated user listed as active: %s", string(data))
		}
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/users?active=false", nil, bearer(admin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list inactive users: %d %s", res.StatusCode, string(data))
	}
	users = nil
	if err := json.Unmarshal(data, &users); err != nil {
		t.Fatalf("unmarshal users: %v", err)
	}
	if len(users) != 1 || users[0].ID != dev.User.ID {
		t.Fatalf("expected only the deactivated user, got %s", string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/users?active=sometimes", nil, bearer(admin))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad active value accepted: %d", res.StatusCode)
	}
}

func TestTaskLookupByKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	pm := registerAndLogin(t, srv, "pm@example.com", "Pat", domain.RoleProductManager)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"key":  "API",
		"name": "Platform API",
	}, bearer(pm))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	_ = json.Unmarshal(data, &project)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/projects/"+project.ID+"/tasks", map[string]any{
		"title": "Rate limit login attempts",
	}, bearer(pm))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects/"+project.ID+"/tasks/api-1", nil, bearer(pm))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task by key: %d %s", res.StatusCode, string(data))
	}
	var fetched TaskResponse
	if err := json.Unmarshal(data, &fetched); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if fetched.Key != "API-1" {
		t.Fatalf("expected API-1, got %s", fetched.Key)
	}
}

func TestGitHubWebhookSignature(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	payload := []byte(`{"ref":"refs/heads/main","repository":{"html_url":"https://example.com/unknown"},"commits":[]}`)

	post := func(signature string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/ci/github", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		if signature != "" {
			req.Header.Set("X-Hub-Signature-256", signature)
		}
		res, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		defer res.Body.Close()
		io.Copy(io.Discard, res.Body)
		return res.StatusCode
	}

	if code := post(""); code != http.StatusUnauthorized {
		t.Fatalf("missing signature accepted: %d", code)
	}
	if code := post("sha256=deadbeef"); code != http.StatusUnauthorized {
		t.Fatalf("bad signature accepted: %d", code)
	}

	mac := hmac.New(sha256.New, []byte("gh-secret"))
	mac.Write(payload)
	// Pushes for repositories no project tracks are acknowledged and dropped.
	if code := post("sha256=" + hex.EncodeToString(mac.Sum(nil))); code != http.StatusAccepted {
		t.Fatalf("valid signature rejected: %d", code)
	}
}

func TestGitLabWebhookToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	payload := map[string]any{
		"ref":     "refs/heads/main",
		"project": map[string]any{"web_url": "https://gitlab.example.com/unknown"},
		"commits": []any{},
	}

	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ci/gitlab", payload, map[string]string{
		"X-Gitlab-Event": "Push Hook",
		"X-Gitlab-Token": "wrong",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token accepted: %d", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/ci/gitlab", payload, map[string]string{
		"X-Gitlab-Event": "Push Hook",
		"X-Gitlab-Token": "gl-token",
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("valid token rejected: %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	pm := registerAndLogin(t, srv, "pm@example.com", "Pat", domain.RoleProductManager)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/api-keys", map[string]any{
		"name": "ci bot",
	}, bearer(pm))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key: %d %s", res.StatusCode, string(data))
	}
	var created CreatedAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal api key: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("plaintext key missing from create response: %s", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
	var me UserResponse
	_ = json.Unmarshal(data, &me)
	if me.ID != pm.User.ID {
		t.Fatalf("api key resolved to wrong user: %+v", me)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/auth/me", nil, map[string]string{
		"X-Api-Key": "tlk_bogus",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus api key accepted: %d", res.StatusCode)
	}
}
