package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"sitework/internal/db"
	"sitework/internal/domain"
	"sitework/internal/engine"
	"sitework/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := New(Config{
		Engine:   engine.New(conn),
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return testServer{
		URL:    "http://" + ln.Addr().String() + "/v1",
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (ts testServer) doJSON(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error %s: %v", string(data), err)
	}
	return envelope.Error.Code
}

// register creates an account through the public endpoint and returns its token.
func (ts testServer) register(t *testing.T, email string) TokenResponse {
	t.Helper()
	status, data := ts.doJSON(t, http.MethodPost, "/auth/register", "", RegisterRequest{Email: email, Password: "secret"})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", email, status, data)
	}
	return decode[TokenResponse](t, data)
}

func TestAuthBootstrapAndLogin(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.doJSON(t, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("health: status %d", status)
	}
	status, data := ts.doJSON(t, http.MethodGet, "/tasks", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: status %d: %s", status, data)
	}

	first := ts.register(t, "boss@example.com")
	if first.User.Role != "manager" {
		t.Fatalf("first account role = %s", first.User.Role)
	}
	second := ts.register(t, "crew@example.com")
	if second.User.Role != "worker" {
		t.Fatalf("second account role = %s", second.User.Role)
	}

	status, data = ts.doJSON(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "boss@example.com", Password: "secret"})
	if status != http.StatusOK {
		t.Fatalf("login: status %d: %s", status, data)
	}
	login := decode[TokenResponse](t, data)
	status, data = ts.doJSON(t, http.MethodGet, "/me", login.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("me: status %d: %s", status, data)
	}
	me := decode[domain.User](t, data)
	if me.ID != first.User.ID {
		t.Fatalf("me returned %s, want %s", me.ID, first.User.ID)
	}

	status, data = ts.doJSON(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: "boss@example.com", Password: "nope"})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d: %s", status, data)
	}
	status, _ = ts.doJSON(t, http.MethodPost, "/auth/register", "", RegisterRequest{Email: "boss@example.com", Password: "again"})
	if status != http.StatusConflict {
		t.Fatalf("duplicate register: status %d", status)
	}
}

func TestRoleEnforcement(t *testing.T) {
	ts := newTestServer(t)
	manager := ts.register(t, "boss@example.com")
	worker := ts.register(t, "crew@example.com")

	status, data := ts.doJSON(t, http.MethodPost, "/projects", worker.Token, CreateProjectRequest{Name: "Depot"})
	if status != http.StatusForbidden {
		t.Fatalf("worker create project: status %d: %s", status, data)
	}
	if code := errorCode(t, data); code != "role_forbidden" {
		t.Fatalf("worker create project code = %s", code)
	}

	status, data = ts.doJSON(t, http.MethodPost, "/projects", manager.Token, CreateProjectRequest{Name: "Depot"})
	if status != http.StatusCreated {
		t.Fatalf("manager create project: status %d: %s", status, data)
	}
	project := decode[domain.Project](t, data)

	status, data = ts.doJSON(t, http.MethodPost, "/tasks", manager.Token, CreateTaskRequest{ProjectID: project.ID, Title: "Wire panel"})
	if status != http.StatusCreated {
		t.Fatalf("create task: status %d: %s", status, data)
	}
	task := decode[domain.Task](t, data)

	// Unassigned tasks read as missing for workers.
	status, data = ts.doJSON(t, http.MethodGet, "/tasks/"+task.ID, worker.Token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("worker get foreign task: status %d: %s", status, data)
	}

	status, data = ts.doJSON(t, http.MethodPatch, "/tasks/"+task.ID, manager.Token, UpdateTaskRequest{AssigneeID: &worker.User.ID})
	if status != http.StatusOK {
		t.Fatalf("assign task: status %d: %s", status, data)
	}
	status, data = ts.doJSON(t, http.MethodGet, "/tasks/"+task.ID, worker.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("worker get assigned task: status %d: %s", status, data)
	}

	done := "done"
	status, data = ts.doJSON(t, http.MethodPatch, "/tasks/"+task.ID, worker.Token, UpdateTaskRequest{Status: &done})
	if status != http.StatusOK {
		t.Fatalf("worker update assigned task: status %d: %s", status, data)
	}
	if got := decode[domain.Task](t, data); got.Status != "done" {
		t.Fatalf("status after update = %s", got.Status)
	}

	status, _ = ts.doJSON(t, http.MethodGet, "/users", worker.Token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("worker list users: status %d", status)
	}
	status, _ = ts.doJSON(t, http.MethodGet, "/events", worker.Token, nil)
	if status != http.StatusForbidden {
		t.Fatalf("worker audit log: status %d", status)
	}
	status, data = ts.doJSON(t, http.MethodGet, "/events", manager.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("manager audit log: status %d: %s", status, data)
	}
	if events := decode[[]domain.Event](t, data); len(events) == 0 {
		t.Fatal("audit log is empty")
	}
}

func TestPurchaseRequestFlow(t *testing.T) {
	ts := newTestServer(t)
	manager := ts.register(t, "boss@example.com")
	worker := ts.register(t, "crew@example.com")

	_, data := ts.doJSON(t, http.MethodPost, "/projects", manager.Token, CreateProjectRequest{Name: "Depot"})
	project := decode[domain.Project](t, data)
	_, data = ts.doJSON(t, http.MethodPost, "/tasks", manager.Token, CreateTaskRequest{
		ProjectID:  project.ID,
		Title:      "Wire panel",
		AssigneeID: &worker.User.ID,
	})
	task := decode[domain.Task](t, data)

	status, data := ts.doJSON(t, http.MethodPost, "/purchase-requests", worker.Token, CreatePurchaseRequest{
		TaskID: &task.ID,
		Items:  []PurchaseItemRequest{{Name: "Cable", Quantity: 10, Unit: "m"}},
	})
	if status != http.StatusCreated {
		t.Fatalf("create purchase request: status %d: %s", status, data)
	}
	pr := decode[PurchaseRequestResponse](t, data)
	if pr.Status != "pending" || len(pr.Items) != 1 {
		t.Fatalf("created request = %s with %d items", pr.Status, len(pr.Items))
	}

	// Both references at once is malformed.
	status, data = ts.doJSON(t, http.MethodPost, "/purchase-requests", worker.Token, CreatePurchaseRequest{
		TaskID:         &task.ID,
		InstallationID: &task.ID,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("double reference: status %d: %s", status, data)
	}
	if code := errorCode(t, data); code != "malformed_reference" {
		t.Fatalf("double reference code = %s", code)
	}

	// Workers cannot decide.
	status, data = ts.doJSON(t, http.MethodPost, "/purchase-requests/"+pr.ID+"/status", worker.Token, SetPurchaseStatusRequest{Status: "approved"})
	if status != http.StatusForbidden {
		t.Fatalf("worker decide: status %d: %s", status, data)
	}

	status, data = ts.doJSON(t, http.MethodPost, "/purchase-requests/"+pr.ID+"/status", manager.Token, SetPurchaseStatusRequest{Status: "approved"})
	if status != http.StatusOK {
		t.Fatalf("approve: status %d: %s", status, data)
	}
	decided := decode[domain.PurchaseRequest](t, data)
	if decided.Status != "approved" {
		t.Fatalf("decided status = %s", decided.Status)
	}

	// A decision is one-shot.
	status, data = ts.doJSON(t, http.MethodPost, "/purchase-requests/"+pr.ID+"/status", manager.Token, SetPurchaseStatusRequest{Status: "rejected"})
	if status != http.StatusConflict {
		t.Fatalf("re-decide: status %d: %s", status, data)
	}
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("re-decide code = %s", code)
	}

	// And the decided request is frozen.
	comment := "more cable"
	status, data = ts.doJSON(t, http.MethodPatch, "/purchase-requests/"+pr.ID, worker.Token, UpdatePurchaseRequest{Comment: &comment})
	if status != http.StatusForbidden {
		t.Fatalf("update decided request: status %d: %s", status, data)
	}
	if code := errorCode(t, data); code != "invalid_state" {
		t.Fatalf("update decided request code = %s", code)
	}
	status, data = ts.doJSON(t, http.MethodPost, "/purchase-requests/"+pr.ID+"/items", manager.Token, PurchaseItemRequest{Name: "Fuse", Quantity: 1, Unit: "pcs"})
	if status != http.StatusForbidden {
		t.Fatalf("add item to decided request: status %d: %s", status, data)
	}
}

func TestPurchaseVisibilityBetweenWorkers(t *testing.T) {
	ts := newTestServer(t)
	manager := ts.register(t, "boss@example.com")
	worker := ts.register(t, "crew@example.com")
	other := ts.register(t, "other@example.com")

	_, data := ts.doJSON(t, http.MethodPost, "/projects", manager.Token, CreateProjectRequest{Name: "Depot"})
	project := decode[domain.Project](t, data)
	_, data = ts.doJSON(t, http.MethodPost, "/tasks", manager.Token, CreateTaskRequest{
		ProjectID:  project.ID,
		Title:      "Wire panel",
		AssigneeID: &worker.User.ID,
	})
	task := decode[domain.Task](t, data)

	status, data := ts.doJSON(t, http.MethodPost, "/purchase-requests", worker.Token, CreatePurchaseRequest{TaskID: &task.ID})
	if status != http.StatusCreated {
		t.Fatalf("create: status %d: %s", status, data)
	}
	pr := decode[PurchaseRequestResponse](t, data)

	// Another worker cannot raise a request against someone else's task.
	status, data = ts.doJSON(t, http.MethodPost, "/purchase-requests", other.Token, CreatePurchaseRequest{TaskID: &task.ID})
	if status != http.StatusForbidden {
		t.Fatalf("foreign assignment create: status %d: %s", status, data)
	}
	if code := errorCode(t, data); code != "not_owner" {
		t.Fatalf("foreign assignment code = %s", code)
	}

	// And cannot see the creator's request.
	status, _ = ts.doJSON(t, http.MethodGet, "/purchase-requests/"+pr.ID, other.Token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("foreign request get: status %d", status)
	}
	status, data = ts.doJSON(t, http.MethodGet, "/purchase-requests", other.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("foreign request list: status %d", status)
	}
	if list := decode[[]domain.PurchaseRequest](t, data); len(list) != 0 {
		t.Fatalf("foreign worker sees %d requests", len(list))
	}
	status, data = ts.doJSON(t, http.MethodGet, "/purchase-requests", manager.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("manager list: status %d", status)
	}
	if list := decode[[]domain.PurchaseRequest](t, data); len(list) != 1 {
		t.Fatalf("manager sees %d requests", len(list))
	}
}
