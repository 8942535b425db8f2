package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitework/internal/db"
	"sitework/internal/domain"
	"sitework/internal/engine"
	"sitework/internal/migrate"
	"sitework/internal/policy"
	"sitework/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Manager policy.Actor
	Worker  policy.Actor
	Other   policy.Actor
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	// First registration becomes the manager.
	mgr, err := eng.RegisterUser(ctx, engine.RegisterOptions{Email: "boss@example.com", Name: "Boss", Password: "secret"})
	if err != nil {
		t.Fatalf("register manager: %v", err)
	}
	worker, err := eng.RegisterUser(ctx, engine.RegisterOptions{Email: "crew@example.com", Name: "Crew", Password: "secret"})
	if err != nil {
		t.Fatalf("register worker: %v", err)
	}
	other, err := eng.RegisterUser(ctx, engine.RegisterOptions{Email: "other@example.com", Name: "Other", Password: "secret"})
	if err != nil {
		t.Fatalf("register other worker: %v", err)
	}

	env := testEnv{
		Engine:  eng,
		Ctx:     ctx,
		Manager: policy.Actor{UserID: mgr.ID, Role: mgr.Role},
		Worker:  policy.Actor{UserID: worker.ID, Role: worker.Role},
		Other:   policy.Actor{UserID: other.ID, Role: other.Role},
	}
	env.Project, err = eng.CreateProject(ctx, env.Manager, engine.ProjectCreateOptions{Name: "Depot refit"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return env
}

func (env testEnv) mustCreateTask(t *testing.T, assignee *string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, env.Manager, engine.TaskCreateOptions{
		ProjectID:  env.Project.ID,
		Title:      "Wire panel",
		AssigneeID: assignee,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func denialReason(t *testing.T, err error) policy.Reason {
	t.Helper()
	var d policy.Denial
	if !errors.As(err, &d) {
		t.Fatalf("expected policy denial, got %v", err)
	}
	return d.Reason
}

func TestFirstUserBecomesManager(t *testing.T) {
	env := newTestEnv(t)
	if env.Manager.Role != policy.RoleManager {
		t.Fatalf("first account role = %s", env.Manager.Role)
	}
	if env.Worker.Role != policy.RoleWorker {
		t.Fatalf("second account role = %s", env.Worker.Role)
	}
	_, err := env.Engine.Login(env.Ctx, "boss@example.com", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = env.Engine.Login(env.Ctx, "boss@example.com", "wrong")
	if !errors.Is(err, engine.ErrInvalidCredentials) {
		t.Fatalf("bad password: %v", err)
	}
}

func TestWorkerTaskVisibilityAndUpdates(t *testing.T) {
	env := newTestEnv(t)
	mine := env.mustCreateTask(t, &env.Worker.UserID)
	foreign := env.mustCreateTask(t, &env.Other.UserID)
	unassigned := env.mustCreateTask(t, nil)

	tasks, err := env.Engine.ListTasks(env.Ctx, env.Worker, repo.TaskFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != mine.ID {
		t.Fatalf("worker sees %d tasks, want only the assigned one", len(tasks))
	}
	all, err := env.Engine.ListTasks(env.Ctx, env.Manager, repo.TaskFilters{})
	if err != nil {
		t.Fatalf("manager list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("manager sees %d tasks, want 3", len(all))
	}

	// A foreign task reads as missing, not forbidden.
	if _, err := env.Engine.GetTask(env.Ctx, env.Worker, foreign.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign get: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, env.Worker, unassigned.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unassigned get: %v", err)
	}

	status := "in_progress"
	updated, err := env.Engine.UpdateTask(env.Ctx, env.Worker, mine.ID, engine.TaskUpdateOptions{Status: &status})
	if err != nil || updated.Status != "in_progress" {
		t.Fatalf("update own task: %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, env.Other, mine.ID, engine.TaskUpdateOptions{Status: &status})
	if got := denialReason(t, err); got != policy.ReasonNotOwner {
		t.Fatalf("foreign update reason = %s", got)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Worker, mine.ID); denialReason(t, err) != policy.ReasonRoleForbidden {
		t.Fatalf("worker delete should be role_forbidden")
	}
	_, err = env.Engine.CreateTask(env.Ctx, env.Worker, engine.TaskCreateOptions{ProjectID: env.Project.ID, Title: "nope"})
	if got := denialReason(t, err); got != policy.ReasonRoleForbidden {
		t.Fatalf("worker create reason = %s", got)
	}
}

func TestWorkerProjectVisibilityFollowsAssignments(t *testing.T) {
	env := newTestEnv(t)
	projects, err := env.Engine.ListProjects(env.Ctx, env.Worker)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("worker without assignments sees %d projects", len(projects))
	}
	env.mustCreateTask(t, &env.Worker.UserID)
	projects, err = env.Engine.ListProjects(env.Ctx, env.Worker)
	if err != nil {
		t.Fatalf("list after assignment: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != env.Project.ID {
		t.Fatalf("worker with assignment sees %d projects", len(projects))
	}
	if _, err := env.Engine.GetProject(env.Ctx, env.Other, env.Project.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unassigned worker project get: %v", err)
	}
}

func TestPurchaseCreateRequiresOwnAssignment(t *testing.T) {
	env := newTestEnv(t)
	mine := env.mustCreateTask(t, &env.Worker.UserID)
	foreign := env.mustCreateTask(t, &env.Other.UserID)

	pr, items, err := env.Engine.CreatePurchaseRequest(env.Ctx, env.Worker, engine.PurchaseCreateOptions{
		TaskID: &mine.ID,
		Items:  []engine.ItemInput{{Name: "Cable", Quantity: 10, Unit: "m"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pr.Status != policy.StatusPending {
		t.Fatalf("new request status = %s, want pending", pr.Status)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}

	_, _, err = env.Engine.CreatePurchaseRequest(env.Ctx, env.Worker, engine.PurchaseCreateOptions{TaskID: &foreign.ID})
	if got := denialReason(t, err); got != policy.ReasonNotOwner {
		t.Fatalf("foreign assignment reason = %s", got)
	}

	// Managers may raise requests against any assignment.
	if _, _, err := env.Engine.CreatePurchaseRequest(env.Ctx, env.Manager, engine.PurchaseCreateOptions{TaskID: &foreign.ID}); err != nil {
		t.Fatalf("manager create: %v", err)
	}

	// Exactly one reference is required.
	ins, err := env.Engine.CreateInstallation(env.Ctx, env.Manager, engine.InstallationCreateOptions{
		TaskCreateOptions: engine.TaskCreateOptions{ProjectID: env.Project.ID, Title: "Mount unit", AssigneeID: &env.Worker.UserID},
	})
	if err != nil {
		t.Fatalf("create installation: %v", err)
	}
	_, _, err = env.Engine.CreatePurchaseRequest(env.Ctx, env.Worker, engine.PurchaseCreateOptions{TaskID: &mine.ID, InstallationID: &ins.ID})
	if got := denialReason(t, err); got != policy.ReasonMalformedReference {
		t.Fatalf("double reference reason = %s", got)
	}
	_, _, err = env.Engine.CreatePurchaseRequest(env.Ctx, env.Worker, engine.PurchaseCreateOptions{})
	if got := denialReason(t, err); got != policy.ReasonMalformedReference {
		t.Fatalf("no reference reason = %s", got)
	}
}

func TestPurchaseCreateIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, &env.Worker.UserID)
	_, _, err := env.Engine.CreatePurchaseRequest(env.Ctx, env.Worker, engine.PurchaseCreateOptions{
		TaskID: &task.ID,
		Items: []engine.ItemInput{
			{Name: "Cable", Quantity: 10, Unit: "m"},
			{Name: "Bad", Quantity: 0, Unit: "pcs"},
		},
	})
	if got := denialReason(t, err); got != policy.ReasonInvalidQuantity {
		t.Fatalf("invalid item reason = %s", got)
	}
	requests, err := env.Engine.ListPurchaseRequests(env.Ctx, env.Manager, repo.PurchaseFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(requests) != 0 {
		t.Fatalf("orphaned request left behind: %d", len(requests))
	}
}

func TestPurchaseDecisionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreateTask(t, &env.Worker.UserID)
	pr, _, err := env.Engine.CreatePurchaseRequest(env.Ctx, env.Worker, engine.PurchaseCreateOptions{
		TaskID: &task.ID,
		Items:  []engine.ItemInput{{Name: "Breaker", Quantity: 2, Unit: "pcs"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Workers cannot decide.
	_, err = env.Engine.SetPurchaseStatus(env.Ctx, env.Worker, pr.ID, policy.StatusApproved)
	if got := denialReason(t, err); got != policy.ReasonRoleForbidden {
		t.Fatalf("worker decide reason = %s", got)
	}

	decided, err := env.Engine.SetPurchaseStatus(env.Ctx, env.Manager, pr.ID, policy.StatusApproved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.Status != policy.StatusApproved {
		t.Fatalf("status = %s", decided.Status)
	}
	if decided.ApprovedBy == nil || *decided.ApprovedBy != env.Manager.UserID {
		t.Fatalf("approved_by = %v", decided.ApprovedBy)
	}

	// Decisions are one-shot.
	_, err = env.Engine.SetPurchaseStatus(env.Ctx, env.Manager, pr.ID, policy.StatusRejected)
	if got := denialReason(t, err); got != policy.ReasonInvalidTransition {
		t.Fatalf("re-decide reason = %s", got)
	}

	// A decided request is frozen for everyone, creator and manager alike.
	comment := "more"
	_, err = env.Engine.UpdatePurchaseRequest(env.Ctx, env.Worker, pr.ID, engine.PurchaseUpdateOptions{Comment: &comment})
	if got := denialReason(t, err); got != policy.ReasonInvalidState {
		t.Fatalf("creator update after decision reason = %s", got)
	}
	_, err = env.Engine.AddPurchaseItem(env.Ctx, env.Manager, pr.ID, engine.ItemInput{Name: "Fuse", Quantity: 1, Unit: "pcs"})
	if got := denialReason(t, err); got != policy.ReasonInvalidState {
		t.Fatalf("manager add item after decision reason = %s", got)
	}
	err = env.Engine.DeletePurchaseRequest(env.Ctx, env.Worker, pr.ID)
	if got := denialReason(t, err); got != policy.ReasonInvalidState {
		t.Fatalf("delete after decision reason = %s", got)
	}
}

func TestPurchaseVisibilityAndItemOwnership(t *testing.T) {
	env := newTestEnv(t)
	mine := env.mustCreateTask(t, &env.Worker.UserID)
	foreignTask := env.mustCreateTask(t, &env.Other.UserID)

	pr, items, err := env.Engine.CreatePurchaseRequest(env.Ctx, env.Worker, engine.PurchaseCreateOptions{
		TaskID: &mine.ID,
		Items:  []engine.ItemInput{{Name: "Cable", Quantity: 5, Unit: "m"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	foreignPR, _, err := env.Engine.CreatePurchaseRequest(env.Ctx, env.Other, engine.PurchaseCreateOptions{TaskID: &foreignTask.ID})
	if err != nil {
		t.Fatalf("create foreign: %v", err)
	}

	visible, err := env.Engine.ListPurchaseRequests(env.Ctx, env.Worker, repo.PurchaseFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != pr.ID {
		t.Fatalf("worker sees %d requests", len(visible))
	}
	if _, _, err := env.Engine.GetPurchaseRequest(env.Ctx, env.Worker, foreignPR.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign request get: %v", err)
	}

	// Item mutations follow the parent request's owner and state.
	qty := 7
	updated, err := env.Engine.UpdatePurchaseItem(env.Ctx, env.Worker, items[0].ID, engine.ItemUpdateOptions{Quantity: &qty})
	if err != nil || updated.Quantity != 7 {
		t.Fatalf("update own item: %v", err)
	}
	if _, err := env.Engine.UpdatePurchaseItem(env.Ctx, env.Other, items[0].ID, engine.ItemUpdateOptions{Quantity: &qty}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign item update: %v", err)
	}
	if err := env.Engine.DeletePurchaseItem(env.Ctx, env.Worker, items[0].ID); err != nil {
		t.Fatalf("delete own item: %v", err)
	}
}

func TestAuditLogIsManagerOnly(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateTask(t, &env.Worker.UserID)
	events, err := env.Engine.ListEvents(env.Ctx, env.Manager, 10, repo.EventFilters{})
	if err != nil {
		t.Fatalf("manager tail: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected events recorded")
	}
	_, err = env.Engine.ListEvents(env.Ctx, env.Worker, 10, repo.EventFilters{})
	if got := denialReason(t, err); got != policy.ReasonRoleForbidden {
		t.Fatalf("worker tail reason = %s", got)
	}
}
