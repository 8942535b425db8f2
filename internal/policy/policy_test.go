package policy

import (
	"errors"
	"testing"
)

var (
	manager = Actor{UserID: "u-mgr", Role: RoleManager}
	worker  = Actor{UserID: "u-5", Role: RoleWorker}
	worker2 = Actor{UserID: "u-6", Role: RoleWorker}
)

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var d Denial
	if !errors.As(err, &d) {
		t.Fatalf("expected Denial, got %v", err)
	}
	return d.Reason
}

func TestVisibilityScopes(t *testing.T) {
	for _, res := range []Resource{ResourceProject, ResourceTask, ResourceInstallation, ResourcePurchaseRequest} {
		if !Visibility(manager, res).Unrestricted() {
			t.Fatalf("manager scope for %s should be unrestricted", res)
		}
	}
	if got := Visibility(worker, ResourceTask).AssigneeID; got != worker.UserID {
		t.Fatalf("worker task scope = %q, want %q", got, worker.UserID)
	}
	if got := Visibility(worker, ResourceInstallation).AssigneeID; got != worker.UserID {
		t.Fatalf("worker installation scope = %q, want %q", got, worker.UserID)
	}
	if got := Visibility(worker, ResourcePurchaseRequest).CreatedBy; got != worker.UserID {
		t.Fatalf("worker purchase scope = %q, want %q", got, worker.UserID)
	}
	if got := Visibility(worker, ResourceProject).MemberID; got != worker.UserID {
		t.Fatalf("worker project scope = %q, want %q", got, worker.UserID)
	}
}

func TestVisibilityIdempotent(t *testing.T) {
	// The scope is a value: deriving it twice yields the same predicate.
	first := Visibility(worker, ResourceTask)
	second := Visibility(worker, ResourceTask)
	if first != second {
		t.Fatalf("visibility not stable: %+v vs %+v", first, second)
	}
}

func TestCanMutateManagedResources(t *testing.T) {
	cases := []struct {
		name string
		a    Actor
		res  Resource
		op   Operation
		row  Row
		want Reason // "" means allow
	}{
		{"manager creates project", manager, ResourceProject, OpCreate, Row{}, ""},
		{"manager deletes task", manager, ResourceTask, OpDelete, Row{AssigneeID: "u-6"}, ""},
		{"manager updates foreign installation", manager, ResourceInstallation, OpUpdate, Row{AssigneeID: "u-6"}, ""},
		{"worker creates project", worker, ResourceProject, OpCreate, Row{}, ReasonRoleForbidden},
		{"worker creates task", worker, ResourceTask, OpCreate, Row{}, ReasonRoleForbidden},
		{"worker creates installation", worker, ResourceInstallation, OpCreate, Row{}, ReasonRoleForbidden},
		{"worker updates own task", worker, ResourceTask, OpUpdate, Row{AssigneeID: "u-5"}, ""},
		{"worker updates foreign task", worker2, ResourceTask, OpUpdate, Row{AssigneeID: "u-5"}, ReasonNotOwner},
		{"worker updates own installation", worker, ResourceInstallation, OpUpdate, Row{AssigneeID: "u-5"}, ""},
		{"worker deletes own task", worker, ResourceTask, OpDelete, Row{AssigneeID: "u-5"}, ReasonRoleForbidden},
		{"worker deletes project", worker, ResourceProject, OpDelete, Row{}, ReasonRoleForbidden},
		{"worker updates project", worker, ResourceProject, OpUpdate, Row{}, ReasonRoleForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CanMutate(tc.a, tc.res, tc.op, tc.row)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			if got := reasonOf(t, err); got != tc.want {
				t.Fatalf("reason = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCanMutatePurchaseRequests(t *testing.T) {
	own := Row{CreatedBy: "u-5", Status: StatusPending}
	foreign := Row{CreatedBy: "u-6", Status: StatusPending}
	draft := Row{CreatedBy: "u-5", Status: StatusDraft}

	for _, op := range []Operation{OpUpdate, OpDelete, OpAddItem, OpUpdateItem, OpDeleteItem} {
		if err := CanMutate(worker, ResourcePurchaseRequest, op, own); err != nil {
			t.Fatalf("%s on own pending request: %v", op, err)
		}
		if err := CanMutate(worker, ResourcePurchaseRequest, op, draft); err != nil {
			t.Fatalf("%s on own draft request: %v", op, err)
		}
		if got := reasonOf(t, CanMutate(worker, ResourcePurchaseRequest, op, foreign)); got != ReasonNotOwner {
			t.Fatalf("%s on foreign request: reason = %s, want not_owner", op, got)
		}
		if err := CanMutate(manager, ResourcePurchaseRequest, op, foreign); err != nil {
			t.Fatalf("manager %s on pending request: %v", op, err)
		}
	}
}

func TestTerminalRequestsFrozenForEveryRole(t *testing.T) {
	for _, status := range []string{StatusApproved, StatusRejected} {
		row := Row{CreatedBy: "u-5", Status: status}
		for _, a := range []Actor{manager, worker} {
			for _, op := range []Operation{OpUpdate, OpDelete, OpAddItem, OpUpdateItem, OpDeleteItem} {
				err := CanMutate(a, ResourcePurchaseRequest, op, row)
				if got := reasonOf(t, err); got != ReasonInvalidState {
					t.Fatalf("%s %s on %s request: reason = %s, want invalid_state", a.Role, op, status, got)
				}
			}
		}
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		name    string
		a       Actor
		current string
		target  string
		want    Reason
	}{
		{"manager approves pending", manager, StatusPending, StatusApproved, ""},
		{"manager rejects pending", manager, StatusPending, StatusRejected, ""},
		{"worker approves pending", worker, StatusPending, StatusApproved, ReasonRoleForbidden},
		{"manager approves draft", manager, StatusDraft, StatusApproved, ReasonInvalidTransition},
		{"manager re-approves approved", manager, StatusApproved, StatusApproved, ReasonInvalidTransition},
		{"manager re-rejects rejected", manager, StatusRejected, StatusRejected, ReasonInvalidTransition},
		{"manager approves rejected", manager, StatusRejected, StatusApproved, ReasonInvalidTransition},
		{"manager sets bogus status", manager, StatusPending, "archived", ReasonInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Transition(tc.a, tc.current, tc.target)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			if got := reasonOf(t, err); got != tc.want {
				t.Fatalf("reason = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCanCreatePurchase(t *testing.T) {
	assignee := "u-5"
	other := "u-6"
	if err := CanCreatePurchase(worker, &assignee); err != nil {
		t.Fatalf("worker on own assignment: %v", err)
	}
	if got := reasonOf(t, CanCreatePurchase(worker, &other)); got != ReasonNotOwner {
		t.Fatalf("worker on foreign assignment: reason = %s", got)
	}
	if got := reasonOf(t, CanCreatePurchase(worker, nil)); got != ReasonNotOwner {
		t.Fatalf("worker on unassigned row: reason = %s", got)
	}
	if err := CanCreatePurchase(manager, &other); err != nil {
		t.Fatalf("manager bypass: %v", err)
	}
	if err := CanCreatePurchase(manager, nil); err != nil {
		t.Fatalf("manager on unassigned row: %v", err)
	}
}

func TestValidatePurchaseReference(t *testing.T) {
	taskID := "t-1"
	installationID := "i-1"
	empty := ""
	cases := []struct {
		name         string
		task, instal *string
		wantErr      bool
	}{
		{"task only", &taskID, nil, false},
		{"installation only", nil, &installationID, false},
		{"both", &taskID, &installationID, true},
		{"neither", nil, nil, true},
		{"both empty strings", &empty, &empty, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePurchaseReference(tc.task, tc.instal)
			if tc.wantErr {
				if got := reasonOf(t, err); got != ReasonMalformedReference {
					t.Fatalf("reason = %s, want malformed_reference", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
		})
	}
}

func TestValidateItem(t *testing.T) {
	if err := ValidateItem("Cable", 3, "m"); err != nil {
		t.Fatalf("valid item rejected: %v", err)
	}
	if got := reasonOf(t, ValidateItem("", 3, "m")); got != ReasonMissingField {
		t.Fatalf("missing name: reason = %s", got)
	}
	if got := reasonOf(t, ValidateItem("Cable", 3, "")); got != ReasonMissingField {
		t.Fatalf("missing unit: reason = %s", got)
	}
	if got := reasonOf(t, ValidateItem("Cable", 0, "m")); got != ReasonInvalidQuantity {
		t.Fatalf("zero quantity: reason = %s", got)
	}
	if got := reasonOf(t, ValidateItem("Cable", -2, "m")); got != ReasonInvalidQuantity {
		t.Fatalf("negative quantity: reason = %s", got)
	}
}

func TestValidateCreatePayloads(t *testing.T) {
	if err := ValidateProjectCreate("Warehouse refit"); err != nil {
		t.Fatal(err)
	}
	if got := reasonOf(t, ValidateProjectCreate("  ")); got != ReasonMissingField {
		t.Fatalf("blank project name: reason = %s", got)
	}
	if got := reasonOf(t, ValidateTaskCreate("p-1", "")); got != ReasonMissingField {
		t.Fatalf("blank title: reason = %s", got)
	}
	if got := reasonOf(t, ValidateTaskCreate("", "Wire panel")); got != ReasonMissingField {
		t.Fatalf("blank project: reason = %s", got)
	}
}
