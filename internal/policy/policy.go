// Package policy centralizes every authorization decision the API makes.
// It is pure: callers load the row, the evaluator inspects role, ownership
// and status, and returns either nil or a typed Denial. Nothing here touches
// the database, so the same functions serve HTTP handlers, the CLI and tests.
package policy

import "fmt"

const (
	RoleManager = "manager"
	RoleWorker  = "worker"
)

type Resource string

const (
	ResourceProject         Resource = "project"
	ResourceTask            Resource = "task"
	ResourceInstallation    Resource = "installation"
	ResourcePurchaseRequest Resource = "purchase_request"
	ResourcePurchaseItem    Resource = "purchase_request_item"
)

type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpAddItem    Operation = "add_item"
	OpUpdateItem Operation = "update_item"
	OpDeleteItem Operation = "delete_item"
)

// Actor is the authenticated caller as decoded from the bearer credential.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) Manager() bool { return a.Role == RoleManager }

type Reason string

const (
	ReasonRoleForbidden      Reason = "role_forbidden"
	ReasonNotOwner           Reason = "not_owner"
	ReasonInvalidState       Reason = "invalid_state"
	ReasonInvalidTransition  Reason = "invalid_transition"
	ReasonMalformedReference Reason = "malformed_reference"
	ReasonMissingField       Reason = "missing_field"
	ReasonInvalidQuantity    Reason = "invalid_quantity"
)

// Denial is a terminal authorization verdict. It carries a machine-readable
// reason so the transport layer can pick a status code without parsing text.
type Denial struct {
	Reason  Reason
	Message string
}

func (d Denial) Error() string { return d.Message }

func deny(reason Reason, format string, args ...any) Denial {
	return Denial{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Row is the slice of an existing record the evaluator inspects. Item
// operations pass the parent purchase request's row, so ownership and
// status gating apply transitively.
type Row struct {
	AssigneeID string
	CreatedBy  string
	Status     string
}

// Scope restricts a listing to rows the actor may see. Empty fields mean
// no restriction; applying the same scope twice yields the same set.
type Scope struct {
	AssigneeID string
	CreatedBy  string
	MemberID   string
}

func (s Scope) Unrestricted() bool {
	return s.AssigneeID == "" && s.CreatedBy == "" && s.MemberID == ""
}

// Visibility returns the listing scope for the actor. Managers see every
// row. Workers see tasks and installations assigned to them, purchase
// requests they created, and projects where they hold at least one
// assignment.
func Visibility(a Actor, res Resource) Scope {
	if a.Manager() {
		return Scope{}
	}
	switch res {
	case ResourceTask, ResourceInstallation:
		return Scope{AssigneeID: a.UserID}
	case ResourcePurchaseRequest, ResourcePurchaseItem:
		return Scope{CreatedBy: a.UserID}
	case ResourceProject:
		return Scope{MemberID: a.UserID}
	}
	return Scope{}
}

// mutableStatuses are the purchase-request states in which the request and
// its items may still change. approved/rejected are terminal.
var mutableStatuses = map[string]bool{
	StatusDraft:   true,
	StatusPending: true,
}

func Mutable(status string) bool { return mutableStatuses[status] }

type rule struct {
	roles     []string
	resources []Resource
	ops       []Operation
	verdict   func(Actor, Row) error
}

func (r rule) matches(a Actor, res Resource, op Operation) bool {
	return contains(r.roles, a.Role) && containsRes(r.resources, res) && containsOp(r.ops, op)
}

var managedResources = []Resource{ResourceProject, ResourceTask, ResourceInstallation}
var purchaseResources = []Resource{ResourcePurchaseRequest, ResourcePurchaseItem}
var purchaseOps = []Operation{OpUpdate, OpDelete, OpAddItem, OpUpdateItem, OpDeleteItem}

// mutationRules is evaluated in order; the first matching rule decides.
// Approve/reject is not a mutation in this table, see Transition.
var mutationRules = []rule{
	// Managers own projects, tasks and installations outright.
	{
		roles:     []string{RoleManager},
		resources: managedResources,
		ops:       []Operation{OpCreate, OpUpdate, OpDelete},
		verdict:   nil,
	},
	// Workers never create manager-only resources.
	{
		roles:     []string{RoleWorker},
		resources: managedResources,
		ops:       []Operation{OpCreate},
		verdict: func(Actor, Row) error {
			return deny(ReasonRoleForbidden, "only managers may create this resource")
		},
	},
	// Workers update tasks and installations they are assigned to.
	{
		roles:     []string{RoleWorker},
		resources: []Resource{ResourceTask, ResourceInstallation},
		ops:       []Operation{OpUpdate},
		verdict: func(a Actor, row Row) error {
			if row.AssigneeID != a.UserID {
				return deny(ReasonNotOwner, "you can only update your own assignments")
			}
			return nil
		},
	},
	// Workers never delete manager-only resources.
	{
		roles:     []string{RoleWorker},
		resources: managedResources,
		ops:       []Operation{OpDelete},
		verdict: func(Actor, Row) error {
			return deny(ReasonRoleForbidden, "only managers may delete this resource")
		},
	},
	// Purchase requests and their items: terminal states freeze the row for
	// everyone; workers additionally need to be the creator.
	{
		roles:     []string{RoleManager},
		resources: purchaseResources,
		ops:       purchaseOps,
		verdict: func(a Actor, row Row) error {
			if !Mutable(row.Status) {
				return deny(ReasonInvalidState, "purchase request is %s and can no longer change", row.Status)
			}
			return nil
		},
	},
	{
		roles:     []string{RoleWorker},
		resources: purchaseResources,
		ops:       purchaseOps,
		verdict: func(a Actor, row Row) error {
			if row.CreatedBy != a.UserID {
				return deny(ReasonNotOwner, "you can only modify your own purchase requests")
			}
			if !Mutable(row.Status) {
				return deny(ReasonInvalidState, "purchase request is %s and can no longer change", row.Status)
			}
			return nil
		},
	},
}

// CanMutate decides whether the actor may perform op on an existing row of
// the given resource. Unmatched combinations are denied.
func CanMutate(a Actor, res Resource, op Operation, row Row) error {
	for _, r := range mutationRules {
		if !r.matches(a, res, op) {
			continue
		}
		if r.verdict == nil {
			return nil
		}
		return r.verdict(a, row)
	}
	return deny(ReasonRoleForbidden, "operation %s on %s is not permitted for role %s", op, res, a.Role)
}

// CanCreatePurchase gates purchase-request creation: workers may only raise
// requests against tasks or installations assigned to them. refAssignee is
// the assignee of the referenced task/installation, nil when unassigned.
func CanCreatePurchase(a Actor, refAssignee *string) error {
	if a.Manager() {
		return nil
	}
	if refAssignee == nil || *refAssignee != a.UserID {
		return deny(ReasonNotOwner, "you can only create requests for your own assignments")
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsRes(set []Resource, v Resource) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsOp(set []Operation, v Operation) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
