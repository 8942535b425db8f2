package policy

// Purchase-request lifecycle. StatusDraft exists in the schema and is a
// legal source state for visibility purposes, but no creation path produces
// it: new requests always start pending.
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// transitionEdges is the complete set of legal purchase-request status
// edges. approved and rejected are terminal: re-applying a decision fails
// instead of silently succeeding.
var transitionEdges = map[string][]string{
	StatusPending: {StatusApproved, StatusRejected},
}

// Transition decides whether the actor may move a purchase request from
// current to target. Only managers decide, and only out of pending.
func Transition(a Actor, current, target string) error {
	if target != StatusApproved && target != StatusRejected {
		return deny(ReasonInvalidTransition, "status must be approved or rejected")
	}
	if !a.Manager() {
		return deny(ReasonRoleForbidden, "only managers may approve or reject purchase requests")
	}
	for _, next := range transitionEdges[current] {
		if next == target {
			return nil
		}
	}
	return deny(ReasonInvalidTransition, "cannot set status %s on a %s purchase request", target, current)
}

// Terminal reports whether the status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusApproved || status == StatusRejected
}
