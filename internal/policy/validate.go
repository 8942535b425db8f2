package policy

import "strings"

// Create-payload validation. These checks gate inserts only; updates go
// through CanMutate.

func ValidateProjectCreate(name string) error {
	if strings.TrimSpace(name) == "" {
		return deny(ReasonMissingField, "project name is required")
	}
	return nil
}

func ValidateTaskCreate(projectID, title string) error {
	if strings.TrimSpace(projectID) == "" {
		return deny(ReasonMissingField, "project_id is required")
	}
	if strings.TrimSpace(title) == "" {
		return deny(ReasonMissingField, "title is required")
	}
	return nil
}

func ValidateInstallationCreate(projectID, title string) error {
	return ValidateTaskCreate(projectID, title)
}

// ValidatePurchaseReference enforces the exactly-one-of invariant: a
// purchase request hangs off a task or an installation, never both and
// never neither.
func ValidatePurchaseReference(taskID, installationID *string) error {
	hasTask := taskID != nil && strings.TrimSpace(*taskID) != ""
	hasInstallation := installationID != nil && strings.TrimSpace(*installationID) != ""
	if hasTask == hasInstallation {
		return deny(ReasonMalformedReference, "exactly one of task_id or installation_id is required")
	}
	return nil
}

func ValidateItem(name string, quantity int, unit string) error {
	if strings.TrimSpace(name) == "" {
		return deny(ReasonMissingField, "item name is required")
	}
	if strings.TrimSpace(unit) == "" {
		return deny(ReasonMissingField, "item unit is required")
	}
	if quantity <= 0 {
		return deny(ReasonInvalidQuantity, "item quantity must be a positive integer")
	}
	return nil
}
