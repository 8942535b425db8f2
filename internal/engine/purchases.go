package engine

import (
	"context"
	"database/sql"

	"sitework/internal/domain"
	"sitework/internal/events"
	"sitework/internal/policy"
	"sitework/internal/repo"
)

// ItemInput is one requested line item.
type ItemInput struct {
	Name     string
	Quantity int
	Unit     string
	Note     string
}

// PurchaseCreateOptions reference exactly one task or installation.
type PurchaseCreateOptions struct {
	TaskID         *string
	InstallationID *string
	Comment        string
	Items          []ItemInput
}

// referencedAssignee resolves the assignee of the task or installation the
// request points at. A missing reference surfaces as ErrNotFound.
func (e Engine) referencedAssignee(ctx context.Context, taskID, installationID *string) (*string, error) {
	if taskID != nil && *taskID != "" {
		t, err := e.Repo.GetTask(ctx, *taskID)
		if err != nil {
			return nil, err
		}
		return t.AssigneeID, nil
	}
	ins, err := e.Repo.GetInstallation(ctx, *installationID)
	if err != nil {
		return nil, err
	}
	return ins.AssigneeID, nil
}

// CreatePurchaseRequest validates the reference and every item up front, then
// writes the request, its items and the audit event in one transaction. A bad
// item never leaves an orphaned request behind.
func (e Engine) CreatePurchaseRequest(ctx context.Context, actor policy.Actor, opts PurchaseCreateOptions) (domain.PurchaseRequest, []domain.PurchaseRequestItem, error) {
	if err := policy.ValidatePurchaseReference(opts.TaskID, opts.InstallationID); err != nil {
		return domain.PurchaseRequest{}, nil, err
	}
	assignee, err := e.referencedAssignee(ctx, opts.TaskID, opts.InstallationID)
	if err != nil {
		return domain.PurchaseRequest{}, nil, err
	}
	if err := policy.CanCreatePurchase(actor, assignee); err != nil {
		return domain.PurchaseRequest{}, nil, err
	}
	for _, it := range opts.Items {
		if err := policy.ValidateItem(it.Name, it.Quantity, it.Unit); err != nil {
			return domain.PurchaseRequest{}, nil, err
		}
	}

	now := e.timestamp()
	pr := domain.PurchaseRequest{
		ID:             newID(),
		TaskID:         opts.TaskID,
		InstallationID: opts.InstallationID,
		CreatedBy:      actor.UserID,
		Comment:        opts.Comment,
		Status:         policy.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	items := make([]domain.PurchaseRequestItem, 0, len(opts.Items))
	for _, it := range opts.Items {
		items = append(items, domain.PurchaseRequestItem{
			ID:                newID(),
			PurchaseRequestID: pr.ID,
			Name:              it.Name,
			Quantity:          it.Quantity,
			Unit:              it.Unit,
			Note:              it.Note,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertPurchaseRequest(ctx, tx, pr); err != nil {
			return err
		}
		for _, it := range items {
			if err := e.Repo.InsertPurchaseItem(ctx, tx, it); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, "purchase_request.created", "purchase_request", pr.ID, actor.UserID, events.EventPayload{"items": len(items)})
	})
	if err != nil {
		return domain.PurchaseRequest{}, nil, err
	}
	return pr, items, nil
}

func (e Engine) visiblePurchaseRequest(ctx context.Context, actor policy.Actor, id string) (domain.PurchaseRequest, error) {
	pr, err := e.Repo.GetPurchaseRequest(ctx, id)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	scope := policy.Visibility(actor, policy.ResourcePurchaseRequest)
	if scope.CreatedBy != "" && pr.CreatedBy != scope.CreatedBy {
		return domain.PurchaseRequest{}, repo.ErrNotFound
	}
	return pr, nil
}

func (e Engine) GetPurchaseRequest(ctx context.Context, actor policy.Actor, id string) (domain.PurchaseRequest, []domain.PurchaseRequestItem, error) {
	pr, err := e.visiblePurchaseRequest(ctx, actor, id)
	if err != nil {
		return domain.PurchaseRequest{}, nil, err
	}
	items, err := e.Repo.ListPurchaseItems(ctx, pr.ID)
	if err != nil {
		return domain.PurchaseRequest{}, nil, err
	}
	return pr, items, nil
}

func (e Engine) ListPurchaseRequests(ctx context.Context, actor policy.Actor, f repo.PurchaseFilters) ([]domain.PurchaseRequest, error) {
	scope := policy.Visibility(actor, policy.ResourcePurchaseRequest)
	if scope.CreatedBy != "" {
		f.CreatedBy = scope.CreatedBy
	}
	return e.Repo.ListPurchaseRequests(ctx, f)
}

// PurchaseUpdateOptions are optional field changes; nil leaves a field as is.
type PurchaseUpdateOptions struct {
	Comment *string
}

func purchaseRow(pr domain.PurchaseRequest) policy.Row {
	return policy.Row{CreatedBy: pr.CreatedBy, Status: pr.Status}
}

func (e Engine) UpdatePurchaseRequest(ctx context.Context, actor policy.Actor, id string, opts PurchaseUpdateOptions) (domain.PurchaseRequest, error) {
	pr, err := e.visiblePurchaseRequest(ctx, actor, id)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	if err := policy.CanMutate(actor, policy.ResourcePurchaseRequest, policy.OpUpdate, purchaseRow(pr)); err != nil {
		return domain.PurchaseRequest{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdatePurchaseRequest(ctx, tx, id, e.timestamp(), repo.PurchaseUpdate{Comment: opts.Comment}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "purchase_request.updated", "purchase_request", id, actor.UserID, nil)
	})
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	return e.Repo.GetPurchaseRequest(ctx, id)
}

func (e Engine) DeletePurchaseRequest(ctx context.Context, actor policy.Actor, id string) error {
	pr, err := e.visiblePurchaseRequest(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := policy.CanMutate(actor, policy.ResourcePurchaseRequest, policy.OpDelete, purchaseRow(pr)); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeletePurchaseRequest(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "purchase_request.deleted", "purchase_request", id, actor.UserID, nil)
	})
}

// SetPurchaseStatus records a one-shot approval or rejection. The repo write
// guards on the current status so two racing decisions cannot both land.
func (e Engine) SetPurchaseStatus(ctx context.Context, actor policy.Actor, id, target string) (domain.PurchaseRequest, error) {
	pr, err := e.Repo.GetPurchaseRequest(ctx, id)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	if err := policy.Transition(actor, pr.Status, target); err != nil {
		return domain.PurchaseRequest{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.SetPurchaseStatus(ctx, tx, id, pr.Status, target, actor.UserID, e.timestamp()); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "purchase_request."+target, "purchase_request", id, actor.UserID, events.EventPayload{"from": pr.Status})
	})
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	return e.Repo.GetPurchaseRequest(ctx, id)
}

func (e Engine) AddPurchaseItem(ctx context.Context, actor policy.Actor, requestID string, in ItemInput) (domain.PurchaseRequestItem, error) {
	pr, err := e.visiblePurchaseRequest(ctx, actor, requestID)
	if err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	if err := policy.CanMutate(actor, policy.ResourcePurchaseItem, policy.OpAddItem, purchaseRow(pr)); err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	if err := policy.ValidateItem(in.Name, in.Quantity, in.Unit); err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	now := e.timestamp()
	it := domain.PurchaseRequestItem{
		ID:                newID(),
		PurchaseRequestID: pr.ID,
		Name:              in.Name,
		Quantity:          in.Quantity,
		Unit:              in.Unit,
		Note:              in.Note,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertPurchaseItem(ctx, tx, it); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "purchase_item.added", "purchase_request", pr.ID, actor.UserID, events.EventPayload{"item_id": it.ID})
	})
	if err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	return it, nil
}

// ItemUpdateOptions are optional field changes; nil leaves a field as is.
type ItemUpdateOptions struct {
	Name     *string
	Quantity *int
	Unit     *string
	Note     *string
}

func (e Engine) itemParent(ctx context.Context, actor policy.Actor, itemID string) (domain.PurchaseRequestItem, domain.PurchaseRequest, error) {
	it, err := e.Repo.GetPurchaseItem(ctx, itemID)
	if err != nil {
		return domain.PurchaseRequestItem{}, domain.PurchaseRequest{}, err
	}
	pr, err := e.visiblePurchaseRequest(ctx, actor, it.PurchaseRequestID)
	if err != nil {
		return domain.PurchaseRequestItem{}, domain.PurchaseRequest{}, err
	}
	return it, pr, nil
}

func (e Engine) UpdatePurchaseItem(ctx context.Context, actor policy.Actor, itemID string, opts ItemUpdateOptions) (domain.PurchaseRequestItem, error) {
	it, pr, err := e.itemParent(ctx, actor, itemID)
	if err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	if err := policy.CanMutate(actor, policy.ResourcePurchaseItem, policy.OpUpdateItem, purchaseRow(pr)); err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	name, quantity, unit := it.Name, it.Quantity, it.Unit
	if opts.Name != nil {
		name = *opts.Name
	}
	if opts.Quantity != nil {
		quantity = *opts.Quantity
	}
	if opts.Unit != nil {
		unit = *opts.Unit
	}
	if err := policy.ValidateItem(name, quantity, unit); err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		u := repo.ItemUpdate{Name: opts.Name, Quantity: opts.Quantity, Unit: opts.Unit, Note: opts.Note}
		if err := e.Repo.UpdatePurchaseItem(ctx, tx, itemID, e.timestamp(), u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "purchase_item.updated", "purchase_request", pr.ID, actor.UserID, events.EventPayload{"item_id": itemID})
	})
	if err != nil {
		return domain.PurchaseRequestItem{}, err
	}
	return e.Repo.GetPurchaseItem(ctx, itemID)
}

func (e Engine) DeletePurchaseItem(ctx context.Context, actor policy.Actor, itemID string) error {
	_, pr, err := e.itemParent(ctx, actor, itemID)
	if err != nil {
		return err
	}
	if err := policy.CanMutate(actor, policy.ResourcePurchaseItem, policy.OpDeleteItem, purchaseRow(pr)); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeletePurchaseItem(ctx, tx, itemID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "purchase_item.deleted", "purchase_request", pr.ID, actor.UserID, events.EventPayload{"item_id": itemID})
	})
}
