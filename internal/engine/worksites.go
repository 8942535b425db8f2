package engine

import (
	"context"
	"database/sql"

	"sitework/internal/domain"
	"sitework/internal/events"
	"sitework/internal/policy"
	"sitework/internal/repo"
)

// TaskCreateOptions are parameters for creating a task or, with the
// installation extras, an installation.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	Status      string
	AssigneeID  *string
	DueDate     *string
}

// InstallationCreateOptions extend TaskCreateOptions with scheduling.
type InstallationCreateOptions struct {
	TaskCreateOptions
	ScheduledAt *string
	Address     string
}

// TaskUpdateOptions are optional field changes; nil leaves a field as is.
type TaskUpdateOptions struct {
	Title       *string
	Description *string
	Status      *string
	AssigneeID  *string
	DueDate     *string
}

type InstallationUpdateOptions struct {
	TaskUpdateOptions
	ScheduledAt *string
	Address     *string
}

func assigneeRow(assigneeID *string) policy.Row {
	var row policy.Row
	if assigneeID != nil {
		row.AssigneeID = *assigneeID
	}
	return row
}

func (e Engine) CreateTask(ctx context.Context, actor policy.Actor, opts TaskCreateOptions) (domain.Task, error) {
	if err := policy.CanMutate(actor, policy.ResourceTask, policy.OpCreate, policy.Row{}); err != nil {
		return domain.Task{}, err
	}
	if err := policy.ValidateTaskCreate(opts.ProjectID, opts.Title); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	status := opts.Status
	if status == "" {
		status = "new"
	}
	now := e.timestamp()
	t := domain.Task{
		ID:          newID(),
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      status,
		AssigneeID:  opts.AssigneeID,
		DueDate:     opts.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.created", "task", t.ID, actor.UserID, events.EventPayload{"project_id": t.ProjectID, "title": t.Title})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, actor policy.Actor, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	scope := policy.Visibility(actor, policy.ResourceTask)
	if scope.AssigneeID != "" && (t.AssigneeID == nil || *t.AssigneeID != scope.AssigneeID) {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func (e Engine) ListTasks(ctx context.Context, actor policy.Actor, f repo.TaskFilters) ([]domain.Task, error) {
	scope := policy.Visibility(actor, policy.ResourceTask)
	if scope.AssigneeID != "" {
		f.AssigneeID = scope.AssigneeID
	}
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) UpdateTask(ctx context.Context, actor policy.Actor, id string, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := policy.CanMutate(actor, policy.ResourceTask, policy.OpUpdate, assigneeRow(t.AssigneeID)); err != nil {
		return domain.Task{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		u := repo.TaskUpdate{
			Title:       opts.Title,
			Description: opts.Description,
			Status:      opts.Status,
			AssigneeID:  opts.AssigneeID,
			DueDate:     opts.DueDate,
		}
		if err := e.Repo.UpdateTask(ctx, tx, id, e.timestamp(), u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.updated", "task", id, actor.UserID, nil)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) DeleteTask(ctx context.Context, actor policy.Actor, id string) error {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.CanMutate(actor, policy.ResourceTask, policy.OpDelete, assigneeRow(t.AssigneeID)); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "task.deleted", "task", id, actor.UserID, nil)
	})
}

func (e Engine) CreateInstallation(ctx context.Context, actor policy.Actor, opts InstallationCreateOptions) (domain.Installation, error) {
	if err := policy.CanMutate(actor, policy.ResourceInstallation, policy.OpCreate, policy.Row{}); err != nil {
		return domain.Installation{}, err
	}
	if err := policy.ValidateInstallationCreate(opts.ProjectID, opts.Title); err != nil {
		return domain.Installation{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Installation{}, err
	}
	status := opts.Status
	if status == "" {
		status = "new"
	}
	now := e.timestamp()
	ins := domain.Installation{
		ID:          newID(),
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      status,
		AssigneeID:  opts.AssigneeID,
		ScheduledAt: opts.ScheduledAt,
		Address:     opts.Address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertInstallation(ctx, tx, ins); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "installation.created", "installation", ins.ID, actor.UserID, events.EventPayload{"project_id": ins.ProjectID, "title": ins.Title})
	})
	if err != nil {
		return domain.Installation{}, err
	}
	return ins, nil
}

func (e Engine) GetInstallation(ctx context.Context, actor policy.Actor, id string) (domain.Installation, error) {
	ins, err := e.Repo.GetInstallation(ctx, id)
	if err != nil {
		return domain.Installation{}, err
	}
	scope := policy.Visibility(actor, policy.ResourceInstallation)
	if scope.AssigneeID != "" && (ins.AssigneeID == nil || *ins.AssigneeID != scope.AssigneeID) {
		return domain.Installation{}, repo.ErrNotFound
	}
	return ins, nil
}

func (e Engine) ListInstallations(ctx context.Context, actor policy.Actor, f repo.TaskFilters) ([]domain.Installation, error) {
	scope := policy.Visibility(actor, policy.ResourceInstallation)
	if scope.AssigneeID != "" {
		f.AssigneeID = scope.AssigneeID
	}
	return e.Repo.ListInstallations(ctx, f)
}

func (e Engine) UpdateInstallation(ctx context.Context, actor policy.Actor, id string, opts InstallationUpdateOptions) (domain.Installation, error) {
	ins, err := e.Repo.GetInstallation(ctx, id)
	if err != nil {
		return domain.Installation{}, err
	}
	if err := policy.CanMutate(actor, policy.ResourceInstallation, policy.OpUpdate, assigneeRow(ins.AssigneeID)); err != nil {
		return domain.Installation{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		u := repo.InstallationUpdate{
			TaskUpdate: repo.TaskUpdate{
				Title:       opts.Title,
				Description: opts.Description,
				Status:      opts.Status,
				AssigneeID:  opts.AssigneeID,
				DueDate:     nil,
			},
			ScheduledAt: opts.ScheduledAt,
			Address:     opts.Address,
		}
		if err := e.Repo.UpdateInstallation(ctx, tx, id, e.timestamp(), u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "installation.updated", "installation", id, actor.UserID, nil)
	})
	if err != nil {
		return domain.Installation{}, err
	}
	return e.Repo.GetInstallation(ctx, id)
}

func (e Engine) DeleteInstallation(ctx context.Context, actor policy.Actor, id string) error {
	ins, err := e.Repo.GetInstallation(ctx, id)
	if err != nil {
		return err
	}
	if err := policy.CanMutate(actor, policy.ResourceInstallation, policy.OpDelete, assigneeRow(ins.AssigneeID)); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteInstallation(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "installation.deleted", "installation", id, actor.UserID, nil)
	})
}
