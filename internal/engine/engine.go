package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"sitework/internal/domain"
	"sitework/internal/events"
	"sitework/internal/policy"
	"sitework/internal/repo"
)

// Engine holds the application flows. Every mutation runs the policy
// evaluator against the loaded row, then writes the change and its audit
// event inside one transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name        string
	Description string
}

func (e Engine) CreateProject(ctx context.Context, actor policy.Actor, opts ProjectCreateOptions) (domain.Project, error) {
	if err := policy.CanMutate(actor, policy.ResourceProject, policy.OpCreate, policy.Row{}); err != nil {
		return domain.Project{}, err
	}
	if err := policy.ValidateProjectCreate(opts.Name); err != nil {
		return domain.Project{}, err
	}
	now := e.timestamp()
	p := domain.Project{
		ID:          newID(),
		Name:        opts.Name,
		Description: opts.Description,
		Status:      "active",
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.created", "project", p.ID, actor.UserID, events.EventPayload{"name": p.Name})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, actor policy.Actor, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	scope := policy.Visibility(actor, policy.ResourceProject)
	if scope.MemberID != "" {
		member, err := e.Repo.IsProjectMember(ctx, id, scope.MemberID)
		if err != nil {
			return domain.Project{}, err
		}
		if !member {
			// Out-of-scope rows are indistinguishable from missing ones.
			return domain.Project{}, repo.ErrNotFound
		}
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, actor policy.Actor) ([]domain.Project, error) {
	scope := policy.Visibility(actor, policy.ResourceProject)
	return e.Repo.ListProjects(ctx, scope.MemberID)
}

// ProjectUpdateOptions are optional field changes; nil leaves a field as is.
type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	Status      *string
}

func (e Engine) UpdateProject(ctx context.Context, actor policy.Actor, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	if _, err := e.Repo.GetProject(ctx, id); err != nil {
		return domain.Project{}, err
	}
	if err := policy.CanMutate(actor, policy.ResourceProject, policy.OpUpdate, policy.Row{}); err != nil {
		return domain.Project{}, err
	}
	if opts.Name != nil {
		if err := policy.ValidateProjectCreate(*opts.Name); err != nil {
			return domain.Project{}, err
		}
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		u := repo.ProjectUpdate{Name: opts.Name, Description: opts.Description, Status: opts.Status}
		if err := e.Repo.UpdateProject(ctx, tx, id, e.timestamp(), u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.updated", "project", id, actor.UserID, nil)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) DeleteProject(ctx context.Context, actor policy.Actor, id string) error {
	if _, err := e.Repo.GetProject(ctx, id); err != nil {
		return err
	}
	if err := policy.CanMutate(actor, policy.ResourceProject, policy.OpDelete, policy.Row{}); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "project.deleted", "project", id, actor.UserID, nil)
	})
}
