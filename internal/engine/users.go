package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sitework/internal/domain"
	"sitework/internal/events"
	"sitework/internal/policy"
	"sitework/internal/repo"
)

// ErrInvalidCredentials is returned by Login for a bad email or password.
// It deliberately does not say which.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailTaken is returned by RegisterUser for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

// RegisterOptions are parameters for creating an account.
type RegisterOptions struct {
	Email    string
	Name     string
	Password string
	Role     string
}

// RegisterUser creates an account. The very first account becomes a manager
// regardless of the requested role, so a fresh install is never locked out of
// administration; every later self-registration is forced to worker.
func (e Engine) RegisterUser(ctx context.Context, opts RegisterOptions) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, policy.Denial{Reason: policy.ReasonMissingField, Message: "a valid email is required"}
	}
	if strings.TrimSpace(opts.Password) == "" {
		return domain.User{}, policy.Denial{Reason: policy.ReasonMissingField, Message: "password is required"}
	}
	if _, err := e.Repo.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	count, err := e.Repo.CountUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	role := policy.RoleWorker
	if count == 0 {
		role = policy.RoleManager
	}
	u := domain.User{
		ID:           newID(),
		Email:        email,
		Name:         strings.TrimSpace(opts.Name),
		Role:         role,
		PasswordHash: repo.HashPassword(opts.Password),
		CreatedAt:    e.timestamp(),
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "user.registered", "user", u.ID, u.ID, events.EventPayload{"role": u.Role})
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateUser is the administrative variant: a manager picks the role.
func (e Engine) CreateUser(ctx context.Context, actor policy.Actor, opts RegisterOptions) (domain.User, error) {
	if !actor.Manager() {
		return domain.User{}, policy.Denial{Reason: policy.ReasonRoleForbidden, Message: "only managers may create users"}
	}
	role := opts.Role
	if role == "" {
		role = policy.RoleWorker
	}
	if role != policy.RoleManager && role != policy.RoleWorker {
		return domain.User{}, policy.Denial{Reason: policy.ReasonMissingField, Message: "role must be manager or worker"}
	}
	u, err := e.RegisterUser(ctx, RegisterOptions{Email: opts.Email, Name: opts.Name, Password: opts.Password})
	if err != nil {
		return domain.User{}, err
	}
	if u.Role == role {
		return u, nil
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, role, u.ID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "user.role_changed", "user", u.ID, actor.UserID, events.EventPayload{"role": role})
	})
	if err != nil {
		return domain.User{}, err
	}
	u.Role = role
	return u, nil
}

// Login verifies the password hash and returns the account.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if u.PasswordHash != repo.HashPassword(password) {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

// ListUsers is manager-only: workers have no reason to enumerate accounts.
func (e Engine) ListUsers(ctx context.Context, actor policy.Actor, role string) ([]domain.User, error) {
	if !actor.Manager() {
		return nil, policy.Denial{Reason: policy.ReasonRoleForbidden, Message: "only managers may list users"}
	}
	return e.Repo.ListUsers(ctx, role)
}

// IssueAPIKey mints a key for the given user and stores only its hash. The
// plaintext is returned once and never persisted.
func (e Engine) IssueAPIKey(ctx context.Context, actor policy.Actor, userID, name string) (domain.APIKey, string, error) {
	if !actor.Manager() && actor.UserID != userID {
		return domain.APIKey{}, "", policy.Denial{Reason: policy.ReasonRoleForbidden, Message: "you may only issue keys for yourself"}
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "swk_" + newID()
	key := domain.APIKey{
		ID:        newID(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.timestamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "api_key.issued", "user", userID, actor.UserID, events.EventPayload{"key_id": key.ID})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

// ListEvents exposes the audit log to managers.
func (e Engine) ListEvents(ctx context.Context, actor policy.Actor, limit int, f repo.EventFilters) ([]domain.Event, error) {
	if !actor.Manager() {
		return nil, policy.Denial{Reason: policy.ReasonRoleForbidden, Message: "only managers may read the audit log"}
	}
	return e.Repo.LatestEvents(ctx, limit, f)
}
