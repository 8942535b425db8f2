package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sitework/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,description,status,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Description, p.Status, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,status,created_by,created_at,updated_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// ListProjects returns projects visible to the caller. When memberID is set,
// only projects holding at least one task or installation assigned to that
// user are returned.
func (r Repo) ListProjects(ctx context.Context, memberID string) ([]domain.Project, error) {
	query := `SELECT id,name,description,status,created_by,created_at,updated_at FROM projects`
	var args []any
	if memberID != "" {
		query += ` WHERE id IN (
			SELECT project_id FROM tasks WHERE assignee_id=?
			UNION
			SELECT project_id FROM installations WHERE assignee_id=?
		)`
		args = append(args, memberID, memberID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// IsProjectMember reports whether the user holds at least one task or
// installation assignment in the project.
func (r Repo) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 WHERE EXISTS (SELECT 1 FROM tasks WHERE project_id=? AND assignee_id=?)
		OR EXISTS (SELECT 1 FROM installations WHERE project_id=? AND assignee_id=?)`,
		projectID, userID, projectID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ProjectUpdate carries optional field changes; nil means leave unchanged.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *string
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id, updatedAt string, u ProjectUpdate) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, *u.Description)
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
