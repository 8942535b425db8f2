package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sitework/internal/domain"
)

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,status,assignee_id,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate), t.CreatedAt, t.UpdatedAt)
	return err
}

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var assigneeID, dueDate sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &assigneeID, &dueDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	return t, nil
}

const taskColumns = `id,project_id,title,description,status,assignee_id,due_date,created_at,updated_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// TaskFilters narrows ListTasks. AssigneeID doubles as the visibility scope
// for workers.
type TaskFilters struct {
	ProjectID  string
	Status     string
	AssigneeID string
}

func (f TaskFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	return clauses, args
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskUpdate carries optional field changes; nil means leave unchanged.
// Assignee and due date distinguish "not sent" from "clear": a non-nil
// pointer to an empty string clears the column.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *string
	AssigneeID  *string
	DueDate     *string
}

func (u TaskUpdate) fields() ([]string, []any) {
	var fields []string
	var args []any
	if u.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *u.Title)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, *u.Description)
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.AssigneeID != nil {
		fields = append(fields, "assignee_id=?")
		args = append(args, nullable(*u.AssigneeID))
	}
	if u.DueDate != nil {
		fields = append(fields, "due_date=?")
		args = append(args, nullable(*u.DueDate))
	}
	return fields, args
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, id, updatedAt string, u TaskUpdate) error {
	fields, args := u.fields()
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
