package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sitework/internal/domain"
)

const installationColumns = `id,project_id,title,description,status,assignee_id,scheduled_at,address,created_at,updated_at`

func (r Repo) InsertInstallation(ctx context.Context, tx *sql.Tx, ins domain.Installation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO installations(id,project_id,title,description,status,assignee_id,scheduled_at,address,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ins.ID, ins.ProjectID, ins.Title, ins.Description, ins.Status, nullableStringPtr(ins.AssigneeID), nullableStringPtr(ins.ScheduledAt), ins.Address, ins.CreatedAt, ins.UpdatedAt)
	return err
}

func scanInstallation(scan func(...any) error) (domain.Installation, error) {
	var ins domain.Installation
	var assigneeID, scheduledAt sql.NullString
	err := scan(&ins.ID, &ins.ProjectID, &ins.Title, &ins.Description, &ins.Status, &assigneeID, &scheduledAt, &ins.Address, &ins.CreatedAt, &ins.UpdatedAt)
	if err != nil {
		return ins, err
	}
	if assigneeID.Valid {
		ins.AssigneeID = &assigneeID.String
	}
	if scheduledAt.Valid {
		ins.ScheduledAt = &scheduledAt.String
	}
	return ins, nil
}

func (r Repo) GetInstallation(ctx context.Context, id string) (domain.Installation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+installationColumns+` FROM installations WHERE id=?`, id)
	ins, err := scanInstallation(row.Scan)
	if err == sql.ErrNoRows {
		return ins, ErrNotFound
	}
	return ins, err
}

func (r Repo) ListInstallations(ctx context.Context, f TaskFilters) ([]domain.Installation, error) {
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + installationColumns + ` FROM installations ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Installation
	for rows.Next() {
		ins, err := scanInstallation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ins)
	}
	return res, rows.Err()
}

// InstallationUpdate extends TaskUpdate with the scheduling fields.
type InstallationUpdate struct {
	TaskUpdate
	ScheduledAt *string
	Address     *string
}

func (r Repo) UpdateInstallation(ctx context.Context, tx *sql.Tx, id, updatedAt string, u InstallationUpdate) error {
	fields, args := u.TaskUpdate.fields()
	if u.ScheduledAt != nil {
		fields = append(fields, "scheduled_at=?")
		args = append(args, nullable(*u.ScheduledAt))
	}
	if u.Address != nil {
		fields = append(fields, "address=?")
		args = append(args, *u.Address)
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE installations SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteInstallation(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM installations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
