package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sitework/internal/domain"
)

const purchaseColumns = `id,task_id,installation_id,created_by,comment,status,approved_by,created_at,updated_at`

func (r Repo) InsertPurchaseRequest(ctx context.Context, tx *sql.Tx, pr domain.PurchaseRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO purchase_requests(id,task_id,installation_id,created_by,comment,status,approved_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		pr.ID, nullableStringPtr(pr.TaskID), nullableStringPtr(pr.InstallationID), pr.CreatedBy, pr.Comment, pr.Status, nullableStringPtr(pr.ApprovedBy), pr.CreatedAt, pr.UpdatedAt)
	return err
}

func scanPurchaseRequest(scan func(...any) error) (domain.PurchaseRequest, error) {
	var pr domain.PurchaseRequest
	var taskID, installationID, approvedBy sql.NullString
	err := scan(&pr.ID, &taskID, &installationID, &pr.CreatedBy, &pr.Comment, &pr.Status, &approvedBy, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return pr, err
	}
	if taskID.Valid {
		pr.TaskID = &taskID.String
	}
	if installationID.Valid {
		pr.InstallationID = &installationID.String
	}
	if approvedBy.Valid {
		pr.ApprovedBy = &approvedBy.String
	}
	return pr, nil
}

func (r Repo) GetPurchaseRequest(ctx context.Context, id string) (domain.PurchaseRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchase_requests WHERE id=?`, id)
	pr, err := scanPurchaseRequest(row.Scan)
	if err == sql.ErrNoRows {
		return pr, ErrNotFound
	}
	return pr, err
}

// PurchaseFilters narrows ListPurchaseRequests. CreatedBy doubles as the
// visibility scope for workers.
type PurchaseFilters struct {
	TaskID         string
	InstallationID string
	Status         string
	CreatedBy      string
}

func (r Repo) ListPurchaseRequests(ctx context.Context, f PurchaseFilters) ([]domain.PurchaseRequest, error) {
	var clauses []string
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.InstallationID != "" {
		clauses = append(clauses, "installation_id=?")
		args = append(args, f.InstallationID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + purchaseColumns + ` FROM purchase_requests ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PurchaseRequest
	for rows.Next() {
		pr, err := scanPurchaseRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, pr)
	}
	return res, rows.Err()
}

// PurchaseUpdate carries optional field changes; nil means leave unchanged.
type PurchaseUpdate struct {
	Comment *string
}

func (r Repo) UpdatePurchaseRequest(ctx context.Context, tx *sql.Tx, id, updatedAt string, u PurchaseUpdate) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if u.Comment != nil {
		fields = append(fields, "comment=?")
		args = append(args, *u.Comment)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE purchase_requests SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPurchaseStatus records a decision. The status guard in the WHERE clause
// makes the write a compare-and-swap: a concurrent decision loses and gets
// ErrNotFound.
func (r Repo) SetPurchaseStatus(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, approvedBy, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE purchase_requests SET status=?, approved_by=?, updated_at=? WHERE id=? AND status=?`,
		toStatus, approvedBy, updatedAt, id, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePurchaseRequest(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM purchase_requests WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const itemColumns = `id,purchase_request_id,name,quantity,unit,note,created_at,updated_at`

func (r Repo) InsertPurchaseItem(ctx context.Context, tx *sql.Tx, it domain.PurchaseRequestItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO purchase_request_items(id,purchase_request_id,name,quantity,unit,note,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.PurchaseRequestID, it.Name, it.Quantity, it.Unit, it.Note, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetPurchaseItem(ctx context.Context, id string) (domain.PurchaseRequestItem, error) {
	var it domain.PurchaseRequestItem
	err := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM purchase_request_items WHERE id=?`, id).
		Scan(&it.ID, &it.PurchaseRequestID, &it.Name, &it.Quantity, &it.Unit, &it.Note, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) ListPurchaseItems(ctx context.Context, requestID string) ([]domain.PurchaseRequestItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM purchase_request_items WHERE purchase_request_id=? ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PurchaseRequestItem
	for rows.Next() {
		var it domain.PurchaseRequestItem
		if err := rows.Scan(&it.ID, &it.PurchaseRequestID, &it.Name, &it.Quantity, &it.Unit, &it.Note, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ItemUpdate carries optional field changes; nil means leave unchanged.
type ItemUpdate struct {
	Name     *string
	Quantity *int
	Unit     *string
	Note     *string
}

func (r Repo) UpdatePurchaseItem(ctx context.Context, tx *sql.Tx, id, updatedAt string, u ItemUpdate) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Quantity != nil {
		fields = append(fields, "quantity=?")
		args = append(args, *u.Quantity)
	}
	if u.Unit != nil {
		fields = append(fields, "unit=?")
		args = append(args, *u.Unit)
	}
	if u.Note != nil {
		fields = append(fields, "note=?")
		args = append(args, *u.Note)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE purchase_request_items SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePurchaseItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM purchase_request_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
