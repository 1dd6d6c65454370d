package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fiotrack/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const orderColumns = `id,doc_nr,item_nr,client_code,client_name,issue_date,requested_date,
article_code,reference,family,color_code,size,qty_requested,
data_tec,felpo_cru_qty,felpo_cru_date,tinturaria_qty,tinturaria_date,
conf_roupoes_qty,conf_felpos_qty,conf_date,emb_acab_qty,arm_exp_date,stock_cx_qty,
priority,archived,archived_at,archived_by,
observations_json,stop_reasons_json,predicted_dates_json,predicted_pending_json,
created_at,updated_at`

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	obs, stops, dates, pending, err := marshalOrderMaps(o)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO orders(`+orderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.DocNr, o.ItemNr, nullable(o.ClientCode), nullable(o.ClientName),
		nullableTime(o.IssueDate), nullableTime(o.RequestedDate),
		o.ArticleCode, o.Reference, o.Family, o.ColorCode, o.Size, o.QtyRequested,
		nullableTime(o.DataTec), o.FelpoCruQty, nullableTime(o.FelpoCruDate),
		o.TinturariaQty, nullableTime(o.TinturariaDate),
		o.ConfRoupoesQty, o.ConfFelposQty, nullableTime(o.ConfDate),
		o.EmbAcabQty, nullableTime(o.ArmExpDate), o.StockCxQty,
		o.Priority, boolToInt(o.Archived), nullableTime(o.ArchivedAt), nullable(o.ArchivedBy),
		obs, stops, dates, pending,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	return err
}

func (r Repo) UpdateOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	obs, stops, dates, pending, err := marshalOrderMaps(o)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE orders SET doc_nr=?, item_nr=?, client_code=?, client_name=?,
issue_date=?, requested_date=?, article_code=?, reference=?, family=?, color_code=?, size=?, qty_requested=?,
data_tec=?, felpo_cru_qty=?, felpo_cru_date=?, tinturaria_qty=?, tinturaria_date=?,
conf_roupoes_qty=?, conf_felpos_qty=?, conf_date=?, emb_acab_qty=?, arm_exp_date=?, stock_cx_qty=?,
priority=?, archived=?, archived_at=?, archived_by=?,
observations_json=?, stop_reasons_json=?, predicted_dates_json=?, predicted_pending_json=?, updated_at=?
WHERE id=?`,
		o.DocNr, o.ItemNr, nullable(o.ClientCode), nullable(o.ClientName),
		nullableTime(o.IssueDate), nullableTime(o.RequestedDate),
		o.ArticleCode, o.Reference, o.Family, o.ColorCode, o.Size, o.QtyRequested,
		nullableTime(o.DataTec), o.FelpoCruQty, nullableTime(o.FelpoCruDate),
		o.TinturariaQty, nullableTime(o.TinturariaDate),
		o.ConfRoupoesQty, o.ConfFelposQty, nullableTime(o.ConfDate),
		o.EmbAcabQty, nullableTime(o.ArmExpDate), o.StockCxQty,
		o.Priority, boolToInt(o.Archived), nullableTime(o.ArchivedAt), nullable(o.ArchivedBy),
		obs, stops, dates, pending, formatTime(o.UpdatedAt), o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

type OrderFilters struct {
	DocNr           string
	ClientCode      string
	IncludeArchived bool
	Limit           int
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, error) {
	clauses := []string{"1=1"}
	var args []any
	if !f.IncludeArchived {
		clauses = append(clauses, "archived=0")
	}
	if f.DocNr != "" {
		clauses = append(clauses, "doc_nr=?")
		args = append(args, f.DocNr)
	}
	if f.ClientCode != "" {
		clauses = append(clauses, "client_code=?")
		args = append(args, f.ClientCode)
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY doc_nr ASC, item_nr ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// SetPriorityByDocNr updates every item sharing a document number.
func (r Repo) SetPriorityByDocNr(ctx context.Context, tx *sql.Tx, docNr string, priority int, updatedAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE orders SET priority=?, updated_at=? WHERE doc_nr=?`,
		priority, formatTime(updatedAt), docNr)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAllOrders is the full data reset; the only delete path for orders.
func (r Repo) DeleteAllOrders(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM orders`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanOrder(scan func(...any) error) (domain.Order, error) {
	var o domain.Order
	var clientCode, clientName, archivedBy sql.NullString
	var issueDate, requestedDate, dataTec, felpoCruDate, tinturariaDate, confDate, armExpDate, archivedAt sql.NullString
	var obs, stops, dates, pending sql.NullString
	var archived int
	var createdAt, updatedAt string
	err := scan(&o.ID, &o.DocNr, &o.ItemNr, &clientCode, &clientName, &issueDate, &requestedDate,
		&o.ArticleCode, &o.Reference, &o.Family, &o.ColorCode, &o.Size, &o.QtyRequested,
		&dataTec, &o.FelpoCruQty, &felpoCruDate, &o.TinturariaQty, &tinturariaDate,
		&o.ConfRoupoesQty, &o.ConfFelposQty, &confDate, &o.EmbAcabQty, &armExpDate, &o.StockCxQty,
		&o.Priority, &archived, &archivedAt, &archivedBy,
		&obs, &stops, &dates, &pending, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.ClientCode = clientCode.String
	o.ClientName = clientName.String
	o.ArchivedBy = archivedBy.String
	o.Archived = archived != 0
	o.IssueDate = parseTime(issueDate)
	o.RequestedDate = parseTime(requestedDate)
	o.DataTec = parseTime(dataTec)
	o.FelpoCruDate = parseTime(felpoCruDate)
	o.TinturariaDate = parseTime(tinturariaDate)
	o.ConfDate = parseTime(confDate)
	o.ArmExpDate = parseTime(armExpDate)
	o.ArchivedAt = parseTime(archivedAt)
	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		o.CreatedAt = t
	}
	if t, perr := time.Parse(time.RFC3339, updatedAt); perr == nil {
		o.UpdatedAt = t
	}
	if err := unmarshalJSONMap(obs, &o.Observations); err != nil {
		return o, err
	}
	if err := unmarshalJSONMap(stops, &o.StopReasons); err != nil {
		return o, err
	}
	if err := unmarshalJSONMap(dates, &o.PredictedDates); err != nil {
		return o, err
	}
	if err := unmarshalJSONMap(pending, &o.PredictedPending); err != nil {
		return o, err
	}
	return o, nil
}

func marshalOrderMaps(o domain.Order) (obs, stops, dates, pending any, err error) {
	if obs, err = marshalJSONMap(o.Observations); err != nil {
		return
	}
	if stops, err = marshalJSONMap(o.StopReasons); err != nil {
		return
	}
	if dates, err = marshalJSONMap(o.PredictedDates); err != nil {
		return
	}
	pending, err = marshalJSONMap(o.PredictedPending)
	return
}

func marshalJSONMap[V any](m map[domain.SectorID]V) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal sector map: %w", err)
	}
	return string(b), nil
}

func unmarshalJSONMap[V any](src sql.NullString, dst *map[domain.SectorID]V) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		return fmt.Errorf("unmarshal sector map: %w", err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
