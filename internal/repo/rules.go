package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"fiotrack/internal/config"
	"fiotrack/internal/domain"
)

const ruleColumns = `id,sector_id,label,article_code,reference,family,color_code,size,pieces_per_hour,hours_per_day,created_at,updated_at`

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.CapacityRule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO capacity_rules(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, string(rule.SectorID), nullable(rule.Label),
		rule.ArticleCode, rule.Reference, rule.Family, rule.ColorCode, rule.Size,
		rule.PiecesPerHour, rule.HoursPerDay,
		formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt))
	return err
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, rule domain.CapacityRule) error {
	res, err := tx.ExecContext(ctx, `UPDATE capacity_rules SET sector_id=?, label=?, article_code=?, reference=?, family=?, color_code=?, size=?, pieces_per_hour=?, hours_per_day=?, updated_at=? WHERE id=?`,
		string(rule.SectorID), nullable(rule.Label),
		rule.ArticleCode, rule.Reference, rule.Family, rule.ColorCode, rule.Size,
		rule.PiecesPerHour, rule.HoursPerDay, formatTime(rule.UpdatedAt), rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM capacity_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.CapacityRule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM capacity_rules WHERE id=?`, id)
	return scanRule(row.Scan)
}

// ListRules returns rules ordered by created_at then id so the matcher's
// first-wins tie break is deterministic across calls.
func (r Repo) ListRules(ctx context.Context, sectorID domain.SectorID) ([]domain.CapacityRule, error) {
	clauses := []string{"1=1"}
	var args []any
	if sectorID != "" {
		clauses = append(clauses, "sector_id=?")
		args = append(args, string(sectorID))
	}
	query := `SELECT ` + ruleColumns + ` FROM capacity_rules WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CapacityRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

func scanRule(scan func(...any) error) (domain.CapacityRule, error) {
	var rule domain.CapacityRule
	var sectorID string
	var label sql.NullString
	var createdAt, updatedAt string
	err := scan(&rule.ID, &sectorID, &label,
		&rule.ArticleCode, &rule.Reference, &rule.Family, &rule.ColorCode, &rule.Size,
		&rule.PiecesPerHour, &rule.HoursPerDay, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	if err != nil {
		return rule, err
	}
	rule.SectorID = domain.SectorID(sectorID)
	rule.Label = label.String
	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		rule.CreatedAt = t
	}
	if t, perr := time.Parse(time.RFC3339, updatedAt); perr == nil {
		rule.UpdatedAt = t
	}
	return rule, nil
}

func (r Repo) UpsertPlantConfig(ctx context.Context, plantID string, cfg *config.Config) error {
	if cfg == nil {
		return ErrNotFound
	}
	cfg.Plant.ID = plantID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO plant_configs(plant_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(plant_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, plantID, string(payload), now, now)
	return err
}

func (r Repo) GetPlantConfig(ctx context.Context, plantID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM plant_configs WHERE plant_id=?`, plantID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Plant.ID == "" {
		cfg.Plant.ID = plantID
	}
	return &cfg, cfg.Validate()
}

// SinglePlant returns the only configured plant, or ErrNotFound.
func (r Repo) SinglePlant(ctx context.Context) (string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT plant_id FROM plant_configs`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if len(ids) != 1 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entity.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
