package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fiotrack/internal/capacity"
	"fiotrack/internal/cascade"
	"fiotrack/internal/config"
	"fiotrack/internal/domain"
	"fiotrack/internal/events"
	"fiotrack/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func ensureSector(id domain.SectorID) error {
	if !domain.ValidSector(id) {
		return fmt.Errorf("unknown sector %s", id)
	}
	return nil
}

// ImportOrders inserts already-materialized orders in one transaction.
// Parsing spreadsheets or embedded database files is the importer's job;
// the engine only receives finished Order values.
func (e Engine) ImportOrders(ctx context.Context, orders []domain.Order, actorID string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	count := 0
	for _, o := range orders {
		if o.ID == "" {
			return 0, errors.New("order id is required")
		}
		if o.DocNr == "" {
			return 0, fmt.Errorf("order %s: doc nr is required", o.ID)
		}
		if o.QtyRequested < 0 {
			return 0, fmt.Errorf("order %s: qty requested must be >= 0", o.ID)
		}
		o.CreatedAt = now
		o.UpdatedAt = now
		if err := e.Repo.InsertOrder(ctx, tx, o); err != nil {
			return 0, fmt.Errorf("insert order %s: %w", o.ID, err)
		}
		count++
	}
	if err := e.Events.Append(ctx, tx, "orders.imported", "order", "", actorID, events.EventPayload{"count": count}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// SectorEditOptions are per-sector free-text edits on one order.
type SectorEditOptions struct {
	OrderID     string
	SectorID    domain.SectorID
	Observation *string
	StopReason  *string
	ActorID     string
}

func (e Engine) UpdateSector(ctx context.Context, opts SectorEditOptions) (domain.Order, error) {
	if err := ensureSector(opts.SectorID); err != nil {
		return domain.Order{}, err
	}
	o, err := e.Repo.GetOrder(ctx, opts.OrderID)
	if err != nil {
		return o, err
	}
	o = o.Clone()
	payload := events.EventPayload{"sector": string(opts.SectorID)}
	if opts.Observation != nil {
		if o.Observations == nil {
			o.Observations = map[domain.SectorID]string{}
		}
		if *opts.Observation == "" {
			delete(o.Observations, opts.SectorID)
		} else {
			o.Observations[opts.SectorID] = *opts.Observation
		}
		payload["observation"] = *opts.Observation
	}
	if opts.StopReason != nil {
		if o.StopReasons == nil {
			o.StopReasons = map[domain.SectorID]string{}
		}
		if *opts.StopReason == "" {
			delete(o.StopReasons, opts.SectorID)
		} else {
			o.StopReasons[opts.SectorID] = *opts.StopReason
		}
		payload["stop_reason"] = *opts.StopReason
	}
	o.UpdatedAt = e.now().UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.Events.Append(ctx, tx, "order.sector.updated", "order", o.ID, opts.ActorID, payload); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// SetPredictedDate applies a manual predicted-date edit and its cascade
// atomically: either the edit and every downstream shift commit together
// or none do.
func (e Engine) SetPredictedDate(ctx context.Context, orderID string, sectorID domain.SectorID, newDate *time.Time, actorID string) (domain.Order, error) {
	if err := ensureSector(sectorID); err != nil {
		return domain.Order{}, err
	}
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	updated := cascade.ApplyPredictedDateChange(o, sectorID, newDate)
	updated.UpdatedAt = e.now().UTC()

	// Name every sector whose date actually moved, including sectors that
	// were already pending from an earlier cascade.
	var shifted []string
	for _, s := range domain.Downstream(sectorID) {
		before := o.PredictedDate(s.ID)
		after := updated.PredictedDate(s.ID)
		if after == nil {
			continue
		}
		if before == nil || !before.Equal(*after) {
			shifted = append(shifted, string(s.ID))
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return updated, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOrder(ctx, tx, updated); err != nil {
		return updated, err
	}
	payload := events.EventPayload{"sector": string(sectorID)}
	if newDate != nil {
		payload["date"] = newDate.UTC().Format(time.RFC3339)
	} else {
		payload["date"] = nil
	}
	if err := e.Events.Append(ctx, tx, "order.predicted_date.set", "order", o.ID, actorID, payload); err != nil {
		return updated, err
	}
	if len(shifted) > 0 {
		if err := e.Events.Append(ctx, tx, "order.cascade.applied", "order", o.ID, actorID, events.EventPayload{
			"sector":  string(sectorID),
			"shifted": shifted,
		}); err != nil {
			return updated, err
		}
	}
	if err := tx.Commit(); err != nil {
		return updated, err
	}
	return updated, nil
}

// ValidatePredictedDate confirms an auto-shifted date without changing it.
func (e Engine) ValidatePredictedDate(ctx context.Context, orderID string, sectorID domain.SectorID, actorID string) (domain.Order, error) {
	if err := ensureSector(sectorID); err != nil {
		return domain.Order{}, err
	}
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	updated := cascade.ValidatePredictedDate(o, sectorID)
	updated.UpdatedAt = e.now().UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return updated, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOrder(ctx, tx, updated); err != nil {
		return updated, err
	}
	if err := e.Events.Append(ctx, tx, "order.predicted_date.validated", "order", o.ID, actorID, events.EventPayload{
		"sector": string(sectorID),
	}); err != nil {
		return updated, err
	}
	if err := tx.Commit(); err != nil {
		return updated, err
	}
	return updated, nil
}

// SetPriority updates every item of a document number together.
func (e Engine) SetPriority(ctx context.Context, docNr string, priority int, actorID string) (int64, error) {
	if priority < 0 || priority > 3 {
		return 0, fmt.Errorf("priority must be 0..3, got %d", priority)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.SetPriorityByDocNr(ctx, tx, docNr, priority, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, repo.ErrNotFound
	}
	if err := e.Events.Append(ctx, tx, "order.priority.set", "order", docNr, actorID, events.EventPayload{
		"doc_nr":   docNr,
		"priority": priority,
		"items":    n,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (e Engine) SetArchived(ctx context.Context, orderID string, archived bool, actorID string) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return o, err
	}
	o = o.Clone()
	o.Archived = archived
	if archived {
		now := e.now().UTC()
		o.ArchivedAt = &now
		o.ArchivedBy = actorID
	} else {
		o.ArchivedAt = nil
		o.ArchivedBy = ""
	}
	o.UpdatedAt = e.now().UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return o, err
	}
	evt := "order.archived"
	if !archived {
		evt = "order.unarchived"
	}
	if err := e.Events.Append(ctx, tx, evt, "order", o.ID, actorID, nil); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// ResetOrders deletes every order. The only delete path for order data.
func (e Engine) ResetOrders(ctx context.Context, actorID string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.DeleteAllOrders(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "orders.reset", "order", "", actorID, events.EventPayload{"deleted": n}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// RuleOptions are parameters for creating or updating a capacity rule.
type RuleOptions struct {
	ID            string
	SectorID      domain.SectorID
	Label         string
	ArticleCode   string
	Reference     string
	Family        string
	ColorCode     string
	Size          string
	PiecesPerHour float64
	HoursPerDay   float64
	ActorID       string
}

func (e Engine) defaultHoursPerDay() float64 {
	if e.Config != nil && e.Config.Capacity.DefaultHoursPerDay > 0 {
		return e.Config.Capacity.DefaultHoursPerDay
	}
	return domain.DefaultHoursPerDay
}

func (e Engine) CreateRule(ctx context.Context, opts RuleOptions) (domain.CapacityRule, error) {
	if err := ensureSector(opts.SectorID); err != nil {
		return domain.CapacityRule{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC()
	hpd := opts.HoursPerDay
	if hpd <= 0 {
		hpd = e.defaultHoursPerDay()
	}
	rule := domain.CapacityRule{
		ID:            id,
		SectorID:      opts.SectorID,
		Label:         opts.Label,
		ArticleCode:   opts.ArticleCode,
		Reference:     opts.Reference,
		Family:        opts.Family,
		ColorCode:     opts.ColorCode,
		Size:          opts.Size,
		PiecesPerHour: opts.PiecesPerHour,
		HoursPerDay:   hpd,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rule, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rule); err != nil {
		return rule, err
	}
	if err := e.Events.Append(ctx, tx, "rule.created", "rule", rule.ID, opts.ActorID, events.EventPayload{
		"sector":          string(rule.SectorID),
		"pieces_per_hour": rule.PiecesPerHour,
	}); err != nil {
		return rule, err
	}
	if err := tx.Commit(); err != nil {
		return rule, err
	}
	return rule, nil
}

func (e Engine) UpdateRule(ctx context.Context, opts RuleOptions) (domain.CapacityRule, error) {
	if err := ensureSector(opts.SectorID); err != nil {
		return domain.CapacityRule{}, err
	}
	rule, err := e.Repo.GetRule(ctx, opts.ID)
	if err != nil {
		return rule, err
	}
	rule.SectorID = opts.SectorID
	rule.Label = opts.Label
	rule.ArticleCode = opts.ArticleCode
	rule.Reference = opts.Reference
	rule.Family = opts.Family
	rule.ColorCode = opts.ColorCode
	rule.Size = opts.Size
	rule.PiecesPerHour = opts.PiecesPerHour
	if opts.HoursPerDay > 0 {
		rule.HoursPerDay = opts.HoursPerDay
	}
	rule.UpdatedAt = e.now().UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rule, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRule(ctx, tx, rule); err != nil {
		return rule, err
	}
	if err := e.Events.Append(ctx, tx, "rule.updated", "rule", rule.ID, opts.ActorID, events.EventPayload{
		"sector":          string(rule.SectorID),
		"pieces_per_hour": rule.PiecesPerHour,
	}); err != nil {
		return rule, err
	}
	if err := tx.Commit(); err != nil {
		return rule, err
	}
	return rule, nil
}

func (e Engine) DeleteRule(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRule(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rule.deleted", "rule", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// OrderCapacity computes capacity info for one order at one sector.
func (e Engine) OrderCapacity(ctx context.Context, orderID string, sectorID domain.SectorID) (domain.OrderCapacityInfo, error) {
	if err := ensureSector(sectorID); err != nil {
		return domain.OrderCapacityInfo{}, err
	}
	o, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderCapacityInfo{}, err
	}
	rules, err := e.Repo.ListRules(ctx, sectorID)
	if err != nil {
		return domain.OrderCapacityInfo{}, err
	}
	return capacity.CalcOrderCapacityInfo(o, sectorID, rules, e.now()), nil
}
