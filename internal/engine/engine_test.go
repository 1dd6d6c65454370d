package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fiotrack/internal/config"
	"fiotrack/internal/db"
	"fiotrack/internal/domain"
	"fiotrack/internal/migrate"
	"fiotrack/internal/repo"
)

var frozenNow = time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC) // a Monday

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := New(conn, config.Default("plant-1"))
	e.Now = func() time.Time { return frozenNow }
	e.Events.Now = e.Now
	return e
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testOrder(id, docNr string, itemNr int) domain.Order {
	return domain.Order{
		ID:             id,
		DocNr:          docNr,
		ItemNr:         itemNr,
		ClientCode:     "C100",
		ClientName:     "Hotelaria Sul",
		RequestedDate:  date(2024, 1, 31),
		ArticleCode:    "TOW-500",
		Family:         "toalhas",
		QtyRequested:   1000,
		FelpoCruQty:    200,
		DataTec:        date(2024, 1, 10),
		FelpoCruDate:   date(2024, 1, 12),
		TinturariaDate: date(2024, 1, 20),
		ConfDate:       date(2024, 1, 24),
		ArmExpDate:     date(2024, 1, 28),
	}
}

func mustImport(t *testing.T, e Engine, orders ...domain.Order) {
	t.Helper()
	if _, err := e.ImportOrders(context.Background(), orders, "tester"); err != nil {
		t.Fatalf("import orders: %v", err)
	}
}

func TestImportOrdersRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1), testOrder("o2", "DOC-1", 2))

	orders, err := e.Repo.ListOrders(context.Background(), repo.OrderFilters{DocNr: "DOC-1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	got := orders[0]
	if got.ID != "o1" || got.ClientName != "Hotelaria Sul" || got.QtyRequested != 1000 {
		t.Fatalf("unexpected first order: %+v", got)
	}
	if got.FelpoCruDate == nil || !got.FelpoCruDate.Equal(*date(2024, 1, 12)) {
		t.Fatalf("felpo cru date lost in round trip: %v", got.FelpoCruDate)
	}
	if !got.CreatedAt.Equal(frozenNow) {
		t.Fatalf("created_at not stamped with engine clock: %v", got.CreatedAt)
	}
}

func TestImportOrdersValidation(t *testing.T) {
	e := newTestEngine(t)
	bad := testOrder("", "DOC-1", 1)
	if _, err := e.ImportOrders(context.Background(), []domain.Order{bad}, "tester"); err == nil {
		t.Fatal("expected error for missing order id")
	}
	neg := testOrder("o1", "DOC-1", 1)
	neg.QtyRequested = -5
	if _, err := e.ImportOrders(context.Background(), []domain.Order{neg}, "tester"); err == nil {
		t.Fatal("expected error for negative qty")
	}
	// Failed imports must not leave partial rows behind.
	orders, err := e.Repo.ListOrders(context.Background(), repo.OrderFilters{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected rollback to leave no orders, got %d", len(orders))
	}
}

func TestSetPredictedDateCascades(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1))

	// Shift felpo_cru 5 days past its baseline of Jan 12.
	updated, err := e.SetPredictedDate(context.Background(), "o1", domain.SectorFelpoCru, date(2024, 1, 17), "tester")
	if err != nil {
		t.Fatalf("set predicted date: %v", err)
	}
	if d := updated.PredictedDate(domain.SectorFelpoCru); d == nil || !d.Equal(*date(2024, 1, 17)) {
		t.Fatalf("edited sector date = %v, want 2024-01-17", d)
	}
	if d := updated.PredictedDate(domain.SectorTinturaria); d == nil || !d.Equal(*date(2024, 1, 25)) {
		t.Fatalf("tinturaria shifted date = %v, want 2024-01-25", d)
	}
	if !updated.PredictedPending[domain.SectorTinturaria] {
		t.Fatal("tinturaria should be pending after cascade")
	}
	if updated.PredictedPending[domain.SectorFelpoCru] {
		t.Fatal("edited sector must not be pending")
	}
	if d := updated.PredictedDate(domain.SectorTecelagem); d != nil {
		t.Fatalf("upstream sector must be untouched, got %v", d)
	}

	// Everything must have been persisted in the same transaction.
	stored, err := e.Repo.GetOrder(context.Background(), "o1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if d := stored.PredictedDate(domain.SectorTinturaria); d == nil || !d.Equal(*date(2024, 1, 25)) {
		t.Fatalf("stored tinturaria date = %v, want 2024-01-25", d)
	}

	evts, err := e.Repo.LatestEvents(context.Background(), 5, "order.cascade.applied", "", "")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 1 || !strings.Contains(evts[0].Payload, "tinturaria") {
		t.Fatalf("expected one cascade event naming tinturaria, got %+v", evts)
	}
}

func TestRepeatedCascadeEventNamesAllMovedSectors(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1))

	// First edit shifts everything downstream and leaves it pending.
	if _, err := e.SetPredictedDate(context.Background(), "o1", domain.SectorFelpoCru, date(2024, 1, 17), "tester"); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	// Second edit moves the already-pending sectors again (+2 days).
	updated, err := e.SetPredictedDate(context.Background(), "o1", domain.SectorFelpoCru, date(2024, 1, 19), "tester")
	if err != nil {
		t.Fatalf("second edit: %v", err)
	}
	if d := updated.PredictedDate(domain.SectorTinturaria); d == nil || !d.Equal(*date(2024, 1, 27)) {
		t.Fatalf("tinturaria after second edit = %v, want 2024-01-27", d)
	}

	evts, err := e.Repo.LatestEvents(context.Background(), 5, "order.cascade.applied", "", "")
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected 2 cascade events, got %d", len(evts))
	}
	// LatestEvents is newest-first; the second cascade must still list the
	// re-shifted sectors even though their pending flags were already set.
	for _, id := range []domain.SectorID{domain.SectorTinturaria, domain.SectorConfeccao, domain.SectorEmbalagem, domain.SectorExpedicao} {
		if !strings.Contains(evts[0].Payload, string(id)) {
			t.Fatalf("second cascade event missing %s: %s", id, evts[0].Payload)
		}
	}
}

func TestValidatePredictedDateClearsPending(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1))
	if _, err := e.SetPredictedDate(context.Background(), "o1", domain.SectorFelpoCru, date(2024, 1, 17), "tester"); err != nil {
		t.Fatalf("set predicted date: %v", err)
	}
	updated, err := e.ValidatePredictedDate(context.Background(), "o1", domain.SectorTinturaria, "tester")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if updated.PredictedPending[domain.SectorTinturaria] {
		t.Fatal("pending flag should be cleared")
	}
	if d := updated.PredictedDate(domain.SectorTinturaria); d == nil || !d.Equal(*date(2024, 1, 25)) {
		t.Fatalf("validation must keep the date, got %v", d)
	}
}

func TestSetPredictedDateUnknownSector(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1))
	if _, err := e.SetPredictedDate(context.Background(), "o1", "estamparia", date(2024, 1, 17), "tester"); err == nil {
		t.Fatal("expected error for unknown sector")
	}
}

func TestUpdateSectorNotes(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1))

	obs := "fio em falta"
	stop := "avaria tear 4"
	updated, err := e.UpdateSector(context.Background(), SectorEditOptions{
		OrderID: "o1", SectorID: domain.SectorTecelagem,
		Observation: &obs, StopReason: &stop, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update sector: %v", err)
	}
	if updated.Observations[domain.SectorTecelagem] != obs {
		t.Fatalf("observation not set: %+v", updated.Observations)
	}
	if updated.StopReasons[domain.SectorTecelagem] != stop {
		t.Fatalf("stop reason not set: %+v", updated.StopReasons)
	}

	// Clearing with an empty string removes the entry.
	empty := ""
	updated, err = e.UpdateSector(context.Background(), SectorEditOptions{
		OrderID: "o1", SectorID: domain.SectorTecelagem,
		StopReason: &empty, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("clear stop reason: %v", err)
	}
	if _, ok := updated.StopReasons[domain.SectorTecelagem]; ok {
		t.Fatal("stop reason should be removed")
	}
	if updated.Observations[domain.SectorTecelagem] != obs {
		t.Fatal("observation must survive unrelated edits")
	}
}

func TestSetPriorityByDocNr(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1), testOrder("o2", "DOC-1", 2), testOrder("o3", "DOC-2", 1))

	n, err := e.SetPriority(context.Background(), "DOC-1", 1, "tester")
	if err != nil {
		t.Fatalf("set priority: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 items updated, got %d", n)
	}
	other, err := e.Repo.GetOrder(context.Background(), "o3")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if other.Priority != 0 {
		t.Fatalf("unrelated doc priority changed: %d", other.Priority)
	}
	if _, err := e.SetPriority(context.Background(), "DOC-9", 1, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown doc, got %v", err)
	}
	if _, err := e.SetPriority(context.Background(), "DOC-1", 9, "tester"); err == nil {
		t.Fatal("expected error for out-of-range priority")
	}
}

func TestArchiveHidesFromListing(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1))

	archived, err := e.SetArchived(context.Background(), "o1", true, "tester")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.Archived || archived.ArchivedAt == nil || archived.ArchivedBy != "tester" {
		t.Fatalf("archive metadata missing: %+v", archived)
	}
	visible, err := e.Repo.ListOrders(context.Background(), repo.OrderFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("archived order still listed: %d", len(visible))
	}
	all, err := e.Repo.ListOrders(context.Background(), repo.OrderFilters{IncludeArchived: true})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected archived order in full listing, got %d", len(all))
	}

	restored, err := e.SetArchived(context.Background(), "o1", false, "tester")
	if err != nil {
		t.Fatalf("unarchive: %v", err)
	}
	if restored.Archived || restored.ArchivedAt != nil || restored.ArchivedBy != "" {
		t.Fatalf("unarchive left metadata: %+v", restored)
	}
}

func TestResetOrders(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1), testOrder("o2", "DOC-2", 1))

	n, err := e.ResetOrders(context.Background(), "tester")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if _, err := e.Repo.GetOrder(context.Background(), "o1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after reset, got %v", err)
	}
}

func TestRuleLifecycle(t *testing.T) {
	e := newTestEngine(t)

	rule, err := e.CreateRule(context.Background(), RuleOptions{
		SectorID:      domain.SectorTinturaria,
		Label:         "toalhas padrão",
		Family:        "toalhas",
		PiecesPerHour: 50,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("rule id must be generated")
	}
	if rule.HoursPerDay != 24 {
		t.Fatalf("hours per day should default to 24, got %v", rule.HoursPerDay)
	}

	rule.PiecesPerHour = 60
	updated, err := e.UpdateRule(context.Background(), RuleOptions{
		ID: rule.ID, SectorID: rule.SectorID, Label: rule.Label,
		Family: rule.Family, PiecesPerHour: 60, HoursPerDay: 16,
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update rule: %v", err)
	}
	if updated.PiecesPerHour != 60 || updated.HoursPerDay != 16 {
		t.Fatalf("update not applied: %+v", updated)
	}

	if err := e.DeleteRule(context.Background(), rule.ID, "tester"); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if _, err := e.Repo.GetRule(context.Background(), rule.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := e.CreateRule(context.Background(), RuleOptions{SectorID: "estamparia", PiecesPerHour: 10}); err == nil {
		t.Fatal("expected error for unknown sector")
	}
}

func TestOrderCapacityUsesStoredRules(t *testing.T) {
	e := newTestEngine(t)
	mustImport(t, e, testOrder("o1", "DOC-1", 1))
	if _, err := e.CreateRule(context.Background(), RuleOptions{
		SectorID:      domain.SectorFelpoCru,
		Family:        "toalhas",
		PiecesPerHour: 50,
		HoursPerDay:   24,
		ActorID:       "tester",
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	info, err := e.OrderCapacity(context.Background(), "o1", domain.SectorFelpoCru)
	if err != nil {
		t.Fatalf("order capacity: %v", err)
	}
	if info.Rule == nil || info.Rule.Family != "toalhas" {
		t.Fatalf("expected family rule to match, got %+v", info.Rule)
	}
	// 800 remaining at 1200/day completes in one working day from Monday.
	if info.RemainingQty != 800 || info.EstimatedDays != 1 {
		t.Fatalf("remaining=%v days=%v, want 800 and 1", info.RemainingQty, info.EstimatedDays)
	}
	if info.EstimatedCompletionDate == nil || !info.EstimatedCompletionDate.Equal(time.Date(2024, 1, 9, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("estimated completion = %v", info.EstimatedCompletionDate)
	}
	if _, err := e.OrderCapacity(context.Background(), "o1", "estamparia"); err == nil {
		t.Fatal("expected error for unknown sector")
	}
}

func TestSectorQueueOrdering(t *testing.T) {
	e := newTestEngine(t)
	urgent := testOrder("o1", "DOC-1", 1)
	urgent.RequestedDate = date(2024, 2, 20)
	early := testOrder("o2", "DOC-2", 1)
	early.RequestedDate = date(2024, 1, 15)
	late := testOrder("o3", "DOC-3", 1)
	late.RequestedDate = date(2024, 2, 10)
	done := testOrder("o4", "DOC-4", 1)
	done.FelpoCruQty = done.QtyRequested
	mustImport(t, e, urgent, early, late, done)
	if _, err := e.SetPriority(context.Background(), "DOC-1", 1, "tester"); err != nil {
		t.Fatalf("set priority: %v", err)
	}

	queue, err := e.SectorQueue(context.Background(), domain.SectorFelpoCru)
	if err != nil {
		t.Fatalf("sector queue: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("expected 3 queued orders, got %d", len(queue))
	}
	gotIDs := []string{queue[0].Order.ID, queue[1].Order.ID, queue[2].Order.ID}
	wantIDs := []string{"o1", "o2", "o3"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("queue order = %v, want %v", gotIDs, wantIDs)
		}
	}
}

func TestAtRiskOrdersAndKPIs(t *testing.T) {
	e := newTestEngine(t)
	risky := testOrder("o1", "DOC-1", 1)
	risky.RequestedDate = date(2024, 1, 9) // tomorrow, cannot finish in time at 10/day
	safe := testOrder("o2", "DOC-2", 1)
	safe.RequestedDate = date(2024, 6, 30)
	mustImport(t, e, risky, safe)
	if _, err := e.CreateRule(context.Background(), RuleOptions{
		SectorID:      domain.SectorFelpoCru,
		PiecesPerHour: 1,
		HoursPerDay:   10,
		ActorID:       "tester",
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	risks, err := e.AtRiskOrders(context.Background())
	if err != nil {
		t.Fatalf("at risk: %v", err)
	}
	if len(risks) != 1 {
		t.Fatalf("expected exactly one at-risk entry, got %d", len(risks))
	}
	if risks[0].Order.ID != "o1" || risks[0].SectorID != domain.SectorFelpoCru {
		t.Fatalf("unexpected risk entry: order %s sector %s", risks[0].Order.ID, risks[0].SectorID)
	}
	if risks[0].Info.DaysLate <= 0 {
		t.Fatalf("days late must be positive, got %d", risks[0].Info.DaysLate)
	}

	kpis, err := e.DashboardKPIs(context.Background())
	if err != nil {
		t.Fatalf("kpis: %v", err)
	}
	if kpis.ActiveOrders != 2 || kpis.ActiveDocs != 2 {
		t.Fatalf("active counts wrong: %+v", kpis)
	}
	if kpis.AtRiskOrders != 1 {
		t.Fatalf("at risk count = %d, want 1", kpis.AtRiskOrders)
	}
	if kpis.DueWithinWindow != 1 {
		t.Fatalf("due within window = %d, want 1", kpis.DueWithinWindow)
	}
	if kpis.QtyRequested != 2000 {
		t.Fatalf("qty requested = %v, want 2000", kpis.QtyRequested)
	}
}
