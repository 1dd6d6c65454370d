package engine

import (
	"context"
	"sort"
	"time"

	"fiotrack/internal/capacity"
	"fiotrack/internal/domain"
	"fiotrack/internal/repo"
)

// QueueEntry is one order waiting for work at a sector.
type QueueEntry struct {
	Order domain.Order
	Info  domain.OrderCapacityInfo
}

// SectorQueue lists non-archived orders with remaining work at a sector,
// highest priority first, then earliest requested date.
func (e Engine) SectorQueue(ctx context.Context, sectorID domain.SectorID) ([]QueueEntry, error) {
	if err := ensureSector(sectorID); err != nil {
		return nil, err
	}
	orders, err := e.Repo.ListOrders(ctx, repo.OrderFilters{})
	if err != nil {
		return nil, err
	}
	rules, err := e.Repo.ListRules(ctx, sectorID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	var queue []QueueEntry
	for _, o := range orders {
		info := capacity.CalcOrderCapacityInfo(o, sectorID, rules, now)
		if info.RemainingQty <= 0 {
			continue
		}
		queue = append(queue, QueueEntry{Order: o, Info: info})
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i].Order, queue[j].Order
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.RequestedDate == nil && b.RequestedDate == nil:
		case a.RequestedDate == nil:
			return false
		case b.RequestedDate == nil:
			return true
		case !a.RequestedDate.Equal(*b.RequestedDate):
			return a.RequestedDate.Before(*b.RequestedDate)
		}
		if a.DocNr != b.DocNr {
			return a.DocNr < b.DocNr
		}
		return a.ItemNr < b.ItemNr
	})
	return queue, nil
}

// RiskEntry is an order flagged late at a specific sector.
type RiskEntry struct {
	Order    domain.Order
	SectorID domain.SectorID
	Info     domain.OrderCapacityInfo
}

// AtRiskOrders scans every sector and reports orders whose estimated
// completion lands after the client's requested date.
func (e Engine) AtRiskOrders(ctx context.Context) ([]RiskEntry, error) {
	orders, err := e.Repo.ListOrders(ctx, repo.OrderFilters{})
	if err != nil {
		return nil, err
	}
	rules, err := e.Repo.ListRules(ctx, "")
	if err != nil {
		return nil, err
	}
	bySector := map[domain.SectorID][]domain.CapacityRule{}
	for _, r := range rules {
		bySector[r.SectorID] = append(bySector[r.SectorID], r)
	}
	now := e.now()
	var risks []RiskEntry
	for _, o := range orders {
		for _, s := range domain.Sectors() {
			info := capacity.CalcOrderCapacityInfo(o, s.ID, bySector[s.ID], now)
			if info.IsAtRisk {
				risks = append(risks, RiskEntry{Order: o, SectorID: s.ID, Info: info})
			}
		}
	}
	sort.SliceStable(risks, func(i, j int) bool {
		if risks[i].Info.DaysLate != risks[j].Info.DaysLate {
			return risks[i].Info.DaysLate > risks[j].Info.DaysLate
		}
		return risks[i].Order.DocNr < risks[j].Order.DocNr
	})
	return risks, nil
}

// KPIs are the dashboard headline numbers.
type KPIs struct {
	ActiveOrders    int     `json:"active_orders"`
	ActiveDocs      int     `json:"active_docs"`
	AtRiskOrders    int     `json:"at_risk_orders"`
	DueWithinWindow int     `json:"due_within_window"`
	QtyRequested    float64 `json:"qty_requested"`
	QtyInStock      float64 `json:"qty_in_stock"`
}

func (e Engine) DashboardKPIs(ctx context.Context) (KPIs, error) {
	var k KPIs
	orders, err := e.Repo.ListOrders(ctx, repo.OrderFilters{})
	if err != nil {
		return k, err
	}
	risks, err := e.AtRiskOrders(ctx)
	if err != nil {
		return k, err
	}
	windowDays := 7
	if e.Config != nil && e.Config.Risk.DeliveryWindowDays > 0 {
		windowDays = e.Config.Risk.DeliveryWindowDays
	}
	now := e.now()
	windowEnd := now.AddDate(0, 0, windowDays)
	docs := map[string]struct{}{}
	atRiskIDs := map[string]struct{}{}
	for _, r := range risks {
		atRiskIDs[r.Order.ID] = struct{}{}
	}
	for _, o := range orders {
		k.ActiveOrders++
		docs[o.DocNr] = struct{}{}
		k.QtyRequested += o.QtyRequested
		k.QtyInStock += o.StockCxQty
		if o.RequestedDate != nil && !o.RequestedDate.Before(truncateDay(now)) && o.RequestedDate.Before(windowEnd) {
			k.DueWithinWindow++
		}
	}
	k.ActiveDocs = len(docs)
	k.AtRiskOrders = len(atRiskIDs)
	return k, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
