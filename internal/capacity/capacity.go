// Package capacity implements the capacity-matching and delivery-risk
// estimation kernel. Everything here is a pure function: callers inject
// the current time and no input is ever mutated.
package capacity

import (
	"math"
	"strings"
	"time"

	"fiotrack/internal/domain"
)

// Filter weights. Priority order is fixed: a rule matching on article code
// always beats any combination of weaker filters.
const (
	weightArticleCode = 16
	weightReference   = 8
	weightFamily      = 4
	weightColorCode   = 2
	weightSize        = 1
)

// scoreRule returns the specificity score for a rule against an order, or
// ok=false when any non-blank filter mismatches. A single mismatch
// disqualifies the rule outright regardless of other filters. Filters are
// trimmed before use: blank and whitespace-only filters constrain nothing
// and score nothing, so the all-blank sector default always survives with
// score 0.
func scoreRule(rule domain.CapacityRule, order domain.Order) (int, bool) {
	score := 0
	checks := []struct {
		filter string
		attr   string
		weight int
	}{
		{rule.ArticleCode, order.ArticleCode, weightArticleCode},
		{rule.Reference, order.Reference, weightReference},
		{rule.Family, order.Family, weightFamily},
		{rule.ColorCode, order.ColorCode, weightColorCode},
		{rule.Size, order.Size, weightSize},
	}
	for _, c := range checks {
		filter := strings.TrimSpace(c.filter)
		if filter == "" {
			continue
		}
		if filter != c.attr {
			return 0, false
		}
		score += c.weight
	}
	return score, true
}

// FindCapacityForOrder selects the most specific rule scoped to sectorID
// that matches the order's article attributes. Ties on score keep the
// first rule encountered in slice order, so a stable rules slice makes
// the choice deterministic. Returns nil when no rule matches.
//
// Usability is not checked here: a matched rule with PiecesPerHour <= 0
// is still returned and the calculator treats it as zero throughput.
func FindCapacityForOrder(rules []domain.CapacityRule, sectorID domain.SectorID, order domain.Order) *domain.CapacityRule {
	var best *domain.CapacityRule
	bestScore := -1
	for i := range rules {
		if rules[i].SectorID != sectorID {
			continue
		}
		score, ok := scoreRule(rules[i], order)
		if !ok {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = &rules[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// AddWorkingDays advances a date by n working days (Mon–Fri). Weekends
// never count toward n. Advancing zero or negative days returns the
// start date unchanged.
func AddWorkingDays(start time.Time, n int) time.Time {
	if n <= 0 {
		return start
	}
	result := start
	added := 0
	for added < n {
		result = result.AddDate(0, 0, 1)
		if wd := result.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return result
}

// CalcOrderCapacityInfo computes remaining work, throughput, projected
// completion and delivery risk for one order at one sector. It never
// fails: absent rules or dates degrade to zero/nil fields. Deterministic
// for a fixed now.
func CalcOrderCapacityInfo(order domain.Order, sectorID domain.SectorID, rules []domain.CapacityRule, now time.Time) domain.OrderCapacityInfo {
	rule := FindCapacityForOrder(rules, sectorID, order)
	produced := domain.ProducedQty(order, sectorID)
	remaining := math.Max(0, order.QtyRequested-produced)

	info := domain.OrderCapacityInfo{
		OrderID:      order.ID,
		SectorID:     sectorID,
		Rule:         rule,
		ProducedQty:  produced,
		RemainingQty: remaining,
	}

	if remaining == 0 {
		// Order is done for this sector.
		done := now
		info.EstimatedCompletionDate = &done
		return info
	}

	if rule != nil && rule.PiecesPerHour > 0 {
		info.DailyCapacity = rule.PiecesPerHour * rule.HoursPerDay
		info.EstimatedDays = int(math.Ceil(remaining / info.DailyCapacity))
		est := AddWorkingDays(now, info.EstimatedDays)
		info.EstimatedCompletionDate = &est
	}

	if info.EstimatedCompletionDate != nil && order.RequestedDate != nil {
		diff := info.EstimatedCompletionDate.Sub(*order.RequestedDate)
		info.DaysLate = int(math.Ceil(diff.Hours() / 24))
		info.IsAtRisk = info.DaysLate > 0
	}
	return info
}
