// Package cascade propagates manual predicted-date edits forward through
// the pipeline. Functions return a new order value; inputs are never
// mutated, so a caller can apply the result atomically or discard it.
package cascade

import (
	"math"
	"time"

	"fiotrack/internal/domain"
)

// ApplyPredictedDateChange records a direct human edit of one sector's
// predicted date and shifts every downstream sector by the same day
// delta, marking the shifted sectors pending validation.
//
// The reference for the delta is the sector's previous predicted date
// when one existed, else its intrinsic baseline date on the order. With
// no reference at all, or a zero delta, or a cleared date, the edit
// stands alone and nothing downstream moves. Upstream sectors are never
// touched.
func ApplyPredictedDateChange(order domain.Order, sectorID domain.SectorID, newDate *time.Time) domain.Order {
	out := order.Clone()
	if !domain.ValidSector(sectorID) {
		return out
	}

	prev := order.PredictedDate(sectorID)

	// A direct edit always counts as validated.
	delete(out.PredictedPending, sectorID)

	if newDate == nil {
		delete(out.PredictedDates, sectorID)
		return out
	}
	if out.PredictedDates == nil {
		out.PredictedDates = map[domain.SectorID]time.Time{}
	}
	out.PredictedDates[sectorID] = *newDate

	reference := prev
	if reference == nil {
		reference = domain.BaselineDate(order, sectorID)
	}
	if reference == nil {
		return out
	}

	diffDays := roundDays(newDate.Sub(*reference))
	if diffDays == 0 {
		return out
	}

	for _, s := range domain.Downstream(sectorID) {
		current := order.PredictedDate(s.ID)
		if current == nil {
			current = domain.BaselineDate(order, s.ID)
		}
		if current == nil {
			// No predicted date and no baseline: leave the sector untouched.
			continue
		}
		shifted := current.AddDate(0, 0, diffDays)
		out.PredictedDates[s.ID] = shifted
		if out.PredictedPending == nil {
			out.PredictedPending = map[domain.SectorID]bool{}
		}
		out.PredictedPending[s.ID] = true
	}
	return out
}

// ValidatePredictedDate clears the pending flag for one sector without
// changing its date.
func ValidatePredictedDate(order domain.Order, sectorID domain.SectorID) domain.Order {
	out := order.Clone()
	delete(out.PredictedPending, sectorID)
	return out
}

func roundDays(d time.Duration) int {
	return int(math.Round(d.Hours() / 24))
}
