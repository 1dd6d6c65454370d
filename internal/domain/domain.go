package domain

import "time"

// Order is one unit of production demand, created on import and mutated
// by sector-level edits until archived or reset.
type Order struct {
	ID            string     `json:"id"`
	DocNr         string     `json:"doc_nr"`
	ItemNr        int        `json:"item_nr"`
	ClientCode    string     `json:"client_code,omitempty"`
	ClientName    string     `json:"client_name,omitempty"`
	IssueDate     *time.Time `json:"issue_date,omitempty" format:"date-time"`
	RequestedDate *time.Time `json:"requested_date,omitempty" format:"date-time"`

	// Article attributes used for capacity matching. Empty means unset.
	ArticleCode string `json:"article_code,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Family      string `json:"family,omitempty"`
	ColorCode   string `json:"color_code,omitempty"`
	Size        string `json:"size,omitempty"`

	QtyRequested float64 `json:"qty_requested"`

	// Per-sector produced quantities and source dates.
	DataTec        *time.Time `json:"data_tec,omitempty" format:"date-time"`
	FelpoCruQty    float64    `json:"felpo_cru_qty"`
	FelpoCruDate   *time.Time `json:"felpo_cru_date,omitempty" format:"date-time"`
	TinturariaQty  float64    `json:"tinturaria_qty"`
	TinturariaDate *time.Time `json:"tinturaria_date,omitempty" format:"date-time"`
	ConfRoupoesQty float64    `json:"conf_roupoes_qty"`
	ConfFelposQty  float64    `json:"conf_felpos_qty"`
	ConfDate       *time.Time `json:"conf_date,omitempty" format:"date-time"`
	EmbAcabQty     float64    `json:"emb_acab_qty"`
	ArmExpDate     *time.Time `json:"arm_exp_date,omitempty" format:"date-time"`
	StockCxQty     float64    `json:"stock_cx_qty"`

	// Priority: 0 none, 1 high, 2 medium, 3 low. Shared across items of a DocNr.
	Priority int `json:"priority,omitempty"`

	Archived   bool       `json:"archived,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty" format:"date-time"`
	ArchivedBy string     `json:"archived_by,omitempty"`

	// Per-sector user edits, keyed by sector id.
	Observations   map[SectorID]string    `json:"observations,omitempty"`
	StopReasons    map[SectorID]string    `json:"stop_reasons,omitempty"`
	PredictedDates map[SectorID]time.Time `json:"predicted_dates,omitempty"`
	// True when a predicted date was auto-shifted by cascade and awaits confirmation.
	PredictedPending map[SectorID]bool `json:"predicted_pending,omitempty"`

	CreatedAt time.Time `json:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

// PredictedDate returns the predicted date for a sector, nil when unset.
func (o Order) PredictedDate(id SectorID) *time.Time {
	if o.PredictedDates == nil {
		return nil
	}
	if d, ok := o.PredictedDates[id]; ok {
		return &d
	}
	return nil
}

// Clone returns a deep copy. Cascade applications produce a new order
// value and never mutate their input.
func (o Order) Clone() Order {
	out := o
	out.Observations = cloneMap(o.Observations)
	out.StopReasons = cloneMap(o.StopReasons)
	out.PredictedDates = cloneMap(o.PredictedDates)
	out.PredictedPending = cloneMap(o.PredictedPending)
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CapacityRule asserts a production rate for one sector, optionally
// narrowed by article filters. Blank filter fields are wildcards; a rule
// with all five filters blank is the sector-wide default.
type CapacityRule struct {
	ID       string   `json:"id"`
	SectorID SectorID `json:"sector_id"`
	Label    string   `json:"label,omitempty"`

	ArticleCode string `json:"article_code,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Family      string `json:"family,omitempty"`
	ColorCode   string `json:"color_code,omitempty"`
	Size        string `json:"size,omitempty"`

	// PiecesPerHour must be > 0 for the rule to be usable; a non-positive
	// rate still participates in matching.
	PiecesPerHour float64 `json:"pieces_per_hour"`
	HoursPerDay   float64 `json:"hours_per_day"`

	CreatedAt time.Time `json:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

// DefaultHoursPerDay (three shifts) is applied when a rule is stored without one.
const DefaultHoursPerDay = 24

// OrderCapacityInfo is the calculator's output. Computed on every query,
// never persisted.
type OrderCapacityInfo struct {
	OrderID  string        `json:"order_id"`
	SectorID SectorID      `json:"sector_id"`
	Rule     *CapacityRule `json:"rule,omitempty"`

	ProducedQty   float64 `json:"produced_qty"`
	RemainingQty  float64 `json:"remaining_qty"`
	DailyCapacity float64 `json:"daily_capacity"`
	EstimatedDays int     `json:"estimated_days"`

	EstimatedCompletionDate *time.Time `json:"estimated_completion_date,omitempty" format:"date-time"`
	IsAtRisk                bool       `json:"is_at_risk"`
	DaysLate                int        `json:"days_late"`
}

// Event is one row of the mutation log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
