package domain

import "time"

// SectorID identifies one of the six fixed pipeline stages.
type SectorID string

const (
	SectorTecelagem  SectorID = "tecelagem"
	SectorFelpoCru   SectorID = "felpo_cru"
	SectorTinturaria SectorID = "tinturaria"
	SectorConfeccao  SectorID = "confeccao"
	SectorEmbalagem  SectorID = "embalagem"
	SectorExpedicao  SectorID = "expedicao"
)

// Sector is one pipeline stage. OrderIndex defines pipeline order and is
// load-bearing for the cascade's strictly-downstream rule.
type Sector struct {
	ID         SectorID `json:"id"`
	Name       string   `json:"name"`
	OrderIndex int      `json:"order_index"`
}

// sectors is the closed, ordered pipeline. Fixed at compile time; only
// display names are configurable.
var sectors = [6]Sector{
	{ID: SectorTecelagem, Name: "Tecelagem", OrderIndex: 0},
	{ID: SectorFelpoCru, Name: "Felpo Cru", OrderIndex: 1},
	{ID: SectorTinturaria, Name: "Tinturaria", OrderIndex: 2},
	{ID: SectorConfeccao, Name: "Confecção", OrderIndex: 3},
	{ID: SectorEmbalagem, Name: "Embalagem/Acabamento", OrderIndex: 4},
	{ID: SectorExpedicao, Name: "Stock/Expedição", OrderIndex: 5},
}

// Sectors returns the six sectors in pipeline order.
func Sectors() []Sector {
	out := make([]Sector, len(sectors))
	copy(out, sectors[:])
	return out
}

// SectorByID returns the sector and whether the id is one of the six known ids.
func SectorByID(id SectorID) (Sector, bool) {
	for _, s := range sectors {
		if s.ID == id {
			return s, true
		}
	}
	return Sector{}, false
}

// ValidSector reports whether id names a known sector.
func ValidSector(id SectorID) bool {
	_, ok := SectorByID(id)
	return ok
}

// Downstream returns the sectors strictly after id in pipeline order.
// Unknown ids yield nil.
func Downstream(id SectorID) []Sector {
	s, ok := SectorByID(id)
	if !ok {
		return nil
	}
	out := make([]Sector, 0, len(sectors)-s.OrderIndex-1)
	for _, c := range sectors {
		if c.OrderIndex > s.OrderIndex {
			out = append(out, c)
		}
	}
	return out
}

// ProducedQty reads the quantity already produced at a sector. Tecelagem
// and felpo_cru share the raw-loop counter; confeccao sums robes and towels.
func ProducedQty(o Order, id SectorID) float64 {
	switch id {
	case SectorTecelagem, SectorFelpoCru:
		return o.FelpoCruQty
	case SectorTinturaria:
		return o.TinturariaQty
	case SectorConfeccao:
		return o.ConfRoupoesQty + o.ConfFelposQty
	case SectorEmbalagem:
		return o.EmbAcabQty
	case SectorExpedicao:
		return o.StockCxQty
	default:
		return 0
	}
}

// BaselineDate returns the sector's intrinsic source date on the order,
// used as the cascade reference when no predicted date was set. Embalagem
// and expedicao share the warehouse/export date.
func BaselineDate(o Order, id SectorID) *time.Time {
	switch id {
	case SectorTecelagem:
		return o.DataTec
	case SectorFelpoCru:
		return o.FelpoCruDate
	case SectorTinturaria:
		return o.TinturariaDate
	case SectorConfeccao:
		return o.ConfDate
	case SectorEmbalagem, SectorExpedicao:
		return o.ArmExpDate
	default:
		return nil
	}
}
