package server

import (
	"fmt"
	"time"

	"fiotrack/internal/domain"
	"fiotrack/internal/engine"
)

// Request payloads

type ImportOrderRequest struct {
	ID            string  `json:"id"`
	DocNr         string  `json:"doc_nr"`
	ItemNr        int     `json:"item_nr"`
	ClientCode    string  `json:"client_code,omitempty"`
	ClientName    string  `json:"client_name,omitempty"`
	IssueDate     *string `json:"issue_date,omitempty" format:"date"`
	RequestedDate *string `json:"requested_date,omitempty" format:"date"`
	ArticleCode   string  `json:"article_code,omitempty"`
	Reference     string  `json:"reference,omitempty"`
	Family        string  `json:"family,omitempty"`
	ColorCode     string  `json:"color_code,omitempty"`
	Size          string  `json:"size,omitempty"`
	QtyRequested  float64 `json:"qty_requested"`

	DataTec        *string `json:"data_tec,omitempty" format:"date"`
	FelpoCruQty    float64 `json:"felpo_cru_qty,omitempty"`
	FelpoCruDate   *string `json:"felpo_cru_date,omitempty" format:"date"`
	TinturariaQty  float64 `json:"tinturaria_qty,omitempty"`
	TinturariaDate *string `json:"tinturaria_date,omitempty" format:"date"`
	ConfRoupoesQty float64 `json:"conf_roupoes_qty,omitempty"`
	ConfFelposQty  float64 `json:"conf_felpos_qty,omitempty"`
	ConfDate       *string `json:"conf_date,omitempty" format:"date"`
	EmbAcabQty     float64 `json:"emb_acab_qty,omitempty"`
	ArmExpDate     *string `json:"arm_exp_date,omitempty" format:"date"`
	StockCxQty     float64 `json:"stock_cx_qty,omitempty"`
}

type ImportOrdersRequest struct {
	Orders []ImportOrderRequest `json:"orders"`
}

type SetPredictedDateRequest struct {
	// Date accepts YYYY-MM-DD or RFC 3339; null clears the predicted date.
	Date *string `json:"date"`
}

type SectorEditRequest struct {
	Observation *string `json:"observation,omitempty"`
	StopReason  *string `json:"stop_reason,omitempty"`
}

type SetPriorityRequest struct {
	Priority int `json:"priority" minimum:"0" maximum:"3"`
}

type SetArchivedRequest struct {
	Archived bool `json:"archived"`
}

type RuleRequest struct {
	SectorID      string  `json:"sector_id" enum:"tecelagem,felpo_cru,tinturaria,confeccao,embalagem,expedicao"`
	Label         string  `json:"label,omitempty"`
	ArticleCode   string  `json:"article_code,omitempty"`
	Reference     string  `json:"reference,omitempty"`
	Family        string  `json:"family,omitempty"`
	ColorCode     string  `json:"color_code,omitempty"`
	Size          string  `json:"size,omitempty"`
	PiecesPerHour float64 `json:"pieces_per_hour"`
	HoursPerDay   float64 `json:"hours_per_day,omitempty"`
}

// Response payloads

type SectorResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
}

type QueueEntryResponse struct {
	Order domain.Order             `json:"order"`
	Info  domain.OrderCapacityInfo `json:"info"`
}

type RiskEntryResponse struct {
	Order    domain.Order             `json:"order"`
	SectorID string                   `json:"sector_id"`
	Info     domain.OrderCapacityInfo `json:"info"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

func parseDate(field string, v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, *v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s: %q", field, *v)
}

func importOrder(req ImportOrderRequest) (domain.Order, error) {
	o := domain.Order{
		ID:             req.ID,
		DocNr:          req.DocNr,
		ItemNr:         req.ItemNr,
		ClientCode:     req.ClientCode,
		ClientName:     req.ClientName,
		ArticleCode:    req.ArticleCode,
		Reference:      req.Reference,
		Family:         req.Family,
		ColorCode:      req.ColorCode,
		Size:           req.Size,
		QtyRequested:   req.QtyRequested,
		FelpoCruQty:    req.FelpoCruQty,
		TinturariaQty:  req.TinturariaQty,
		ConfRoupoesQty: req.ConfRoupoesQty,
		ConfFelposQty:  req.ConfFelposQty,
		EmbAcabQty:     req.EmbAcabQty,
		StockCxQty:     req.StockCxQty,
	}
	var err error
	fields := []struct {
		name string
		src  *string
		dst  **time.Time
	}{
		{"issue_date", req.IssueDate, &o.IssueDate},
		{"requested_date", req.RequestedDate, &o.RequestedDate},
		{"data_tec", req.DataTec, &o.DataTec},
		{"felpo_cru_date", req.FelpoCruDate, &o.FelpoCruDate},
		{"tinturaria_date", req.TinturariaDate, &o.TinturariaDate},
		{"conf_date", req.ConfDate, &o.ConfDate},
		{"arm_exp_date", req.ArmExpDate, &o.ArmExpDate},
	}
	for _, f := range fields {
		if *f.dst, err = parseDate(f.name, f.src); err != nil {
			return o, err
		}
	}
	return o, nil
}

func sectorResponse(s domain.Sector, name string) SectorResponse {
	return SectorResponse{ID: string(s.ID), Name: name, OrderIndex: s.OrderIndex}
}

func queueResponses(entries []engine.QueueEntry) []QueueEntryResponse {
	out := make([]QueueEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, QueueEntryResponse{Order: e.Order, Info: e.Info})
	}
	return out
}

func riskResponses(entries []engine.RiskEntry) []RiskEntryResponse {
	out := make([]RiskEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, RiskEntryResponse{Order: e.Order, SectorID: string(e.SectorID), Info: e.Info})
	}
	return out
}

func eventResponses(events []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			ID: e.ID, TS: e.TS, Type: e.Type,
			EntityKind: e.EntityKind, EntityID: e.EntityID,
			ActorID: e.ActorID, Payload: e.Payload,
		})
	}
	return out
}
