package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fiotrack/internal/config"
	"fiotrack/internal/db"
	"fiotrack/internal/domain"
	"fiotrack/internal/engine"
	"fiotrack/internal/migrate"
)

const testSecret = "test-secret"

var frozenNow = time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC) // a Monday

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("plant-1"))
	e.Now = func() time.Time { return frozenNow }
	e.Events.Now = e.Now
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func importTestOrder(t *testing.T, srv *httptest.Server, token string) {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/orders/import", token, map[string]any{
		"orders": []map[string]any{{
			"id":              "o1",
			"doc_nr":          "DOC-1",
			"item_nr":         1,
			"client_name":     "Hotelaria Sul",
			"requested_date":  "2024-01-31",
			"family":          "toalhas",
			"qty_requested":   1000,
			"felpo_cru_qty":   200,
			"felpo_cru_date":  "2024-01-12",
			"tinturaria_date": "2024-01-20",
			"conf_date":       "2024-01-24",
			"arm_exp_date":    "2024-01-28",
		}},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v0/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/orders", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code = %q, want unauthorized", envelope.Error.Code)
	}

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v0/orders", "not-a-jwt", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestPredictedDateCascadeOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	token := signToken(t, "planner-1")
	importTestOrder(t, srv, token)

	res, data := doJSON(t, http.MethodPut, srv.URL+"/v0/orders/o1/sectors/felpo_cru/predicted-date", token, map[string]any{
		"date": "2024-01-17",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set predicted date status %d: %s", res.StatusCode, string(data))
	}
	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if d := order.PredictedDate(domain.SectorTinturaria); d == nil || !d.Equal(time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("tinturaria predicted date = %v, want 2024-01-25", d)
	}
	if !order.PredictedPending[domain.SectorTinturaria] {
		t.Fatal("tinturaria should be pending")
	}

	res, data = doJSON(t, http.MethodPost, srv.URL+"/v0/orders/o1/sectors/tinturaria/predicted-date/validate", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	// Unmarshal into a reused map keeps existing entries; start from a zero
	// Order so the cleared pending flag is observable.
	order = domain.Order{}
	if err := json.Unmarshal(data, &order); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}
	if order.PredictedPending[domain.SectorTinturaria] {
		t.Fatal("pending flag should be cleared after validation")
	}
}

func TestRuleAndCapacityOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	token := signToken(t, "planner-1")
	importTestOrder(t, srv, token)

	res, data := doJSON(t, http.MethodPost, srv.URL+"/v0/rules", token, map[string]any{
		"sector_id":       "felpo_cru",
		"family":          "toalhas",
		"pieces_per_hour": 50,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}
	var rule domain.CapacityRule
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}
	if rule.HoursPerDay != 24 {
		t.Fatalf("hours per day should default to 24, got %v", rule.HoursPerDay)
	}

	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/orders/o1/sectors/felpo_cru/capacity", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("capacity status %d: %s", res.StatusCode, string(data))
	}
	var info domain.OrderCapacityInfo
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("unmarshal info: %v", err)
	}
	if info.RemainingQty != 800 || info.EstimatedDays != 1 {
		t.Fatalf("remaining=%v days=%d, want 800 and 1", info.RemainingQty, info.EstimatedDays)
	}

	res, data = doJSON(t, http.MethodDelete, srv.URL+"/v0/rules/"+rule.ID, token, nil)
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete rule status %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)
	token := signToken(t, "planner-1")

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/orders/missing", token, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %q, want not_found", envelope.Error.Code)
	}

	importTestOrder(t, srv, token)
	res, data = doJSON(t, http.MethodGet, srv.URL+"/v0/orders/o1/sectors/estamparia/capacity", token, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown sector, got %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "unknown_sector" {
		t.Fatalf("error code = %q, want unknown_sector", envelope.Error.Code)
	}
}

func TestSectorsListing(t *testing.T) {
	srv := newTestServer(t)
	token := signToken(t, "planner-1")

	res, data := doJSON(t, http.MethodGet, srv.URL+"/v0/sectors", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sectors status %d: %s", res.StatusCode, string(data))
	}
	var sectors []SectorResponse
	if err := json.Unmarshal(data, &sectors); err != nil {
		t.Fatalf("unmarshal sectors: %v", err)
	}
	if len(sectors) != 6 {
		t.Fatalf("expected 6 sectors, got %d", len(sectors))
	}
	if sectors[0].ID != "tecelagem" || sectors[5].ID != "expedicao" {
		t.Fatalf("pipeline order wrong: %+v", sectors)
	}
}
