package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/cache"
	"github.com/a-dev-mobile/t-indicators/internal/model"
)

type stubReader struct {
	values []model.Value
}

func (r *stubReader) ReadValues(_ context.Context, specID string, from, to time.Time) ([]model.Value, error) {
	var out []model.Value
	for _, v := range r.values {
		if v.SpecID == specID && !v.TS.Before(from) && !v.TS.After(to) {
			out = append(out, v)
		}
	}
	return out, nil
}

type stubSymbols struct {
	symbols []string
	err     error
}

func (s *stubSymbols) Symbols(context.Context) ([]string, error) { return s.symbols, s.err }

func newRESTServer(t *testing.T, c *cache.Cache, reader model.ValueReader, symbols SymbolLister) (*Server, *httptest.Server, *stubRegistrar) {
	t.Helper()
	reg := newStubRegistrar()
	hub := NewHub(reg, c, nil)
	srv := NewServer(hub, reader, symbols)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts, reg
}

func getJSON(t *testing.T, ts *httptest.Server, path string, wantStatus int, out interface{}) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
}

func TestValueEndpoint_Latest(t *testing.T) {
	c := cache.New(32)
	specID := "BTCUSDT:1m:SMA_3"
	c.Publish(committedVal(specID, 0, 12.0))

	_, ts, reg := newRESTServer(t, c, nil, nil)

	var resp valueResponse
	getJSON(t, ts, "/api/v1/value?symbol=BTCUSDT&tf=1m&kind=sma&period=3", http.StatusOK, &resp)

	if resp.SpecID != specID || resp.Status != model.StatusReady {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Value == nil || resp.Value.Outputs["value"] != 12.0 {
		t.Fatalf("value = %+v, want 12.0", resp.Value)
	}
	if !reg.Registered(specID) {
		t.Fatal("query did not lazily register the spec")
	}
}

func TestValueEndpoint_WarmingBeforeFirstCommit(t *testing.T) {
	_, ts, _ := newRESTServer(t, cache.New(32), nil, nil)

	var resp valueResponse
	getJSON(t, ts, "/api/v1/value?symbol=BTCUSDT&tf=1m&kind=sma&period=3", http.StatusOK, &resp)
	if resp.Status != model.StatusWarming || resp.Value != nil {
		t.Fatalf("resp = %+v, want warming with no value", resp)
	}
}

func TestValueEndpoint_IncludesProvisional(t *testing.T) {
	c := cache.New(32)
	specID := "BTCUSDT:1m:SMA_3"
	c.Publish(committedVal(specID, 0, 12.0))
	prov := committedVal(specID, 1, 13.5)
	prov.Provisional = true
	c.Publish(prov)

	_, ts, _ := newRESTServer(t, c, nil, nil)

	var resp valueResponse
	getJSON(t, ts, "/api/v1/value?symbol=BTCUSDT&tf=1m&kind=sma&period=3", http.StatusOK, &resp)
	if resp.Provisional == nil || resp.Provisional.Outputs["value"] != 13.5 {
		t.Fatalf("provisional = %+v, want 13.5", resp.Provisional)
	}
}

func TestValueEndpoint_BadRequest(t *testing.T) {
	_, ts, _ := newRESTServer(t, cache.New(32), nil, nil)
	getJSON(t, ts, "/api/v1/value?tf=1m&kind=sma&period=3", http.StatusBadRequest, nil)
	getJSON(t, ts, "/api/v1/value?symbol=BTCUSDT&tf=7m&kind=sma&period=3", http.StatusBadRequest, nil)
}

func TestValueEndpoint_UnknownSymbol(t *testing.T) {
	reg := newStubRegistrar()
	reg.err = model.ErrNotFound
	hub := NewHub(reg, cache.New(32), nil)
	srv := NewServer(hub, nil, nil)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	getJSON(t, ts, "/api/v1/value?symbol=NOPE&tf=1m&kind=sma&period=3", http.StatusNotFound, nil)
}

func TestSeriesEndpoint_MergesStoreAndCache(t *testing.T) {
	c := cache.New(32)
	specID := "BTCUSDT:1m:SMA_3"
	// Cache holds minutes 10 and 11; the durable store holds minutes 8 and 9.
	c.Publish(committedVal(specID, 10, 20.0))
	c.Publish(committedVal(specID, 11, 21.0))
	reader := &stubReader{values: []model.Value{
		committedVal(specID, 8, 18.0),
		committedVal(specID, 9, 19.0),
	}}

	_, ts, _ := newRESTServer(t, c, reader, nil)

	from := time.Date(2024, 1, 2, 9, 38, 0, 0, time.UTC).Format(time.RFC3339)
	to := time.Date(2024, 1, 2, 9, 42, 0, 0, time.UTC).Format(time.RFC3339)

	var resp struct {
		SpecID string        `json:"spec_id"`
		Values []model.Value `json:"values"`
	}
	getJSON(t, ts, "/api/v1/series?symbol=BTCUSDT&tf=1m&kind=sma&period=3&from="+from+"&to="+to,
		http.StatusOK, &resp)

	if len(resp.Values) != 4 {
		t.Fatalf("got %d values, want 4", len(resp.Values))
	}
	want := []float64{18.0, 19.0, 20.0, 21.0}
	for i, w := range want {
		if got := resp.Values[i].Outputs["value"]; got != w {
			t.Fatalf("values[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestSeriesEndpoint_CacheOnlyRange(t *testing.T) {
	c := cache.New(32)
	specID := "BTCUSDT:1m:SMA_3"
	c.Publish(committedVal(specID, 10, 20.0))
	c.Publish(committedVal(specID, 11, 21.0))
	reader := &stubReader{values: []model.Value{committedVal(specID, 8, 18.0)}}

	_, ts, _ := newRESTServer(t, c, reader, nil)

	from := time.Date(2024, 1, 2, 9, 40, 0, 0, time.UTC).Format(time.RFC3339)
	var resp struct {
		Values []model.Value `json:"values"`
	}
	getJSON(t, ts, "/api/v1/series?symbol=BTCUSDT&tf=1m&kind=sma&period=3&from="+from,
		http.StatusOK, &resp)

	if len(resp.Values) != 2 {
		t.Fatalf("got %d values, want 2 from cache only", len(resp.Values))
	}
}

func TestKindsEndpoint(t *testing.T) {
	_, ts, _ := newRESTServer(t, cache.New(32), nil, nil)

	var kinds []kindInfo
	getJSON(t, ts, "/api/v1/kinds", http.StatusOK, &kinds)

	found := false
	for _, k := range kinds {
		if k.Kind == "macd" {
			found = true
			if len(k.Params) != 3 {
				t.Fatalf("macd params = %v", k.Params)
			}
		}
	}
	if !found {
		t.Fatal("macd missing from kinds catalog")
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	_, ts, _ := newRESTServer(t, cache.New(32), nil, &stubSymbols{symbols: []string{"BTCUSDT", "ETHUSDT"}})

	var symbols []string
	getJSON(t, ts, "/api/v1/symbols", http.StatusOK, &symbols)
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" {
		t.Fatalf("symbols = %v", symbols)
	}
}

func TestHealthz(t *testing.T) {
	_, ts, _ := newRESTServer(t, cache.New(32), nil, nil)

	var resp map[string]interface{}
	getJSON(t, ts, "/healthz", http.StatusOK, &resp)
	if resp["status"] != "ok" {
		t.Fatalf("healthz = %v", resp)
	}
}

func TestHealthDB_ReportsFailingStore(t *testing.T) {
	srv, ts, _ := newRESTServer(t, cache.New(32), nil, nil)
	srv.AddProbe("redis", func(context.Context) error { return nil })
	srv.AddProbe("sqlite", func(context.Context) error { return errors.New("disk gone") })

	var resp struct {
		Healthy bool              `json:"healthy"`
		Stores  map[string]string `json:"stores"`
	}
	getJSON(t, ts, "/health/db", http.StatusServiceUnavailable, &resp)
	if resp.Healthy || resp.Stores["redis"] != "ok" || resp.Stores["sqlite"] != "disk gone" {
		t.Fatalf("health/db = %+v", resp)
	}
}
