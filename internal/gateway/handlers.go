package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/a-dev-mobile/t-indicators/internal/cache"
	"github.com/a-dev-mobile/t-indicators/internal/model"
	"github.com/a-dev-mobile/t-indicators/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SymbolLister lists the known tradable symbols.
type SymbolLister interface {
	Symbols(ctx context.Context) ([]string, error)
}

// Probe checks one backing store for /health/db.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server bundles the REST and WebSocket surface.
type Server struct {
	hub     *Hub
	reg     Registrar
	cache   *cache.Cache
	reader  model.ValueReader // nil disables the persisted-series fallback
	symbols SymbolLister      // nil yields an empty symbol list
	probes  []Probe
	start   time.Time
}

// NewServer creates the serving facade over the hub's engine and cache.
func NewServer(hub *Hub, reader model.ValueReader, symbols SymbolLister) *Server {
	return &Server{
		hub:     hub,
		reg:     hub.reg,
		cache:   hub.cache,
		reader:  reader,
		symbols: symbols,
		start:   time.Now(),
	}
}

// AddProbe registers a backing-store check for /health/db.
func (s *Server) AddProbe(name string, check func(ctx context.Context) error) {
	s.probes = append(s.probes, Probe{Name: name, Check: check})
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/v1/value", s.handleValue)
	mux.HandleFunc("/api/v1/series", s.handleSeries)
	mux.HandleFunc("/api/v1/kinds", s.handleKinds)
	mux.HandleFunc("/api/v1/symbols", s.handleSymbols)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/health/db", s.handleHealthDB)
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	s.hub.HandleWS(conn)
}

// specFromQuery builds a Spec from symbol/tf/kind plus any recognized
// parameter query values.
func specFromQuery(r *http.Request) (model.Spec, error) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		return model.Spec{}, errors.New("symbol is required")
	}
	tf, err := model.ParseTimeframe(q.Get("tf"))
	if err != nil {
		return model.Spec{}, err
	}
	kind := q.Get("kind")
	if kind == "" {
		return model.Spec{}, errors.New("kind is required")
	}

	params := make(map[string]float64)
	for _, name := range []string{"period", "fast", "slow", "signal", "mult"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.Spec{}, errors.New("invalid parameter " + name)
		}
		params[name] = v
	}
	return model.Spec{Symbol: symbol, Timeframe: tf, Kind: kind, Params: params}, nil
}

// resolveSpec parses the query and lazily registers the spec if unseen.
func (s *Server) resolveSpec(w http.ResponseWriter, r *http.Request) (model.Spec, bool) {
	spec, err := specFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.Spec{}, false
	}
	if err := s.reg.Register(r.Context(), spec); err != nil {
		switch {
		case errors.Is(err, model.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, model.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown symbol: "+spec.Symbol)
		default:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		}
		return model.Spec{}, false
	}
	return spec, true
}

type valueResponse struct {
	SpecID      string       `json:"spec_id"`
	Name        string       `json:"name"`
	Status      model.Status `json:"status"`
	Value       *model.Value `json:"value,omitempty"`
	Provisional *model.Value `json:"provisional,omitempty"`
}

// handleValue serves the latest (or at=) value for a spec, registering it on
// first sight. A just-registered spec answers warming with no value yet.
func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	spec, ok := s.resolveSpec(w, r)
	if !ok {
		return
	}
	specID := spec.ID()
	defer s.reg.Touch(spec)

	if atStr := r.URL.Query().Get("at"); atStr != "" {
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid at timestamp")
			return
		}
		s.serveValueAt(w, r, spec, at)
		return
	}

	resp := valueResponse{SpecID: specID, Name: spec.Name(), Status: model.StatusWarming}
	if latest, ok := s.cache.Latest(specID); ok {
		resp.Status = latest.Status
		if latest.Outputs != nil {
			resp.Value = &latest
		}
	}
	if prov, ok := s.cache.Provisional(specID); ok {
		resp.Provisional = &prov
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) serveValueAt(w http.ResponseWriter, r *http.Request, spec model.Spec, at time.Time) {
	specID := spec.ID()
	if hits := s.cache.Range(specID, at, at); len(hits) > 0 {
		v := hits[0]
		writeJSON(w, http.StatusOK, valueResponse{
			SpecID: specID, Name: spec.Name(), Status: v.Status, Value: &v,
		})
		return
	}
	if s.reader != nil {
		values, err := s.reader.ReadValues(r.Context(), specID, at, at)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if len(values) > 0 {
			v := values[0]
			writeJSON(w, http.StatusOK, valueResponse{
				SpecID: specID, Name: spec.Name(), Status: v.Status, Value: &v,
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "no value at "+at.Format(time.RFC3339))
}

// handleSeries serves a committed-value range: cache window first, persisted
// store for anything older.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	spec, ok := s.resolveSpec(w, r)
	if !ok {
		return
	}
	specID := spec.ID()
	defer s.reg.Touch(spec)

	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	to := time.Now().UTC()
	if toStr := q.Get("to"); toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
	}

	cached := s.cache.Range(specID, from, to)

	// Anything older than the cache window comes from the durable store.
	var stored []model.Value
	if s.reader != nil {
		dbTo := to
		if oldest, ok := s.cache.OldestCached(specID); ok {
			if !from.Before(oldest) {
				dbTo = from.Add(-time.Nanosecond) // fully cached
			} else if dbTo.After(oldest) {
				dbTo = oldest.Add(-time.Nanosecond)
			}
		}
		if !dbTo.Before(from) {
			stored, err = s.reader.ReadValues(r.Context(), specID, from, dbTo)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
	}

	out := make([]model.Value, 0, len(stored)+len(cached))
	out = append(out, stored...)
	out = append(out, cached...)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spec_id": specID,
		"name":    spec.Name(),
		"values":  out,
	})
}

// kindInfo describes one catalog entry for /api/v1/kinds.
type kindInfo struct {
	Kind   string   `json:"kind"`
	Params []string `json:"params"`
}

var kindParams = map[registry.Kind][]string{
	registry.KindSMA:    {"period"},
	registry.KindEMA:    {"period"},
	registry.KindSMMA:   {"period"},
	registry.KindRSI:    {"period"},
	registry.KindMACD:   {"fast", "slow", "signal"},
	registry.KindBBands: {"period", "mult"},
}

func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	kinds := registry.Kinds()
	out := make([]kindInfo, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, kindInfo{Kind: string(k), Params: kindParams[k]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	if s.symbols == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	symbols, err := s.symbols.Symbols(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, symbols)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"ws_clients": s.hub.ClientCount(),
		"uptime_sec": int64(time.Since(s.start).Seconds()),
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	result := make(map[string]string, len(s.probes))
	healthy := true
	for _, p := range s.probes {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := p.Check(ctx)
		cancel()
		if err != nil {
			result[p.Name] = err.Error()
			healthy = false
		} else {
			result[p.Name] = "ok"
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy": healthy,
		"stores":  result,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
