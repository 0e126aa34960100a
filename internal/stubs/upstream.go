// Package stubs serves local stand-ins for the remote market-data endpoints,
// the validation function and the key capability check. Each endpoint has a
// failure switch so degraded paths can be exercised end to end.
package stubs

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// Endpoint names accepted by SetFailing and the admin route.
const (
	EndpointPrimary    = "primary"
	EndpointCollector  = "collector"
	EndpointValidation = "validation"
	EndpointCapability = "capability"
)

// Upstream holds the stub state. The zero value is not usable; call NewUpstream.
type Upstream struct {
	gen *adapters.SyntheticGenerator

	mu      sync.Mutex
	failing map[string]bool
	reject  bool
	keys    map[string]bool
	hits    map[string]int
}

func NewUpstream(gen *adapters.SyntheticGenerator) *Upstream {
	if gen == nil {
		gen = adapters.NewSyntheticGenerator()
	}
	return &Upstream{
		gen:     gen,
		failing: make(map[string]bool),
		keys:    make(map[string]bool),
		hits:    make(map[string]int),
	}
}

// SetFailing makes endpoint answer 503 until cleared.
func (u *Upstream) SetFailing(endpoint string, failing bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failing[endpoint] = failing
}

// SetReject makes the validation endpoint answer {valid:false}.
func (u *Upstream) SetReject(reject bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reject = reject
}

// SetKey records whether the capability endpoint reports a server-side key.
func (u *Upstream) SetKey(service string, configured bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys[service] = configured
}

// Hits returns how many requests endpoint has received.
func (u *Upstream) Hits(endpoint string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[endpoint]
}

// Router mounts every stub endpoint plus /health and the admin switch.
func (u *Upstream) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/primary", u.guard(EndpointPrimary, u.servePrimary)).Methods(http.MethodPost)
	r.HandleFunc("/collector", u.guard(EndpointCollector, u.serveCollector)).Methods(http.MethodPost)
	r.HandleFunc("/validate", u.guard(EndpointValidation, u.serveValidation)).Methods(http.MethodPost)
	r.HandleFunc("/capability", u.guard(EndpointCapability, u.serveCapability)).Methods(http.MethodPost)
	r.HandleFunc("/admin/fail/{endpoint}", u.serveAdmin).Methods(http.MethodPost)
	return r
}

func (u *Upstream) guard(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.hits[endpoint]++
		failing := u.failing[endpoint]
		u.mu.Unlock()

		observ.IncCounter("stub_requests_total", map[string]string{"endpoint": endpoint})
		if failing {
			http.Error(w, endpoint+" unavailable", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

type rpcRequest struct {
	Action string `json:"action"`
}

func decodeRPC(w http.ResponseWriter, r *http.Request) rpcRequest {
	var req rpcRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req)
	return req
}

// servePrimary answers with a bare record array.
func (u *Upstream) servePrimary(w http.ResponseWriter, r *http.Request) {
	if decodeRPC(w, r).Action == "status_check" {
		writeJSON(w, map[string]any{"status": "ok"})
		return
	}
	writeJSON(w, u.gen.Generate())
}

// serveCollector wraps records in {data: [...]} and honours status_check.
func (u *Upstream) serveCollector(w http.ResponseWriter, r *http.Request) {
	if decodeRPC(w, r).Action == "status_check" {
		writeJSON(w, map[string]any{"status": "ok", "checkedAt": time.Now().UTC().Format(time.RFC3339)})
		return
	}
	writeJSON(w, map[string]any{"data": u.gen.Generate()})
}

func (u *Upstream) serveValidation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload json.RawMessage `json:"payload"`
		Source  string          `json:"source"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	u.mu.Lock()
	reject := u.reject
	u.mu.Unlock()

	if reject {
		writeJSON(w, map[string]any{"valid": false, "data": nil, "error": "payload rejected for " + req.Source})
		return
	}
	writeJSON(w, map[string]any{"valid": true, "data": req.Payload, "error": nil})
}

func (u *Upstream) serveCapability(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service     string `json:"service"`
		CheckSecret bool   `json:"checkSecret"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}

	u.mu.Lock()
	all := make(map[string]bool, len(u.keys))
	for k, v := range u.keys {
		all[k] = v
	}
	u.mu.Unlock()

	set := all[req.Service]
	reply := map[string]any{"available": set, "allKeys": all}
	if req.CheckSecret {
		reply["secretSet"] = set
	}
	writeJSON(w, reply)
}

// serveAdmin flips a failure switch: POST /admin/fail/primary?on=true.
func (u *Upstream) serveAdmin(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]
	switch endpoint {
	case EndpointPrimary, EndpointCollector, EndpointValidation, EndpointCapability:
	default:
		http.Error(w, "unknown endpoint "+endpoint, http.StatusNotFound)
		return
	}
	on := true
	if v := r.URL.Query().Get("on"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "bad on value", http.StatusBadRequest)
			return
		}
		on = b
	}
	u.SetFailing(endpoint, on)
	observ.Log("stub_failure_switch", map[string]any{"endpoint": endpoint, "failing": on})
	writeJSON(w, u.state())
}

func (u *Upstream) state() map[string]any {
	u.mu.Lock()
	defer u.mu.Unlock()
	failing := make([]string, 0, len(u.failing))
	for k, v := range u.failing {
		if v {
			failing = append(failing, k)
		}
	}
	sort.Strings(failing)
	return map[string]any{"failing": failing, "reject": u.reject}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.Log("stub_write_failed", map[string]any{"error": err.Error(), "level": "warn"})
	}
}
