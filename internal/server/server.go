// Package server exposes the market feeds, API status, provider selection and
// key management over HTTP, plus a websocket relay of change notifications.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/feed"
	"github.com/Rajchodisetti/trading-dashboard/internal/keys"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
	"github.com/Rajchodisetti/trading-dashboard/internal/providers"
	"github.com/Rajchodisetti/trading-dashboard/internal/status"
	"github.com/Rajchodisetti/trading-dashboard/internal/transport"
)

type Deps struct {
	Streams   []*feed.Stream
	Status    *status.Manager
	Keys      *keys.Service
	Providers *providers.Store
}

type Server struct {
	streams   map[string]*feed.Stream
	status    *status.Manager
	keys      *keys.Service
	providers *providers.Store
	hub       *hub
	router    *mux.Router
	disposers []func()
}

// New wires routes and subscribes the websocket hub to every change source.
func New(d Deps) (*Server, error) {
	s := &Server{
		streams:   make(map[string]*feed.Stream, len(d.Streams)),
		status:    d.Status,
		keys:      d.Keys,
		providers: d.Providers,
		hub:       newHub(),
	}
	for _, st := range d.Streams {
		s.streams[st.Name()] = st
		s.disposers = append(s.disposers, st.Subscribe(func(snap feed.Snapshot) {
			s.hub.broadcast("market", marketSummary(snap))
		}))
	}
	if s.status != nil {
		s.disposers = append(s.disposers, s.status.Subscribe(func(tr status.Transition) {
			s.hub.broadcast("status", tr)
		}))
	}
	if s.providers != nil {
		s.disposers = append(s.disposers, s.providers.Subscribe(func(p providers.Provider) {
			s.hub.broadcast("provider", providerView(p))
		}))
	}
	if s.keys != nil {
		stop, err := s.keys.Watch(func(m transport.Message) {
			s.hub.broadcast("key", m)
		})
		if err != nil {
			return nil, err
		}
		s.disposers = append(s.disposers, stop)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

// Close drops subscriptions and disconnects websocket clients.
func (s *Server) Close() {
	for _, d := range s.disposers {
		d()
	}
	s.disposers = nil
	s.hub.close()
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observ.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/keys", s.hub.serveWS(s.hello)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{stream}", s.handleMarket).Methods(http.MethodGet)
	api.HandleFunc("/markets/{stream}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/status/retry", s.handleRetry).Methods(http.MethodPost)
	api.HandleFunc("/provider", s.handleGetProvider).Methods(http.MethodGet)
	api.HandleFunc("/provider", s.handleSetProvider).Methods(http.MethodPut)
	api.HandleFunc("/keys/{provider}", s.handleCheckKey).Methods(http.MethodGet)
	api.HandleFunc("/keys/{provider}", s.handleSaveKey).Methods(http.MethodPut)
	api.HandleFunc("/keys/{provider}", s.handleRemoveKey).Methods(http.MethodDelete)
	return r
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		observ.RecordDuration("http_request", time.Since(start), map[string]string{"route": route, "method": r.Method})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sources := make(map[string][]adapters.HealthReport, len(s.streams))
	for name, st := range s.streams {
		sources[name] = st.Health()
	}
	body := map[string]any{"ok": true, "streams": len(s.streams), "ws_clients": s.hub.size(), "sources": sources}
	if s.status != nil {
		body["api_status"] = s.status.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

type marketView struct {
	feed.Snapshot
	Ready bool `json:"ready"`
}

func (s *Server) handleMarkets(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]marketView, 0, len(names))
	for _, name := range names {
		snap, ok := s.streams[name].Snapshot()
		snap.Stream = name
		out = append(out, marketView{Snapshot: snap, Ready: ok})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stream(w, r)
	if !ok {
		return
	}
	snap, ready := st.Snapshot()
	if !ready {
		writeError(w, http.StatusServiceUnavailable, "no data yet")
		return
	}
	writeJSON(w, http.StatusOK, marketView{Snapshot: snap, Ready: true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stream(w, r)
	if !ok {
		return
	}
	st.Refresh()
	snap, ready := st.Snapshot()
	writeJSON(w, http.StatusAccepted, marketView{Snapshot: snap, Ready: ready})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) (*feed.Stream, bool) {
	name := mux.Vars(r)["stream"]
	st, ok := s.streams[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown stream "+name)
	}
	return st, ok
}

type statusView struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	KeyMissing bool   `json:"keyMissing"`
}

func (s *Server) statusView() statusView {
	v := statusView{Status: string(s.status.Status())}
	if err := s.status.Err(); err != nil {
		v.Reason = err.Error()
		v.KeyMissing = errors.Is(err, status.ErrKeyUnavailable)
	}
	return v
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "status manager not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.statusView())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "status manager not configured")
		return
	}
	s.status.Retry(r.Context())
	writeJSON(w, http.StatusOK, s.statusView())
}

type providerJSON struct {
	Provider     providers.Provider `json:"provider"`
	DisplayName  string             `json:"displayName"`
	DefaultModel string             `json:"defaultModel"`
	Models       []string           `json:"models"`
}

func providerView(p providers.Provider) providerJSON {
	info := p.Info()
	return providerJSON{Provider: p, DisplayName: info.DisplayName, DefaultModel: info.DefaultModel, Models: info.Models}
}

func (s *Server) handleGetProvider(w http.ResponseWriter, _ *http.Request) {
	if s.providers == nil {
		writeError(w, http.StatusNotFound, "provider store not configured")
		return
	}
	writeJSON(w, http.StatusOK, providerView(s.providers.Active()))
}

func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	if s.providers == nil {
		writeError(w, http.StatusNotFound, "provider store not configured")
		return
	}
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := providers.Parse(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.providers.Set(p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, providerView(s.providers.Active()))
}

func (s *Server) handleCheckKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, http.StatusNotFound, "key service not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.keys.CheckAvailability(r.Context(), mux.Vars(r)["provider"]))
}

func (s *Server) handleSaveKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, http.StatusNotFound, "key service not configured")
		return
	}
	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider := keys.Normalize(mux.Vars(r)["provider"])
	if err := s.keys.SaveKey(r.Context(), provider, req.Secret); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Watch skips our own origin, so local clients hear about it here.
	s.hub.broadcast("key", map[string]any{"type": transport.TypeKeySaved, "provider": provider})
	writeJSON(w, http.StatusOK, keys.Availability{Provider: provider, Available: true, Source: keys.SourceLocalCache})
}

func (s *Server) handleRemoveKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeError(w, http.StatusNotFound, "key service not configured")
		return
	}
	provider := keys.Normalize(mux.Vars(r)["provider"])
	if err := s.keys.RemoveKey(r.Context(), provider); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.hub.broadcast("key", map[string]any{"type": transport.TypeKeyRemoved, "provider": provider})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) hello() any {
	h := map[string]any{}
	if s.status != nil {
		h["status"] = s.statusView()
	}
	if s.providers != nil {
		h["provider"] = providerView(s.providers.Active())
	}
	return h
}

type marketSummaryJSON struct {
	Stream     string `json:"stream"`
	Tier       string `json:"tier"`
	Records    int    `json:"records"`
	Degraded   string `json:"degraded,omitempty"`
	ErrorCount int    `json:"errorCount"`
	InFlight   bool   `json:"inFlight"`
}

func marketSummary(snap feed.Snapshot) marketSummaryJSON {
	return marketSummaryJSON{
		Stream:     snap.Stream,
		Tier:       string(snap.Outcome.Tier),
		Records:    len(snap.Outcome.Records),
		Degraded:   snap.Degraded,
		ErrorCount: snap.ErrorCount,
		InFlight:   snap.InFlight,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observ.Log("http_write_failed", map[string]any{"error": err.Error(), "level": "warn"})
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
