package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notfall/dispatchd/internal/analytics"
	"github.com/notfall/dispatchd/internal/config"
	"github.com/notfall/dispatchd/internal/exporter"
	"github.com/notfall/dispatchd/internal/hub"
	"github.com/notfall/dispatchd/internal/store"
	"github.com/notfall/dispatchd/internal/webui"
)

type API struct {
	cfg  *config.Config
	hub  *hub.Hub
	ws   http.Handler
	st   *store.Store // nil when analytics persistence is off
	sink *analytics.Sink
	reg  *prometheus.Registry
	log  *zap.Logger
}

func New(cfg *config.Config, h *hub.Hub, ws http.Handler, st *store.Store, sink *analytics.Sink, reg *prometheus.Registry, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{cfg: cfg, hub: h, ws: ws, st: st, sink: sink, reg: reg, log: log}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if a.reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	}

	// Live widget stream
	r.Handle("/ws/widgets", a.ws)

	// Registry/ops snapshot.
	r.Get("/hub/stats", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"hub": a.hub.Snapshot()}
		if a.sink != nil {
			out["analytics"] = a.sink.Health()
		}
		writeJSON(w, out)
	})

	// Demo publish surface: the stand-in for the platform controllers, which
	// are external collaborators of the hub. Fire-and-forget by design, so
	// these always return 202.
	r.Post("/demo/event", func(w http.ResponseWriter, r *http.Request) {
		var ev hub.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if ev.Topic == "" {
			http.Error(w, "topic required", 400)
			return
		}
		a.hub.Publish(ev)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/demo/task/offer", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EngineerIDs []string        `json:"engineerIds"`
			Payload     json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if len(req.EngineerIDs) == 0 {
			http.Error(w, "engineerIds required", 400)
			return
		}
		for _, id := range req.EngineerIDs {
			a.hub.OfferToEngineer(id, req.Payload)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/demo/task/update", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EngineerID string          `json:"engineerId"`
			ClientID   string          `json:"clientId"`
			Payload    json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		a.hub.UpdateForParties(req.EngineerID, req.ClientID, req.Payload)
		w.WriteHeader(http.StatusAccepted)
	})

	r.Post("/demo/task/withdraw", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			EngineerIDs []string        `json:"engineerIds"`
			Payload     json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		a.hub.WithdrawFromEngineers(req.EngineerIDs, req.Payload)
		w.WriteHeader(http.StatusAccepted)
	})

	// Ingested analytics events (requires db).
	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		if a.st == nil {
			http.Error(w, "analytics persistence disabled", http.StatusServiceUnavailable)
			return
		}
		limit := 500
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, err := strconv.Atoi(l); err == nil {
				limit = v
			}
		}
		events, err := a.st.ListAnalyticsEvents(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, events)
	})

	r.Get("/events/counts", func(w http.ResponseWriter, r *http.Request) {
		if a.st == nil {
			http.Error(w, "analytics persistence disabled", http.StatusServiceUnavailable)
			return
		}
		counts, err := a.st.CountAnalyticsByName(r.Context(), 50)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, counts)
	})

	// GET /export/events?format=json|csv
	r.Get("/export/events", func(w http.ResponseWriter, r *http.Request) {
		if a.st == nil {
			http.Error(w, "analytics persistence disabled", http.StatusServiceUnavailable)
			return
		}
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}
		limit := 10000
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, err := strconv.Atoi(l); err == nil {
				limit = v
			}
		}
		events, err := a.st.ListAnalyticsEvents(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		var (
			b  []byte
			ct string
		)
		switch format {
		case "json":
			b, ct, err = exporter.ExportEventsJSON(events)
		case "csv":
			b, ct, err = exporter.ExportEventsCSV(events)
		default:
			http.Error(w, "unknown format", 400)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(200)
		_, _ = w.Write(b)
	})

	// Demo console
	ui, uiErr := webui.Handler()
	if uiErr == nil {
		r.Handle("/*", ui)
	}

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
