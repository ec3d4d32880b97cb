// Package diag serves the relay server's diagnostics over HTTP: health,
// Prometheus metrics, read-only group and liveness snapshots, the endpoint
// through which the ranking of a finished race is supplied, and the WebSocket
// entry point of the control channel.
//
// Snapshots are taken without stopping the relay and may be slightly stale.
package diag

import (
	"encoding/json"
	"net/http"
	"strconv"

	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Handler serves the diagnostics routes.
type Handler struct {
	coordinator *group.Coordinator
	store       session.Store
	gatherer    prometheus.Gatherer
	ws          http.Handler
	router      chi.Router
}

// Cfg configures a Handler.
type Cfg func(*Handler) error

// WithCoordinator exposes the coordinator's groups.
func WithCoordinator(c *group.Coordinator) Cfg {
	return func(h *Handler) error {
		h.coordinator = c
		return nil
	}
}

// WithSessionStore exposes the liveness table.
func WithSessionStore(store session.Store) Cfg {
	return func(h *Handler) error {
		h.store = store
		return nil
	}
}

// WithGatherer serves metrics from g.
func WithGatherer(g prometheus.Gatherer) Cfg {
	return func(h *Handler) error {
		h.gatherer = g
		return nil
	}
}

// WithWebSocket mounts a WebSocket listener at /ws.
func WithWebSocket(ws http.Handler) Cfg {
	return func(h *Handler) error {
		h.ws = ws
		return nil
	}
}

// NewHandler creates a new Handler.
func NewHandler(cfgs ...Cfg) (*Handler, error) {
	h := &Handler{}
	for _, cfg := range cfgs {
		if err := cfg(h); err != nil {
			return nil, errors.Wrap(err, "apply diag Handler cfg failed")
		}
	}
	if h.coordinator == nil || h.store == nil {
		return nil, errors.New("diag handler requires a coordinator and a session store")
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Get("/groups", h.listGroups)
	r.Get("/groups/{id}", h.getGroup)
	r.Post("/groups/{id}/result", h.postResult)
	r.Get("/liveness", h.liveness)
	if h.ws != nil {
		r.Handle("/ws", h.ws)
	}
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Warn("write diagnostics response failed")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type groupsResponse struct {
	Waiting *group.Snapshot  `json:"waiting,omitempty"`
	Groups  []group.Snapshot `json:"groups"`
}

func (h *Handler) listGroups(w http.ResponseWriter, _ *http.Request) {
	resp := groupsResponse{Groups: []group.Snapshot{}}
	if g := h.coordinator.Waiting(); g != nil {
		snap := g.Snapshot()
		resp.Waiting = &snap
	}
	for _, g := range h.coordinator.Groups() {
		resp.Groups = append(resp.Groups, g.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*group.Group, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "parse group id failed"))
		return nil, false
	}
	g, err := h.coordinator.Group(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return g, true
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	if g, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, g.Snapshot())
	}
}

type resultRequest struct {
	Ranking []string `json:"ranking"`
}

// postResult relays a ranking computed by an external collaborator.
func (h *Handler) postResult(w http.ResponseWriter, r *http.Request) {
	g, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode ranking failed"))
		return
	}
	if err := h.coordinator.Finish(r.Context(), g.ID, req.Ranking); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, group.ErrGroupNotActive) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Snapshot())
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.List())
}
