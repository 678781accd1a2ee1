// Package api implements the HTTP surface (C6): a chi router exposing
// /health, /search, /latest, /peers, and /metrics, following the same
// Server-wrapper shape (struct holds the http.Server plus its dependencies,
// NewServer wires the mux, Start/Shutdown manage the listener) the rest of
// the corpus uses for its HTTP front doors.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bgpkit/broker/internal/catalog"
	"github.com/bgpkit/broker/internal/metrics"
	"github.com/bgpkit/broker/pkg/broker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Querier abstracts the Index Store operations the API needs, so handlers
// can be tested against a fake without a real SQLite file.
type Querier interface {
	Query(ctx context.Context, f broker.Filter, collectorNames []string) ([]broker.BrokerItem, error)
	Count(ctx context.Context, f broker.Filter, collectorNames []string) (int64, error)
	LatestPerCollector(ctx context.Context) ([]broker.LatestFile, error)
	GetSnapshotFiles(ctx context.Context, collectors []string, targetTs time.Time) (map[string]broker.Snapshot, error)
}

// PeersSource is a read-through data source for BrokerPeer rows. The core
// never produces peer rows itself (§3); the API fetches them from an
// upstream bgpkit-commons-shaped provider.
type PeersSource interface {
	Peers(ctx context.Context) ([]broker.BrokerPeer, error)
}

// Server wraps chi's router with the broker's query dependencies.
type Server struct {
	srv      *http.Server
	store    Querier
	peers    PeersSource
	logger   *zap.Logger
	rootPath string

	peersCacheMu sync.Mutex
	peersCache   []broker.BrokerPeer
	peersCacheAt time.Time
}

func NewServer(listen, rootPath string, store Querier, peers PeersSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rootPath == "" {
		rootPath = "/"
	}

	s := &Server{store: store, peers: peers, logger: logger, rootPath: rootPath}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Route(strings.TrimSuffix(rootPath, "/"), func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/search", s.handleSearch)
		r.Post("/search", s.handleSearch)
		r.Get("/latest", s.handleLatest)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/peers", s.handlePeers)
		r.Handle("/metrics", promhttp.Handler())
	})

	s.srv = &http.Server{Addr: listen, Handler: r}
	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("api: listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api: server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		statusClass := strconv.Itoa(rec.status/100) + "xx"
		metrics.APIRequestsTotal.WithLabelValues(route, statusClass).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError converts the §7 error taxonomy into the matching HTTP status:
// ConfigurationError -> 400 with field+valid-values; anything else -> 500
// with a sanitized message.
func writeError(w http.ResponseWriter, err error) {
	if cfgErr, ok := err.(*broker.ConfigurationError); ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": cfgErr.Error(),
			"field": cfgErr.Field,
			"valid": cfgErr.Valid,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	maxDelayStr := r.URL.Query().Get("max_delay_secs")
	if maxDelayStr == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	maxDelay, err := strconv.ParseInt(maxDelayStr, 10, 64)
	if err != nil {
		writeError(w, &broker.ConfigurationError{Field: "max_delay_secs", Got: maxDelayStr, Valid: []string{"integer seconds"}})
		return
	}

	latest, err := s.store.LatestPerCollector(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, lf := range latest {
		if lf.DelaySeconds > maxDelay {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    "stale",
				"collector": lf.CollectorID,
				"delay":     lf.DelaySeconds,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseFilter builds a Filter from either query params (GET) or a JSON body
// (POST). Validation itself happens later, at query time, per §4.6.
func parseFilter(r *http.Request) (broker.Filter, error) {
	var f broker.Filter

	if r.Method == http.MethodPost {
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
				return f, &broker.ConfigurationError{Field: "body", Got: err.Error(), Valid: []string{"valid JSON Filter object"}}
			}
		}
		return f, nil
	}

	q := r.URL.Query()
	if v := q.Get("ts_start"); v != "" {
		t, err := broker.ParseTimestamp(v)
		if err != nil {
			if cfgErr, ok := err.(*broker.ConfigurationError); ok {
				cfgErr.Field = "ts_start"
			}
			return f, err
		}
		f.TsStart = &t
	}
	if v := q.Get("ts_end"); v != "" {
		t, err := broker.ParseTimestamp(v)
		if err != nil {
			if cfgErr, ok := err.(*broker.ConfigurationError); ok {
				cfgErr.Field = "ts_end"
			}
			return f, err
		}
		f.TsEnd = &t
	}
	if v := q.Get("collectors"); v != "" {
		f.Collectors = strings.Split(v, ",")
	}
	f.Project = q.Get("project")
	f.DataType = q.Get("data_type")
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, &broker.ConfigurationError{Field: "page", Got: v, Valid: []string{"integer >= 1"}}
		}
		f.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, &broker.ConfigurationError{Field: "page_size", Got: v, Valid: []string{"integer in [1,100000]"}}
		}
		f.PageSize = &n
	}
	if v := q.Get("order"); v != "" {
		f.Order = broker.Order(v)
	}
	return f, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := f.Validate(); err != nil {
		writeError(w, err)
		return
	}

	var collectorNames []string
	if f.Project != "" {
		names := catalog.Names(f.Project)
		collectorNames = f.CollectorsForProject(names)
	} else {
		collectorNames = f.Collectors
	}

	items, err := s.store.Query(r.Context(), f, collectorNames)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := s.store.Count(r.Context(), f, collectorNames)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"items": items},
		"meta": map[string]any{"page": f.Page, "page_size": *f.PageSize, "count": count},
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.LatestPerCollector(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if collector := r.URL.Query().Get("collector"); collector != "" {
		filtered := latest[:0]
		for _, lf := range latest {
			if lf.CollectorID == collector {
				filtered = append(filtered, lf)
			}
		}
		latest = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"items": latest}})
}

// handleSnapshot answers GetSnapshotFiles (§4.6): the RIB covering ts plus
// the updates files needed to replay forward to it, per requested collector.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	collectors := q["collectors"]
	if len(collectors) == 0 {
		writeError(w, &broker.ConfigurationError{Field: "collectors", Got: "", Valid: []string{"one or more collector names"}})
		return
	}

	tsStr := q.Get("ts")
	if tsStr == "" {
		writeError(w, &broker.ConfigurationError{Field: "ts", Got: "", Valid: []string{"unix epoch seconds"}})
		return
	}
	secs, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		writeError(w, &broker.ConfigurationError{Field: "ts", Got: tsStr, Valid: []string{"unix epoch seconds"}})
		return
	}

	snaps, err := s.store.GetSnapshotFiles(r.Context(), collectors, time.Unix(secs, 0).UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"items": []broker.BrokerPeer{}}})
		return
	}

	peers, err := s.cachedPeers(r.Context())
	if err != nil {
		writeError(w, &broker.UpstreamError{StatusCode: http.StatusBadGateway, Body: err.Error()})
		return
	}

	q := r.URL.Query()
	collector := q.Get("collector")
	asnStr := q.Get("peers_asn")
	ip := q.Get("peers_ip")
	onlyFullFeed := q.Get("peers_only_full_feed") == "true"

	var asn uint64
	if asnStr != "" {
		var err error
		asn, err = strconv.ParseUint(asnStr, 10, 32)
		if err != nil {
			writeError(w, &broker.ConfigurationError{Field: "peers_asn", Got: asnStr, Valid: []string{"unsigned integer"}})
			return
		}
	}

	filtered := make([]broker.BrokerPeer, 0, len(peers))
	for _, p := range peers {
		if collector != "" && p.Collector != collector {
			continue
		}
		if asnStr != "" && uint64(p.ASN) != asn {
			continue
		}
		if ip != "" && p.IP != ip {
			continue
		}
		if onlyFullFeed && !p.IsFullFeed() {
			continue
		}
		filtered = append(filtered, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"items": filtered}})
}

// cachedPeers reduces load on the upstream peers source by reusing the most
// recent response for up to a minute; correctness does not depend on this
// (§3.9 notes it is allowed, not required).
func (s *Server) cachedPeers(ctx context.Context) ([]broker.BrokerPeer, error) {
	s.peersCacheMu.Lock()
	if s.peersCache != nil && time.Since(s.peersCacheAt) < time.Minute {
		defer s.peersCacheMu.Unlock()
		return s.peersCache, nil
	}
	s.peersCacheMu.Unlock()

	peers, err := s.peers.Peers(ctx)
	if err != nil {
		return nil, err
	}

	s.peersCacheMu.Lock()
	s.peersCache = peers
	s.peersCacheAt = time.Now()
	s.peersCacheMu.Unlock()

	return peers, nil
}
