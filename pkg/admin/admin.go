// Package admin implements the operator-facing HTTP surface: health,
// stats, a websocket stats stream, and Prometheus metrics. It is
// deliberately separate from the RESP/Memcached data-plane listeners,
// which live outside this package entirely.
package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mnohosten/slotkv/pkg/admintoken"
	"github.com/mnohosten/slotkv/pkg/shard"
)

const metricsNamespace = "slotkv"

// ShardLister is satisfied by pkg/dispatch.Proxy; admin only needs to
// enumerate the shards a reactor currently owns.
type ShardLister interface {
	Shards() []*shard.Shard
}

// Config controls the admin surface's auth and identity.
type Config struct {
	// TokenPassphrase, when non-empty, gates every route but /healthz
	// behind a bearer token derived via pkg/admintoken. Empty disables
	// authenticated routes entirely (they respond 503).
	TokenPassphrase string
	StartTime       time.Time
}

// Server is the admin HTTP surface for one reactor.
type Server struct {
	cfg    Config
	lister ShardLister
	router *chi.Mux
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds the admin router. lister is queried fresh on every request
// — no caching, since the shard set changes only on topology updates,
// which are rare relative to the stats polling interval.
func New(lister ShardLister, cfg Config) *Server {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	s := &Server{cfg: cfg, lister: lister, router: chi.NewRouter()}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the http.Handler to mount on the admin listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/stats", s.handleStats)
		r.Get("/stats/stream", s.handleStatsStream)
		r.Get("/metrics", s.handleMetrics)
	})
}

// requireToken gates a route behind Authorization: Bearer <token>,
// compared against the token derived from cfg.TokenPassphrase. With no
// passphrase configured, the route is unavailable rather than open.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.TokenPassphrase == "" {
			http.Error(w, "admin auth not configured", http.StatusServiceUnavailable)
			return
		}
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		token := auth[len(prefix):]
		if !admintoken.Verify(s.cfg.TokenPassphrase, token) {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": time.Since(s.cfg.StartTime).String(),
	})
}

type shardSample struct {
	RangeStart int            `json:"range_start"`
	IndexLen   int            `json:"index_len"`
	AllRecords int            `json:"all_records"`
	Disktables int            `json:"disktable_count"`
}

func (s *Server) sample() []shardSample {
	shards := s.lister.Shards()
	out := make([]shardSample, 0, len(shards))
	for _, sh := range shards {
		st := sh.Stats()
		out = append(out, shardSample{
			RangeStart: sh.RangeStart,
			IndexLen:   st.IndexLen,
			AllRecords: st.AllRecords,
			Disktables: len(st.Disktables),
		})
	}
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sample())
}

// handleStatsStream upgrades to a websocket and pushes a stats sample
// once per second until the client disconnects.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.sample()); err != nil {
			return
		}
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := s.writeMetrics(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeMetrics writes this reactor's shard stats in Prometheus text
// format.
func (s *Server) writeMetrics(w io.Writer) error {
	uptime := time.Since(s.cfg.StartTime).Seconds()
	if err := writeGauge(w, "uptime_seconds", "Reactor uptime in seconds", uptime); err != nil {
		return err
	}

	samples := s.sample()
	gauges := []struct {
		name, help string
		value      func(shardSample) float64
	}{
		{"index_len", "Live index entries for this shard", func(s shardSample) float64 { return float64(s.IndexLen) }},
		{"all_records", "Physical record count across memtables and disktables for this shard", func(s shardSample) float64 { return float64(s.AllRecords) }},
		{"disktable_count", "Number of disktables for this shard", func(s shardSample) float64 { return float64(s.Disktables) }},
	}
	for _, g := range gauges {
		metricName := metricsNamespace + "_" + g.name
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", metricName, g.help, metricName); err != nil {
			return err
		}
		for _, sample := range samples {
			if _, err := fmt.Fprintf(w, "%s{shard=\"%d\"} %g\n", metricName, sample.RangeStart, g.value(sample)); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeGauge(w io.Writer, name, help string, value float64) error {
	metricName := metricsNamespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", metricName, help, metricName, metricName, value)
	return err
}
