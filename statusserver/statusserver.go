// Package statusserver exposes a loopback-only HTTP listener carrying
// /healthz, /status, and /metrics. It is adapted from a gateway
// router's middleware chain, trimmed down to the two concerns a
// diagnostics-only listener needs: panic recovery and a request
// timeout. Request logging is deliberately not wired as middleware;
// the listener is loopback-only and low-traffic enough that handlers
// call the ambient zerolog logger directly on the error paths that
// matter.
package statusserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kkhwan1/bloomberg-data/breaker"
	"github.com/kkhwan1/bloomberg-data/cache"
	"github.com/kkhwan1/bloomberg-data/costtracker"
	"github.com/kkhwan1/bloomberg-data/metrics"
)

// requestTimeout bounds every handler on this listener; none of them
// do real work beyond reading in-memory/SQLite state.
const requestTimeout = 5 * time.Second

// Server is the loopback status/metrics listener.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// breakerSnapshot is one named breaker's Statistics(), flattened for
// JSON.
type breakerSnapshot struct {
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Calls       int     `json:"calls"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	Rejections  int     `json:"rejections"`
	FailureRate float64 `json:"failure_rate"`
	RecoveryIn  string  `json:"recovery_in,omitempty"`
}

// statusResponse is the full /status document.
type statusResponse struct {
	Cost     costtracker.StatsReport `json:"cost"`
	Cache    cache.Stats             `json:"cache"`
	Breakers []breakerSnapshot       `json:"breakers"`
}

// New builds the chi-routed status server bound to addr (expected to
// be a loopback address, e.g. "127.0.0.1:9090"). breakers is keyed by
// backend name for stable JSON ordering at render time.
func New(
	addr string,
	tracker *costtracker.Tracker,
	c *cache.Cache,
	breakers map[string]*breaker.Breaker,
	reg *metrics.Registry,
	logger zerolog.Logger,
) *Server {
	logger = logger.With().Str("component", "statusserver").Logger()

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()

		cacheStats, err := c.Statistics(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("status: cache statistics failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache statistics unavailable"})
			return
		}

		names := make([]string, 0, len(breakers))
		for name := range breakers {
			names = append(names, name)
		}
		snapshots := make([]breakerSnapshot, 0, len(breakers))
		for _, name := range sortedStrings(names) {
			snap := breakers[name].Statistics()
			bs := breakerSnapshot{
				Name:        name,
				State:       snap.State.String(),
				Calls:       snap.Totals.Calls,
				Successes:   snap.Totals.Successes,
				Failures:    snap.Totals.Failures,
				Rejections:  snap.Totals.Rejections,
				FailureRate: snap.FailureRate,
			}
			if snap.RecoveryIn > 0 {
				bs.RecoveryIn = snap.RecoveryIn.String()
			}
			snapshots = append(snapshots, bs)
		}

		resp := statusResponse{
			Cost:     tracker.Statistics(),
			Cache:    cacheStats,
			Breakers: snapshots,
		}
		writeJSON(w, http.StatusOK, resp)
	})

	if reg != nil {
		r.Get("/metrics", reg.Handler().ServeHTTP)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in a background goroutine. Bind failures are
// logged, not returned: diagnostics going unavailable must never take
// down collection.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("status server failed")
		}
	}()
}

// Stop gracefully shuts down the listener, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sortedStrings(ss []string) []string {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
	return ss
}

// timeoutMiddleware caps handler execution, writing 504 if the
// deadline passes before the handler finishes.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutWriter{ResponseWriter: w}
			go func() {
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				tw.mu.Lock()
				if !tw.wroteHeader {
					w.WriteHeader(http.StatusGatewayTimeout)
					tw.wroteHeader = true
				}
				tw.mu.Unlock()
				<-done
			}
		})
	}
}

type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.mu.Unlock()
		tw.ResponseWriter.WriteHeader(http.StatusOK)
	} else {
		tw.mu.Unlock()
	}
	return tw.ResponseWriter.Write(b)
}
