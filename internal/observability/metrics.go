package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"
)

// CounterSource supplies the current counter values, keyed by name.
type CounterSource interface {
	Counters() map[string]int64
}

// gauges are reported as gauges; every other counter only grows.
var gauges = map[string]bool{
	"records":        true,
	"pending":        true,
	"active_workers": true,
}

var help = map[string]string{
	"iterations":       "Discovery iterations performed",
	"discovered":       "Articles added as skeletons",
	"duplicates":       "Listing entries skipped as already known",
	"attempted":        "Enrichment attempts",
	"enriched":         "Articles enriched",
	"failed":           "Articles left pending after a failed enrichment",
	"skipped":          "Articles skipped by robots.txt",
	"saves":            "Progress store saves",
	"session_restarts": "Browser sessions recreated after a failure",
	"records":          "Records in the progress store",
	"pending":          "Records awaiting enrichment",
	"active_workers":   "Currently active enrichment workers",
}

// Metrics exposes a CounterSource over HTTP.
type Metrics struct {
	source CounterSource
	prefix string
	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(source CounterSource, logger *slog.Logger) *Metrics {
	return &Metrics{
		source: source,
		prefix: "boardscrape_",
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	counters := m.source.Counters()
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		metric, kind := m.prefix+name, "gauge"
		if !gauges[name] {
			metric += "_total"
			kind = "counter"
		}
		if h, ok := help[name]; ok {
			fmt.Fprintf(w, "# HELP %s %s\n", metric, h)
		}
		fmt.Fprintf(w, "# TYPE %s %s\n", metric, kind)
		fmt.Fprintf(w, "%s %d\n", metric, counters[name])
	}
}

// Handler returns the mux serving metrics at path and a /health check.
func (m *Metrics) Handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// StartServer starts the metrics HTTP server. It stops when ctx is done.
func (m *Metrics) StartServer(ctx context.Context, port int, path string) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           m.Handler(path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	return nil
}
