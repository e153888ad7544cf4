package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// RouteMetrics aggregates request timings for a single method+route pair.
type RouteMetrics struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"errorCount"`
	TotalTime   time.Duration `json:"totalTime"`
	AvgTime     time.Duration `json:"avgTime"`
	MinTime     time.Duration `json:"minTime"`
	MaxTime     time.Duration `json:"maxTime"`
	LastRequest time.Time     `json:"lastRequest"`
}

// MetricsCollector aggregates per-route request metrics in memory.
type MetricsCollector struct {
	mu     sync.RWMutex
	routes map[string]*RouteMetrics
}

// NewMetricsCollector returns an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{routes: map[string]*RouteMetrics{}}
}

// Record folds one finished request into the aggregates. Statuses of 500 and
// above count as errors.
func (c *MetricsCollector) Record(method, path string, status int, took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := method + " " + path
	m, ok := c.routes[key]
	if !ok {
		m = &RouteMetrics{Method: method, Path: path, MinTime: took}
		c.routes[key] = m
	}
	m.Count++
	if status >= http.StatusInternalServerError {
		m.ErrorCount++
	}
	m.TotalTime += took
	m.AvgTime = m.TotalTime / time.Duration(m.Count)
	if took < m.MinTime {
		m.MinTime = took
	}
	if took > m.MaxTime {
		m.MaxTime = took
	}
	m.LastRequest = time.Now()
}

// Snapshot returns a copy of the current aggregates.
func (c *MetricsCollector) Snapshot() []RouteMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RouteMetrics, 0, len(c.routes))
	for _, m := range c.routes {
		out = append(out, *m)
	}
	return out
}

// Middleware records timings for every request passing through it. The mux
// route template is used as the path so ids do not explode the cardinality.
func (c *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		c.Record(r.Method, path, sw.status, time.Since(start))
	})
}

// Handler serves the aggregates as JSON.
func (c *MetricsCollector) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	b, err := json.Marshal(c.Snapshot())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so websocket upgrades keep working behind the
// metrics middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
