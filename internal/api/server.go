// Package api serves live counters and stored crossings over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/zonecount/internal/counting"
	"github.com/banshee-data/zonecount/internal/db"
	"github.com/banshee-data/zonecount/internal/httputil"
	"github.com/banshee-data/zonecount/internal/pipeline"
	"github.com/banshee-data/zonecount/internal/report"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Live is the running counter state.
type Live interface {
	Counts() counting.Counts
	Stats() pipeline.Stats
}

// Store is the persisted crossing history.
type Store interface {
	RecentDetections(ctx context.Context, limit int) ([]db.Detection, error)
	Intervals(ctx context.Context, zone string, since time.Time) ([]float64, error)
}

type Server struct {
	live  Live
	store Store
	zones []string
}

// NewServer returns a server over live counters and, when store is non-nil,
// the crossing history. zones fixes the order zones are reported in.
func NewServer(live Live, store Store, zones []string) *Server {
	return &Server{live: live, store: store, zones: zones}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux registers the API routes on mux, or on a new mux when nil.
func (s *Server) ServeMux(mux *http.ServeMux) *http.ServeMux {
	if mux == nil {
		mux = http.NewServeMux()
	}
	mux.HandleFunc("/api/counts", s.showCounts)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/detections", s.listDetections)
	mux.HandleFunc("/api/headways", s.showHeadways)
	mux.HandleFunc("/charts/counts", s.handleCountsChart)
	return mux
}

func (s *Server) showCounts(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	httputil.WriteJSONOK(w, s.live.Counts())
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	httputil.WriteJSONOK(w, s.live.Stats())
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 100, 1, 10000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	dets, err := s.store.RecentDetections(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve detections: "+err.Error())
		return
	}
	if dets == nil {
		dets = []db.Detection{}
	}
	httputil.WriteJSONOK(w, dets)
}

func (s *Server) showHeadways(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGET(w, r) {
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	since, err := httputil.QueryTime(r, "since")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	zones := s.zones
	if z := r.URL.Query().Get("zone"); z != "" {
		zones = []string{z}
	}

	out := make([]report.Headway, 0, len(zones))
	for _, zone := range zones {
		ivs, err := s.store.Intervals(r.Context(), zone, since)
		if err != nil {
			httputil.InternalServerError(w, "failed to retrieve intervals: "+err.Error())
			return
		}
		out = append(out, report.Summarise(zone, ivs))
	}
	httputil.WriteJSONOK(w, out)
}
