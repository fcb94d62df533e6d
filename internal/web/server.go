// Package web provides the HTTP status page and control API for the
// heating-controller daemon.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/heating-controller/internal/app"
	"github.com/sweeney/heating-controller/internal/metrics"
	"github.com/sweeney/heating-controller/internal/status"
)

// Options configures a Server.
type Options struct {
	Addr       string
	Tracker    *status.Tracker
	Controller *app.Controller
	Now        func() time.Time // defaults to time.Now
	AccessLog  io.Writer        // nil disables the access log
}

// Server serves the status page and the control API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       *app.Controller
	now        func() time.Time
}

// New creates a Server that reads status from the tracker and applies
// changes through the controller.
func New(o Options) *Server {
	if o.Now == nil {
		o.Now = time.Now
	}
	s := &Server{tracker: o.Tracker, ctrl: o.Controller, now: o.Now}

	r := mux.NewRouter()
	r.Use(instrument)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.routes(r.PathPrefix("/api").Subrouter())

	var h http.Handler = r
	if o.AccessLog != nil {
		h = handlers.LoggingHandler(o.AccessLog, r)
	}
	s.httpServer = &http.Server{
		Addr:              o.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	mode := s.ctrl.Rooms().ActiveMode()
	var rooms []RoomJSON
	for _, o := range s.ctrl.Rooms().Observe(s.now()) {
		rooms = append(rooms, roomJSON(o, mode))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, rooms)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument counts and times every matched route by its path template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tmpl, err := cr.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		timer := prometheus.NewTimer(metrics.HTTPDuration.WithLabelValues(route, r.Method))
		defer timer.ObserveDuration()

		sr := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sr, r)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sr.code)).Inc()
	})
}
