// Package server is the live Graph Host: it serves the interactive page and
// a small JSON API for loading flow CSVs and reading the current graph.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vanderheijden86/flowgraph/pkg/config"
	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/export"
	"github.com/vanderheijden86/flowgraph/pkg/loader"
	"github.com/vanderheijden86/flowgraph/pkg/metrics"
	"github.com/vanderheijden86/flowgraph/pkg/session"
	"github.com/vanderheijden86/flowgraph/pkg/version"
)

const shutdownTimeout = 5 * time.Second

// Server wires HTTP routes to a session.
type Server struct {
	sess    *session.Session
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Registry
	client  *http.Client
}

// New creates a server. reg may be nil, in which case /metrics is not served.
func New(sess *session.Session, cfg config.Config, log *zap.Logger, reg *metrics.Registry) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		sess:    sess,
		cfg:     cfg,
		log:     log,
		metrics: reg,
		client:  &http.Client{Timeout: cfg.Fetch.Timeout},
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/", s.handlePage)
	r.Get("/healthz", s.handleHealth)
	r.Get("/snapshot.{format}", s.handleSnapshot)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Prometheus(), promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/graph", s.handleGraph)
		r.Get("/summary", s.handleSummary)
		r.Get("/export", s.handleExport)
		r.Post("/load", s.handleLoad)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving flow graph", zap.String("addr", "http://"+s.cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := export.RenderInteractiveHTML(w, encode.RenderableGraph{}, export.InteractiveGraphOptions{
		Title:            s.cfg.Host.Title,
		LibraryURL:       s.cfg.Host.LibraryURL,
		Background:       s.cfg.Host.Background,
		ReleaseOnDragEnd: s.cfg.Host.ReleaseOnDragEnd,
		DataURL:          "/api/graph",
		LoadURL:          "/api/load",
		PollInterval:     s.cfg.Watch.PollInterval,
	})
	if err != nil {
		s.log.Error("render page", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    version.String(),
		"generation": s.sess.Generation(),
	})
}

// GraphResponse is the body of GET /api/graph.
type GraphResponse struct {
	Generation uint64                 `json:"generation"`
	Source     string                 `json:"source,omitempty"`
	LoadedAt   *time.Time             `json:"loaded_at,omitempty"`
	Graph      encode.RenderableGraph `json:"graph"`
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	resp := GraphResponse{Graph: encode.RenderableGraph{
		Nodes: []encode.RenderNode{},
		Links: []encode.RenderLink{},
	}}
	if cur := s.sess.Current(); cur != nil {
		resp.Generation = cur.Generation
		resp.Source = cur.Source
		resp.LoadedAt = &cur.LoadedAt
		resp.Graph = cur.Graph
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	cur := s.sess.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no graph loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation":    cur.Generation,
		"source":        cur.Source,
		"summary":       cur.Summary,
		"parse_skipped": cur.ParseSkipped,
		"invalid_rows":  cur.Build.Skipped,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	cur := s.sess.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no graph loaded")
		return
	}
	format := export.GraphFormatJSON
	if f := r.URL.Query().Get("format"); f != "" {
		var err error
		if format, err = export.ParseGraphExportFormat(f); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	depth := 0
	if d := r.URL.Query().Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		depth = n
	}
	res, err := export.ExportGraph(cur.Graph, &cur.Summary, export.GraphExportConfig{
		Format: format,
		Root:   r.URL.Query().Get("root"),
		Depth:  depth,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if format == export.GraphFormatJSON {
		writeJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, res.Graph)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cur := s.sess.Current()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no graph loaded")
		return
	}
	format := strings.ToLower(chi.URLParam(r, "format"))
	switch format {
	case export.SnapshotSVG:
		w.Header().Set("Content-Type", "image/svg+xml")
	case export.SnapshotPNG:
		w.Header().Set("Content-Type", "image/png")
	default:
		writeError(w, http.StatusNotFound, "unknown snapshot format")
		return
	}
	err := export.WriteGraphSnapshot(w, format, export.GraphSnapshotOptions{
		Title:   s.cfg.Host.Title,
		Graph:   cur.Graph,
		Summary: &cur.Summary,
	})
	if err != nil {
		s.log.Error("render snapshot", zap.Error(err))
	}
}

// LoadResponse is the body of a successful POST /api/load.
type LoadResponse struct {
	Generation   uint64 `json:"generation"`
	Source       string `json:"source"`
	Nodes        int    `json:"nodes"`
	Links        int    `json:"links"`
	ParseSkipped int    `json:"parse_skipped"`
	InvalidRows  int    `json:"invalid_rows"`
	Anomalous    int    `json:"anomalous_links"`
}

// handleLoad replaces the graph with CSV from the request body, or from the
// URL in ?url= when present.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var src loader.Source
	if u := r.URL.Query().Get("url"); u != "" {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			writeError(w, http.StatusBadRequest, "url must be http or https")
			return
		}
		src = loader.URLSource{URL: u, Client: s.client}
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		name := r.URL.Query().Get("name")
		src = loader.ReaderSource{Label: name, Data: body}
	}

	res, err := s.sess.Load(r.Context(), src)
	if err != nil {
		writeError(w, loadStatus(err, src), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LoadResponse{
		Generation:   res.Generation,
		Source:       res.Source,
		Nodes:        len(res.Model.Nodes),
		Links:        len(res.Model.Links),
		ParseSkipped: res.ParseSkipped,
		InvalidRows:  res.Build.Skipped,
		Anomalous:    res.Build.Anomalous,
	})
}

// loadStatus maps a load failure to an HTTP status. Read failures are the
// upstream's fault for ?url= loads and the client's for uploaded bodies.
func loadStatus(err error, src loader.Source) int {
	var headerErr *loader.HeaderError
	var ioErr *loader.IOError
	switch {
	case errors.As(err, &headerErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.As(err, &ioErr):
		if _, upload := src.(loader.ReaderSource); upload {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
