// Package session owns the currently displayed flow graph and runs loads
// through the parse, build, encode and render pipeline.
//
// Loads may overlap. The most recently started load wins: starting a load
// cancels the one in flight, and a load that finishes after a newer one has
// started is discarded with ErrSuperseded. A failed load leaves the previous
// graph in place.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vanderheijden86/flowgraph/pkg/analysis"
	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/graph"
	"github.com/vanderheijden86/flowgraph/pkg/host"
	"github.com/vanderheijden86/flowgraph/pkg/loader"
	"github.com/vanderheijden86/flowgraph/pkg/logging"
	"github.com/vanderheijden86/flowgraph/pkg/metrics"
	"github.com/vanderheijden86/flowgraph/pkg/model"
)

// ErrSuperseded is returned by a load that lost to a newer one.
var ErrSuperseded = errors.New("load superseded by a newer load")

// ErrNoSource is returned by Reload before any load was started.
var ErrNoSource = errors.New("no flow source loaded yet")

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Encoder *encode.Encoder
	Host    host.Host
	Logger  *zap.Logger
	Metrics *metrics.Registry

	// RecordFilter drops parsed records before the graph is built.
	RecordFilter func(*model.FlowRecord) bool

	// OnWarning receives every skipped-row error from parsing and building.
	OnWarning func(error)
}

// Result is one successfully published load.
type Result struct {
	Source     string
	Generation uint64
	Model      model.GraphModel
	Graph      encode.RenderableGraph
	Summary    analysis.Summary

	ParseSkipped int
	Build        graph.Report

	LoadedAt time.Time
	Duration time.Duration
}

// Session serializes loads and keeps the last published result.
type Session struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	last    loader.Source
	current *Result

	// publishMu orders host renders so an older load never renders after a
	// newer one has been published.
	publishMu sync.Mutex
}

// New creates a session.
func New(opts Options) *Session {
	if opts.Encoder == nil {
		opts.Encoder = encode.NewEncoder(encode.DefaultConfig())
	}
	if opts.Host == nil {
		opts.Host = host.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Session{opts: opts, log: opts.Logger}
}

// Encoder returns the encoder used for every load.
func (s *Session) Encoder() *encode.Encoder { return s.opts.Encoder }

// Current returns the last published result, or nil before the first
// successful load.
func (s *Session) Current() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Generation returns the number of loads started so far.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Close cancels any load in flight.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Reload loads the most recent source again.
func (s *Session) Reload(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	src := s.last
	s.mu.Unlock()
	if src == nil {
		return nil, ErrNoSource
	}
	return s.Load(ctx, src)
}

// Load reads src and, unless a newer load starts meanwhile, publishes the
// resulting graph to the host.
//
// Errors: *loader.IOError when src cannot be read, *loader.HeaderError when
// required columns are missing, ErrSuperseded when a newer load started, or
// the host's render error. Row-level problems are not errors; they are
// logged, passed to Options.OnWarning and counted in the Result.
func (s *Session) Load(ctx context.Context, src loader.Source) (*Result, error) {
	gen, ctx, cancel := s.begin(ctx, src)
	defer cancel()

	start := time.Now()
	log := s.log.With(zap.String("source", src.Name()), zap.Uint64("generation", gen))
	log.Debug("load started")

	res, err := s.run(ctx, gen, src, start, log)
	switch {
	case err == nil:
		s.opts.Metrics.ObserveLoad(metrics.ResultOK)
		s.opts.Metrics.ObserveGraph(len(res.Model.Nodes), len(res.Model.Links),
			res.ParseSkipped, res.Build.Skipped, res.Build.Anomalous)
		log.Info("graph published",
			zap.Int("nodes", len(res.Model.Nodes)),
			zap.Int("links", len(res.Model.Links)),
			zap.Int("parse_skipped", res.ParseSkipped),
			zap.Int("invalid_rows", res.Build.Skipped),
			zap.Int("anomalous_links", res.Build.Anomalous),
			zap.Duration("took", res.Duration))
		return res, nil
	case errors.Is(err, ErrSuperseded):
		s.opts.Metrics.ObserveLoad(metrics.ResultSuperseded)
		log.Debug("load superseded")
		return nil, err
	default:
		s.opts.Metrics.ObserveLoad(metrics.ResultError)
		log.Error("load failed, keeping previous graph", zap.Error(err))
		return nil, err
	}
}

// begin registers a new load generation and cancels the previous one.
func (s *Session) begin(parent context.Context, src loader.Source) (uint64, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.cancel = cancel
	s.last = src
	return s.gen, ctx, cancel
}

func (s *Session) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}

func (s *Session) run(ctx context.Context, gen uint64, src loader.Source, start time.Time, log *zap.Logger) (*Result, error) {
	res := &Result{Source: src.Name(), Generation: gen}

	onParse := func(err error) {
		res.ParseSkipped++
		if s.opts.OnWarning != nil {
			s.opts.OnWarning(err)
		}
	}
	stop := s.opts.Metrics.Timer(metrics.StageParse)
	records, err := loader.Load(ctx, src, loader.ParseOptions{
		WarningHandler: logging.RowWarning(log, metrics.StageParse, onParse),
		RecordFilter:   s.opts.RecordFilter,
	})
	stop()
	if s.superseded(gen) {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}

	stop = s.opts.Metrics.Timer(metrics.StageBuild)
	res.Model, res.Build = graph.BuildWithOptions(records, graph.Options{
		WarningHandler: logging.RowWarning(log, metrics.StageBuild, s.opts.OnWarning),
	})
	stop()
	if err := res.Model.Validate(); err != nil {
		return nil, fmt.Errorf("built graph is inconsistent: %w", err)
	}

	stop = s.opts.Metrics.Timer(metrics.StageEncode)
	res.Graph = s.opts.Encoder.Encode(res.Model)
	stop()
	res.Summary = analysis.Summarize(res.Model)

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if s.superseded(gen) {
		return nil, ErrSuperseded
	}

	stop = s.opts.Metrics.Timer(metrics.StageRender)
	err = s.opts.Host.Render(ctx, res.Graph)
	stop()
	if err != nil {
		return nil, fmt.Errorf("render graph: %w", err)
	}

	res.LoadedAt = time.Now()
	res.Duration = res.LoadedAt.Sub(start)
	s.mu.Lock()
	s.current = res
	s.mu.Unlock()
	return res, nil
}
