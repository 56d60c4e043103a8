// Package watcher reloads a flow CSV when it changes on disk.
//
// Changes are picked up with fsnotify on the file's directory, which survives
// exporters that replace the file by rename, or by polling mtime and size on
// network and FUSE mounts, when fsnotify cannot be set up, or when
// FLOWGRAPH_FORCE_POLL is set. A change is only acted on once the file has
// stopped growing, so a capture tool still appending rows does not cause a
// reload per write. Each reload's outcome is delivered on Events.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/vanderheijden86/flowgraph/pkg/session"
)

// DefaultPollInterval is the stat interval in polling mode.
const DefaultPollInterval = 2 * time.Second

// ForcePollEnvVar forces polling mode when set to a true value.
const ForcePollEnvVar = "FLOWGRAPH_FORCE_POLL"

// maxSettleChecks bounds how long a continuously growing file defers its
// reload, in debounce periods.
const maxSettleChecks = 25

var (
	ErrFileRemoved    = errors.New("watched file was removed")
	ErrPermission     = errors.New("permission denied")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// ReloadFunc reloads the watched file. session.Session.Reload satisfies it.
type ReloadFunc func(ctx context.Context) (*session.Result, error)

// Event is the outcome of one reload, or a problem with the watched file.
// Exactly one of Result and Err is set.
type Event struct {
	At     time.Time
	Result *session.Result
	Err    error
}

// Status describes how the file is being watched.
type Status struct {
	Path         string
	Polling      bool
	FS           FilesystemType
	PollInterval time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a change is checked.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithPollInterval sets the stat interval for polling mode.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithForcePoll forces polling mode even if fsnotify is available.
func WithForcePoll(force bool) Option {
	return func(w *Watcher) { w.forcePoll = force }
}

// WithLogger sets the logger for mode selection and reload failures.
func WithLogger(log *zap.Logger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// fileState is what polling and settling compare.
type fileState struct {
	exists bool
	size   int64
	mtime  time.Time
}

func (a fileState) same(b fileState) bool {
	return a.exists == b.exists && a.size == b.size && a.mtime.Equal(b.mtime)
}

func statFile(path string) (fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, err
	}
	return fileState{exists: true, size: info.Size(), mtime: info.ModTime()}, nil
}

// Watcher reloads one flow file on change.
type Watcher struct {
	path         string
	reload       ReloadFunc
	debounce     time.Duration
	pollInterval time.Duration
	forcePoll    bool
	log          *zap.Logger

	debouncer *Debouncer
	events    chan Event

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	status  Status
	last    fileState // as of the last poll
	pending fileState // as of the last settle check
	checks  int
}

// New creates a watcher that calls reload whenever path settles after a change.
func New(path string, reload ReloadFunc, opts ...Option) (*Watcher, error) {
	if reload == nil {
		return nil, errors.New("watcher: reload func is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:         abs,
		reload:       reload,
		debounce:     DefaultDebounceDuration,
		pollInterval: DefaultPollInterval,
		log:          zap.NewNop(),
		events:       make(chan Event, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = NewDebouncer(w.debounce)
	return w, nil
}

// Start begins watching. Watching stops when ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrAlreadyStarted
	}

	state, err := statFile(w.path)
	if err != nil && os.IsPermission(err) {
		return ErrPermission
	}
	w.last = state
	w.pending = fileState{}
	w.checks = 0

	fsType := DetectFilesystemType(w.path)
	polling := w.forcePoll || envBool(ForcePollEnvVar) || isRemoteFilesystem(fsType)

	var fsw *fsnotify.Watcher
	if !polling {
		fsw, err = fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(filepath.Dir(w.path)); err != nil {
				fsw.Close()
				fsw = nil
			}
		}
		if fsw == nil {
			w.log.Debug("fsnotify unavailable, polling", zap.Error(err))
			polling = true
		}
	}

	w.status = Status{Path: w.path, Polling: polling, FS: fsType, PollInterval: w.pollInterval}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(w.ctx, fsw, w.done)

	w.log.Debug("watching flow file",
		zap.String("path", w.path),
		zap.Stringer("fs", fsType),
		zap.Bool("polling", polling),
		zap.Duration("debounce", w.debouncer.Duration()))
	return nil
}

// Stop stops watching and waits for the watch loop to exit. A reload already
// in progress is canceled through its context.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.debouncer.Cancel()
	<-done
}

// Events delivers reload outcomes. Only the most recent undelivered event is
// kept; a slow reader sees the latest state, not every intermediate one.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Status reports the watch mode chosen by Start.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
		tick     <-chan time.Time
	)
	if fsw != nil {
		defer fsw.Close()
		fsEvents, fsErrors = fsw.Events, fsw.Errors
	} else {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	target := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsEvents:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			switch {
			case ev.Op&fsnotify.Remove != 0:
				w.fileRemoved()
			case ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				w.debouncer.Trigger(w.settle)
			}

		case err, ok := <-fsErrors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", zap.Error(err))

		case <-tick:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	state, err := statFile(w.path)
	w.mu.Lock()
	prev := w.last
	w.last = state
	w.mu.Unlock()

	switch {
	case err == nil:
		if !state.same(prev) {
			w.debouncer.Trigger(w.settle)
		}
	case os.IsNotExist(err):
		if prev.exists {
			w.fileRemoved()
		}
	case os.IsPermission(err):
		w.emit(Event{At: time.Now(), Err: ErrPermission})
	default:
		w.log.Warn("stat flow file", zap.String("path", w.path), zap.Error(err))
	}
}

func (w *Watcher) fileRemoved() {
	w.log.Warn("flow file removed", zap.String("path", w.path))
	w.emit(Event{At: time.Now(), Err: ErrFileRemoved})
}

// settle runs after the debounce period. The file is reloaded once two
// consecutive checks see the same size and mtime.
func (w *Watcher) settle() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	state, err := statFile(w.path)
	if err != nil {
		// Removal is reported by the watch loop.
		return
	}

	w.mu.Lock()
	stable := state.same(w.pending)
	w.pending = state
	w.checks++
	if !stable && w.checks < maxSettleChecks {
		w.mu.Unlock()
		w.debouncer.Trigger(w.settle)
		return
	}
	growing := !stable
	w.pending = fileState{}
	w.checks = 0
	w.mu.Unlock()

	if growing {
		w.log.Debug("flow file still growing, reloading anyway", zap.Int64("size", state.size))
	}
	w.reloadNow(ctx)
}

func (w *Watcher) reloadNow(ctx context.Context) {
	res, err := w.reload(ctx)
	switch {
	case ctx.Err() != nil, errors.Is(err, session.ErrSuperseded):
		return
	case err != nil:
		w.log.Warn("reload failed, keeping previous graph", zap.String("path", w.path), zap.Error(err))
		w.emit(Event{At: time.Now(), Err: err})
	default:
		w.emit(Event{At: time.Now(), Result: res})
	}
}

// emit replaces any undelivered event with ev.
func (w *Watcher) emit(ev Event) {
	for {
		select {
		case w.events <- ev:
			return
		default:
		}
		select {
		case <-w.events:
		default:
		}
	}
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
