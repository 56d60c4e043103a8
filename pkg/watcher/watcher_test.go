package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vanderheijden86/flowgraph/pkg/session"
)

// recorder stands in for session.Reload and remembers the file size each
// reload saw.
type recorder struct {
	path string

	mu    sync.Mutex
	sizes []int64
	err   error
}

func (r *recorder) reload(ctx context.Context) (*session.Result, error) {
	info, statErr := os.Stat(r.path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if statErr == nil {
		r.sizes = append(r.sizes, info.Size())
	}
	if r.err != nil {
		return nil, r.err
	}
	return &session.Result{Source: r.path, Generation: uint64(len(r.sizes))}, nil
}

func (r *recorder) calls() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.sizes...)
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func flowFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flows.csv")
	if err := os.WriteFile(path, []byte("Client Addr,Server Addr,Client Bytes,Server Bytes,Events\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func appendRow(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("10.0.0.1,10.0.0.2,100,50,0\n"); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string, rec *recorder, opts ...Option) *Watcher {
	t.Helper()
	w, err := New(path, rec.reload, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func nextEvent(t *testing.T, w *Watcher, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(timeout):
		t.Fatal("timeout waiting for watcher event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(wait):
	}
}

func TestNew_RequiresReload(t *testing.T) {
	if _, err := New("flows.csv", nil); err == nil {
		t.Fatal("expected error for nil reload func")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	w := startWatcher(t, path, rec, WithDebounce(20*time.Millisecond))

	// Let fsnotify register before writing.
	time.Sleep(50 * time.Millisecond)
	appendRow(t, path)

	ev := nextEvent(t, w, 3*time.Second)
	if ev.Err != nil {
		t.Fatalf("unexpected error event: %v", ev.Err)
	}
	if ev.Result == nil || ev.Result.Source != path {
		t.Fatalf("unexpected result: %+v", ev.Result)
	}
	if ev.At.IsZero() {
		t.Error("event has no timestamp")
	}
}

func TestWatcher_ReloadsOnWrite_Polling(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	w := startWatcher(t, path, rec,
		WithForcePoll(true),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
	)
	if !w.Status().Polling {
		t.Fatal("expected polling mode")
	}

	time.Sleep(30 * time.Millisecond)
	appendRow(t, path)

	ev := nextEvent(t, w, 3*time.Second)
	if ev.Err != nil || ev.Result == nil {
		t.Fatalf("expected a result, got %+v", ev)
	}
	if n := len(rec.calls()); n != 1 {
		t.Errorf("expected 1 reload, got %d", n)
	}
}

func TestWatcher_ReloadFailureReported(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	failure := errors.New("missing required column(s): Events")
	rec.fail(failure)
	w := startWatcher(t, path, rec,
		WithForcePoll(true),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
	)

	time.Sleep(30 * time.Millisecond)
	appendRow(t, path)

	ev := nextEvent(t, w, 3*time.Second)
	if !errors.Is(ev.Err, failure) {
		t.Fatalf("expected reload failure, got %+v", ev)
	}
	if ev.Result != nil {
		t.Error("failure event should not carry a result")
	}

	// The next change after a fix is reported normally.
	rec.fail(nil)
	appendRow(t, path)
	ev = nextEvent(t, w, 3*time.Second)
	if ev.Err != nil || ev.Result == nil {
		t.Fatalf("expected recovery, got %+v", ev)
	}
}

func TestWatcher_SupersededReloadIsSilent(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	rec.fail(session.ErrSuperseded)
	w := startWatcher(t, path, rec,
		WithForcePoll(true),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
	)

	time.Sleep(30 * time.Millisecond)
	appendRow(t, path)

	deadline := time.Now().Add(3 * time.Second)
	for len(rec.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(rec.calls()) == 0 {
		t.Fatal("reload never ran")
	}
	expectNoEvent(t, w, 100*time.Millisecond)
}

func TestWatcher_WaitsForGrowingFile(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	// A poll lands mid-write; the reload must still wait for the last row.
	w := startWatcher(t, path, rec,
		WithForcePoll(true),
		WithPollInterval(100*time.Millisecond),
		WithDebounce(40*time.Millisecond),
	)

	for i := 0; i < 50; i++ {
		appendRow(t, path)
		time.Sleep(5 * time.Millisecond)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	final := info.Size()

	ev := nextEvent(t, w, 3*time.Second)
	if ev.Err != nil {
		t.Fatalf("unexpected error: %v", ev.Err)
	}
	// Give a trailing poll time to fire; it must not see a partial file either.
	time.Sleep(250 * time.Millisecond)

	sizes := rec.calls()
	if len(sizes) == 0 {
		t.Fatal("no reload happened")
	}
	for i, size := range sizes {
		if size != final {
			t.Errorf("reload %d saw %d bytes, want the finished file's %d", i, size, final)
		}
	}
}

func TestWatcher_FileRemoved(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	w := startWatcher(t, path, rec,
		WithForcePoll(true),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
	)

	time.Sleep(30 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, w, 3*time.Second)
	if !errors.Is(ev.Err, ErrFileRemoved) {
		t.Fatalf("expected ErrFileRemoved, got %+v", ev)
	}
	if n := len(rec.calls()); n != 0 {
		t.Errorf("removed file should not be reloaded, got %d reloads", n)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	w, err := New(path, rec.reload, WithForcePoll(true), WithPollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: got %v, want ErrAlreadyStarted", err)
	}

	w.Stop()
	w.Stop() // idempotent

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	w.Stop()
}

func TestWatcher_StopCancelsPendingReload(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	w, err := New(path, rec.reload,
		WithForcePoll(true),
		WithPollInterval(10*time.Millisecond),
		WithDebounce(100*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	appendRow(t, path)
	time.Sleep(30 * time.Millisecond) // change seen, settle still pending
	w.Stop()

	time.Sleep(300 * time.Millisecond)
	if n := len(rec.calls()); n != 0 {
		t.Errorf("expected no reload after Stop, got %d", n)
	}
}

func TestWatcher_ContextCancelStopsReloads(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}
	w, err := New(path, rec.reload,
		WithForcePoll(true),
		WithPollInterval(20*time.Millisecond),
		WithDebounce(10*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)

	cancel()
	time.Sleep(30 * time.Millisecond)
	appendRow(t, path)
	time.Sleep(150 * time.Millisecond)

	if n := len(rec.calls()); n != 0 {
		t.Errorf("expected no reloads after cancel, got %d", n)
	}
}

func TestWatcher_Status(t *testing.T) {
	path := flowFile(t)
	rec := &recorder{path: path}

	t.Run("forced", func(t *testing.T) {
		w := startWatcher(t, path, rec, WithForcePoll(true), WithPollInterval(3*time.Second))
		st := w.Status()
		if !st.Polling || st.PollInterval != 3*time.Second {
			t.Errorf("unexpected status: %+v", st)
		}
		if st.Path != path {
			t.Errorf("status path = %q, want %q", st.Path, path)
		}
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv(ForcePollEnvVar, "1")
		w := startWatcher(t, path, rec)
		if st := w.Status(); !st.Polling || st.PollInterval != DefaultPollInterval {
			t.Errorf("expected env var to force polling at the default interval, got %+v", st)
		}
	})

	t.Run("remote filesystem", func(t *testing.T) {
		orig := detectFilesystemTypeFunc
		detectFilesystemTypeFunc = func(string) FilesystemType { return FSTypeNFS }
		t.Cleanup(func() { detectFilesystemTypeFunc = orig })

		w := startWatcher(t, path, rec)
		if st := w.Status(); !st.Polling || st.FS != FSTypeNFS {
			t.Errorf("expected polling on nfs, got %+v", st)
		}
	})
}

func TestWatcher_RelativePathIsResolved(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.WriteFile("flows.csv", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{path: "flows.csv"}
	w, err := New("flows.csv", rec.reload)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if got := w.Status().Path; !filepath.IsAbs(got) || filepath.Base(got) != "flows.csv" {
		t.Errorf("status path = %q, want an absolute path to flows.csv", got)
	}
}

func TestEmit_LatestEventWins(t *testing.T) {
	w, err := New("flows.csv", (&recorder{}).reload)
	if err != nil {
		t.Fatal(err)
	}

	first := &session.Result{Generation: 1}
	second := &session.Result{Generation: 2}
	w.emit(Event{Result: first})
	w.emit(Event{Result: second})

	ev := <-w.Events()
	if ev.Result != second {
		t.Errorf("expected the newer event, got generation %d", ev.Result.Generation)
	}
	select {
	case ev := <-w.Events():
		t.Errorf("stale event still queued: %+v", ev)
	default:
	}
}
