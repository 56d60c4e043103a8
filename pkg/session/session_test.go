package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanderheijden86/flowgraph/pkg/encode"
	"github.com/vanderheijden86/flowgraph/pkg/host"
	"github.com/vanderheijden86/flowgraph/pkg/loader"
	"github.com/vanderheijden86/flowgraph/pkg/metrics"
)

const flowsA = `Client Addr,Server Addr,Client Bytes,Server Bytes,Events
A,B,100,50,2
B,C,10,10,0
`

const flowsB = `Client Addr,Server Addr,Client Bytes,Server Bytes,Events
X,Y,1,1,0
`

func csvSource(label, data string) loader.ReaderSource {
	return loader.ReaderSource{Label: label, Data: []byte(data)}
}

// blockingSource signals when opened and then waits for its context.
type blockingSource struct {
	opened chan struct{}
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Open(ctx context.Context) (io.ReadCloser, error) {
	close(b.opened)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLoad_Publishes(t *testing.T) {
	mem := host.NewMemory()
	s := New(Options{Host: mem})

	res, err := s.Load(context.Background(), csvSource("a.csv", flowsA))
	require.NoError(t, err)

	assert.Equal(t, "a.csv", res.Source)
	assert.Len(t, res.Model.Nodes, 3)
	assert.Len(t, res.Model.Links, 2)
	assert.Equal(t, 1, mem.Renders())
	assert.Len(t, mem.Current().Nodes, 3)
	assert.Same(t, res, s.Current())
	assert.Equal(t, 3, res.Summary.Hosts)
}

func TestLoad_PublishedResultIsComplete(t *testing.T) {
	s := New(Options{Host: host.Func(func(context.Context, encode.RenderableGraph) error {
		time.Sleep(time.Millisecond)
		return nil
	})})

	stop := make(chan struct{})
	seen := make(chan *Result, 1)
	go func() {
		for {
			select {
			case <-stop:
				close(seen)
				return
			default:
			}
			if cur := s.Current(); cur != nil {
				seen <- cur
				close(seen)
				return
			}
		}
	}()

	res, err := s.Load(context.Background(), csvSource("a.csv", flowsA))
	close(stop)
	require.NoError(t, err)

	if cur, ok := <-seen; ok {
		assert.Positive(t, cur.Duration, "result visible through Current must carry its duration")
	}
	assert.GreaterOrEqual(t, res.Duration, time.Millisecond)
	assert.False(t, res.LoadedAt.IsZero())
}

func TestLoad_ReplacesPreviousGraph(t *testing.T) {
	mem := host.NewMemory()
	s := New(Options{Host: mem})

	_, err := s.Load(context.Background(), csvSource("a", flowsA))
	require.NoError(t, err)
	_, err = s.Load(context.Background(), csvSource("b", flowsB))
	require.NoError(t, err)

	cur := mem.Current()
	require.Len(t, cur.Nodes, 2)
	assert.Equal(t, "X", cur.Nodes[0].ID)
	assert.Equal(t, uint64(2), s.Current().Generation)
}

func TestLoad_IOErrorKeepsPrevious(t *testing.T) {
	mem := host.NewMemory()
	s := New(Options{Host: mem})

	_, err := s.Load(context.Background(), csvSource("a", flowsA))
	require.NoError(t, err)

	_, err = s.Load(context.Background(), loader.FileSource{Path: filepath.Join(t.TempDir(), "missing.csv")})
	var ioErr *loader.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, 1, mem.Renders())
	assert.Len(t, mem.Current().Nodes, 3)
	assert.Equal(t, "a", s.Current().Source)
}

func TestLoad_HeaderErrorKeepsPrevious(t *testing.T) {
	mem := host.NewMemory()
	s := New(Options{Host: mem})

	_, err := s.Load(context.Background(), csvSource("a", flowsA))
	require.NoError(t, err)

	_, err = s.Load(context.Background(), csvSource("bad", "Client Addr,Events\nA,1\n"))
	var headerErr *loader.HeaderError
	require.ErrorAs(t, err, &headerErr)
	assert.Contains(t, headerErr.Missing, loader.ColServerAddr)
	assert.Len(t, mem.Current().Nodes, 3)
}

func TestLoad_RenderErrorKeepsPrevious(t *testing.T) {
	fail := false
	mem := host.NewMemory()
	h := host.Func(func(ctx context.Context, g encode.RenderableGraph) error {
		if fail {
			return errors.New("renderer gone")
		}
		return mem.Render(ctx, g)
	})
	s := New(Options{Host: h})

	_, err := s.Load(context.Background(), csvSource("a", flowsA))
	require.NoError(t, err)

	fail = true
	_, err = s.Load(context.Background(), csvSource("b", flowsB))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer gone")
	assert.Equal(t, "a", s.Current().Source)
}

func TestLoad_NewerLoadSupersedesOlder(t *testing.T) {
	mem := host.NewMemory()
	reg := metrics.NewRegistry()
	s := New(Options{Host: mem, Metrics: reg})

	slow := &blockingSource{opened: make(chan struct{})}
	var wg sync.WaitGroup
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowErr = s.Load(context.Background(), slow)
	}()
	<-slow.opened

	_, err := s.Load(context.Background(), csvSource("b", flowsB))
	require.NoError(t, err)
	wg.Wait()

	assert.ErrorIs(t, slowErr, ErrSuperseded)
	assert.Equal(t, 1, mem.Renders())
	assert.Equal(t, "b", s.Current().Source)
}

func TestLoad_RowWarningsCounted(t *testing.T) {
	var warnings []error
	s := New(Options{OnWarning: func(err error) { warnings = append(warnings, err) }})

	data := `Client Addr,Server Addr,Client Bytes,Server Bytes,Events
A,B,1,1,0
A,B,1
,B,1,1,0
`
	res, err := s.Load(context.Background(), csvSource("w", data))
	require.NoError(t, err)

	assert.Equal(t, 1, res.ParseSkipped)
	assert.Equal(t, 1, res.Build.Skipped)
	assert.Len(t, warnings, 2)
	assert.Len(t, res.Model.Links, 1)
}

func TestLoad_AnomalousLinkStillPublished(t *testing.T) {
	s := New(Options{})
	data := "Client Addr,Server Addr,Client Bytes,Server Bytes,Events\nA,B,N/A,5,0\n"

	res, err := s.Load(context.Background(), csvSource("n", data))
	require.NoError(t, err)
	require.Len(t, res.Graph.Links, 1)
	assert.True(t, res.Graph.Links[0].Anomalous)
	assert.Equal(t, 1, res.Build.Anomalous)
}

func TestReload(t *testing.T) {
	s := New(Options{})
	_, err := s.Reload(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)

	path := filepath.Join(t.TempDir(), "flows.csv")
	require.NoError(t, os.WriteFile(path, []byte(flowsA), 0o644))
	_, err = s.Load(context.Background(), loader.FileSource{Path: path})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(flowsB), 0o644))
	res, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Model.Nodes, 2)
	assert.True(t, strings.HasSuffix(res.Source, "flows.csv"))
}
