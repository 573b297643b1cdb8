// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package grobid

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperstruct/internal/container"
	"github.com/pdiddy/paperstruct/internal/httputil"
	"github.com/pdiddy/paperstruct/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

// fakeRuntime records lifecycle calls. Starting flips alive so the test
// server begins answering its health probe.
type fakeRuntime struct {
	mu          sync.Mutex
	alive       *atomic.Bool
	hasImage    bool
	running     bool
	startErr    error
	pulls       int
	starts      int
	removes     int
	startedWith []string
}

func (f *fakeRuntime) Name() string                    { return "docker" }
func (f *fakeRuntime) Available(_ context.Context) bool { return true }

func (f *fakeRuntime) ImageExists(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasImage {
		return errors.New("no such image")
	}
	return nil
}

func (f *fakeRuntime) Pull(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	f.hasImage = true
	return nil
}

func (f *fakeRuntime) StartDetached(_ context.Context, name, image string, ports ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	f.startedWith = append([]string{name, image}, ports...)
	f.alive.Store(true)
	return nil
}

func (f *fakeRuntime) IsRunning(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRuntime) Remove(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	f.running = false
	f.alive.Store(false)
	return nil
}

// newEngineServer answers the health probe according to alive and serves
// the sample TEI for fulltext requests.
func newEngineServer(t *testing.T, alive *atomic.Bool, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(pathIsAlive, func(w http.ResponseWriter, _ *http.Request) {
		if !alive.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "true")
	})
	if handler != nil {
		mux.HandleFunc(pathFulltext, handler)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func testEngineConfig(url string) types.EngineConfig {
	cfg := types.DefaultEngineConfig()
	cfg.URL = url
	cfg.HealthInterval = 5 * time.Millisecond
	cfg.HealthTimeout = 2 * time.Second
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644))
	return path
}

func TestEnsureRunning_AlreadyHealthy(t *testing.T) {
	alive := &atomic.Bool{}
	alive.Store(true)
	ts := newEngineServer(t, alive, nil)
	rt := &fakeRuntime{alive: alive}

	c := NewClient(testEngineConfig(ts.URL), rt, nil)
	require.NoError(t, c.EnsureRunning(context.Background()))
	assert.Zero(t, rt.starts)
	assert.False(t, c.Started())
}

func TestEnsureRunning_PullsAndStarts(t *testing.T) {
	alive := &atomic.Bool{}
	ts := newEngineServer(t, alive, nil)
	rt := &fakeRuntime{alive: alive}

	cfg := testEngineConfig(ts.URL)
	c := NewClient(cfg, rt, nil)
	require.NoError(t, c.EnsureRunning(context.Background()))

	assert.Equal(t, 1, rt.pulls)
	assert.Equal(t, 1, rt.starts)
	assert.Equal(t, []string{cfg.ContainerName, cfg.Image, "8070:8070"}, rt.startedWith)
	assert.True(t, c.Started())

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 1, rt.removes)
	assert.False(t, c.Started())
}

func TestEnsureRunning_ConcurrentCallersShareStart(t *testing.T) {
	alive := &atomic.Bool{}
	ts := newEngineServer(t, alive, nil)
	rt := &fakeRuntime{alive: alive, hasImage: true}
	c := NewClient(testEngineConfig(ts.URL), rt, nil)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.EnsureRunning(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, rt.starts)
	assert.Zero(t, rt.pulls)
}

func TestEnsureRunning_Failures(t *testing.T) {
	t.Run("auto start disabled", func(t *testing.T) {
		alive := &atomic.Bool{}
		ts := newEngineServer(t, alive, nil)
		cfg := testEngineConfig(ts.URL)
		cfg.AutoStart = false

		err := NewClient(cfg, &fakeRuntime{alive: alive}, nil).EnsureRunning(context.Background())
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("no container runtime", func(t *testing.T) {
		alive := &atomic.Bool{}
		ts := newEngineServer(t, alive, nil)

		orig := detectRuntime
		detectRuntime = func(context.Context) (container.Runtime, error) {
			return nil, errors.New("no container runtime found")
		}
		defer func() { detectRuntime = orig }()

		err := NewClient(testEngineConfig(ts.URL), nil, nil).EnsureRunning(context.Background())
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("start fails", func(t *testing.T) {
		alive := &atomic.Bool{}
		ts := newEngineServer(t, alive, nil)
		rt := &fakeRuntime{alive: alive, hasImage: true, startErr: errors.New("port in use")}

		err := NewClient(testEngineConfig(ts.URL), rt, nil).EnsureRunning(context.Background())
		assert.ErrorIs(t, err, types.ErrStructureEngine)
	})

	t.Run("never healthy", func(t *testing.T) {
		alive := &atomic.Bool{}
		ts := newEngineServer(t, alive, nil)
		// Already running but the probe never succeeds.
		rt := &fakeRuntime{alive: &atomic.Bool{}, hasImage: true, running: true}
		cfg := testEngineConfig(ts.URL)
		cfg.HealthTimeout = 30 * time.Millisecond

		err := NewClient(cfg, rt, nil).EnsureRunning(context.Background())
		assert.ErrorIs(t, err, types.ErrStructureEngine)
		assert.Zero(t, rt.starts)
	})
}

func TestStop_NotStartedIsNoop(t *testing.T) {
	rt := &fakeRuntime{alive: &atomic.Bool{}}
	c := NewClient(testEngineConfig("http://127.0.0.1:1"), rt, nil)
	require.NoError(t, c.Stop(context.Background()))
	assert.Zero(t, rt.removes)
}

func TestProcessFulltext(t *testing.T) {
	tei, err := os.ReadFile("testdata/fulltext.tei.xml")
	require.NoError(t, err)

	alive := &atomic.Bool{}
	alive.Store(true)
	ts := newEngineServer(t, alive, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.ElementsMatch(t, []string{"ref", "biblStruct", "figure", "formula"}, r.MultipartForm.Value["teiCoordinates"])
		if files := r.MultipartForm.File["input"]; assert.Len(t, files, 1) {
			assert.Equal(t, "paper.pdf", files[0].Filename)
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write(tei)
	})

	c := NewClient(testEngineConfig(ts.URL), nil, nil)
	doc, err := c.ProcessFulltext(context.Background(), writeTempPDF(t))
	require.NoError(t, err)
	assert.Len(t, doc.References, 2)
	assert.Len(t, doc.Citations, 2)
}

func TestProcessFulltext_RetriesBusyEngine(t *testing.T) {
	tei, err := os.ReadFile("testdata/fulltext.tei.xml")
	require.NoError(t, err)

	var calls int32
	alive := &atomic.Bool{}
	alive.Store(true)
	ts := newEngineServer(t, alive, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(tei)
	})

	c := NewClient(testEngineConfig(ts.URL), nil, nil)
	doc, err := c.ProcessFulltext(context.Background(), writeTempPDF(t))
	require.NoError(t, err)
	assert.Len(t, doc.References, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestProcessFulltext_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"malformed xml", func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "<TEI><text>")
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alive := &atomic.Bool{}
			alive.Store(true)
			ts := newEngineServer(t, alive, tt.handler)
			cfg := testEngineConfig(ts.URL)
			cfg.RequestTimeout = 50 * time.Millisecond

			_, err := NewClient(cfg, nil, nil).ProcessFulltext(context.Background(), writeTempPDF(t))
			assert.ErrorIs(t, err, types.ErrStructureEngine)
		})
	}
}

func TestProcessFulltext_MissingFile(t *testing.T) {
	c := NewClient(testEngineConfig("http://127.0.0.1:1"), nil, nil)
	_, err := c.ProcessFulltext(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
