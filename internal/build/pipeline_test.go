package build

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchhetri/zendesk-apps-tools/internal/theme"
	"github.com/pchhetri/zendesk-apps-tools/internal/upload"
	"github.com/pchhetri/zendesk-apps-tools/internal/watcher"
)

// recorder captures rebuilds and broadcasts in the order they happen.
type recorder struct {
	mu     sync.Mutex
	events []string

	// gate, when set, blocks each rebuild until a value is received.
	gate    chan struct{}
	started chan struct{}
	active  atomic.Int32
	overlap atomic.Bool
	err     error
}

func (r *recorder) Rebuild(ctx context.Context) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}

	r.mu.Lock()
	r.events = append(r.events, "rebuild")
	r.mu.Unlock()
	return r.err
}

func (r *recorder) Broadcast(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "reload:"+path)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestUploadBeforeBroadcast(t *testing.T) {
	rec := &recorder{}
	p := NewPipeline(rec, rec, nil)

	p.Trigger(watcher.Decision{NeedUpload: true, Changed: []string{"templates/home_page.hbs"}})
	p.Wait()

	assert.Equal(t, []string{"rebuild", "reload:"}, rec.Events())
	metrics := p.GetMetrics()
	assert.Equal(t, int64(1), metrics.TotalBuilds)
	assert.Equal(t, int64(1), metrics.Uploads)
}

func TestPerFileReloadWithoutUpload(t *testing.T) {
	rec := &recorder{}
	p := NewPipeline(rec, rec, nil)

	p.Trigger(watcher.Decision{Changed: []string{"assets/logo.png", "style.css"}})
	p.Wait()

	assert.Equal(t, []string{"reload:assets/logo.png", "reload:style.css"}, rec.Events())
	assert.Equal(t, int64(0), p.GetMetrics().Uploads)
}

func TestLargeBatchBecomesPageReload(t *testing.T) {
	tests := []struct {
		name     string
		files    int
		expected int
	}{
		{"at the limit", maxPathReloads, maxPathReloads},
		{"over the limit", maxPathReloads + 1, 1},
		{"hundred assets", 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := NewPipeline(rec, rec, nil)

			changed := make([]string, tt.files)
			for i := range changed {
				changed[i] = fmt.Sprintf("assets/img%03d.png", i)
			}
			p.Trigger(watcher.Decision{Changed: changed})
			p.Wait()

			events := rec.Events()
			assert.Len(t, events, tt.expected)
			if tt.expected == 1 {
				assert.Equal(t, []string{"reload:"}, events)
			}
		})
	}
}

func TestEmptyDecisionIgnored(t *testing.T) {
	rec := &recorder{}
	p := NewPipeline(rec, rec, nil)

	p.Trigger(watcher.Decision{})
	p.Wait()

	assert.Empty(t, rec.Events())
	assert.Equal(t, int64(0), p.GetMetrics().TotalBuilds)
}

func TestFailedRebuildDoesNotBroadcast(t *testing.T) {
	rec := &recorder{err: errors.New("422")}
	p := NewPipeline(rec, rec, nil)

	var results []BuildResult
	p.AddCallback(func(result BuildResult) {
		results = append(results, result)
	})

	p.Trigger(watcher.Decision{NeedUpload: true, Changed: []string{"manifest.json"}})
	p.Wait()

	assert.Equal(t, []string{"rebuild"}, rec.Events())
	require.Len(t, results, 1)
	assert.Error(t, results[0].Error)
	assert.False(t, results[0].Uploaded)
	assert.Equal(t, int64(1), p.GetMetrics().FailedBuilds)
}

func TestTriggersMergeWhileRunning(t *testing.T) {
	rec := &recorder{
		gate:    make(chan struct{}),
		started: make(chan struct{}, 4),
	}
	p := NewPipeline(rec, rec, nil)

	var mu sync.Mutex
	var decisions []watcher.Decision
	p.AddCallback(func(result BuildResult) {
		mu.Lock()
		defer mu.Unlock()
		decisions = append(decisions, result.Decision)
	})

	p.Trigger(watcher.Decision{NeedUpload: true, Changed: []string{"templates/a.hbs"}})
	<-rec.started

	// Both arrive while the first upload is blocked and must be folded
	// into a single follow-up cycle.
	p.Trigger(watcher.Decision{Changed: []string{"style.css"}})
	p.Trigger(watcher.Decision{NeedUpload: true, Changed: []string{"templates/b.hbs"}})

	rec.gate <- struct{}{}
	<-rec.started
	rec.gate <- struct{}{}
	p.Wait()

	assert.False(t, rec.overlap.Load(), "rebuilds overlapped")
	assert.Equal(t, []string{"rebuild", "reload:", "rebuild", "reload:"}, rec.Events())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, decisions, 2)
	assert.Equal(t, []string{"style.css", "templates/b.hbs"}, decisions[1].Changed)
	assert.True(t, decisions[1].NeedUpload)
}

func TestHandleChangesClassifies(t *testing.T) {
	rec := &recorder{}
	p := NewPipeline(rec, rec, nil)

	handler := p.HandleChanges("/theme")
	require.NoError(t, handler([]watcher.ChangeEvent{
		{Type: watcher.EventTypeModified, Path: "/theme/assets/app.css", ModTime: time.Now()},
	}))
	p.Wait()

	assert.Equal(t, []string{"reload:assets/app.css"}, rec.Events())
}

func TestRunPerformsInitialRebuild(t *testing.T) {
	rec := &recorder{}
	p := NewPipeline(rec, rec, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []string{"rebuild"}, rec.Events(), "initial rebuild never reloads")

	rec.err = errors.New("unauthorized")
	assert.Error(t, p.Run(context.Background()))
}

func TestUploadRebuilder(t *testing.T) {
	var uploads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/theme/manifest.json", []byte(`{"name": "Copenhagen"}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/theme/templates/home_page.hbs", []byte("<h1/>"), 0o644))

	rebuilder := &UploadRebuilder{
		Theme:  theme.New(fs, "/theme", "http://localhost:4567", "manager"),
		Client: upload.NewClient(server.URL, upload.Credentials{Username: "u", Token: "t"}, nil),
	}
	require.NoError(t, rebuilder.Rebuild(context.Background()))
	assert.Equal(t, int32(1), uploads.Load())
}

func TestUploadRebuilderDiagnostics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"template_errors": {"home_page": [{"line": 1, "column": 2, "description": "bad"}]}}`))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/theme/manifest.json", []byte(`{"name": "Copenhagen"}`), 0o644))

	rebuilder := &UploadRebuilder{
		Theme:  theme.New(fs, "/theme", "http://localhost:4567", "manager"),
		Client: upload.NewClient(server.URL, upload.Credentials{Username: "u", Token: "t"}, nil),
	}
	p := NewPipeline(rebuilder, &recorder{}, nil)

	err := p.Run(context.Background())
	var uerr *upload.UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Len(t, uerr.Diagnostics, 1)
}

func TestLocalRebuilder(t *testing.T) {
	assert.NoError(t, LocalRebuilder{}.Rebuild(context.Background()))
}
