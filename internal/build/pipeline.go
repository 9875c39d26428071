// Package build runs the rebuild cycle behind the preview: batches of file
// changes are merged, at most one rebuild runs at a time, and connected
// browsers are told to reload once the rebuild has finished.
package build

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/theme"
	"github.com/pchhetri/zendesk-apps-tools/internal/upload"
	"github.com/pchhetri/zendesk-apps-tools/internal/watcher"
)

// maxPathReloads is the most per-file reloads one cycle sends. Larger
// batches become a single full page reload.
const maxPathReloads = 8

// Rebuilder refreshes whatever the browser loads. For themes that is an
// upload to the account; for apps the bundle is rebuilt per request and
// there is nothing to do.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Broadcaster delivers reload notifications. An empty path reloads the
// whole page.
type Broadcaster interface {
	Broadcast(path string)
}

// BuildResult describes one finished cycle.
type BuildResult struct {
	Cycle    int64
	Decision watcher.Decision
	Uploaded bool
	Error    error
	Duration time.Duration
}

// BuildCallback is called after every cycle, successful or not.
type BuildCallback func(result BuildResult)

// Pipeline coalesces triggers into single-flight rebuild cycles. Triggers
// that arrive while a cycle runs are merged and handled by the next cycle,
// so cycles never overlap and reloads go out in rebuild order.
type Pipeline struct {
	rebuilder   Rebuilder
	broadcaster Broadcaster
	logger      logging.Logger
	metrics     *BuildMetrics

	mutex     sync.Mutex
	ctx       context.Context
	pending   watcher.Decision
	running   bool
	cycles    int64
	callbacks []BuildCallback
	wg        sync.WaitGroup
}

// NewPipeline returns a pipeline that rebuilds with rebuilder and notifies
// broadcaster.
func NewPipeline(rebuilder Rebuilder, broadcaster Broadcaster, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pipeline{
		rebuilder:   rebuilder,
		broadcaster: broadcaster,
		logger:      logger.WithComponent("build"),
		metrics:     NewBuildMetrics(),
		ctx:         context.Background(),
	}
}

// Start sets the context cycles run under. Cancelling it aborts an
// in-flight upload.
func (p *Pipeline) Start(ctx context.Context) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.ctx = ctx
}

// AddCallback registers a callback for finished cycles.
func (p *Pipeline) AddCallback(callback BuildCallback) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

// GetMetrics returns a snapshot of the build counters.
func (p *Pipeline) GetMetrics() BuildMetrics {
	return p.metrics.GetSnapshot()
}

// Run performs the initial rebuild synchronously. No reload is sent since
// no browser has loaded the preview yet.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	err := p.rebuilder.Rebuild(ctx)
	p.metrics.RecordBuild(BuildResult{Uploaded: err == nil, Error: err, Duration: time.Since(start)})
	if err != nil {
		p.logFailure(ctx, err)
	}
	return err
}

// Trigger merges d into the pending change set and starts a cycle unless
// one is already running.
func (p *Pipeline) Trigger(d watcher.Decision) {
	if d.Empty() {
		return
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.pending = p.pending.Merge(d)
	if p.running {
		return
	}
	p.running = true
	p.wg.Add(1)
	go p.loop()
}

// HandleChanges adapts the pipeline to a watcher handler for root.
func (p *Pipeline) HandleChanges(root string) watcher.ChangeHandler {
	return func(events []watcher.ChangeEvent) error {
		p.Trigger(watcher.Classify(root, events))
		return nil
	}
}

// Wait blocks until no cycle is running.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) loop() {
	defer p.wg.Done()

	for {
		p.mutex.Lock()
		if p.pending.Empty() {
			p.running = false
			p.mutex.Unlock()
			return
		}
		decision := p.pending
		p.pending = watcher.Decision{}
		p.cycles++
		cycle := p.cycles
		ctx := p.ctx
		p.mutex.Unlock()

		p.cycle(ctx, cycle, decision)
	}
}

func (p *Pipeline) cycle(ctx context.Context, cycle int64, decision watcher.Decision) {
	start := time.Now()
	result := BuildResult{Cycle: cycle, Decision: decision}

	if decision.NeedUpload {
		p.logger.Info(ctx, "Rebuilding", "cycle", cycle, "changed", len(decision.Changed))
		if err := p.rebuilder.Rebuild(ctx); err != nil {
			result.Error = err
			result.Duration = time.Since(start)
			p.logFailure(ctx, err)
			p.finish(result)
			return
		}
		result.Uploaded = true
		p.broadcaster.Broadcast("")
	} else if len(decision.Changed) > maxPathReloads {
		p.broadcaster.Broadcast("")
	} else {
		for _, path := range decision.Changed {
			p.broadcaster.Broadcast(path)
		}
	}

	result.Duration = time.Since(start)
	p.finish(result)
}

func (p *Pipeline) finish(result BuildResult) {
	p.metrics.RecordBuild(result)

	p.mutex.Lock()
	callbacks := append([]BuildCallback(nil), p.callbacks...)
	p.mutex.Unlock()

	for _, callback := range callbacks {
		callback(result)
	}
}

func (p *Pipeline) logFailure(ctx context.Context, err error) {
	var uerr *upload.UploadError
	if errors.As(err, &uerr) && len(uerr.Diagnostics) > 0 {
		for _, d := range uerr.Diagnostics {
			p.logger.Error(ctx, d, "Template error",
				"template", d.Template, "line", d.Line, "column", d.Column)
		}
		return
	}
	p.logger.Error(ctx, err, "Rebuild failed")
}

// UploadRebuilder uploads a fresh theme payload on every rebuild.
type UploadRebuilder struct {
	Theme  *theme.Theme
	Client *upload.Client
	Logger logging.Logger
}

func (r *UploadRebuilder) Rebuild(ctx context.Context) error {
	payload, err := r.Theme.Payload()
	if err != nil {
		return err
	}

	ack, err := r.Client.Upload(ctx, payload)
	if err != nil {
		return err
	}

	if r.Logger != nil {
		r.Logger.Info(ctx, "Preview updated", "url", ack.PreviewURL, "templates", len(payload.Templates))
	}
	return nil
}

// LocalRebuilder is the apps mode rebuilder. app.js is compiled on every
// request, so a rebuild only needs to reload the browser.
type LocalRebuilder struct{}

func (LocalRebuilder) Rebuild(context.Context) error {
	return nil
}
