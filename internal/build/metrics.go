package build

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pchhetri/zendesk-apps-tools/internal/monitoring"
)

// BuildMetrics summarises the cycles a pipeline has run. It backs the
// "builds" entry of /health; the prometheus counters carry the same data
// for scraping.
type BuildMetrics struct {
	TotalBuilds     int64
	FailedBuilds    int64
	Uploads         int64
	AverageDuration time.Duration
	TotalDuration   time.Duration
	// LastError is the error of the most recent cycle, empty after a
	// successful one.
	LastError string
	mutex     sync.RWMutex
}

func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records a cycle result.
func (bm *BuildMetrics) RecordBuild(result BuildResult) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += result.Duration
	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)

	if result.Uploaded {
		bm.Uploads++
	}

	bm.LastError = ""
	if result.Error != nil {
		bm.FailedBuilds++
		bm.LastError = result.Error.Error()
	}
}

// GetSnapshot returns a copy of the counters.
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()
	return BuildMetrics{
		TotalBuilds:     bm.TotalBuilds,
		FailedBuilds:    bm.FailedBuilds,
		Uploads:         bm.Uploads,
		AverageDuration: bm.AverageDuration,
		TotalDuration:   bm.TotalDuration,
		LastError:       bm.LastError,
	}
}

// HealthCheck reports the pipeline in /health. A failed last cycle
// degrades the server but never makes it unhealthy.
func (p *Pipeline) HealthCheck() monitoring.HealthChecker {
	return monitoring.NewHealthCheckFunc("builds", func(context.Context) monitoring.HealthCheck {
		snapshot := p.metrics.GetSnapshot()
		summary := fmt.Sprintf("%d builds, %d failed, %d uploads, average %s",
			snapshot.TotalBuilds, snapshot.FailedBuilds, snapshot.Uploads,
			snapshot.AverageDuration.Round(time.Millisecond))

		check := monitoring.HealthCheck{Name: "builds", Status: monitoring.HealthStatusHealthy, Message: summary}
		if snapshot.LastError != "" {
			check.Status = monitoring.HealthStatusDegraded
			check.Message = "last build failed: " + snapshot.LastError
		}
		return check
	})
}
