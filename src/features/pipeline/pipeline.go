// Package pipeline implements the six-stage per-track state machine:
// METADATA -> DOWNLOADING -> SPLITTING -> LYRICS -> PROCESSING ->
// COMPLETE. Each stage checks the artifact store first and is a no-op if
// its output already exists, making the whole pipeline idempotent and
// safe to resume from reconcile.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/arborfm/karaopipe/src/features/artifacts"
	pipelineerrors "github.com/arborfm/karaopipe/src/features/errors"
	"github.com/arborfm/karaopipe/src/features/logging"
	"github.com/arborfm/karaopipe/src/features/metrics"
	"github.com/arborfm/karaopipe/src/features/notify"
	"github.com/arborfm/karaopipe/src/features/progress"
	"github.com/arborfm/karaopipe/src/features/status"
	"github.com/arborfm/karaopipe/src/infra/clients"
	"github.com/arborfm/karaopipe/src/infra/database"
	"github.com/arborfm/karaopipe/src/music"
)

// progressFloor is the progress number published when a stage starts or
// when its output is already present on disk.
var progressFloor = map[music.Status]int{
	music.StatusMetadata:    5,
	music.StatusDownloading: 15,
	music.StatusSplitting:   35,
	music.StatusLyrics:      65,
	music.StatusProcessing:  87,
	music.StatusComplete:    100,
}

// Pipeline bundles every dependency a worker needs to run a track's six
// stages end to end, threaded in explicitly rather than held as globals.
type Pipeline struct {
	Store  *artifacts.Store
	DB     *database.DB
	Status *status.Registry
	Feed   *progress.Broadcaster

	AudioSource *clients.AudioSourceClient
	ModelHost   *clients.ModelHost
	RefLyrics   *clients.ReferenceLyricsClient
	Generative  *clients.GenerativeClient

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	CompressTargetKbps int
	LogDir             string
	Logger             *slog.Logger
}

// Run executes every stage in order for trackID, skipping any stage
// whose artifact already exists, and stops at the first failure. No
// later stage is attempted once one fails.
func (p *Pipeline) Run(ctx context.Context, trackID string) error {
	logger, closeLog := p.loggerFor(trackID)
	defer closeLog()

	stages := []struct {
		name string
		run  func(context.Context, string, *slog.Logger) error
	}{
		{"METADATA", p.runMetadata},
		{"DOWNLOADING", p.runDownloading},
		{"SPLITTING", p.runSplitting},
		{"LYRICS", p.runLyrics},
		{"PROCESSING", p.runProcessing},
		{"COMPLETE", p.runComplete},
	}

	for _, stage := range stages {
		start := time.Now()
		err := stage.run(ctx, trackID, logger)
		if p.Metrics != nil {
			p.Metrics.StageDuration.WithLabelValues(stage.name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			p.fail(trackID, stage.name, err, logger)
			return err
		}
	}
	return nil
}

// fail classifies the error, persists it, marks the track ERROR, and
// notifies. The worker does not retry on its own.
func (p *Pipeline) fail(trackID, stage string, err error, logger *slog.Logger) {
	if p.Metrics != nil {
		p.Metrics.StageFailureCount.WithLabelValues(stage).Inc()
	}

	pe, ok := err.(*pipelineerrors.PipelineError)
	if !ok {
		pe = pipelineerrors.Wrap(pipelineerrors.KindPipeline, stage, err)
	}

	logger.Error("stage failed", "stage", stage, "error", pe.Err)

	if dbErr := p.DB.RecordFailure(trackID, stage, pe.Error()); dbErr != nil {
		logger.Error("failed to record processing failure", "error", dbErr)
	}
	if dbErr := p.DB.LogError(string(pe.Kind), "pipeline", pe.Error(), pe.Stack, trackID); dbErr != nil {
		logger.Error("failed to write error_log", "error", dbErr)
	}

	p.publish(trackID, music.StatusError, 0, pe.Error())
	if p.Notifier != nil {
		p.Notifier.NotifyError(trackID, stage, pe.Error())
	}
}

// publish sets the status registry and fans the update out through the
// feed, the one path every stage transition takes.
func (p *Pipeline) publish(trackID string, st music.Status, progressPct int, detail string) {
	p.Status.Set(trackID, st, progressPct, detail)
	if p.Feed != nil {
		entry, _ := p.Status.Get(trackID)
		p.Feed.Publish(trackID, entry)
	}
}

// loggerFor opens the per-track log file and returns a logger that
// writes to both it and the shared logger, plus a closer.
func (p *Pipeline) loggerFor(trackID string) (*slog.Logger, func()) {
	base := p.Logger
	if base == nil {
		base = slog.Default()
	}
	base = logging.ForTrack(base, trackID)

	if p.LogDir == "" {
		return base, func() {}
	}
	if err := os.MkdirAll(p.LogDir, 0755); err != nil {
		base.Warn("could not create pipeline log dir", "error", err)
		return base, func() {}
	}
	path := filepath.Join(p.LogDir, fmt.Sprintf("%s-%d.log", trackID, time.Now().Unix()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		base.Warn("could not open per-track log file", "error", err)
		return base, func() {}
	}
	fileLogger := logging.ForTrack(slog.New(slog.NewTextHandler(f, nil)), trackID)
	return slog.New(&teeHandler{a: base.Handler(), b: fileLogger.Handler()}), func() { f.Close() }
}
