// Package dispatcher owns job admission and worker spawning:
// add/reprocess/status/reconcile, one goroutine per track running the
// pipeline end to end, and a bounded global concurrency semaphore.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arborfm/karaopipe/src/features/artifacts"
	pipelineerrors "github.com/arborfm/karaopipe/src/features/errors"
	"github.com/arborfm/karaopipe/src/features/notify"
	"github.com/arborfm/karaopipe/src/features/pipeline"
	"github.com/arborfm/karaopipe/src/features/status"
	"github.com/arborfm/karaopipe/src/infra/database"
	"github.com/arborfm/karaopipe/src/music"
)

// creditsPerJob is the fixed cost of one Add call for a non-admin user.
const creditsPerJob = 5

// Dispatcher owns job admission and worker spawning. It holds no
// per-track locks beyond the status registry's non-terminal check: no
// other code path writes a track's artifacts while a worker owns it.
type Dispatcher struct {
	Pipeline *pipeline.Pipeline
	Store    *artifacts.Store
	DB       *database.DB
	Status   *status.Registry
	Notifier *notify.Notifier
	Logger   *slog.Logger

	MaxConcurrentWorkers  int
	ReconcileStartupDelay time.Duration
	ReconcileSpawnStagger time.Duration

	sem chan struct{}
}

// New builds a Dispatcher with its concurrency semaphore sized by
// maxConcurrentWorkers.
func New(p *pipeline.Pipeline, store *artifacts.Store, db *database.DB, reg *status.Registry, notifier *notify.Notifier, logger *slog.Logger, maxConcurrentWorkers int, startupDelay, spawnStagger time.Duration) *Dispatcher {
	if maxConcurrentWorkers <= 0 {
		maxConcurrentWorkers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Pipeline:              p,
		Store:                 store,
		DB:                    db,
		Status:                reg,
		Notifier:              notifier,
		Logger:                logger,
		MaxConcurrentWorkers:  maxConcurrentWorkers,
		ReconcileStartupDelay: startupDelay,
		ReconcileSpawnStagger: spawnStagger,
		sem:                   make(chan struct{}, maxConcurrentWorkers),
	}
}

// Add rejects a track already being worked, returns `ready` for an
// already-complete track without charging credits, deducts credits for
// non-admin users, then spawns a worker.
func (d *Dispatcher) Add(ctx context.Context, trackID string, user music.User) pipelineerrors.AddResult {
	if d.Status.IsNonTerminal(trackID) {
		return pipelineerrors.AddResult{Variant: pipelineerrors.AddAlreadyProcessing}
	}

	if d.Store.IsComplete(trackID) {
		return pipelineerrors.AddResult{Variant: pipelineerrors.AddReady, Progress: 100}
	}

	if !user.IsAdmin {
		ok, err := d.DB.DeductCredits(user.ID, creditsPerJob)
		if err != nil {
			d.Logger.Error("failed to deduct credits", "user_id", user.ID, "error", err)
			return pipelineerrors.AddResult{Variant: pipelineerrors.AddInsufficientCredits}
		}
		if !ok {
			return pipelineerrors.AddResult{Variant: pipelineerrors.AddInsufficientCredits}
		}
	}

	if err := d.DB.LogUsage(user.ID, "", "download", trackID); err != nil {
		d.Logger.Warn("failed to record usage log", "error", err)
	}

	d.Status.Set(trackID, music.StatusMetadata, 5, "queued")
	d.spawn(trackID)
	return pipelineerrors.AddResult{Variant: pipelineerrors.AddOk}
}

// Reprocess deletes the artifacts for the named stage onward so the
// worker's skip-if-exists checks re-run them, then spawns exactly like
// Add. Credits are not charged again.
func (d *Dispatcher) Reprocess(ctx context.Context, trackID string, fromStage string) pipelineerrors.AddResult {
	if d.Status.IsNonTerminal(trackID) {
		return pipelineerrors.AddResult{Variant: pipelineerrors.AddAlreadyProcessing}
	}

	keys := stageKeysFrom(fromStage)
	if err := d.Store.DeleteArtifacts(trackID, keys...); err != nil {
		d.Logger.Error("failed to delete artifacts for reprocess", "track_id", trackID, "error", err)
	}
	if err := d.DB.ClearFailure(trackID); err != nil {
		d.Logger.Warn("failed to clear processing_failures row before reprocess", "error", err)
	}

	d.Status.Set(trackID, music.StatusMetadata, 5, "reprocessing")
	d.spawn(trackID)
	return pipelineerrors.AddResult{Variant: pipelineerrors.AddOk}
}

// stageKeysFrom maps a reprocess `from_stage` name to the artifacts that
// must be deleted so the corresponding stage (and everything after it)
// re-runs. "all" removes everything the pipeline ever wrote.
func stageKeysFrom(fromStage string) []artifacts.Key {
	switch fromStage {
	case "all":
		return []artifacts.Key{
			artifacts.KeyMetadata, artifacts.KeySong, artifacts.KeyVocals, artifacts.KeyNoVocals,
			artifacts.KeyLyricsRaw, artifacts.KeyReferenceLyrics, artifacts.KeyLyrics,
		}
	case "splitting":
		return []artifacts.Key{artifacts.KeyVocals, artifacts.KeyNoVocals, artifacts.KeyLyricsRaw, artifacts.KeyReferenceLyrics, artifacts.KeyLyrics}
	case "lyrics":
		return []artifacts.Key{artifacts.KeyLyricsRaw, artifacts.KeyReferenceLyrics, artifacts.KeyLyrics}
	case "processing":
		return []artifacts.Key{artifacts.KeyLyrics}
	default:
		return []artifacts.Key{artifacts.KeyLyrics}
	}
}

// TrackStatus is a pass-through read of one track's registry entry.
func (d *Dispatcher) TrackStatus(trackID string) (status.Entry, bool) {
	return d.Status.Get(trackID)
}

// AllStatus returns a snapshot of every tracked entry.
func (d *Dispatcher) AllStatus() map[string]status.Entry {
	return d.Status.GetAll()
}

// Reconcile, after the configured startup delay, resumes every
// incomplete track directory not already being worked, staggering spawns
// to avoid a thundering herd on the model host.
func (d *Dispatcher) Reconcile(ctx context.Context) {
	if d.ReconcileStartupDelay > 0 {
		select {
		case <-time.After(d.ReconcileStartupDelay):
		case <-ctx.Done():
			return
		}
	}

	ids, err := d.Store.AllTrackIDs()
	if err != nil {
		d.Logger.Error("reconcile: failed to enumerate track directories", "error", err)
		return
	}

	resumed := 0
	for _, trackID := range ids {
		if d.Store.IsComplete(trackID) {
			continue
		}
		if d.Status.IsNonTerminal(trackID) {
			continue
		}
		stage := d.Store.FirstMissingStage(trackID)
		d.Logger.Info("reconcile: resuming track", "track_id", trackID, "resume_stage", stage)
		d.Status.Set(trackID, music.StatusMetadata, 5, fmt.Sprintf("resuming at %s", stage))
		d.spawn(trackID)
		resumed++

		if d.ReconcileSpawnStagger > 0 {
			select {
			case <-time.After(d.ReconcileSpawnStagger):
			case <-ctx.Done():
				return
			}
		}
	}

	if d.Notifier != nil {
		d.Notifier.NotifyReconcileDone(resumed)
	}
}

// OnTrackDetected is the fsnotify watcher's callback: an externally
// dropped directory feeds the same resume path as reconcile.
func (d *Dispatcher) OnTrackDetected(trackID string) {
	if d.Status.IsNonTerminal(trackID) || d.Store.IsComplete(trackID) {
		return
	}
	stage := d.Store.FirstMissingStage(trackID)
	d.Logger.Info("watcher: detected track directory", "track_id", trackID, "resume_stage", stage)
	d.Status.Set(trackID, music.StatusMetadata, 5, fmt.Sprintf("resuming at %s", stage))
	d.spawn(trackID)
}

// spawn runs the pipeline for trackID in its own goroutine, gated by
// the global concurrency semaphore.
func (d *Dispatcher) spawn(trackID string) {
	go func() {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		if m := d.Pipeline.Metrics; m != nil {
			m.QueueDepth.Inc()
			defer m.QueueDepth.Dec()
		}

		ctx := context.Background()
		if err := d.Pipeline.Run(ctx, trackID); err != nil {
			d.Logger.Error("pipeline run ended in error", "track_id", trackID, "error", err)
		}
	}()
}
