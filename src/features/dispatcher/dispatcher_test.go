package dispatcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arborfm/karaopipe/src/features/artifacts"
	"github.com/arborfm/karaopipe/src/features/config"
	pipelineerrors "github.com/arborfm/karaopipe/src/features/errors"
	"github.com/arborfm/karaopipe/src/features/pipeline"
	"github.com/arborfm/karaopipe/src/features/status"
	"github.com/arborfm/karaopipe/src/infra/clients"
	"github.com/arborfm/karaopipe/src/infra/database"
	"github.com/arborfm/karaopipe/src/music"
)

// newTestDispatcher wires a dispatcher whose external clients point at an
// unroutable address: any worker that actually reaches a client fails
// fast and lands in ERROR, which is all these tests need.
func newTestDispatcher(t *testing.T) (*Dispatcher, *artifacts.Store, *database.DB) {
	t.Helper()
	store := artifacts.New(t.TempDir())
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := status.New()
	dead := config.ClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: "100ms"}
	p := &pipeline.Pipeline{
		Store:       store,
		DB:          db,
		Status:      reg,
		AudioSource: clients.NewAudioSourceClient(dead),
		ModelHost:   clients.NewModelHost(dead),
		RefLyrics:   clients.NewReferenceLyricsClient(dead),
	}
	d := New(p, store, db, reg, nil, slog.Default(), 2, 0, time.Millisecond)
	return d, store, db
}

func seedCompleteTrack(t *testing.T, store *artifacts.Store, trackID string) {
	t.Helper()
	store.SaveJSON(trackID, artifacts.KeyMetadata, music.Metadata{ID: trackID})
	store.SaveBinary(trackID, artifacts.KeySong, strings.NewReader("mp3"))
	store.SaveBinary(trackID, artifacts.KeyVocals, strings.NewReader("mp3"))
	store.SaveBinary(trackID, artifacts.KeyNoVocals, strings.NewReader("mp3"))
	store.SaveJSON(trackID, artifacts.KeyLyrics, music.Lyrics{LyricsSource: "heuristic"})
}

func TestAddRejectsInsufficientCredits(t *testing.T) {
	d, _, db := newTestDispatcher(t)
	db.UpsertUser("u1", false, 4)

	res := d.Add(context.Background(), "100", music.User{ID: "u1", Credits: 4})
	if res.Variant != pipelineerrors.AddInsufficientCredits {
		t.Fatalf("got %v, want insufficient_credits", res.Variant)
	}

	u, _ := db.GetUser("u1")
	if u.Credits != 4 {
		t.Errorf("credits must be unchanged, got %d", u.Credits)
	}
	if _, ok := d.Status.Get("100"); ok {
		t.Error("nothing should have been enqueued")
	}
}

func TestAddRejectsDuplicateWhileProcessing(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	d.Status.Set("100", music.StatusSplitting, 35, "")

	res := d.Add(context.Background(), "100", music.User{ID: "u1", IsAdmin: true})
	if res.Variant != pipelineerrors.AddAlreadyProcessing {
		t.Fatalf("got %v, want already_processing", res.Variant)
	}
}

func TestAddReturnsReadyWithoutChargingForCompleteTrack(t *testing.T) {
	d, store, db := newTestDispatcher(t)
	db.UpsertUser("u1", false, 10)
	seedCompleteTrack(t, store, "100")

	res := d.Add(context.Background(), "100", music.User{ID: "u1", Credits: 10})
	if res.Variant != pipelineerrors.AddReady || res.Progress != 100 {
		t.Fatalf("got %+v, want ready/100", res)
	}
	u, _ := db.GetUser("u1")
	if u.Credits != 10 {
		t.Errorf("ready must not charge credits, got %d", u.Credits)
	}
}

func TestAddDeductsCreditsAndSpawns(t *testing.T) {
	d, _, db := newTestDispatcher(t)
	db.UpsertUser("u1", false, 10)

	res := d.Add(context.Background(), "100", music.User{ID: "u1", Credits: 10})
	if res.Variant != pipelineerrors.AddOk {
		t.Fatalf("got %v, want ok", res.Variant)
	}
	u, _ := db.GetUser("u1")
	if u.Credits != 5 {
		t.Errorf("got %d credits, want 5", u.Credits)
	}
	if _, ok := d.Status.Get("100"); !ok {
		t.Error("expected a status entry after a successful add")
	}
}

func TestAdminAddSkipsCreditCheck(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	// The admin user has no row in the users table at all; Add must not
	// consult it.
	res := d.Add(context.Background(), "100", music.User{ID: "admin", IsAdmin: true})
	if res.Variant != pipelineerrors.AddOk {
		t.Fatalf("got %v, want ok", res.Variant)
	}
}

func TestReprocessDeletesStageArtifacts(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	seedCompleteTrack(t, store, "100")
	store.SaveJSON("100", artifacts.KeyLyricsRaw, music.RawLyrics{})
	store.SaveJSON("100", artifacts.KeyReferenceLyrics, music.ReferenceLyrics{Lines: []string{"x"}})

	res := d.Reprocess(context.Background(), "100", "lyrics")
	if res.Variant != pipelineerrors.AddOk {
		t.Fatalf("got %v, want ok", res.Variant)
	}

	for _, key := range []artifacts.Key{artifacts.KeyLyricsRaw, artifacts.KeyReferenceLyrics, artifacts.KeyLyrics} {
		if store.Exists("100", key) {
			t.Errorf("%s should have been deleted", key)
		}
	}
	for _, key := range []artifacts.Key{artifacts.KeyMetadata, artifacts.KeySong, artifacts.KeyVocals} {
		if !store.Exists("100", key) {
			t.Errorf("%s should have survived", key)
		}
	}
}

func TestReprocessRejectsWhileProcessing(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	seedCompleteTrack(t, store, "100")
	d.Status.Set("100", music.StatusLyrics, 65, "")

	res := d.Reprocess(context.Background(), "100", "all")
	if res.Variant != pipelineerrors.AddAlreadyProcessing {
		t.Fatalf("got %v, want already_processing", res.Variant)
	}
	if !store.Exists("100", artifacts.KeySong) {
		t.Error("artifacts must not be deleted while a worker owns the track")
	}
}

// Startup reconciliation: a complete directory stays untouched, the two
// incomplete ones are resumed.
func TestReconcileResumesOnlyIncompleteTracks(t *testing.T) {
	d, store, _ := newTestDispatcher(t)

	seedCompleteTrack(t, store, "1") // A: complete
	store.SaveJSON("2", artifacts.KeyMetadata, music.Metadata{ID: "2"}) // B: vocals missing onward
	store.SaveBinary("2", artifacts.KeySong, strings.NewReader("mp3"))
	store.SaveJSON("3", artifacts.KeyMetadata, music.Metadata{ID: "3"}) // C: vocals present, lyrics missing
	store.SaveBinary("3", artifacts.KeySong, strings.NewReader("mp3"))
	store.SaveBinary("3", artifacts.KeyVocals, strings.NewReader("mp3"))
	store.SaveBinary("3", artifacts.KeyNoVocals, strings.NewReader("mp3"))

	d.Reconcile(context.Background())

	if _, ok := d.Status.Get("1"); ok {
		t.Error("complete track must not be re-enqueued")
	}
	for _, id := range []string{"2", "3"} {
		if _, ok := d.Status.Get(id); !ok {
			t.Errorf("track %s should have been resumed", id)
		}
	}
}

func TestReconcileSkipsTracksAlreadyQueued(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	store.SaveJSON("2", artifacts.KeyMetadata, music.Metadata{ID: "2"})
	d.Status.Set("2", music.StatusSplitting, 35, "")

	d.Reconcile(context.Background())

	entry, _ := d.Status.Get("2")
	if entry.Status != music.StatusSplitting {
		t.Errorf("reconcile must not reset a running track, got %+v", entry)
	}
}

func TestStageKeysFrom(t *testing.T) {
	if keys := stageKeysFrom("processing"); len(keys) != 1 || keys[0] != artifacts.KeyLyrics {
		t.Errorf("got %v", keys)
	}
	if keys := stageKeysFrom("all"); len(keys) != 7 {
		t.Errorf("got %d keys for all, want 7", len(keys))
	}
	if keys := stageKeysFrom("splitting"); keys[0] != artifacts.KeyVocals {
		t.Errorf("got %v", keys)
	}
}
