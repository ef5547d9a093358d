package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/arborfm/karaopipe/src/features/alignment"
	pipelineerrors "github.com/arborfm/karaopipe/src/features/errors"
	"github.com/arborfm/karaopipe/src/infra/tag"
	"github.com/arborfm/karaopipe/src/music"

	"github.com/arborfm/karaopipe/src/features/artifacts"
)

// runMetadata fetches and persists metadata.json.
func (p *Pipeline) runMetadata(ctx context.Context, trackID string, logger *slog.Logger) error {
	p.publish(trackID, music.StatusMetadata, progressFloor[music.StatusMetadata], "fetching metadata")
	if p.Store.Exists(trackID, artifacts.KeyMetadata) {
		logger.Debug("metadata already present, skipping")
		return nil
	}

	meta, err := p.AudioSource.GetInfo(ctx, trackID)
	if err != nil {
		return pipelineerrors.Source("METADATA", err)
	}
	if err := p.Store.SaveJSON(trackID, artifacts.KeyMetadata, meta); err != nil {
		return pipelineerrors.Storage("METADATA", err)
	}
	return nil
}

// runDownloading downloads, validates, and tags song.mp3.
func (p *Pipeline) runDownloading(ctx context.Context, trackID string, logger *slog.Logger) error {
	p.publish(trackID, music.StatusDownloading, progressFloor[music.StatusDownloading], "downloading audio")
	if p.Store.Exists(trackID, artifacts.KeySong) {
		logger.Debug("song.mp3 already present, skipping")
		return nil
	}

	var meta music.Metadata
	if err := p.Store.LoadJSON(trackID, artifacts.KeyMetadata, &meta); err != nil {
		return pipelineerrors.Storage("DOWNLOADING", err)
	}

	tmp, err := os.CreateTemp("", "karaopipe-song-*.mp3")
	if err != nil {
		return pipelineerrors.Storage("DOWNLOADING", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := p.AudioSource.Download(ctx, meta.OpaqueBlob, tmpPath); err != nil {
		return pipelineerrors.Source("DOWNLOADING", err)
	}
	if err := tag.Validate(tmpPath); err != nil {
		return pipelineerrors.Source("DOWNLOADING", err)
	}
	if err := tag.WriteMetadata(tmpPath, meta); err != nil {
		logger.Warn("failed to write id3 tags, keeping untagged file", "error", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return pipelineerrors.Storage("DOWNLOADING", err)
	}
	defer f.Close()
	if err := p.Store.SaveBinary(trackID, artifacts.KeySong, f); err != nil {
		return pipelineerrors.Storage("DOWNLOADING", err)
	}
	return nil
}

// runSplitting uploads song.mp3, runs the separator, fetches
// vocals/no_vocals and compresses both to the configured bitrate. An
// absent instrumental URL is tolerated; downstream only needs vocals.
func (p *Pipeline) runSplitting(ctx context.Context, trackID string, logger *slog.Logger) error {
	p.publish(trackID, music.StatusSplitting, progressFloor[music.StatusSplitting], "separating vocals")
	if p.Store.Exists(trackID, artifacts.KeyVocals) {
		logger.Debug("vocals.mp3 already present, skipping")
		return nil
	}

	songURL, err := p.ModelHost.Upload(ctx, p.Store.Path(trackID, artifacts.KeySong))
	if err != nil {
		return pipelineerrors.Model("SPLITTING", err)
	}

	out, err := p.ModelHost.RunSeparator(ctx, songURL)
	if err != nil {
		return pipelineerrors.Model("SPLITTING", err)
	}

	if err := p.fetchAndCompress(ctx, trackID, artifacts.KeyVocals, out.Vocals()); err != nil {
		return pipelineerrors.Model("SPLITTING", err)
	}

	if noVocalsURL, ok := out.NoVocals(); ok {
		if err := p.fetchAndCompress(ctx, trackID, artifacts.KeyNoVocals, noVocalsURL); err != nil {
			logger.Warn("failed to fetch no_vocals track, continuing without it", "error", err)
		}
	} else {
		logger.Debug("separator response carried no instrumental track")
	}

	return nil
}

// fetchAndCompress downloads url into the named artifact and re-encodes
// it to the configured bitrate via the artifact store's ffmpeg helper.
func (p *Pipeline) fetchAndCompress(ctx context.Context, trackID string, key artifacts.Key, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: status %d", url, res.StatusCode)
	}

	if err := p.Store.SaveBinary(trackID, key, res.Body); err != nil {
		return err
	}

	targetKbps := p.CompressTargetKbps
	if targetKbps <= 0 {
		targetKbps = 128
	}
	return p.Store.CompressAudio(p.Store.Path(trackID, key), targetKbps)
}

// runLyrics speculatively fetches reference lyrics, calls the aligner
// with a diarize retry, and runs an ASR-health retry ladder that falls
// through to the generative model when the aligner output is unusable.
func (p *Pipeline) runLyrics(ctx context.Context, trackID string, logger *slog.Logger) error {
	p.publish(trackID, music.StatusLyrics, progressFloor[music.StatusLyrics], "aligning lyrics")
	if p.Store.Exists(trackID, artifacts.KeyLyricsRaw) {
		logger.Debug("lyrics_raw.json already present, skipping")
		return nil
	}

	var meta music.Metadata
	if err := p.Store.LoadJSON(trackID, artifacts.KeyMetadata, &meta); err != nil {
		return pipelineerrors.Storage("LYRICS", err)
	}

	var refLines []string
	if lines, err := p.RefLyrics.Fetch(ctx, meta.Title, meta.Artist); err != nil {
		logger.Warn("reference lyrics fetch failed, proceeding without it", "error", err)
	} else if len(lines) > 0 {
		refLines = lines
		if err := p.Store.SaveJSON(trackID, artifacts.KeyReferenceLyrics, music.ReferenceLyrics{Lines: lines}); err != nil {
			return pipelineerrors.Storage("LYRICS", err)
		}
	}

	vocalsPath := p.Store.Path(trackID, artifacts.KeyVocals)
	vocalsURL, err := p.ModelHost.Upload(ctx, vocalsPath)
	if err != nil {
		return pipelineerrors.Model("LYRICS", err)
	}

	var raw music.RawLyrics
	healthy, reason := false, ""
	for attempt := 0; attempt < 3; attempt++ {
		raw, err = p.callAligner(ctx, vocalsURL)
		if err != nil {
			return pipelineerrors.Model("LYRICS", err)
		}
		words, _ := raw.FlatWords()
		healthy, reason = alignment.ASRHealthy(words, refLines)
		if healthy {
			break
		}
		logger.Warn("aligner output failed health check", "attempt", attempt+1, "reason", reason)
	}

	if !healthy && p.Generative != nil {
		words, _ := raw.FlatWords()
		asrText := flatWordsText(words)
		if genLines := p.Generative.FetchGenerative(ctx, asrText, vocalsPath); genLines != nil {
			logger.Info("falling back to generative transcription", "reason", reason)
			raw = remapGenerativeLines(genLines)
		} else {
			logger.Warn("generative fallback unavailable, keeping unhealthy aligner output", "reason", reason)
		}
	}

	if err := p.Store.SaveJSON(trackID, artifacts.KeyLyricsRaw, raw); err != nil {
		return pipelineerrors.Storage("LYRICS", err)
	}
	return nil
}

// callAligner runs the aligner with diarization, retrying once without
// it on failure.
func (p *Pipeline) callAligner(ctx context.Context, audioURL string) (music.RawLyrics, error) {
	raw, err := p.ModelHost.RunAligner(ctx, audioURL, true)
	if err == nil {
		return raw, nil
	}
	return p.ModelHost.RunAligner(ctx, audioURL, false)
}

func flatWordsText(words []music.Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Word
	}
	return strings.Join(parts, " ")
}

// remapGenerativeLines turns the generative fallback's plain-text lines
// into a RawLyrics with one untimed segment per line — the generative
// model never returns word timings, so Start/End are left at zero. The
// splitter downstream flattens all segments into one word stream, so these
// per-line boundaries are not carried into lyrics.json.
func remapGenerativeLines(lines []string) music.RawLyrics {
	segments := make([]music.Segment, 0, len(lines))
	for _, line := range lines {
		var words []music.Word
		for _, w := range strings.Fields(line) {
			words = append(words, music.Word{Word: w})
		}
		if len(words) == 0 {
			continue
		}
		segments = append(segments, music.Segment{Words: words, Text: line})
	}
	return music.RawLyrics{Segments: segments}
}

// runProcessing makes one more reference-lyrics attempt if still
// missing, handles the zero-ASR-words edge case, and otherwise runs the
// alignment engine's correct+split pass.
func (p *Pipeline) runProcessing(ctx context.Context, trackID string, logger *slog.Logger) error {
	p.publish(trackID, music.StatusProcessing, progressFloor[music.StatusProcessing], "correcting and splitting lyrics")
	if p.Store.Exists(trackID, artifacts.KeyLyrics) {
		logger.Debug("lyrics.json already present, skipping")
		return nil
	}

	var raw music.RawLyrics
	if err := p.Store.LoadJSON(trackID, artifacts.KeyLyricsRaw, &raw); err != nil {
		return pipelineerrors.Storage("PROCESSING", err)
	}

	var refLyrics music.ReferenceLyrics
	haveRef := p.Store.Exists(trackID, artifacts.KeyReferenceLyrics)
	if haveRef {
		if err := p.Store.LoadJSON(trackID, artifacts.KeyReferenceLyrics, &refLyrics); err != nil {
			return pipelineerrors.Storage("PROCESSING", err)
		}
	} else {
		var meta music.Metadata
		if err := p.Store.LoadJSON(trackID, artifacts.KeyMetadata, &meta); err != nil {
			return pipelineerrors.Storage("PROCESSING", err)
		}
		if lines, err := p.RefLyrics.Fetch(ctx, meta.Title, meta.Artist); err == nil && len(lines) > 0 {
			refLyrics.Lines = lines
		} else if p.Generative != nil {
			words, _ := raw.FlatWords()
			if lines := p.Generative.FetchGenerative(ctx, flatWordsText(words), ""); lines != nil {
				refLyrics.Lines = lines
			}
		}
		if len(refLyrics.Lines) > 0 {
			if err := p.Store.SaveJSON(trackID, artifacts.KeyReferenceLyrics, refLyrics); err != nil {
				return pipelineerrors.Storage("PROCESSING", err)
			}
		}
	}

	words, _ := raw.FlatWords()
	if len(words) == 0 {
		if len(refLyrics.Lines) == 0 {
			return pipelineerrors.ReferenceLyricsUnavailable("PROCESSING",
				fmt.Errorf("aligner returned zero words and no reference lyrics are available"))
		}
		lyrics := music.Lyrics{
			Untimed:      true,
			PlainLyrics:  refLyrics.Lines,
			LyricsSource: "reference",
		}
		if err := p.Store.SaveJSON(trackID, artifacts.KeyLyrics, lyrics); err != nil {
			return pipelineerrors.Storage("PROCESSING", err)
		}
		return nil
	}

	corrected, lineBreaks, stats := alignment.Correct(raw, refLyrics.Lines)
	if err := p.Store.SaveJSON(trackID, artifacts.KeyLyricsRaw, corrected); err != nil {
		return pipelineerrors.Storage("PROCESSING", err)
	}

	lyrics := alignment.Split(corrected, lineBreaks, stats)
	if p.Metrics != nil {
		p.Metrics.AlignmentQuality.Observe(stats.Quality)
	}
	if err := p.Store.SaveJSON(trackID, artifacts.KeyLyrics, lyrics); err != nil {
		return pipelineerrors.Storage("PROCESSING", err)
	}
	return nil
}

// runComplete strips the opaque blob from metadata.json and marks the
// track COMPLETE.
func (p *Pipeline) runComplete(ctx context.Context, trackID string, logger *slog.Logger) error {
	var meta music.Metadata
	if err := p.Store.LoadJSON(trackID, artifacts.KeyMetadata, &meta); err != nil {
		return pipelineerrors.Storage("COMPLETE", err)
	}
	if len(meta.OpaqueBlob) > 0 {
		meta.OpaqueBlob = nil
		if err := p.Store.SaveJSON(trackID, artifacts.KeyMetadata, meta); err != nil {
			return pipelineerrors.Storage("COMPLETE", err)
		}
	}

	if err := p.DB.ClearFailure(trackID); err != nil {
		logger.Warn("failed to clear stale processing_failures row", "error", err)
	}

	p.publish(trackID, music.StatusComplete, progressFloor[music.StatusComplete], "complete")
	if p.Notifier != nil {
		p.Notifier.NotifyComplete(trackID)
	}
	return nil
}
