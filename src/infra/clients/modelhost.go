package clients

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/arborfm/karaopipe/src/features/config"
	"github.com/arborfm/karaopipe/src/music"
	"github.com/go-resty/resty/v2"
)

// SeparatorOutput is a tagged sum over the model host's separator
// response shapes (mapping, pair, single URL), so callers match
// exhaustively instead of duck-typing the JSON.
type SeparatorOutput struct {
	kind      separatorKind
	vocals    string
	noVocals  string
	hasNoVocs bool
}

type separatorKind int

const (
	separatorMapping separatorKind = iota
	separatorPair
	separatorSingle
)

func (s SeparatorOutput) Vocals() string { return s.vocals }

// NoVocals returns the instrumental URL and whether one was present.
// Callers must tolerate its absence.
func (s SeparatorOutput) NoVocals() (string, bool) { return s.noVocals, s.hasNoVocs }

// parseSeparatorOutput implements the exhaustive match over the model
// host's three possible response shapes.
func parseSeparatorOutput(raw map[string]any) (SeparatorOutput, error) {
	if v, ok := raw["vocals_url"]; ok {
		out := SeparatorOutput{kind: separatorMapping, vocals: toString(v)}
		if nv, ok := raw["no_vocals_url"]; ok && toString(nv) != "" {
			out.noVocals, out.hasNoVocs = toString(nv), true
		}
		return out, nil
	}
	if v, ok := raw["vocals"]; ok {
		out := SeparatorOutput{kind: separatorPair, vocals: toString(v)}
		if nv, ok := raw["no_vocals"]; ok && toString(nv) != "" {
			out.noVocals, out.hasNoVocs = toString(nv), true
		}
		return out, nil
	}
	if v, ok := raw["url"]; ok {
		return SeparatorOutput{kind: separatorSingle, vocals: toString(v)}, nil
	}
	return SeparatorOutput{}, fmt.Errorf("modelhost: unrecognized separator response shape: %v", raw)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

// ModelHost is the generic remote function executor: upload,
// run_separator, run_aligner.
type ModelHost struct {
	http *resty.Client
}

func NewModelHost(cfg config.ClientConfig) *ModelHost {
	return &ModelHost{http: newRestyClient(cfg.BaseURL, cfg.Token, parseTimeout(cfg.Timeout, 10*time.Minute))}
}

// Upload reads path and returns an opaque URL the host can read back.
func (m *ModelHost) Upload(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("modelhost upload: %w", err)
	}

	var out struct {
		URL string `json:"url"`
	}
	res, err := m.http.R().
		SetContext(ctx).
		SetFileReader("file", path, newBytesReader(data)).
		SetResult(&out).
		Post("/upload")
	if err != nil {
		return "", fmt.Errorf("modelhost upload: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("modelhost upload: status %d", res.StatusCode())
	}
	return out.URL, nil
}

// RunSeparator calls the vocal-separation model and parses its
// polymorphic response into a SeparatorOutput.
func (m *ModelHost) RunSeparator(ctx context.Context, audioURL string) (SeparatorOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	var raw map[string]any
	res, err := m.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"audio_url": audioURL}).
		SetResult(&raw).
		Post("/run_separator")
	if err != nil {
		return SeparatorOutput{}, fmt.Errorf("modelhost run_separator: %w", err)
	}
	if res.IsError() {
		return SeparatorOutput{}, fmt.Errorf("modelhost run_separator: status %d", res.StatusCode())
	}
	return parseSeparatorOutput(raw)
}

// RunAligner calls the word-level ASR/diarization model. Callers retry
// with diarize=false when diarization fails.
func (m *ModelHost) RunAligner(ctx context.Context, audioURL string, diarize bool) (music.RawLyrics, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	var out music.RawLyrics
	res, err := m.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"audio_url": audioURL, "diarize": diarize}).
		SetResult(&out).
		Post("/run_aligner")
	if err != nil {
		return music.RawLyrics{}, fmt.Errorf("modelhost run_aligner: %w", err)
	}
	if res.IsError() {
		return music.RawLyrics{}, fmt.Errorf("modelhost run_aligner: status %d", res.StatusCode())
	}
	return out, nil
}
