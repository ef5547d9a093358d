package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arborfm/karaopipe/src/features/config"
	"github.com/go-resty/resty/v2"
)

// ReferenceLyricsClient fetches clean plain-text reference lyrics from
// an lrclib-style plain-lyrics search endpoint.
type ReferenceLyricsClient struct {
	http *resty.Client
}

type lrclibSong struct {
	PlainLyrics  string `json:"plainLyrics"`
	SyncedLyrics string `json:"syncedLyrics"`
}

func NewReferenceLyricsClient(cfg config.ClientConfig) *ReferenceLyricsClient {
	return &ReferenceLyricsClient{http: newRestyClient(cfg.BaseURL, cfg.Token, parseTimeout(cfg.Timeout, 10*time.Second))}
}

// Fetch returns the reference lyric lines for (title, artist).
func (c *ReferenceLyricsClient) Fetch(ctx context.Context, title, artist string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var results []lrclibSong
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("track_name", title).
		SetQueryParam("artist_name", artist).
		SetResult(&results).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("referencelyrics fetch: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("referencelyrics fetch: status %d", res.StatusCode())
	}
	if len(results) == 0 {
		return nil, nil
	}

	song := results[0]
	if song.PlainLyrics != "" {
		return strings.Split(strings.TrimRight(song.PlainLyrics, "\n"), "\n"), nil
	}
	if song.SyncedLyrics != "" {
		return extractPlainFromSynced(song.SyncedLyrics), nil
	}
	return nil, nil
}

// extractPlainFromSynced strips LRC timestamp brackets ("[mm:ss.xx]Line")
// from every line.
func extractPlainFromSynced(synced string) []string {
	var out []string
	for _, line := range strings.Split(synced, "\n") {
		if idx := strings.Index(line, "]"); idx >= 0 {
			out = append(out, strings.TrimSpace(line[idx+1:]))
		}
	}
	return out
}

// GenerativeClient is the last-resort lyrics fallback: a generative
// model prompted with the noisy ASR text, trying a hybrid prompt+audio
// call first and falling back to text-only on any failure.
type GenerativeClient struct {
	http *resty.Client
}

func NewGenerativeClient(cfg config.ClientConfig) *GenerativeClient {
	return &GenerativeClient{http: newRestyClient(cfg.BaseURL, cfg.Token, parseTimeout(cfg.Timeout, 2*time.Minute))}
}

// FetchGenerative returns nil on complete failure rather than an error.
// Every remaining fallback rung has already been exhausted by the time
// this is called.
func (g *GenerativeClient) FetchGenerative(ctx context.Context, rawASRText string, vocalsPath string) []string {
	if vocalsPath != "" {
		if lines, err := g.generate(ctx, rawASRText, vocalsPath); err == nil {
			return lines
		}
	}
	lines, err := g.generate(ctx, rawASRText, "")
	if err != nil {
		return nil
	}
	return lines
}

func (g *GenerativeClient) generate(ctx context.Context, rawASRText, vocalsPath string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	body := map[string]any{"prompt": genPrompt(rawASRText)}
	if vocalsPath != "" {
		data, err := os.ReadFile(vocalsPath)
		if err != nil {
			return nil, fmt.Errorf("generative: read audio: %w", err)
		}
		body["audio_base64"] = base64.StdEncoding.EncodeToString(data)
	}

	var out struct {
		Lines []string `json:"lines"`
	}
	res, err := g.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/complete")
	if err != nil {
		return nil, fmt.Errorf("generative: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("generative: status %d", res.StatusCode())
	}
	return out.Lines, nil
}

func genPrompt(rawASRText string) string {
	if rawASRText == "" {
		return "Transcribe the song lyrics, one line per sung line."
	}
	return "Clean up and line-break these noisy song lyrics:\n" + rawASRText
}
