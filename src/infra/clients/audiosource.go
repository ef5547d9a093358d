package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arborfm/karaopipe/src/features/config"
	"github.com/arborfm/karaopipe/src/music"
	"github.com/go-resty/resty/v2"
)

const searchCacheTTL = 5 * time.Minute

// AudioSourceClient wraps the external audio-source API: search,
// track-info, and stream download.
type AudioSourceClient struct {
	http *resty.Client

	mu    sync.Mutex
	cache map[string]cachedSearch
}

type cachedSearch struct {
	results []music.SearchResult
	at      time.Time
}

// deezerSearchResponse and friends mirror the upstream JSON shape.
type deezerSearchResponse struct {
	Data []deezerTrack `json:"data"`
}

type deezerTrack struct {
	ID       int          `json:"id"`
	Title    string       `json:"title"`
	Artist   deezerArtist `json:"artist"`
	Album    deezerAlbum  `json:"album"`
	Duration int          `json:"duration"`
}

type deezerArtist struct {
	Name string `json:"name"`
}

type deezerAlbum struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	CoverBig    string `json:"cover_big"`
	ReleaseDate string `json:"release_date"`
}

// NewAudioSourceClient builds the client from its ClientConfig.
func NewAudioSourceClient(cfg config.ClientConfig) *AudioSourceClient {
	return &AudioSourceClient{
		http:  newRestyClient(cfg.BaseURL, cfg.Token, parseTimeout(cfg.Timeout, 30*time.Second)),
		cache: make(map[string]cachedSearch),
	}
}

// Search queries the upstream, dedups by (title+artist), and caches
// results for five minutes keyed by the lowercased query.
func (c *AudioSourceClient) Search(ctx context.Context, query string) ([]music.SearchResult, error) {
	key := strings.ToLower(strings.TrimSpace(query))

	c.mu.Lock()
	if hit, ok := c.cache[key]; ok && time.Since(hit.at) < searchCacheTTL {
		c.mu.Unlock()
		return hit.results, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var resp deezerSearchResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetQueryParam("limit", "10").
		SetResult(&resp).
		Get("/search")
	if err != nil {
		return nil, fmt.Errorf("audiosource search: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("audiosource search: status %d", res.StatusCode())
	}

	seen := make(map[string]bool)
	var out []music.SearchResult
	for _, t := range resp.Data {
		dedupKey := strings.ToLower(t.Title + "|" + t.Artist.Name)
		if seen[dedupKey] {
			continue
		}
		seen[dedupKey] = true
		out = append(out, music.SearchResult{
			ID:       strconv.Itoa(t.ID),
			Title:    t.Title,
			Artist:   t.Artist.Name,
			CoverURL: t.Album.CoverBig,
		})
	}

	c.mu.Lock()
	c.cache[key] = cachedSearch{results: out, at: time.Now()}
	c.mu.Unlock()

	return out, nil
}

// GetInfo fetches track metadata, carrying the full upstream track
// payload forward verbatim as the opaque blob the download stage needs.
func (c *AudioSourceClient) GetInfo(ctx context.Context, trackID string) (music.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var t deezerTrack
	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&t).
		Get("/track/" + url.PathEscape(trackID))
	if err != nil {
		return music.Metadata{}, fmt.Errorf("audiosource get_info: %w", err)
	}
	if res.IsError() {
		return music.Metadata{}, fmt.Errorf("audiosource get_info: status %d", res.StatusCode())
	}

	blob, err := json.Marshal(t)
	if err != nil {
		return music.Metadata{}, fmt.Errorf("audiosource get_info: marshal opaque blob: %w", err)
	}

	return music.Metadata{
		ID:              strconv.Itoa(t.ID),
		Title:           t.Title,
		Artist:          t.Artist.Name,
		Album:           t.Album.Title,
		DurationSeconds: float64(t.Duration),
		ImgURL:          t.Album.CoverBig,
		OpaqueBlob:      blob,
	}, nil
}

// Download writes the full audio file for the track described by the
// opaque blob to outPath. The blob is never inspected beyond the stream
// URL it carries; the upstream's encryption detail stays behind this
// contract.
func (c *AudioSourceClient) Download(ctx context.Context, opaqueBlob json.RawMessage, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	var t struct {
		Preview string `json:"preview"`
	}
	if err := json.Unmarshal(opaqueBlob, &t); err != nil {
		return fmt.Errorf("audiosource download: invalid opaque blob: %w", err)
	}
	if t.Preview == "" {
		return fmt.Errorf("audiosource download: no stream URL in opaque blob")
	}

	out, err := os.CreateTemp("", "karaopipe-download-*.mp3")
	if err != nil {
		return fmt.Errorf("audiosource download: %w", err)
	}
	defer os.Remove(out.Name())
	defer out.Close()

	res, err := c.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(t.Preview)
	if err != nil {
		return fmt.Errorf("audiosource download: %w", err)
	}
	defer res.RawBody().Close()
	if _, err := io.Copy(out, res.RawBody()); err != nil {
		return fmt.Errorf("audiosource download: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("audiosource download: %w", err)
	}

	data, err := os.ReadFile(out.Name())
	if err != nil {
		return fmt.Errorf("audiosource download: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("audiosource download: empty response")
	}
	return os.WriteFile(outPath, data, 0644)
}
