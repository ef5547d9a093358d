// Package clients implements the four external service clients the
// pipeline talks to: AudioSourceClient, ModelHost, ReferenceLyricsClient,
// and the generative fallback, all built on a shared resty.Client factory.
package clients

import (
	"bytes"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

// newBytesReader adapts an in-memory file read into the io.Reader resty's
// multipart file-upload helper expects.
func newBytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// newRestyClient builds a resty.Client configured with the per-call
// timeout budget and User-Agent convention every client in this package
// shares.
func newRestyClient(baseURL, token string, timeout time.Duration) *resty.Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "karaopipe/1.0").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	if token != "" {
		c.SetAuthToken(token)
	}
	return c
}

// parseTimeout falls back to a sane default when the configured value is
// empty or malformed, rather than failing client construction.
func parseTimeout(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
