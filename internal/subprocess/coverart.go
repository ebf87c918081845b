package subprocess

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/httpclient"
	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
)

// coverArtFetchTimeout bounds the single GET a cover-art embed performs.
const coverArtFetchTimeout = 10 * time.Second

// coverArtMaxBytes caps the thumbnail payload read into memory before
// it's handed to the transcoder for embedding.
const coverArtMaxBytes = 8 * 1024 * 1024

// CoverArtFetcher downloads a thumbnail URL reported by the extractor so
// it can be embedded into an MP3-family output by the transcoder. The
// fetch goes through httpclient.ValidateOutboundURL because the URL
// comes from untrusted extractor metadata, not from a configured source.
type CoverArtFetcher struct {
	client *http.Client
	opts   httpclient.URLValidationOptions
}

// NewCoverArtFetcher builds a fetcher using the shared outbound HTTP
// client (proxy-bypass-aware transport) and the default validation
// options (no localhost, no private networks).
func NewCoverArtFetcher(logger logging.Logger) *CoverArtFetcher {
	return &CoverArtFetcher{
		client: httpclient.New(coverArtFetchTimeout, logger),
		opts:   httpclient.DefaultURLValidationOptions(),
	}
}

// Fetch validates thumbnailURL against SSRF rules, then downloads it,
// bounding the body at coverArtMaxBytes.
func (f *CoverArtFetcher) Fetch(ctx context.Context, thumbnailURL string) ([]byte, string, error) {
	target, err := httpclient.ValidateOutboundURL(thumbnailURL, f.opts)
	if err != nil {
		return nil, "", fmt.Errorf("coverart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, coverArtFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("coverart: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("coverart: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("coverart: unexpected status %d", resp.StatusCode)
	}

	data, err := httpclient.ReadAllWithLimit(resp.Body, coverArtMaxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("coverart: read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
