package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/oap-labs/oapd/internal/apperr"
)

// TranscriptFetcher retrieves video transcripts, trying a primary
// provider then a fallback.
type TranscriptFetcher struct {
	primaryURL  string
	fallbackURL string
	client      *http.Client
}

func NewTranscriptFetcher(primaryURL, fallbackURL string, timeout time.Duration) *TranscriptFetcher {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &TranscriptFetcher{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		client:      &http.Client{Timeout: timeout},
	}
}

// Transcript holds a fetched video transcript.
type Transcript struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Fetch returns the transcript for a video URL. The fallback provider
// is tried when the primary fails for any reason.
func (t *TranscriptFetcher) Fetch(ctx context.Context, videoURL string) (*Transcript, error) {
	tr, primaryErr := t.fetchFrom(ctx, t.primaryURL, videoURL)
	if primaryErr == nil {
		return tr, nil
	}
	if t.fallbackURL == "" {
		return nil, primaryErr
	}
	tr, fallbackErr := t.fetchFrom(ctx, t.fallbackURL, videoURL)
	if fallbackErr != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, fallbackErr,
			"transcript for %s failed on both providers (primary: %v)", videoURL, primaryErr)
	}
	return tr, nil
}

func (t *TranscriptFetcher) fetchFrom(ctx context.Context, base, videoURL string) (*Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		base+"/transcript?url="+url.QueryEscape(videoURL), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.Timeout, err, "transcript %s", videoURL)
		}
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "transcript %s", videoURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, apperr.New(apperr.UpstreamFailure, "transcript %s: http %d: %s", videoURL, resp.StatusCode, string(msg))
	}
	var tr Transcript
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, err, "transcript %s: decode", videoURL)
	}
	if tr.Text == "" {
		return nil, apperr.New(apperr.UpstreamFailure, "transcript %s: empty transcript", videoURL)
	}
	return &tr, nil
}
