package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/oap-labs/oapd/internal/apperr"
)

// Converter turns binary files and web pages into markdown text.
type Converter struct {
	converterURL string
	timeout      time.Duration
	client       *http.Client
}

func NewConverter(converterURL string, timeout time.Duration) *Converter {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Converter{
		converterURL: converterURL,
		timeout:      timeout,
		client:       &http.Client{Timeout: timeout},
	}
}

// ConvertFile sends the file to the external converter service and
// returns the extracted markdown. The call is bounded by the
// conversion timeout; hitting it yields a Timeout error so the caller
// can mark the file failed without aborting the batch.
func (c *Converter) ConvertFile(ctx context.Context, filename string, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.converterURL+"/convert", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Wrap(apperr.Timeout, err, "convert %s", filename)
		}
		return "", apperr.Wrap(apperr.UpstreamFailure, err, "convert %s", filename)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", apperr.New(apperr.UpstreamFailure, "convert %s: http %d: %s", filename, resp.StatusCode, string(msg))
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamFailure, err, "convert %s: read response", filename)
	}
	return string(out), nil
}

// ConvertURL fetches a web page and converts its HTML to markdown
// locally.
func (c *Converter) ConvertURL(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", apperr.New(apperr.InvalidInput, "bad url %q: %v", url, err)
	}
	req.Header.Set("User-Agent", "oapd/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Wrap(apperr.Timeout, err, "fetch %s", url)
		}
		return "", apperr.Wrap(apperr.UpstreamFailure, err, "fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(apperr.UpstreamFailure, "fetch %s: http %d", url, resp.StatusCode)
	}
	html, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamFailure, err, "fetch %s: read body", url)
	}

	md, err := htmltomarkdown.ConvertString(string(html))
	if err != nil {
		return "", fmt.Errorf("convert %s to markdown: %w", url, err)
	}
	return md, nil
}
