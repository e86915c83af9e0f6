// Package transcribe submits completed recordings to an external HTTP
// transcription endpoint through a bounded worker pool with retry, backoff,
// and cooperative shutdown.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/b08x/omega-13/internal/conf"
	"github.com/b08x/omega-13/internal/errors"
	"github.com/b08x/omega-13/internal/logging"
)

// Response is the transcription result parsed from the endpoint's JSON body.
type Response struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Client posts audio files to the configured transcription backend.
type Client struct {
	inferURL  string
	healthURL string
	apiKey    string
	model     string

	HTTPClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client from a validated backend configuration. The
// http.Client carries no timeout of its own; every request runs under a
// caller-supplied context deadline so shutdown can shorten it.
func NewClient(backend conf.TranscriptionBackend) (*Client, error) {
	base, err := url.Parse(backend.URL)
	if err != nil {
		return nil, errors.New(err).
			Component("transcribe").
			Category(errors.CategoryConfiguration).
			Context("url", backend.URL).
			Build()
	}

	inferPath := backend.Path
	if inferPath == "" {
		inferPath = "/inference"
	}
	infer := *base
	infer.Path = strings.TrimRight(infer.Path, "/") + inferPath

	return &Client{
		inferURL:   infer.String(),
		healthURL:  base.String(),
		apiKey:     backend.APIKey,
		model:      backend.Model,
		HTTPClient: &http.Client{},
		logger:     logging.ForService("transcribe"),
	}, nil
}

// Transcribe uploads the audio file as multipart/form-data and parses the
// JSON response. The context bounds the whole attempt.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*Response, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, errors.New(err).
			Component("transcribe").
			Category(errors.CategoryFileIO).
			Context("operation", "open_audio").
			Context("path", audioPath).
			Build()
	}
	defer func() { _ = file.Close() }()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, c.requestError(err, "create_form_file")
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, c.requestError(err, "copy_audio")
	}
	if err := form.WriteField("response_format", "json"); err != nil {
		return nil, c.requestError(err, "write_form_field")
	}
	if c.model != "" {
		if err := form.WriteField("model", c.model); err != nil {
			return nil, c.requestError(err, "write_form_field")
		}
	}
	if err := form.Close(); err != nil {
		return nil, c.requestError(err, "finalize_form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.inferURL, &body)
	if err != nil {
		return nil, c.requestError(err, "create_request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("transcribe").
			Category(errors.CategoryNetwork).
			Context("url", c.inferURL).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.New(err).
			Component("transcribe").
			Category(errors.CategoryNetwork).
			Context("operation", "read_response").
			Build()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf("transcription request failed with status %d: %s",
			resp.StatusCode, truncate(string(responseBody), 200)).
			Component("transcribe").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Context("url", c.inferURL).
			Build()
	}

	var parsed Response
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return nil, errors.New(err).
			Component("transcribe").
			Category(errors.CategoryHTTP).
			Context("operation", "decode_response").
			Build()
	}
	return &parsed, nil
}

// Health issues a cheap request to the endpoint root and reports whether
// the backend answered at all. Used at startup to warn the operator.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("transcription backend unreachable", "url", c.healthURL, "error", err)
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return true
}

func (c *Client) requestError(err error, op string) error {
	return errors.New(err).
		Component("transcribe").
		Category(errors.CategoryHTTP).
		Context("operation", op).
		Build()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// backoffDelay returns the sleep after a failed attempt: 2^(attempt-1)
// seconds, so 1 s before the first retry, doubling up to a 32 s cap.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}
