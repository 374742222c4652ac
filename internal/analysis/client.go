package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/fluentkids/phonotrail/internal/game"
)

// DefaultTimeout bounds one upload round trip.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Request is one attempt's upload payload.
type Request struct {
	Exercise Exercise

	// Audio is the WAV-encoded recording.
	Audio []byte

	// Metrics is the attempt's game-metrics snapshot, forwarded as form
	// fields alongside the audio.
	Metrics game.Metrics

	// TargetPhoneme is the prompt's phoneme.
	TargetPhoneme string
}

// Analyzer is the upload contract the reconciliation pipeline depends on.
// Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}

// Option is a functional option for configuring the [Client].
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client implements [Analyzer] against the analysis service's HTTP API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

var _ Analyzer = (*Client)(nil)

// NewClient creates a Client for the service at baseURL (no trailing slash).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("analysis: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Analyze uploads the recording as multipart/form-data to the exercise's
// endpoint and normalizes the response. A non-2xx status or malformed body
// is an error; retry policy belongs to the caller.
func (c *Client) Analyze(ctx context.Context, req Request) (Result, error) {
	if !req.Exercise.IsValid() {
		return Result{}, fmt.Errorf("analysis: unknown exercise %q", req.Exercise)
	}

	body, contentType, err := encodeUpload(req)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/analyze/" + string(req.Exercise)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("analysis: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("analysis: read response body: %w", err)
	}
	res, err := normalize(data)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: parse response: %w", err)
	}
	return res, nil
}

// encodeUpload builds the multipart body: the audio file plus the game
// metrics and target phoneme as form fields.
func encodeUpload(req Request) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "attempt.wav")
	if err != nil {
		return nil, "", fmt.Errorf("analysis: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("analysis: write audio: %w", err)
	}

	fields := map[string]string{
		"duration_achieved":     formatFloat(req.Metrics.DurationAchieved),
		"target_duration":       formatFloat(req.Metrics.TargetDuration),
		"completion_percentage": formatFloat(req.Metrics.CompletionPercent),
		"target_phoneme":        req.TargetPhoneme,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("analysis: write field %s: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("analysis: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
