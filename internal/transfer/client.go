// Package transfer provides a client for the photo enhancement service.
//
// The service exposes three calls used by the workflow:
//  1. POST /upload stores a photo and returns an opaque handle (the server-side filename)
//  2. POST /enhance/background/{handle} or /enhance/upscale/{handle}?scale=N
//     processes a stored photo and returns a result handle
//  3. GET /download/{result} serves the processed image
//
// The client makes exactly one round trip per call: no caching, no retries.
// Failures are converted to *UploadError or *EnhancementError carrying the
// service's "detail" message when present.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is used when no service address is configured.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultUploadTimeout bounds a single upload round trip.
	DefaultUploadTimeout = 60 * time.Second

	// DefaultEnhanceTimeout bounds a single enhancement. Processing on the
	// service side takes seconds, longer for 4x upscales.
	DefaultEnhanceTimeout = 5 * time.Minute

	defaultHealthTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a JSON response body is read.
	maxResponseBytes = 1 << 20
)

// Client talks to the enhancement service over HTTP.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	uploadTimeout  time.Duration
	enhanceTimeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUploadTimeout sets the per-upload deadline. Zero keeps the default.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.uploadTimeout = d
		}
	}
}

// WithEnhanceTimeout sets the per-enhancement deadline. Zero keeps the default.
func WithEnhanceTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.enhanceTimeout = d
		}
	}
}

// NewClient creates a client for the service at baseURL. The address is
// fixed for the lifetime of the client.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient:     &http.Client{},
		baseURL:        strings.TrimRight(baseURL, "/"),
		uploadTimeout:  DefaultUploadTimeout,
		enhanceTimeout: DefaultEnhanceTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// --- API response types ---

type uploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Size     struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"size"`
}

type enhanceResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Original string `json:"original"`
	Result   string `json:"result"`
}

// errorResponse is the service's error envelope. Detail is usually a
// string; request validation failures carry a list of objects instead.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// HealthStatus is the service's root document.
type HealthStatus struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Endpoints map[string]string `json:"endpoints"`
}

// --- Operations ---

// Upload stores file on the service and returns its handle.
func (c *Client) Upload(ctx context.Context, file *filehandler.ImageFile) (string, error) {
	if file == nil {
		return "", &UploadError{Reason: FallbackUploadReason, Err: errors.New("no file")}
	}

	body, contentType, err := multipartBody(file)
	if err != nil {
		return "", &UploadError{Reason: FallbackUploadReason, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	log.Debug().
		Str("file", file.Name).
		Str("mime_type", file.MIMEType).
		Int64("size_bytes", file.Size()).
		Msg("Uploading image")

	status, respBody, err := c.do(ctx, http.MethodPost, "/upload", body, contentType)
	if err != nil {
		return "", &UploadError{Reason: FallbackUploadReason, Err: err}
	}
	if status >= http.StatusBadRequest {
		return "", &UploadError{
			Reason:     reasonOrFallback(respBody, FallbackUploadReason),
			StatusCode: status,
			Err:        fmt.Errorf("status %d", status),
		}
	}

	var resp uploadResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &UploadError{
			Reason:     FallbackUploadReason,
			StatusCode: status,
			Err:        fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(respBody), 200)),
		}
	}
	if resp.Filename == "" {
		return "", &UploadError{
			Reason:     FallbackUploadReason,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected response: no filename returned (body: %s)", truncate(string(respBody), 200)),
		}
	}

	log.Info().Str("handle", resp.Filename).Int("width", resp.Size.Width).Int("height", resp.Size.Height).Msg("Upload complete")
	return resp.Filename, nil
}

// Enhance runs op on the uploaded image identified by handle and returns the
// result handle. The call blocks until the service responds.
func (c *Client) Enhance(ctx context.Context, handle string, op Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", &EnhancementError{Reason: err.Error(), Err: err}
	}

	endpoint := enhancePath(handle, op)

	ctx, cancel := context.WithTimeout(ctx, c.enhanceTimeout)
	defer cancel()

	log.Debug().Str("handle", handle).Str("operation", op.String()).Msg("Requesting enhancement")

	status, respBody, err := c.do(ctx, http.MethodPost, endpoint, nil, "")
	if err != nil {
		return "", &EnhancementError{Reason: FallbackEnhancementReason, Err: err}
	}
	if status >= http.StatusBadRequest {
		return "", &EnhancementError{
			Reason:     reasonOrFallback(respBody, FallbackEnhancementReason),
			StatusCode: status,
			Err:        fmt.Errorf("status %d", status),
		}
	}

	var resp enhanceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &EnhancementError{
			Reason:     FallbackEnhancementReason,
			StatusCode: status,
			Err:        fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(respBody), 200)),
		}
	}
	if resp.Result == "" {
		return "", &EnhancementError{
			Reason:     FallbackEnhancementReason,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected response: no result returned (body: %s)", truncate(string(respBody), 200)),
		}
	}

	log.Info().Str("handle", handle).Str("result", resp.Result).Str("operation", op.String()).Msg("Enhancement complete")
	return resp.Result, nil
}

// DownloadURL maps a result handle to the URL serving the processed image.
// It performs no I/O.
func (c *Client) DownloadURL(resultHandle string) string {
	return c.baseURL + "/download/" + url.PathEscape(resultHandle)
}

// Health fetches the service's status document.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()

	status, body, err := c.do(ctx, http.MethodGet, "/", nil, "")
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("health request: unexpected status %d", status)
	}

	var health HealthStatus
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("parse health response: %w", err)
	}
	return &health, nil
}

// --- Internal helpers ---

func enhancePath(handle string, op Operation) string {
	escaped := url.PathEscape(handle)
	if op.Kind == Upscale {
		return "/enhance/upscale/" + escaped + "?scale=" + strconv.Itoa(op.Scale)
	}
	return "/enhance/background/" + escaped
}

// do sends a request and returns the status code and body. Only transport
// failures are returned as errors; HTTP error statuses are left to callers.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (int, []byte, error) {
	startTime := time.Now()

	log.Debug().Str("method", method).Str("path", endpoint).Msg("Enhancer API request")
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Enhancer API response")
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Enhancer API response")

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return httpResp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return httpResp.StatusCode, respBody, nil
}

// multipartBody encodes file as the "file" form field. The part carries the
// file's real Content-Type because the service validates it.
func multipartBody(file *filehandler.ImageFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(file.Name)))
	header.Set("Content-Type", file.MIMEType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// reasonOrFallback extracts a string "detail" from an error body.
func reasonOrFallback(body []byte, fallback string) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Detail) == 0 {
		return fallback
	}
	var detail string
	if err := json.Unmarshal(resp.Detail, &detail); err != nil || strings.TrimSpace(detail) == "" {
		return fallback
	}
	return detail
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
