package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victorarias/c0lor-mem/internal/config"
	"github.com/victorarias/c0lor-mem/internal/protocol"
)

// ErrRequestFailed is matched by every *RequestError.
var ErrRequestFailed = errors.New("request failed")

// ErrBackendNotReady is returned before any network I/O when no worker is up.
var ErrBackendNotReady = protocol.ErrBackendNotReady

// RequestError is a non-2xx answer from the worker.
type RequestError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Detail)
}

func (e *RequestError) Unwrap() error {
	return ErrRequestFailed
}

// Mode selects how a response body is handled.
type Mode int

const (
	// ModeJSON decodes the body into the caller's target.
	ModeJSON Mode = iota
	// ModeBytes returns the body untouched with its content type.
	ModeBytes
)

// InfoSource yields the current BackendInfo. The supervisor and the bridge
// both satisfy it.
type InfoSource interface {
	Info() (protocol.BackendInfo, error)
}

// Static is an InfoSource for a worker whose address is already known.
type Static protocol.BackendInfo

func (s Static) Info() (protocol.BackendInfo, error) {
	info := protocol.BackendInfo(s)
	if info.IsZero() {
		return protocol.BackendInfo{}, ErrBackendNotReady
	}
	return info, nil
}

// Response is a successful worker answer.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client talks to the worker over loopback HTTP.
type Client struct {
	source InfoSource
	http   *http.Client
}

// New creates a client. A nil httpClient gets the configured request timeout.
func New(source InfoSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout()}
	}
	return &Client{source: source, http: httpClient}
}

// Request sends one authenticated request. body, when non-nil, is sent as JSON.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	info, err := c.source.Info()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, info.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(protocol.TokenHeader, info.Token)
	req.Header.Set(protocol.RequestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Detail: errorDetail(resp.StatusCode, data),
		}
	}
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// Do dispatches on mode: ModeJSON decodes into out, ModeBytes leaves the
// payload in the returned Response.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, mode Mode, out interface{}) (*Response, error) {
	resp, err := c.Request(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if mode == ModeJSON && out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp, nil
}

// RequestJSON decodes a successful response into out.
func (c *Client) RequestJSON(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.Do(ctx, method, path, body, ModeJSON, out)
	return err
}

// RequestBytes returns the raw payload and its declared content type.
func (c *Client) RequestBytes(ctx context.Context, method, path string, body interface{}) ([]byte, string, error) {
	resp, err := c.Do(ctx, method, path, body, ModeBytes, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.ContentType, nil
}

// errorDetail pulls a readable message out of the worker's error body.
// FastAPI sends either {"detail": "..."} or {"detail": [{"msg": "..."}]}.
func errorDetail(status int, data []byte) string {
	fallback := fmt.Sprintf("request failed with status %d", status)

	var body protocol.ErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return fallback
	}
	switch d := body.Detail.(type) {
	case string:
		if d != "" {
			return d
		}
	case []interface{}:
		if len(d) > 0 {
			if entry, ok := d[0].(map[string]interface{}); ok {
				if msg, ok := entry["msg"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}
	return fallback
}

// StreamURL derives the progress websocket URL from info. It is a pure
// function of its input.
func StreamURL(info protocol.BackendInfo) (string, error) {
	u, err := url.Parse(info.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + protocol.ProgressStreamPath
	u.RawQuery = url.Values{protocol.StreamTokenQueryParam: {info.Token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	var resp protocol.HealthResponse
	if err := c.RequestJSON(ctx, http.MethodGet, protocol.HealthPath, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Preview renders a thumbnail and returns the PNG bytes.
func (c *Client) Preview(ctx context.Context, req protocol.PreviewRequest) ([]byte, error) {
	data, contentType, err := c.RequestBytes(ctx, http.MethodPost, protocol.PreviewPath, req)
	if err != nil {
		return nil, err
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("preview: unexpected content type %q", contentType)
	}
	return data, nil
}

// Generate exports one pattern.
func (c *Client) Generate(ctx context.Context, req protocol.GenerateRequest) (*protocol.GenerateResponse, error) {
	var resp protocol.GenerateResponse
	if err := c.RequestJSON(ctx, http.MethodPost, protocol.GeneratePath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartBatch queues a batch export and returns its id.
func (c *Client) StartBatch(ctx context.Context, req protocol.BatchRequest) (string, error) {
	var resp protocol.BatchResponse
	if err := c.RequestJSON(ctx, http.MethodPost, protocol.BatchPath, req, &resp); err != nil {
		return "", err
	}
	if resp.BatchID == "" {
		return "", errors.New("start batch: empty batch id")
	}
	return resp.BatchID, nil
}

// BatchStatus polls one batch.
func (c *Client) BatchStatus(ctx context.Context, batchID string) (*protocol.BatchStatus, error) {
	var resp protocol.BatchStatus
	path := protocol.BatchPath + "/" + url.PathEscape(batchID) + "/status"
	if err := c.RequestJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelBatch asks the worker to stop a batch over HTTP. It reports whether
// the batch was still running.
func (c *Client) CancelBatch(ctx context.Context, batchID string) (bool, error) {
	var resp protocol.CancelResponse
	path := protocol.BatchPath + "/" + url.PathEscape(batchID) + "/cancel"
	if err := c.RequestJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Cancelled, nil
}

// WaitForBatch polls until the batch reaches a terminal status.
func (c *Client) WaitForBatch(ctx context.Context, batchID string, interval time.Duration) (*protocol.BatchStatus, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.BatchStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if protocol.IsTerminalStatus(status.Status) {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
