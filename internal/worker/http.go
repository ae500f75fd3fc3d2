package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/testbench-io/testbench/internal/wire"
)

// DefaultMaxBodyBytes caps the size of a response body.
const DefaultMaxBodyBytes = 10 << 20

// ErrBodyTooLarge is returned for responses whose body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// HTTPExecutor sends wire requests over HTTP.
type HTTPExecutor struct {
	Client       *http.Client
	MaxBodyBytes int64
}

// NewHTTPExecutor creates an executor whose client gives up after timeout.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		Client:       &http.Client{Timeout: timeout},
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, req wire.Request) (wire.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return wire.Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if host := httpReq.Header.Get("Host"); host != "" {
		httpReq.Host = host
	}

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return wire.Response{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := e.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return wire.Response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(respBody)) > limit {
		return wire.Response{}, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	latency := time.Since(start)

	headers := make(map[string][]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = append([]string(nil), v...)
	}

	return wire.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
		LatencyMs:  latency.Milliseconds(),
	}, nil
}
