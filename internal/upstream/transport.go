// Package upstream executes adapter-built requests against providers. The
// HTTP caller covers every SSE-speaking family; the bedrock caller wraps the
// AWS SDK for SigV4 signing and binary event-stream decoding.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ledgergate/ledgergate/internal/adapter"
	"github.com/ledgergate/ledgergate/internal/domain"
)

// EventStream yields raw upstream events one at a time: SSE data payloads
// for HTTP providers, chunk payloads for bedrock. Next returns io.EOF when
// the stream ends.
type EventStream interface {
	Next() ([]byte, error)
	Close() error
}

type Caller interface {
	// Do executes a buffered call and returns the response body. A non-2xx
	// status yields a *domain.UpstreamError carrying status and raw body.
	Do(ctx context.Context, req *adapter.UpstreamRequest) ([]byte, error)
	Stream(ctx context.Context, req *adapter.UpstreamRequest) (EventStream, error)
}

type HTTPCaller struct {
	provider string
	client   *http.Client
}

func NewHTTPCaller(provider string) *HTTPCaller {
	return &HTTPCaller{
		provider: provider,
		client: &http.Client{
			// No overall timeout: streams stay open as long as the model
			// generates. Per-phase limits live on the transport.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 120 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				ForceAttemptHTTP2:     true,
			},
		},
	}
}

func (c *HTTPCaller) do(ctx context.Context, req *adapter.UpstreamRequest) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header = req.Header.Clone()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &domain.UpstreamError{Provider: c.provider, Status: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}

func (c *HTTPCaller) Do(ctx context.Context, req *adapter.UpstreamRequest) ([]byte, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (c *HTTPCaller) Stream(ctx context.Context, req *adapter.UpstreamRequest) (EventStream, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body), nil
}

// sseStream reads line-delimited Server-Sent Events and yields the payload
// of each data: line. Other SSE fields (event:, id:, comments) are skipped.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	return &sseStream{body: body, scanner: scanner}
}

func (s *sseStream) Next() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		return []byte(data), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
