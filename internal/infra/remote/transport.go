package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/metrics"
)

// Transport moves opaque payloads to and from addressable keys on a
// remote service. Failures carry the HTTP status code so callers can
// evaluate retry predicates.
type Transport interface {
	Get(ctx context.Context, address string) ([]byte, error)
	Put(ctx context.Context, address string, body []byte) error
}

// HTTPTransport implements Transport over plain HTTP.
type HTTPTransport struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport creates an HTTP transport rooted at baseURL.
func NewHTTPTransport(name, baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Get fetches the payload stored at address.
func (t *HTTPTransport) Get(ctx context.Context, address string) ([]byte, error) {
	start := time.Now()
	metrics.RemoteCallsTotal.WithLabelValues(t.name, "get").Inc()

	u := t.addressURL(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, t.fail("get", u, 0, fmt.Errorf("create request: %w", err))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, t.fail("get", u, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, t.fail("get", u, resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.fail("get", u, 0, fmt.Errorf("read response: %w", err))
	}

	metrics.RemoteCallLatency.WithLabelValues(t.name, "get").Observe(time.Since(start).Seconds())
	return body, nil
}

// Put stores body at address. A single attempt, never retried here.
func (t *HTTPTransport) Put(ctx context.Context, address string, body []byte) error {
	start := time.Now()
	metrics.RemoteCallsTotal.WithLabelValues(t.name, "put").Inc()

	u := t.addressURL(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return t.fail("put", u, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.fail("put", u, 0, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return t.fail("put", u, resp.StatusCode, nil)
	}

	metrics.RemoteCallLatency.WithLabelValues(t.name, "put").Observe(time.Since(start).Seconds())
	return nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) addressURL(address string) string {
	return t.baseURL + "/" + url.PathEscape(address)
}

func (t *HTTPTransport) fail(op, u string, status int, err error) error {
	metrics.RemoteCallErrorsTotal.WithLabelValues(t.name, op, strconv.Itoa(status)).Inc()
	return &domain.NetworkError{Op: op, URL: u, StatusCode: status, Err: err}
}
