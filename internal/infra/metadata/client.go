// Package metadata reads and writes opaque wallet metadata payloads
// stored at addressable keys on a remote service.
package metadata

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/tellerhq/teller/internal/infra/remote"
)

// DefaultPolicy matches the backend's transient-upstream behavior:
// 502 and 504 are worth retrying, anything else is not.
func DefaultPolicy(src rand.Source) *remote.Policy {
	return remote.NewPolicy(
		5,
		500*time.Millisecond,
		30*time.Second,
		2.0,
		remote.RetryableStatus(http.StatusBadGateway, http.StatusGatewayTimeout),
		src,
	)
}

// Client is a metadata store client with bounded retry on fetch.
// Payloads are immutable once fetched; there is no local cache.
type Client struct {
	transport remote.Transport
	retry     *remote.Policy
}

// NewClient creates a metadata client. A nil policy gets DefaultPolicy
// with a time-seeded jitter source.
func NewClient(transport remote.Transport, policy *remote.Policy) *Client {
	if policy == nil {
		policy = DefaultPolicy(nil)
	}
	return &Client{transport: transport, retry: policy}
}

// Fetch reads the payload at address, retrying transient upstream
// failures per the policy. The last observed error is surfaced
// unchanged once attempts are exhausted.
func (c *Client) Fetch(ctx context.Context, address string) ([]byte, error) {
	var payload []byte
	err := c.retry.Do(ctx, "metadata.fetch", func(ctx context.Context) error {
		body, err := c.transport.Get(ctx, address)
		if err != nil {
			return err
		}
		payload = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Put writes body at address. Writes are a single pass-through attempt:
// the server gives no idempotency guarantee, so repeating one here is
// not safe.
func (c *Client) Put(ctx context.Context, address string, body []byte) error {
	return c.transport.Put(ctx, address, body)
}
