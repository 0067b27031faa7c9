// Package custody wraps the custody backend's REST API: account
// balances, interest deposit limits, conversion rates, and custodial
// transfer submission.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/metrics"
)

// Config holds custody backend connection settings.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	GRPCHealthAddr string        `yaml:"grpc_health_addr"`
}

// Client is an HTTP client for the custody backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a custody API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
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

// Balance returns the current available balance of an account. Balances
// are time-varying external truth; callers re-fetch rather than cache.
func (c *Client) Balance(ctx context.Context, account string) (domain.Money, error) {
	var out domain.Money
	path := fmt.Sprintf("/v1/accounts/%s/balance", url.PathEscape(account))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.Money{}, err
	}
	return out, nil
}

// DepositLimits returns the interest deposit limits for an asset,
// denominated in the given fiat display currency.
func (c *Client) DepositLimits(
	ctx context.Context,
	asset, fiat domain.Currency,
) (domain.DepositLimits, error) {
	var out domain.DepositLimits
	path := fmt.Sprintf(
		"/v1/interest/limits?currency=%s&fiat=%s",
		url.QueryEscape(string(asset)),
		url.QueryEscape(string(fiat)),
	)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.DepositLimits{}, err
	}
	return out, nil
}

// Rate returns the conversion rate from one currency to another.
func (c *Client) Rate(ctx context.Context, from, to domain.Currency) (domain.ConversionRate, error) {
	var body struct {
		From  domain.Currency `json:"from"`
		To    domain.Currency `json:"to"`
		Price string          `json:"price"`
	}
	path := fmt.Sprintf(
		"/v1/rates?from=%s&to=%s",
		url.QueryEscape(string(from)),
		url.QueryEscape(string(to)),
	)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
		return domain.ConversionRate{}, err
	}
	rate, err := domain.NewConversionRate(body.From, body.To, body.Price)
	if err != nil {
		return domain.ConversionRate{}, fmt.Errorf("parse rate response: %w", err)
	}
	return rate, nil
}

type transferRequest struct {
	Source      string       `json:"source"`
	Destination string       `json:"destination"`
	Amount      domain.Money `json:"amount"`
}

// SubmitTransfer submits a custodial transfer. The backend executes it
// on the user's behalf; no on-chain hash exists at submission time.
func (c *Client) SubmitTransfer(
	ctx context.Context,
	source, destination string,
	amount domain.Money,
	idempotencyKey string,
) (domain.TransferReceipt, error) {
	var out domain.TransferReceipt
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	req := transferRequest{Source: source, Destination: destination, Amount: amount}
	if err := c.doJSONWithHeaders(ctx, http.MethodPost, "/v1/interest/transfers", req, &out, headers); err != nil {
		return domain.TransferReceipt{}, err
	}
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	return c.doJSONWithHeaders(ctx, method, path, in, out, nil)
}

func (c *Client) doJSONWithHeaders(
	ctx context.Context,
	method, path string,
	in, out any,
	headers map[string]string,
) error {
	start := time.Now()
	op := method + " " + path
	metrics.RemoteCallsTotal.WithLabelValues("custody", op).Inc()

	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return c.fail(op, u, 0, fmt.Errorf("create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(op, u, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return c.fail(op, u, resp.StatusCode, nil)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return c.fail(op, u, 0, fmt.Errorf("parse response: %w", err))
		}
	}

	metrics.RemoteCallLatency.WithLabelValues("custody", op).Observe(time.Since(start).Seconds())
	return nil
}

func (c *Client) fail(op, u string, status int, err error) error {
	metrics.RemoteCallErrorsTotal.WithLabelValues("custody", op, strconv.Itoa(status)).Inc()
	return &domain.NetworkError{Op: op, URL: u, StatusCode: status, Err: err}
}
