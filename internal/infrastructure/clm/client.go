package clm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseSize caps how much of a provider response is read (10MB)
const maxResponseSize = 10 * 1024 * 1024

// maxErrorBodySize caps how much of an error body is kept in the error message
const maxErrorBodySize = 512

// NewHTTPClient returns an http.Client whose transport emits client spans.
// Per-call deadlines come from ProviderConfig.Timeout, not from the client.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// apiClient performs JSON requests against one provider and classifies failures
// into integration.ProviderError.
type apiClient struct {
	http     *http.Client
	provider integration.ProviderCode
}

func newAPIClient(httpClient *http.Client, provider integration.ProviderCode) *apiClient {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &apiClient{http: httpClient, provider: provider}
}

// request describes one call to a provider API
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

// do sends req and decodes a JSON response into out when out is non-nil.
func (c *apiClient) do(ctx context.Context, cfg integration.ProviderConfig, req request, out any) error {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	endpoint, err := joinURL(cfg.APIBaseURL, req.path, req.query)
	if err != nil {
		return integration.NewProviderError(integration.ErrorKindAPI, req.op, 0,
			fmt.Errorf("%w: %v", integration.ErrInvalidConfiguration, err))
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return integration.NewProviderError(integration.ErrorKindAPI, req.op, 0, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return integration.NewProviderError(integration.ErrorKindAPI, req.op, 0, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := cfg.Credentials.BearerToken(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, req.op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return c.transportError(ctx, req.op, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(req.op, resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return integration.NewProviderError(integration.ErrorKindAPI, req.op, resp.StatusCode,
			fmt.Errorf("%w: %v", integration.ErrProviderInvalidResponse, err))
	}
	return nil
}

func (c *apiClient) transportError(ctx context.Context, op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return integration.NewProviderError(integration.ErrorKindTimeout, op, 0,
			fmt.Errorf("%w: %s", integration.ErrProviderTimeout, c.provider))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return integration.NewProviderError(integration.ErrorKindNetwork, op, 0,
		fmt.Errorf("%w: %v", integration.ErrProviderUnavailable, err))
}

func (c *apiClient) statusError(op string, status int, raw []byte) error {
	detail := strings.TrimSpace(string(raw))
	if len(detail) > maxErrorBodySize {
		detail = detail[:maxErrorBodySize]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return integration.NewProviderError(integration.ErrorKindAuth, op, status,
			fmt.Errorf("%w: %s", integration.ErrAuthFailed, detail))
	case status == http.StatusTooManyRequests:
		return integration.NewProviderError(integration.ErrorKindAPI, op, status,
			fmt.Errorf("%w: %s", integration.ErrProviderRateLimited, detail))
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return integration.NewProviderError(integration.ErrorKindNetwork, op, status,
			fmt.Errorf("%w: %s", integration.ErrProviderUnavailable, detail))
	default:
		return integration.NewProviderError(integration.ErrorKindAPI, op, status,
			fmt.Errorf("%w: %s", integration.ErrProviderRequestFailed, detail))
	}
}

func joinURL(base, path string, query url.Values) (string, error) {
	if base == "" {
		return "", errors.New("api base url is empty")
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// connectionFailure builds a failed ConnectionResult from err
func connectionFailure(err error) integration.ConnectionResult {
	return integration.ConnectionResult{
		Success:            false,
		AvailableEndpoints: []string{},
		Errors:             []string{err.Error()},
	}
}

// toRecords converts decoded JSON objects to records
func toRecords(items []map[string]any) []integration.Record {
	out := make([]integration.Record, len(items))
	for i, item := range items {
		out[i] = integration.Record(item)
	}
	return out
}

// laterTimestamp returns the later of two RFC 3339 timestamps. Unparseable
// values lose to parseable ones.
func laterTimestamp(a, b string) string {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	switch {
	case errB != nil:
		return a
	case errA != nil:
		return b
	case tb.After(ta):
		return b
	default:
		return a
	}
}
