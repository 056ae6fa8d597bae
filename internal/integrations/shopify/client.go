// Package shopify executes analytics queries against the Shopify Admin
// GraphQL API: ShopifyQL through the shopifyqlQuery field, and plain GraphQL
// connections for stores without analytics access.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"shopify-analytics-agent/internal/domain"
)

const DefaultAPIVersion = "2024-01"

var hostRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(\.[a-z0-9-]+)+$`)

// capabilityCodes are GraphQL error codes meaning the analytics field is not
// available for the store. Messages are never inspected.
var capabilityCodes = map[string]bool{
	"SHOPIFYQL_UNAVAILABLE": true,
	"FEATURE_NOT_AVAILABLE": true,
}

const analyticsField = "shopifyqlQuery"

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code      string `json:"code"`
		FieldName string `json:"fieldName"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Client talks to one store at a time; the store and token come from the
// credentials passed to each call.
type Client struct {
	httpClient *http.Client
	apiVersion string
	baseURL    string
	maxPages   int
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v = strings.TrimSpace(v); v != "" {
			c.apiVersion = v
		}
	}
}

// WithBaseURL sends every request to baseURL instead of the store's own host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithMaxPages bounds how many connection pages a fallback query may read.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiVersion: DefaultAPIVersion,
		maxPages:   20,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StoreHost normalizes a store identifier to its myshopify.com host.
func StoreHost(storeID string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(storeID))
	h = strings.TrimPrefix(h, "https://")
	h = strings.TrimPrefix(h, "http://")
	h = strings.TrimRight(h, "/")
	if h != "" && !strings.Contains(h, ".") {
		h += ".myshopify.com"
	}
	if !hostRe.MatchString(h) {
		return "", fmt.Errorf("shopify: invalid store id %q", storeID)
	}
	return h, nil
}

func (c *Client) endpoint(host string) string {
	base := c.baseURL
	if base == "" {
		base = "https://" + host
	}
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", base, c.apiVersion)
}

// do posts one GraphQL request and decodes data into out. Every failure is
// returned as a *domain.ExecError; primary selects the capability mapping
// used for the analytics path.
func (c *Client) do(ctx context.Context, creds domain.Credentials, op string, primary bool, req graphqlRequest, out any) error {
	host, err := StoreHost(creds.StoreID)
	if err != nil {
		return domain.NewExecError(domain.ExecAuth, op, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.NewExecError(domain.ExecMalformedQuery, op, fmt.Errorf("marshal request: %w", err))
	}

	url := c.endpoint(host)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.NewExecError(domain.ExecTransport, op, fmt.Errorf("create request: %w", err))
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("X-Shopify-Access-Token", creds.AccessToken)

	start := time.Now()
	res, err := c.httpClient.Do(hreq)
	if err != nil {
		return domain.NewExecError(domain.ExecTransport, op, err)
	}
	defer func() { _ = res.Body.Close() }()
	c.logger.Debug("shopify_request", "op", op, "store_id", host, "status", res.StatusCode, "duration", time.Since(start))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.NewExecError(statusKind(res.StatusCode, primary), op,
			fmt.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(buf))))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return domain.NewExecError(domain.ExecTransport, op, fmt.Errorf("read response body: %w", err))
	}
	var gr graphqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return domain.NewExecError(domain.ExecTransport, op, fmt.Errorf("decode response: %w", err))
	}
	if len(gr.Errors) > 0 {
		return domain.NewExecError(errorsKind(gr.Errors, primary), op, joinErrors(gr.Errors))
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return domain.NewExecError(domain.ExecMalformedQuery, op, errors.New("response has no data"))
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return domain.NewExecError(domain.ExecTransport, op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func statusKind(status int, primary bool) domain.ExecErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ExecAuth
	case status == http.StatusTooManyRequests:
		return domain.ExecRateLimited
	case status == http.StatusNotFound && primary:
		return domain.ExecCapabilityUnavailable
	case status == http.StatusNotFound:
		return domain.ExecAuth
	case status >= 500:
		return domain.ExecTransport
	}
	return domain.ExecMalformedQuery
}

func errorsKind(errs []graphqlError, primary bool) domain.ExecErrorKind {
	for _, e := range errs {
		switch code := e.Extensions.Code; {
		case code == "THROTTLED":
			return domain.ExecRateLimited
		case code == "ACCESS_DENIED" || code == "UNAUTHORIZED":
			return domain.ExecAuth
		case primary && capabilityCodes[code]:
			return domain.ExecCapabilityUnavailable
		case primary && code == "undefinedField" && e.Extensions.FieldName == analyticsField:
			return domain.ExecCapabilityUnavailable
		}
	}
	return domain.ExecMalformedQuery
}

func joinErrors(errs []graphqlError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Extensions.Code != "" {
			msgs = append(msgs, fmt.Sprintf("%s (%s)", e.Message, e.Extensions.Code))
			continue
		}
		msgs = append(msgs, e.Message)
	}
	return errors.New(strings.Join(msgs, "; "))
}
