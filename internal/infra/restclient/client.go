// Package restclient implements the wire contract both concrete providers
// share (spec §6 External interfaces): pull/push/updateCursor/gc over
// plain HTTP, built on fasthttp for the low per-request allocation the
// gateway provider's polling loop needs.
package restclient

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/provider"
	"github.com/driftsync/engine/internal/infra/jsonx"
)

// Client wraps a fasthttp.Client against one base URL, translating the
// sync engine's wire contract (§6) into HTTP calls and mapping 401/403/429
// into the sentinel provider errors SubscriptionManager/OutboxManager
// understand.
type Client struct {
	http       *fasthttp.Client
	baseURL    string
	providerID string
	authToken  func() string
}

type Option func(*Client)

// WithAuthToken supplies a bearer token lazily (e.g. refreshed elsewhere).
func WithAuthToken(f func() string) Option { return func(c *Client) { c.authToken = f } }

func WithHTTPClient(h *fasthttp.Client) Option { return func(c *Client) { c.http = h } }

func New(providerID, baseURL string, opts ...Option) *Client {
	c := &Client{
		http:       &fasthttp.Client{Name: "driftsync-engine"},
		baseURL:    baseURL,
		providerID: providerID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Pull(ctx context.Context, req model.PullRequest) (model.PullResponse, error) {
	var resp model.PullResponse
	err := c.doJSON(ctx, "/sync/pull", req, &resp)
	return resp, err
}

func (c *Client) Push(ctx context.Context, scope model.Scope, ops []model.PendingOp) (model.PushResponse, error) {
	body := struct {
		Scope model.Scope       `json:"scope"`
		Ops   []model.PendingOp `json:"ops"`
	}{Scope: scope, Ops: ops}

	var resp model.PushResponse
	err := c.doJSON(ctx, "/sync/push", body, &resp)
	return resp, err
}

func (c *Client) UpdateCursor(ctx context.Context, scope model.Scope, deviceID string, version uint64) error {
	body := struct {
		Scope    model.Scope `json:"scope"`
		DeviceID string      `json:"deviceId"`
		Version  uint64      `json:"version"`
	}{Scope: scope, DeviceID: deviceID, Version: version}
	return c.doJSON(ctx, "/sync/update-cursor", body, nil)
}

func (c *Client) GcTombstones(ctx context.Context, scope model.Scope, retentionSeconds int64) error {
	return c.gc(ctx, "/sync/gc-tombstones", scope, retentionSeconds)
}

func (c *Client) GcChangeLog(ctx context.Context, scope model.Scope, retentionSeconds int64) error {
	return c.gc(ctx, "/sync/gc-change-log", scope, retentionSeconds)
}

func (c *Client) gc(ctx context.Context, path string, scope model.Scope, retentionSeconds int64) error {
	body := struct {
		Scope            model.Scope `json:"scope"`
		RetentionSeconds int64       `json:"retentionSeconds"`
	}{Scope: scope, RetentionSeconds: retentionSeconds}
	return c.doJSON(ctx, path, body, nil)
}

// doJSON issues a POST with a JSON body and decodes a JSON response (when
// out is non-nil), mapping session/rate-limit failures per §6.
func (c *Client) doJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := jsonx.Marshal(body)
	if err != nil {
		return fmt.Errorf("restclient: encode request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.authToken != nil {
		if tok := c.authToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	req.SetBody(payload)

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("restclient: %s: %w", path, err)
	}

	status := resp.StatusCode()
	switch {
	case status == 401 || status == 403:
		return &provider.SessionInvalidError{ProviderID: c.providerID, Cause: model.ErrSessionInvalid}
	case status == 429:
		retryAfterMs := parseRetryAfter(string(resp.Header.Peek("Retry-After")))
		return &provider.RateLimitedError{RetryAfterMs: retryAfterMs, Cause: fmt.Errorf("restclient: %s: rate limited", path)}
	case status >= 400:
		return fmt.Errorf("restclient: %s: status %d: %s", path, status, resp.Body())
	}

	if out == nil {
		return nil
	}
	return jsonx.Unmarshal(resp.Body(), out)
}

// parseRetryAfter accepts either a numeric seconds count or an HTTP date
// (§6 "numeric seconds or HTTP date").
func parseRetryAfter(header string) int64 {
	if header == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(header, 10, 64); err == nil {
		return secs * 1000
	}
	if t, err := mail.ParseDate(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d.Milliseconds()
		}
	}
	return 0
}
