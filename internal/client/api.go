package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-live/internal/game"
)

// APIClient talks to the live game REST surface.
type APIClient struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type APIOption func(*APIClient)

func WithTimeout(d time.Duration) APIOption {
	return func(c *APIClient) { c.defaultTimeout = d }
}

func WithRetry(max int) APIOption {
	return func(c *APIClient) { c.retryMax = max }
}

func NewAPIClient(baseURL string, opts ...APIOption) *APIClient {
	c := &APIClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JoinResult is the server-assigned role plus the current record.
type JoinResult struct {
	Game *game.Session `json:"game"`
	Role game.Role     `json:"role"`
}

// Create starts a new game. Nil values take the server defaults.
func (c *APIClient) Create(ctx context.Context, baseTime, increment *int) (*game.Session, error) {
	in := map[string]*int{"baseTime": baseTime, "increment": increment}
	var out game.Session
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games", in, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Join previews the role playerID would get in code.
func (c *APIClient) Join(ctx context.Context, code, playerID string) (*JoinResult, error) {
	in := map[string]string{"code": code, "playerId": playerID}
	var out JoinResult
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/join", in, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Get(ctx context.Context, code string) (*game.Session, error) {
	var out game.Session
	if err := c.doJSON(ctx, fasthttp.MethodGet, gamePath(code, ""), nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Resign(ctx context.Context, code, playerID string, role game.Role) (*game.Session, error) {
	in := map[string]string{"playerId": playerID, "role": string(role)}
	var out game.Session
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(code, "/resign"), in, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Abort(ctx context.Context, code, playerID string) (*game.Session, error) {
	in := map[string]string{"playerId": playerID}
	var out game.Session
	if err := c.doJSON(ctx, fasthttp.MethodPost, gamePath(code, "/abort"), in, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/health", nil, nil, true)
}

// WebSocketURL derives the ws endpoint from the API base URL.
func (c *APIClient) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func gamePath(code, suffix string) string {
	return "/api/games/" + url.PathEscape(strings.ToUpper(strings.TrimSpace(code))) + suffix
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = &game.Error{Kind: game.KindConnectionLost, Msg: "request failed", Err: err}
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = decodeAPIError(status, resp.Body())
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// decodeAPIError turns an error body into a *game.Error matching the
// server-side kind.
func decodeAPIError(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		return &game.Error{Kind: game.KindInternal, Msg: fmt.Sprintf("status=%d body=%s", status, truncate(string(body), 256))}
	}
	return &game.Error{Kind: game.Kind(e.Code), Msg: e.Error}
}

func (c *APIClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
