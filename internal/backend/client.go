// Package backend is the data-access shim for the hosted backend-as-a-service:
// a REST table store under /rest/v1 and an auth provider under /auth/v1.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bidmarket/internal/apperr"
	"bidmarket/internal/metrics"
)

type Options struct {
	BaseURL string
	AnonKey string
	RPS     float64
	Timeout time.Duration
	HTTP    *http.Client
}

// Client is safe for concurrent use and shared by every browser environment.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	limiter *rate.Limiter
	lg      *zap.SugaredLogger
}

// APIError is a non-2xx response from the hosted backend.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

func New(o Options, lg *zap.SugaredLogger) *Client {
	hc := o.HTTP
	if hc == nil {
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if o.RPS > 0 {
		burst := int(o.RPS)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(o.RPS), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"),
		anonKey: strings.TrimSpace(o.AnonKey),
		http:    hc,
		limiter: lim,
		lg:      lg,
	}
}

// Ready returns a configuration error when credentials are missing.
func (c *Client) Ready() error {
	if c.baseURL == "" || c.anonKey == "" {
		return apperr.Config("backend credentials are not configured (BACKEND_URL, BACKEND_ANON_KEY)")
	}
	return nil
}

type request struct {
	op      string
	method  string
	path    string
	token   string
	query   url.Values
	body    any
	headers map[string]string
}

func (c *Client) do(ctx context.Context, rq request, out any) error {
	if err := c.Ready(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Transient("backend request cancelled", err)
	}
	var body io.Reader
	if rq.body != nil {
		b, err := json.Marshal(rq.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", rq.op, err)
		}
		body = bytes.NewReader(b)
	}
	u := c.baseURL + rq.path
	if len(rq.query) > 0 {
		u += "?" + rq.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, rq.method, u, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", rq.op, err)
	}
	token := rq.token
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if rq.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range rq.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.BackendDuration.WithLabelValues(rq.op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BackendRequests.WithLabelValues(rq.op, "error").Inc()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return apperr.Transient("backend request cancelled", err)
		}
		return apperr.Transient("backend unreachable", err)
	}
	defer resp.Body.Close()
	metrics.BackendRequests.WithLabelValues(rq.op, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperr.Transient("backend response truncated", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp.StatusCode, raw)
		c.lg.Warnw("backend request failed", "op", rq.op, "status", apiErr.Status, "code", apiErr.Code)
		return classify(apiErr)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", rq.op, err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) *APIError {
	e := &APIError{Status: status}
	var body map[string]any
	if json.Unmarshal(raw, &body) == nil {
		e.Code = firstString(body, "code", "error_code", "error")
		e.Message = firstString(body, "message", "msg", "error_description", "details")
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func classify(e *APIError) error {
	code := e.Code
	if code == "" {
		code = "backend_" + strconv.Itoa(e.Status)
	}
	switch {
	case e.Status == http.StatusUnauthorized:
		return apperr.New(apperr.KindUnauthenticated, code, e.Message, e)
	case e.Status == http.StatusForbidden:
		return apperr.New(apperr.KindForbidden, code, e.Message, e)
	case e.Status == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, code, e.Message, e)
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return apperr.New(apperr.KindTransient, code, e.Message, e)
	default:
		return apperr.New(apperr.KindValidation, code, e.Message, e)
	}
}
