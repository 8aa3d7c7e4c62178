package effector

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout is HTTP's default timeout in seconds (spec §4.7).
const DefaultHTTPTimeout = 30

// HTTPRequest is SYS_HTTP's request payload.
type HTTPRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
}

// HTTPResult is SYS_HTTP's response payload (spec §4.7, §4.9).
type HTTPResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`
	Mocked     bool   `json:"mocked,omitempty"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HTTP implements SYS_HTTP: enforces the domain allowlist, then honors
// the world's mocked network when one is joined (spec §4.9), falling
// through to a real request otherwise. Each allowlist pattern is matched
// against the URL's host as well as against the full URL.
func (e *Effector) HTTP(ctx context.Context, req HTTPRequest) HTTPResult {
	host := ""
	if u, err := url.Parse(req.URL); err == nil {
		host = u.Hostname()
	}
	if !matchesAny(req.URL, e.httpAllow) && (host == "" || !matchesAny(host, e.httpAllow)) {
		return HTTPResult{Error: "permission denied"}
	}

	if e.Overlay != nil {
		res, matched, err := e.Overlay.HTTPDo(req)
		if err != nil {
			return HTTPResult{Error: err.Error()}
		}
		if !matched {
			return HTTPResult{Error: "no mock matches"}
		}
		res.Mocked = true
		res.Success = res.StatusCode > 0 && res.StatusCode < 400
		return res
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if req.Timeout <= 0 {
		timeout = DefaultHTTPTimeout * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, strings.NewReader(req.Body))
	if err != nil {
		return HTTPResult{Error: err.Error()}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return HTTPResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	buf := newCircularBuffer(e.outputCapBytes)
	_, _ = io.Copy(buf, io.LimitReader(resp.Body, int64(e.outputCapBytes)))

	return HTTPResult{
		Success:    resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
		Body:       buf.String(),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
}
