// Package health probes a service's HTTP status endpoint and classifies the
// outcome. A probe never retries; retry policy belongs to the caller.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// maxBody caps how much of a response body is read for validation. Larger
// bodies are accepted without JSON checks.
const maxBody = 1 << 20

// Status is the classification of a single probe.
type Status int

const (
	Healthy Status = iota
	Unhealthy
	Error
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets Status render as its name in JSON and logs.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config is the immutable health-check configuration for one service.
type Config struct {
	URL              string        `json:"url" mapstructure:"url"`
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	Interval         time.Duration `json:"interval" mapstructure:"interval"`
	FailureThreshold int           `json:"failure_threshold" mapstructure:"failure_threshold"`
}

// Validate checks the invariants timeout > 0, interval > 0, threshold >= 1.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("health url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("health url %q: scheme must be http or https", c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("health url %q: host is required", c.URL)
	}
	if c.Timeout <= 0 {
		return errors.New("health timeout must be > 0")
	}
	if c.Interval <= 0 {
		return errors.New("health interval must be > 0")
	}
	if c.FailureThreshold < 1 {
		return errors.New("health failure_threshold must be >= 1")
	}
	return nil
}

// Result describes one probe outcome.
type Result struct {
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// OK reports whether the probe was healthy.
func (r Result) OK() bool { return r.Status == Healthy }

// Checker issues probes. The zero value is not usable; call NewChecker.
type Checker struct {
	client *http.Client
}

// NewChecker returns a Checker using its own transport with keep-alives
// disabled, so a restarted service is always reached on a fresh connection.
func NewChecker() *Checker {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	return &Checker{client: &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}}
}

// NewCheckerWithClient uses c for requests; the per-probe timeout still applies.
func NewCheckerWithClient(c *http.Client) *Checker { return &Checker{client: c} }

// Probe issues one GET against cfg.URL bounded by cfg.Timeout.
//
// Healthy: 2xx within the timeout and a parseable body, or a body over maxBody.
// Unhealthy: a response with a non-2xx status or a malformed body.
// Error: connection refused, DNS failure, timeout or any other transport failure.
func (c *Checker) Probe(ctx context.Context, cfg Config) Result {
	begin := time.Now()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return Result{Status: Error, Reason: "bad request: " + err.Error(), Latency: time.Since(begin)}
	}
	req.Header.Set("Accept", "application/json, */*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Status: Error, Reason: classify(ctx, err), Latency: time.Since(begin)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	res := Result{StatusCode: resp.StatusCode}
	if err != nil {
		res.Status = Error
		res.Reason = "read body: " + classify(ctx, err)
		res.Latency = time.Since(begin)
		return res
	}
	res.Latency = time.Since(begin)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Status = Unhealthy
		res.Reason = "status " + resp.Status
		return res
	}
	if len(body) > maxBody {
		res.Status = Healthy
		return res
	}
	if reason := checkBody(resp.Header.Get("Content-Type"), body); reason != "" {
		res.Status = Unhealthy
		res.Reason = reason
		return res
	}
	res.Status = Healthy
	return res
}

// checkBody returns a non-empty reason when a JSON body is malformed or
// reports an error. Non-JSON and empty bodies are accepted as-is.
func checkBody(contentType string, body []byte) string {
	if len(strings.TrimSpace(string(body))) == 0 {
		return ""
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt != "application/json" && !strings.HasSuffix(mt, "+json") {
		return ""
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "malformed body: " + err.Error()
	}
	if obj, ok := v.(map[string]any); ok {
		if e, ok := obj["error"]; ok && e != nil && e != false && e != "" {
			return fmt.Sprintf("body reports error: %v", e)
		}
	}
	return ""
}

func classify(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns: " + dnsErr.Err
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}
