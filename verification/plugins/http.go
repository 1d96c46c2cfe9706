package plugins

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/yahoo/ychaos/internal/pool"
	"github.com/yahoo/ychaos/internal/tlsutil"
	"github.com/yahoo/ychaos/verification"
)

const TypeHTTPRequest = "http_request"

type httpConfig struct {
	URLs           []string
	Method         string
	Headers        map[string]string
	Params         map[string]string
	Iterations     int
	Timeout        time.Duration
	LatencyMS      int64
	ExpectedStatus map[int]struct{}
	VerifyTLS      bool
	BasicAuthUser  string
	BasicAuthPass  string
	BearerToken    string
	ClientCertFile string
	ClientKeyFile  string
	Concurrency    int
}

type httpProbe struct {
	config httpConfig
	client *http.Client
	pool   *pool.GoroutinePool
}

// defaultExpectedStatus treats any 2xx response as success when the plan
// doesn't list an explicit expected_status set.
func defaultExpectedStatus() map[int]struct{} {
	m := make(map[int]struct{}, 100)
	for s := 200; s < 300; s++ {
		m[s] = struct{}{}
	}
	return m
}

// NewHTTPRequest builds a reusable HTTP session and, for each iteration,
// probes every configured URL, collecting a failure record for any
// response whose status code isn't in the expected set or whose elapsed
// time exceeds the configured latency budget.
func NewHTTPRequest(config map[string]any, data *verification.Data) (verification.Plugin, error) {
	cfg := httpConfig{
		URLs:           stringSliceField(config, "urls"),
		Method:         stringField(config, "method", http.MethodGet),
		Iterations:     intField(config, "count", intField(config, "iterations", 1)),
		Timeout:        time.Duration(intField(config, "timeout_ms", 10000)) * time.Millisecond,
		LatencyMS:      int64(intField(config, "latency", 0)),
		VerifyTLS:      boolField(config, "verify", true),
		BasicAuthUser:  stringField(config, "basic_auth_user", ""),
		BasicAuthPass:  stringField(config, "basic_auth_pass", ""),
		BearerToken:    stringField(config, "bearer_token", ""),
		ClientCertFile: stringField(config, "client_cert", ""),
		ClientKeyFile:  stringField(config, "client_key", ""),
		Concurrency:    intField(config, "concurrency", 10),
	}
	if cfg.LatencyMS <= 0 {
		cfg.LatencyMS = cfg.Timeout.Milliseconds()
	}
	cfg.Headers = stringMapField(config, "headers")
	cfg.Params = stringMapField(config, "params")
	cfg.ExpectedStatus = intSetField(config, "expected_status", defaultExpectedStatus())

	transport := tlsutil.SecureTransport()
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit plan opt-out
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, err
		}
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.Certificates = []tls.Certificate{cert}
	}
	_ = http2.ConfigureTransport(transport)

	poolCfg := pool.DefaultGoroutinePoolConfig()
	poolCfg.MaxWorkers = cfg.Concurrency
	poolCfg.QueueSize = len(cfg.URLs) + cfg.Concurrency

	return &httpProbe{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		pool:   pool.NewGoroutinePool(poolCfg),
	}, nil
}

// RunVerification probes every URL for every iteration and returns a
// per-iteration list of failing-URL records: iterationFailures[i] holds
// the failure record for each URL in iteration i that missed its
// expected status or latency budget.
func (p *httpProbe) RunVerification(ctx context.Context) *verification.StateData {
	iterationFailures := make([][]map[string]any, p.config.Iterations)
	anyFailure := false

	for iteration := 0; iteration < p.config.Iterations; iteration++ {
		failures := p.probeAll(ctx)
		if len(failures) > 0 {
			anyFailure = true
		} else {
			failures = []map[string]any{}
		}
		iterationFailures[iteration] = failures
	}

	rc := 0
	if anyFailure {
		rc = 1
	}
	return &verification.StateData{
		ReturnCode: rc,
		Timestamp:  time.Now().UTC(),
		Type:       TypeHTTPRequest,
		Data:       iterationFailures,
	}
}

// probeAll fans every configured URL out to the goroutine pool so a slow
// or hung endpoint doesn't serialize behind the rest of the set, then
// collects whichever probes returned a failure record.
func (p *httpProbe) probeAll(ctx context.Context) []map[string]any {
	results := make([]map[string]any, len(p.config.URLs))

	var wg sync.WaitGroup
	wg.Add(len(p.config.URLs))
	for i, url := range p.config.URLs {
		i, url := i, url
		err := p.pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			results[i] = p.probeOnce(taskCtx, url)
			return nil
		})
		if err != nil {
			// Pool saturated: fall back to running it on this goroutine
			// rather than silently dropping the probe.
			results[i] = p.probeOnce(ctx, url)
			wg.Done()
		}
	}
	wg.Wait()

	failures := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if r != nil {
			failures = append(failures, r)
		}
	}
	return failures
}

// probeOnce issues one request to url and returns a failure record, or
// nil if the response met both the expected-status and latency
// conditions.
func (p *httpProbe) probeOnce(ctx context.Context, url string) map[string]any {
	req, err := http.NewRequestWithContext(ctx, p.config.Method, url, nil)
	if err != nil {
		return map[string]any{"url": url, "error": err.Error()}
	}
	applyHeaders(req, p.config)

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsedMS := time.Since(start).Milliseconds()
	if err != nil {
		return map[string]any{"url": url, "elapsed_ms": elapsedMS, "error_class": errorClassName(err)}
	}
	defer resp.Body.Close()

	_, statusOK := p.config.ExpectedStatus[resp.StatusCode]
	latencyOK := elapsedMS <= p.config.LatencyMS
	if statusOK && latencyOK {
		return nil
	}

	failure := map[string]any{"url": url, "elapsed_ms": elapsedMS, "status_code": resp.StatusCode}
	if !latencyOK {
		failure["latency"] = elapsedMS
	}
	return failure
}

// errorClassName reports a transport error's Go type name, the analogue
// of the original plugin's Python exception class name.
func errorClassName(err error) string {
	return fmt.Sprintf("%T", err)
}

func applyHeaders(req *http.Request, cfg httpConfig) {
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.BearerToken)
	} else if cfg.BasicAuthUser != "" {
		req.SetBasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass)
	}
	if len(cfg.Params) > 0 {
		q := req.URL.Query()
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
}

func stringMapField(raw map[string]any, key string) map[string]string {
	v, ok := raw[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func intSetField(raw map[string]any, key string, def map[int]struct{}) map[int]struct{} {
	v, ok := raw[key].([]any)
	if !ok {
		return def
	}
	out := make(map[int]struct{}, len(v))
	for _, item := range v {
		switch n := item.(type) {
		case int:
			out[n] = struct{}{}
		case float64:
			out[int(n)] = struct{}{}
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
