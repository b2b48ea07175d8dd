package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// namespace prefixes every exposed series.
const namespace = "ucp"

type requestKey struct {
	handler string
	method  string
	code    string
}

type errorKey struct {
	handler string
	method  string
}

type toolKey struct {
	tool    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// latencyBuckets cover the tail of slow federation fan-outs.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type collector struct {
	mu        sync.Mutex
	requests  map[requestKey]uint64
	errors    map[errorKey]uint64
	latency   map[errorKey]*histogram
	toolCalls map[toolKey]uint64
}

var defaultCollector = &collector{
	requests:  make(map[requestKey]uint64),
	errors:    make(map[errorKey]uint64),
	latency:   make(map[errorKey]*histogram),
	toolCalls: make(map[toolKey]uint64),
}

// ObserveHTTPRequest records one handled HTTP request.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.observeRequest(handler, method, status, duration)
}

// ObserveToolCall records one agent tool invocation. Outcome is either
// "ok" or "error".
func ObserveToolCall(tool string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	defaultCollector.mu.Lock()
	defaultCollector.toolCalls[toolKey{tool: tool, outcome: outcome}]++
	defaultCollector.mu.Unlock()
}

func (c *collector) observeRequest(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	if status >= http.StatusInternalServerError {
		c.errors[errorKey{handler: handler, method: method}]++
	}

	key := errorKey{handler: handler, method: method}
	hist := c.latency[key]
	if hist == nil {
		hist = &histogram{
			buckets: latencyBuckets,
			counts:  make([]uint64, len(latencyBuckets)),
		}
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// Values above the last bound only show up in the +Inf bucket.
}

// Handler exposes the collected metrics in Prometheus text exposition
// format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	writeHeader(&b, "http_requests_total", "counter", "Total number of HTTP requests processed.")
	for _, key := range sortedKeys(c.requests, func(k requestKey) string {
		return k.handler + "\x00" + k.method + "\x00" + k.code
	}) {
		writeSeries(&b, "http_requests_total",
			labels("handler", key.handler, "method", key.method, "code", key.code),
			strconv.FormatUint(c.requests[key], 10))
	}

	writeHeader(&b, "http_request_errors_total", "counter", "Total number of HTTP requests that failed with a server error.")
	for _, key := range sortedKeys(c.errors, func(k errorKey) string {
		return k.handler + "\x00" + k.method
	}) {
		writeSeries(&b, "http_request_errors_total",
			labels("handler", key.handler, "method", key.method),
			strconv.FormatUint(c.errors[key], 10))
	}

	writeHeader(&b, "http_request_duration_seconds", "histogram", "HTTP request duration in seconds.")
	for _, key := range sortedKeys(c.latency, func(k errorKey) string {
		return k.handler + "\x00" + k.method
	}) {
		hist := c.latency[key]
		for idx, bound := range hist.buckets {
			writeSeries(&b, "http_request_duration_seconds_bucket",
				labels("handler", key.handler, "method", key.method, "le", formatFloat(bound)),
				strconv.FormatUint(hist.counts[idx], 10))
		}
		writeSeries(&b, "http_request_duration_seconds_bucket",
			labels("handler", key.handler, "method", key.method, "le", "+Inf"),
			strconv.FormatUint(hist.count, 10))
		writeSeries(&b, "http_request_duration_seconds_sum",
			labels("handler", key.handler, "method", key.method),
			formatFloat(hist.sum))
		writeSeries(&b, "http_request_duration_seconds_count",
			labels("handler", key.handler, "method", key.method),
			strconv.FormatUint(hist.count, 10))
	}

	writeHeader(&b, "agent_tool_calls_total", "counter", "Total number of agent tool invocations.")
	for _, key := range sortedKeys(c.toolCalls, func(k toolKey) string {
		return k.tool + "\x00" + k.outcome
	}) {
		writeSeries(&b, "agent_tool_calls_total",
			labels("tool", key.tool, "outcome", key.outcome),
			strconv.FormatUint(c.toolCalls[key], 10))
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(b, "# TYPE %s_%s %s\n", namespace, name, kind)
}

func writeSeries(b *strings.Builder, name, labelSet, value string) {
	fmt.Fprintf(b, "%s_%s{%s} %s\n", namespace, name, labelSet, value)
}

// labels renders alternating name/value pairs as a Prometheus label
// set. %q covers the escaping the exposition format requires.
func labels(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", pairs[i], pairs[i+1])
	}
	return b.String()
}

func sortedKeys[K comparable, V any](m map[K]V, sortKey func(K) string) []K {
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return sortKey(keys[i]) < sortKey(keys[j])
	})
	return keys
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing /metrics. It
// is used when the merchant API and metrics should live on different
// ports.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
