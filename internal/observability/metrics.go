package observability

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a small in-process registry. Counters and duration sums are
// keyed by label string; Snapshot renders them in a stable order for the
// internal metrics endpoint.
type Metrics struct {
	mu        sync.Mutex
	counters  map[string]*uint64
	durations map[string]*int64
}

var (
	currentMu sync.RWMutex
	current   *Metrics
)

// Init installs the process-wide registry when METRICS_ENABLED is truthy.
func Init() {
	if !Enabled() {
		return
	}
	currentMu.Lock()
	defer currentMu.Unlock()
	if current == nil {
		current = &Metrics{
			counters:  map[string]*uint64{},
			durations: map[string]*int64{},
		}
	}
}

func Enabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// Current returns the installed registry, or nil when metrics are disabled.
func Current() *Metrics {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

func (m *Metrics) counter(key string) *uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok {
		c = new(uint64)
		m.counters[key] = c
	}
	return c
}

func (m *Metrics) duration(key string) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.durations[key]
	if !ok {
		d = new(int64)
		m.durations[key] = d
	}
	return d
}

func (m *Metrics) add(key string, n uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(m.counter(key), n)
}

func (m *Metrics) observe(key string, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddInt64(m.duration(key), int64(d/time.Millisecond))
}

// ObserveLLMRequest records one upstream model call.
func (m *Metrics) ObserveLLMRequest(model, path string, status int, d time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	base := "llm_requests{model=" + model + ",path=" + path + ",status=" + strconv.Itoa(status) + "}"
	m.add(base, 1)
	m.observe("llm_request_duration_ms{model="+model+"}", d)
	if inputTokens > 0 {
		m.add("llm_input_tokens{model="+model+"}", uint64(inputTokens))
	}
	if outputTokens > 0 {
		m.add("llm_output_tokens{model="+model+"}", uint64(outputTokens))
	}
}

// ObserveAPIRequest records one inbound HTTP request.
func (m *Metrics) ObserveAPIRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.add("api_requests{method="+method+",route="+route+",status="+strconv.Itoa(status)+"}", 1)
	m.observe("api_request_duration_ms{route="+route+"}", d)
}

// ObserveStreamTurn records one completed or aborted streaming turn.
func (m *Metrics) ObserveStreamTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.add("stream_turns{outcome="+outcome+"}", 1)
	m.observe("stream_turn_duration_ms{outcome="+outcome+"}", d)
}

// Snapshot renders every series as "name value" lines sorted by name.
func (m *Metrics) Snapshot() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	lines := make([]string, 0, len(m.counters)+len(m.durations))
	for k, v := range m.counters {
		lines = append(lines, fmt.Sprintf("%s %d", k, atomic.LoadUint64(v)))
	}
	for k, v := range m.durations {
		lines = append(lines, fmt.Sprintf("%s %d", k, atomic.LoadInt64(v)))
	}
	m.mu.Unlock()

	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}
