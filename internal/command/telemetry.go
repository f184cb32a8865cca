package command

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Usage is the token accounting for one provider call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CachedTokens += other.CachedTokens
	u.TotalTokens += other.TotalTokens
}

// CallMeta records how one call slot executed.
type CallMeta struct {
	Index        int           `json:"index"`
	Attempts     int           `json:"attempts"`
	NoCacheRetry bool          `json:"no_cache_retry,omitempty"`
	UsedFallback bool          `json:"used_fallback,omitempty"`
	WallTime     time.Duration `json:"wall_time"`
	APITime      time.Duration `json:"api_time"`
	NonAPITime   time.Duration `json:"non_api_time"`
	Err          string        `json:"error,omitempty"`
}

// Telemetry is the one deliberate exception to stage immutability: an
// additive, mutex-guarded side channel for durations, usage and diagnostics.
// Writes are keyed by call index or name; nothing is ever overwritten with
// less information.
type Telemetry struct {
	mu sync.Mutex

	requestID        string
	durations        map[string]time.Duration
	callMetas        []CallMeta
	usagePerCall     []Usage
	totalUsage       Usage
	diagnostics      []string
	concurrencyUsed  int
	cacheApplication CacheApplication
}

// NewTelemetry allocates a telemetry channel sized for n calls.
func NewTelemetry(n int) *Telemetry {
	return &Telemetry{
		requestID:    uuid.NewString(),
		durations:    make(map[string]time.Duration),
		callMetas:    make([]CallMeta, n),
		usagePerCall: make([]Usage, n),
	}
}

// RequestID returns the correlation id for this request.
func (t *Telemetry) RequestID() string { return t.requestID }

// RecordDuration stores a named stage duration.
func (t *Telemetry) RecordDuration(name string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.durations[name] = d
}

// RecordCall stores the meta and usage for the call at the prompt's index.
// Index alignment is the only ordering contract in the pipeline.
func (t *Telemetry) RecordCall(index int, meta CallMeta, usage Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.callMetas) {
		t.diagnostics = append(t.diagnostics, fmt.Sprintf("call meta index %d out of range", index))
		return
	}
	meta.Index = index
	meta.NonAPITime = meta.WallTime - meta.APITime
	if meta.NonAPITime < 0 {
		meta.NonAPITime = 0
	}
	t.callMetas[index] = meta
	t.usagePerCall[index] = usage
	t.totalUsage.Add(usage)
}

// RecordConcurrency stores the effective fan-out used.
func (t *Telemetry) RecordConcurrency(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.concurrencyUsed = n
}

// RecordCacheApplication stores how caching was applied to this request.
func (t *Telemetry) RecordCacheApplication(mode CacheApplication) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cacheApplication = mode
}

// AddDiagnostic appends a free-form diagnostic line.
func (t *Telemetry) AddDiagnostic(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.diagnostics = append(t.diagnostics, fmt.Sprintf(format, args...))
}

// Snapshot is an immutable copy of the telemetry at one point in time.
type Snapshot struct {
	RequestID        string                   `json:"request_id"`
	Durations        map[string]time.Duration `json:"durations"`
	PerCallMeta      []CallMeta               `json:"per_call_meta"`
	UsagePerCall     []Usage                  `json:"per_prompt"`
	TotalUsage       Usage                    `json:"total_usage"`
	Diagnostics      []string                 `json:"diagnostics,omitempty"`
	ConcurrencyUsed  int                      `json:"concurrency_used"`
	CacheApplication CacheApplication         `json:"cache_application,omitempty"`
}

// Snapshot copies the current telemetry state.
func (t *Telemetry) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		RequestID:        t.requestID,
		Durations:        make(map[string]time.Duration, len(t.durations)),
		PerCallMeta:      append([]CallMeta(nil), t.callMetas...),
		UsagePerCall:     append([]Usage(nil), t.usagePerCall...),
		TotalUsage:       t.totalUsage,
		Diagnostics:      append([]string(nil), t.diagnostics...),
		ConcurrencyUsed:  t.concurrencyUsed,
		CacheApplication: t.cacheApplication,
	}
	for k, v := range t.durations {
		snap.Durations[k] = v
	}
	return snap
}
