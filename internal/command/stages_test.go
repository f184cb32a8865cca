package command

import (
	"errors"
	"sync"
	"testing"
	"time"

	"promptbatch/internal/config"
	"promptbatch/internal/source"
	"promptbatch/internal/tokens"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Execution.Simulate = true
	return cfg
}

func TestNewInitialValidation(t *testing.T) {
	tests := []struct {
		name    string
		prompts []string
		opts    Options
		wantErr bool
	}{
		{"ok", []string{"a question"}, Options{}, false},
		{"no_prompts", nil, Options{}, true},
		{"blank_prompt", []string{"fine", "   "}, Options{}, true},
		{"negative_concurrency", []string{"q"}, Options{Concurrency: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInitial(testConfig(), nil, tt.prompts, nil, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfigError(err) {
				t.Errorf("error type = %T, want *ConfigError", err)
			}
		})
	}
}

func TestNewInitialRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.Model = ""
	if _, err := NewInitial(cfg, nil, []string{"q"}, nil, Options{}); err == nil {
		t.Error("invalid config must be rejected at the first stage")
	}
}

func TestNewInitialCopiesInputs(t *testing.T) {
	prompts := []string{"original"}
	initial, err := NewInitial(testConfig(), nil, prompts, nil, Options{})
	if err != nil {
		t.Fatalf("NewInitial: %v", err)
	}
	prompts[0] = "mutated"
	if initial.Prompts[0] != "original" {
		t.Error("stage shares the caller's prompt slice")
	}
}

func TestResolveValidatesSources(t *testing.T) {
	bad := source.Source{Kind: source.KindText, Identifier: "x"} // no MIME, no loader
	initial, err := NewInitial(testConfig(), []source.Source{bad}, []string{"q"}, nil, Options{})
	if err != nil {
		t.Fatalf("NewInitial: %v", err)
	}
	if _, err := initial.Resolve(); err == nil {
		t.Error("invalid source must fail resolution")
	}
}

func TestResolveMaterializePolicy(t *testing.T) {
	pdf, err := source.FromURI("https://example.com/x.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("FromURI: %v", err)
	}

	opts := Options{Materialize: &MaterializePolicy{AllowedMIMEs: []string{"text/plain"}}}
	initial, err := NewInitial(testConfig(), []source.Source{pdf}, []string{"q"}, nil, opts)
	if err != nil {
		t.Fatalf("NewInitial: %v", err)
	}
	if _, err := initial.Resolve(); err == nil {
		t.Error("disallowed MIME must fail resolution")
	}

	open, err := NewInitial(testConfig(), []source.Source{pdf}, []string{"q"}, nil, Options{})
	if err != nil {
		t.Fatalf("NewInitial: %v", err)
	}
	if _, err := open.Resolve(); err != nil {
		t.Errorf("nil policy must admit everything: %v", err)
	}
}

func TestWithPlanCountMismatch(t *testing.T) {
	initial, err := NewInitial(testConfig(), nil, []string{"a", "b"}, nil, Options{})
	if err != nil {
		t.Fatalf("NewInitial: %v", err)
	}
	resolved, err := initial.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	plan := Plan{Calls: []Call{{Model: "m"}}} // one call, two prompts
	if _, err := resolved.WithPlan(plan, tokens.Estimate{}, nil); err == nil {
		t.Error("call/prompt count mismatch must be rejected")
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr bool
	}{
		{"empty", Plan{}, true},
		{"ok", Plan{Calls: []Call{{Model: "m"}, {Model: "m"}}}, false},
		{"mixed_models", Plan{Calls: []Call{{Model: "m1"}, {Model: "m2"}}}, true},
		{"name_without_mode", Plan{Calls: []Call{{Model: "m", CacheName: "c"}}}, true},
		{"mode_without_name", Plan{Calls: []Call{{Model: "m", CacheMode: CacheOverride}}}, true},
		{"plan_cache_without_key", Plan{Calls: []Call{{Model: "m"}}, CacheMode: CachePlan}, true},
		{"plan_cache_with_key", Plan{Calls: []Call{{Model: "m"}}, CacheMode: CachePlan, CacheKey: "k"}, false},
		{"fallback_without_model", Plan{Calls: []Call{{Model: "m"}}, Fallback: &Call{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTelemetryConcurrentRecording(t *testing.T) {
	tel := NewTelemetry(32)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tel.RecordCall(i, CallMeta{Attempts: 1, WallTime: time.Millisecond}, Usage{TotalTokens: 10})
		}(i)
	}
	wg.Wait()

	snap := tel.Snapshot()
	if snap.TotalUsage.TotalTokens != 320 {
		t.Errorf("total tokens = %d, want 320", snap.TotalUsage.TotalTokens)
	}
	for i, meta := range snap.PerCallMeta {
		if meta.Index != i {
			t.Errorf("meta %d carries index %d", i, meta.Index)
		}
	}
	if snap.RequestID == "" {
		t.Error("request id missing")
	}
}

func TestTelemetryOutOfRangeIndex(t *testing.T) {
	tel := NewTelemetry(1)
	tel.RecordCall(5, CallMeta{}, Usage{})
	snap := tel.Snapshot()
	if len(snap.Diagnostics) == 0 {
		t.Error("out-of-range record must leave a diagnostic, not panic")
	}
}

func TestTelemetryNonAPITime(t *testing.T) {
	tel := NewTelemetry(1)
	tel.RecordCall(0, CallMeta{WallTime: 10 * time.Millisecond, APITime: 4 * time.Millisecond}, Usage{})
	snap := tel.Snapshot()
	if got := snap.PerCallMeta[0].NonAPITime; got != 6*time.Millisecond {
		t.Errorf("non-api time = %v, want 6ms", got)
	}
}

func TestProviderErrorHints(t *testing.T) {
	err := WrapProvider("generate", 429, errors.New("quota"))
	if err.Hint == "" {
		t.Error("429 must carry a hint")
	}
	if !IsProviderError(err) {
		t.Error("IsProviderError failed on a ProviderError")
	}
	if IsConfigError(err) {
		t.Error("provider error misclassified as config error")
	}
}
