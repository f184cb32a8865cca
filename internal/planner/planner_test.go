package planner

import (
	"strings"
	"testing"

	"promptbatch/internal/command"
	"promptbatch/internal/config"
	"promptbatch/internal/source"
	"promptbatch/internal/tokens"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Execution.Simulate = true
	return cfg
}

func resolve(t *testing.T, cfg config.Config, sources []source.Source, prompts []string, history []command.Turn, opts command.Options) command.Resolved {
	t.Helper()
	initial, err := command.NewInitial(cfg, sources, prompts, history, opts)
	if err != nil {
		t.Fatalf("NewInitial: %v", err)
	}
	resolved, err := initial.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return resolved
}

func TestBuildOneCallPerPrompt(t *testing.T) {
	prompts := []string{"first", "second", "third"}
	planned, err := Build(resolve(t, testConfig(), nil, prompts, nil, command.Options{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(planned.Plan.Calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(planned.Plan.Calls))
	}
	model := planned.Plan.Calls[0].Model
	for i, call := range planned.Plan.Calls {
		if call.Model != model {
			t.Errorf("call %d model %q differs from %q", i, call.Model, model)
		}
		if len(call.Parts) != 1 || call.Parts[0].Text != prompts[i] {
			t.Errorf("call %d parts = %+v", i, call.Parts)
		}
	}
	if len(planned.PerCall) != 3 {
		t.Errorf("per-call estimates = %d, want 3", len(planned.PerCall))
	}
}

func TestBuildSharedParts(t *testing.T) {
	file, err := source.FromFile("/tmp/doc.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	uri, err := source.FromURI("https://example.com/data.csv", "text/csv")
	if err != nil {
		t.Fatalf("FromURI: %v", err)
	}
	sources := []source.Source{source.FromText("inline context"), file, uri}
	history := []command.Turn{{Role: "user", Content: "earlier question"}, {Role: "model", Content: "earlier answer"}}

	planned, err := Build(resolve(t, testConfig(), sources, []string{"q"}, history, command.Options{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	parts := planned.Plan.SharedParts
	if len(parts) != 5 {
		t.Fatalf("shared parts = %d, want 5 (2 history + 3 sources)", len(parts))
	}
	if parts[0].Kind != command.PartHistory || parts[1].Kind != command.PartHistory {
		t.Error("history parts must come first")
	}
	if parts[2].Kind != command.PartText || parts[2].Text != "inline context" {
		t.Errorf("text source part = %+v", parts[2])
	}
	if parts[3].Kind != command.PartFile || parts[3].LocalPath != "/tmp/doc.pdf" {
		t.Errorf("file source part = %+v", parts[3])
	}
	if parts[4].Kind != command.PartRemote || parts[4].RemoteURI != "https://example.com/data.csv" {
		t.Errorf("uri source part = %+v", parts[4])
	}
	if len(planned.Plan.Uploads) != 1 || planned.Plan.Uploads[0].LocalPath != "/tmp/doc.pdf" {
		t.Errorf("uploads = %+v", planned.Plan.Uploads)
	}
}

func TestBuildCacheOverride(t *testing.T) {
	opts := command.Options{CacheNameOverride: "caches/existing"}
	planned, err := Build(resolve(t, testConfig(), nil, []string{"a", "b"}, nil, opts))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if planned.Plan.CacheMode != command.CacheOverride {
		t.Errorf("plan cache mode = %q, want override", planned.Plan.CacheMode)
	}
	for i, call := range planned.Plan.Calls {
		if call.CacheName != "caches/existing" || call.CacheMode != command.CacheOverride {
			t.Errorf("call %d cache = (%q, %q)", i, call.CacheName, call.CacheMode)
		}
	}
	want := CacheKey(planned.Plan.Model(), planned.Plan.SystemInstruction, planned.Plan.SharedParts)
	if planned.Plan.CacheKey != want {
		t.Errorf("override plan cache key = %q, want the content-derived key", planned.Plan.CacheKey)
	}
}

func TestBuildCachePolicy(t *testing.T) {
	opts := command.Options{Cache: &command.CachePolicy{}}
	sources := []source.Source{source.FromText("big shared corpus")}

	planned, err := Build(resolve(t, testConfig(), sources, []string{"q"}, nil, opts))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if planned.Plan.CacheMode != command.CachePlan {
		t.Fatalf("cache mode = %q, want plan", planned.Plan.CacheMode)
	}
	if planned.Plan.CacheKey == "" {
		t.Fatal("derived cache key is empty")
	}

	// Same inputs derive the same key; different shared content changes it.
	again, err := Build(resolve(t, testConfig(), sources, []string{"q"}, nil, opts))
	if err != nil {
		t.Fatalf("Build again: %v", err)
	}
	if again.Plan.CacheKey != planned.Plan.CacheKey {
		t.Error("cache key is not deterministic")
	}
	other, err := Build(resolve(t, testConfig(), []source.Source{source.FromText("different corpus")}, []string{"q"}, nil, opts))
	if err != nil {
		t.Fatalf("Build other: %v", err)
	}
	if other.Plan.CacheKey == planned.Plan.CacheKey {
		t.Error("cache key ignores shared content")
	}
}

func TestBuildFirstTurnOnlySkipsWithHistory(t *testing.T) {
	opts := command.Options{Cache: &command.CachePolicy{FirstTurnOnly: true}}
	history := []command.Turn{{Role: "user", Content: "hi"}}

	planned, err := Build(resolve(t, testConfig(), nil, []string{"q"}, history, opts))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if planned.Plan.CacheMode != command.CacheNone {
		t.Errorf("cache mode = %q, want none past the first turn", planned.Plan.CacheMode)
	}
}

func TestBuildRateConstraint(t *testing.T) {
	cfg := config.Default() // not simulated
	planned, err := Build(resolve(t, cfg, nil, []string{"q"}, nil, command.Options{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if planned.Plan.Rate == nil {
		t.Fatal("free-tier default model must carry a rate constraint")
	}
	if planned.Plan.Rate.RequestsPerMinute != 10 {
		t.Errorf("rpm = %d, want 10", planned.Plan.Rate.RequestsPerMinute)
	}

	simulated, err := Build(resolve(t, testConfig(), nil, []string{"q"}, nil, command.Options{}))
	if err != nil {
		t.Fatalf("Build simulated: %v", err)
	}
	if simulated.Plan.Rate != nil {
		t.Error("simulated runs must not carry rate constraints")
	}
}

func TestBuildFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.FallbackModel = "gemini-2.5-pro"
	planned, err := Build(resolve(t, cfg, nil, []string{"q"}, nil, command.Options{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if planned.Plan.Fallback == nil || planned.Plan.Fallback.Model != "gemini-2.5-pro" {
		t.Errorf("fallback = %+v", planned.Plan.Fallback)
	}

	cfg.Provider.FallbackModel = cfg.Provider.Model
	same, err := Build(resolve(t, cfg, nil, []string{"q"}, nil, command.Options{}))
	if err != nil {
		t.Fatalf("Build same-model: %v", err)
	}
	if same.Plan.Fallback != nil {
		t.Error("fallback equal to the primary model must be dropped")
	}
}

func TestBuildEstimationOverride(t *testing.T) {
	opts := command.Options{Estimation: &tokens.Override{WidenFactor: 2.0}}
	base, err := Build(resolve(t, testConfig(), nil, []string{"a question of some length"}, nil, command.Options{}))
	if err != nil {
		t.Fatalf("Build base: %v", err)
	}
	widened, err := Build(resolve(t, testConfig(), nil, []string{"a question of some length"}, nil, opts))
	if err != nil {
		t.Fatalf("Build widened: %v", err)
	}
	if widened.Estimate.Max <= base.Estimate.Max {
		t.Errorf("widened max %d not above base max %d", widened.Estimate.Max, base.Estimate.Max)
	}

	bad := command.Options{Estimation: &tokens.Override{WidenFactor: 0.5}}
	if _, err := Build(resolve(t, testConfig(), nil, []string{"q"}, nil, bad)); err == nil {
		t.Error("widen factor below 1.0 must be rejected")
	}
}

func TestCacheKeyFingerprint(t *testing.T) {
	shared := []command.Part{command.TextPart("corpus")}
	a := CacheKey("m1", "sys", shared)
	if b := CacheKey("m1", "sys", shared); b != a {
		t.Error("key not deterministic")
	}
	if b := CacheKey("m2", "sys", shared); b == a {
		t.Error("key ignores model")
	}
	if b := CacheKey("m1", "other", shared); b == a {
		t.Error("key ignores system instruction")
	}
	if strings.ContainsAny(a, " /") {
		t.Errorf("key %q not a clean hex fingerprint", a)
	}
}
