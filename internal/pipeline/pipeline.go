// Package pipeline composes the stage machine, planner, engine and
// extraction chain into one entry point. Run never panics and always
// returns a well-formed envelope: typed failures before dispatch become
// error envelopes, anything after dispatch degrades through extraction.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"promptbatch/internal/command"
	"promptbatch/internal/config"
	"promptbatch/internal/engine"
	"promptbatch/internal/extract"
	"promptbatch/internal/logging"
	"promptbatch/internal/planner"
	"promptbatch/internal/source"
)

// Request is one batch run: shared sources, per-prompt questions, optional
// history and options.
type Request struct {
	Sources []source.Source
	Prompts []string
	History []command.Turn
	Opts    command.Options
}

// Runner owns the long-lived pieces shared across runs: the adapter and the
// upload and cache registries.
type Runner struct {
	cfg    config.Config
	engine *engine.Engine
	log    *zap.Logger
}

// NewRunner wires a runner. Nil registries get in-memory defaults.
func NewRunner(cfg config.Config, adapter engine.ProviderAdapter, uploads *engine.UploadRegistry, caches engine.CacheRegistry) *Runner {
	return &Runner{
		cfg:    cfg,
		engine: engine.New(adapter, uploads, caches),
		log:    logging.For(logging.CategoryPlan),
	}
}

// Run executes one batch request end to end. The returned envelope always
// carries exactly one answer per prompt, even on failure.
func (r *Runner) Run(ctx context.Context, req Request) extract.Envelope {
	start := time.Now()

	initial, err := command.NewInitial(r.cfg, req.Sources, req.Prompts, req.History, req.Opts)
	if err != nil {
		return extract.ErrorEnvelope(len(req.Prompts), err)
	}
	resolved, err := initial.Resolve()
	if err != nil {
		return extract.ErrorEnvelope(len(req.Prompts), err)
	}
	planned, err := planner.Build(resolved)
	if err != nil {
		return extract.ErrorEnvelope(len(req.Prompts), err)
	}
	r.log.Debug("plan built",
		zap.Int("calls", len(planned.Plan.Calls)),
		zap.String("model", planned.Plan.Model()),
		zap.Int("expected_tokens", planned.Estimate.Expected))

	if r.cfg.Provider.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Provider.Timeout)
		defer cancel()
	}

	final, err := r.engine.Execute(ctx, planned)
	if err != nil {
		return extract.ErrorEnvelope(len(req.Prompts), err)
	}

	chain := extract.NewChain(extract.Options{
		MaxRawBytes: r.cfg.Extraction.MaxRawBytes,
		Diagnostics: r.cfg.Extraction.Diagnostics,
		PreferArray: req.Opts.PreferArray,
	})
	env := chain.RunAll(final.Raw, len(req.Prompts))

	snap := final.Telemetry.Snapshot()
	env.Usage = snap.TotalUsage
	env.Metrics = &extract.Metrics{
		Durations:        snap.Durations,
		PerPrompt:        snap.UsagePerCall,
		PerCallMeta:      snap.PerCallMeta,
		CacheApplication: string(snap.CacheApplication),
		ConcurrencyUsed:  snap.ConcurrencyUsed,
	}
	if env.Metrics.Durations == nil {
		env.Metrics.Durations = map[string]time.Duration{}
	}
	env.Metrics.Durations["total"] = time.Since(start)

	r.log.Info("batch complete",
		zap.String("request_id", snap.RequestID),
		zap.String("status", string(env.Status)),
		zap.String("method", env.Method),
		zap.Int("prompts", len(req.Prompts)),
		zap.Duration("total", time.Since(start)))
	return env
}
