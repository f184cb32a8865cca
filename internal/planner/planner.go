// Package planner compiles a resolved command into an execution plan: one
// provider call per prompt, a shared-parts set built exactly once, token
// estimates, cache intent and rate constraints. The planner never touches
// the network.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"promptbatch/internal/command"
	"promptbatch/internal/logging"
	"promptbatch/internal/source"
	"promptbatch/internal/tokens"
)

// Build turns a resolved command into the Planned stage.
func Build(cmd command.Resolved) (command.Planned, error) {
	log := logging.For(logging.CategoryPlan)
	cfg := cmd.Config

	shared, uploads, sharedEst, err := buildSharedParts(cmd)
	if err != nil {
		return command.Planned{}, err
	}

	calls := make([]command.Call, 0, len(cmd.Prompts))
	perCall := make([]tokens.Estimate, 0, len(cmd.Prompts))
	for _, prompt := range cmd.Prompts {
		calls = append(calls, command.Call{
			Model:     cfg.Provider.Model,
			Parts:     []command.Part{command.TextPart(prompt)},
			GenConfig: map[string]any{},
		})
		perCall = append(perCall, tokens.Sum(map[string]tokens.Estimate{
			"shared": sharedEst,
			"prompt": tokens.ForText(prompt),
		}))
	}

	plan := command.Plan{
		Calls:             calls,
		SharedParts:       shared,
		SystemInstruction: cfg.Provider.SystemInstruction,
		Uploads:           uploads,
		CacheTTL:          cfg.Provider.CacheTTL,
	}

	applyCacheIntent(&plan, cmd)

	if fb := cfg.Provider.FallbackModel; fb != "" && fb != cfg.Provider.Model {
		plan.Fallback = &command.Call{Model: fb, GenConfig: map[string]any{}}
	}

	// Rate constraints apply only to real execution; simulated runs are free.
	if !cfg.Execution.Simulate {
		if entry, ok := cfg.RateFor(cfg.Execution.Tier, cfg.Provider.Model); ok {
			plan.Rate = &command.RateConstraint{
				RequestsPerMinute: entry.RequestsPerMinute,
				TokensPerMinute:   entry.TokensPerMinute,
			}
		}
	}

	total := aggregate(perCall)
	if cmd.Opts.Estimation != nil {
		total, err = cmd.Opts.Estimation.Apply(total)
		if err != nil {
			return command.Planned{}, &command.ConfigError{Op: "plan", Msg: "estimation override", Err: err}
		}
	}

	log.Debug("plan built",
		zap.Int("calls", len(calls)),
		zap.Int("uploads", len(uploads)),
		zap.String("cache_mode", string(plan.CacheMode)),
		zap.Bool("rate_constrained", plan.Rate != nil),
		zap.Int("expected_tokens", total.Expected))

	return cmd.WithPlan(plan, total, perCall)
}

// buildSharedParts converts history and sources into the part set every call
// references. Text sources load here (the one point content is needed before
// dispatch); file sources stay placeholders resolved by the engine.
func buildSharedParts(cmd command.Resolved) ([]command.Part, []command.UploadTask, tokens.Estimate, error) {
	var parts []command.Part
	var uploads []command.UploadTask
	breakdown := make(map[string]tokens.Estimate)

	for _, turn := range cmd.History {
		parts = append(parts, command.HistoryPart(turn.Role, turn.Content))
		breakdown[fmt.Sprintf("history:%d", len(parts))] = tokens.ForText(turn.Content)
	}

	for i, s := range cmd.Sources {
		key := fmt.Sprintf("source:%d:%s", i, s.Identifier)
		breakdown[key] = tokens.ForSource(s)
		switch s.Kind {
		case source.KindText:
			body, err := s.Loader()
			if err != nil {
				return nil, nil, tokens.Estimate{}, &command.ConfigError{Op: "plan", Msg: "load text source " + s.Identifier, Err: err}
			}
			parts = append(parts, command.TextPart(string(body)))
		case source.KindFile:
			parts = append(parts, command.FilePart(s.Identifier, s.MIMEType))
			uploads = append(uploads, command.UploadTask{LocalPath: s.Identifier, MIMEType: s.MIMEType})
		case source.KindURI, source.KindProvider:
			parts = append(parts, command.RemotePart(s.Identifier, s.MIMEType))
		default:
			return nil, nil, tokens.Estimate{}, command.NewConfigError("plan", "source %d has unknown kind %q", i, s.Kind)
		}
	}

	return parts, uploads, tokens.Sum(breakdown), nil
}

// applyCacheIntent records how caching applies to this plan. An explicit
// override names the cache directly on every call, with the content-derived
// key kept for registry bookkeeping; a cache policy records plan-derived
// intent under a deterministic key resolved at execution time.
func applyCacheIntent(plan *command.Plan, cmd command.Resolved) {
	switch {
	case cmd.Opts.CacheNameOverride != "":
		plan.CacheMode = command.CacheOverride
		plan.CacheKey = CacheKey(plan.Model(), plan.SystemInstruction, plan.SharedParts)
		for i := range plan.Calls {
			plan.Calls[i].CacheName = cmd.Opts.CacheNameOverride
			plan.Calls[i].CacheMode = command.CacheOverride
		}
	case cmd.Opts.Cache != nil:
		pol := cmd.Opts.Cache
		if pol.FirstTurnOnly && len(cmd.History) > 0 {
			return
		}
		plan.CacheMode = command.CachePlan
		plan.ReuseOnly = pol.ReuseOnly
		if pol.TTL > 0 {
			plan.CacheTTL = pol.TTL
		}
		if pol.Key != "" {
			plan.CacheKey = pol.Key
		} else {
			plan.CacheKey = CacheKey(plan.Model(), plan.SystemInstruction, plan.SharedParts)
		}
	}
}

// CacheKey derives the deterministic cache key from model, system
// instruction and a fingerprint of the shared content.
func CacheKey(model, system string, shared []command.Part) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", model, system)
	for _, p := range shared {
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%s\x1e", p.Kind, p.Text, p.Role, p.LocalPath, p.RemoteURI)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// aggregate sums per-call estimates into the request total.
func aggregate(perCall []tokens.Estimate) tokens.Estimate {
	parts := make(map[string]tokens.Estimate, len(perCall))
	for i, e := range perCall {
		parts[fmt.Sprintf("call:%d", i)] = e
	}
	return tokens.Sum(parts)
}
