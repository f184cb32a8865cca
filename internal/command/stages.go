// Package command defines the immutable stages a batch request moves through:
// Initial -> Resolved -> Planned -> Finalized. Each stage wraps the previous
// one; transitions return either the next stage or a typed error, never both.
// No stage mutates its input.
package command

import (
	"strings"

	"promptbatch/internal/config"
	"promptbatch/internal/source"
	"promptbatch/internal/tokens"
)

// Turn is one prior conversation exchange carried as context.
type Turn struct {
	Role    string
	Content string
}

// Initial is the raw user request.
type Initial struct {
	Sources []source.Source
	Prompts []string
	Config  config.Config
	History []Turn
	Opts    Options
}

// NewInitial validates the request-level invariants: at least one non-blank
// prompt, a valid configuration.
func NewInitial(cfg config.Config, sources []source.Source, prompts []string, history []Turn, opts Options) (Initial, error) {
	if len(prompts) == 0 {
		return Initial{}, NewConfigError("initial", "at least one prompt is required")
	}
	for i, p := range prompts {
		if strings.TrimSpace(p) == "" {
			return Initial{}, NewConfigError("initial", "prompt %d is blank", i)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Initial{}, &ConfigError{Op: "initial", Msg: "invalid configuration", Err: err}
	}
	if opts.Concurrency < 0 {
		return Initial{}, NewConfigError("initial", "concurrency override must be >= 0, got %d", opts.Concurrency)
	}
	return Initial{
		Sources: append([]source.Source(nil), sources...),
		Prompts: append([]string(nil), prompts...),
		Config:  cfg,
		History: append([]Turn(nil), history...),
		Opts:    opts,
	}, nil
}

// Resolved is an Initial whose sources have all passed validation.
type Resolved struct {
	Initial
}

// Resolve validates every source, rejecting anything not a well-formed
// Source. Remote sources are additionally checked against the
// materialization policy.
func (c Initial) Resolve() (Resolved, error) {
	for i, s := range c.Sources {
		if err := source.Validate(s); err != nil {
			return Resolved{}, &ConfigError{Op: "resolve", Msg: "source " + s.Identifier, Err: err}
		}
		if s.Kind == source.KindURI {
			if c.Opts.Materialize != nil && c.Opts.Materialize.HTTPSOnly && strings.HasPrefix(s.Identifier, "http://") {
				return Resolved{}, NewConfigError("resolve", "source %d: plain-http remote forbidden by policy", i)
			}
			if !c.Opts.Materialize.Allows(s.MIMEType) {
				return Resolved{}, NewConfigError("resolve", "source %d: MIME %s not allowed by materialization policy", i, s.MIMEType)
			}
		}
	}
	return Resolved{Initial: c}, nil
}

// Planned is a Resolved command plus its execution plan and token estimates.
type Planned struct {
	Resolved
	Plan     Plan
	Estimate tokens.Estimate
	PerCall  []tokens.Estimate
}

// WithPlan attaches a validated plan and estimates, producing the Planned
// stage.
func (c Resolved) WithPlan(plan Plan, total tokens.Estimate, perCall []tokens.Estimate) (Planned, error) {
	if err := plan.Validate(); err != nil {
		return Planned{}, err
	}
	if len(plan.Calls) != len(c.Prompts) {
		return Planned{}, NewConfigError("plan", "plan has %d calls for %d prompts", len(plan.Calls), len(c.Prompts))
	}
	return Planned{Resolved: c, Plan: plan, Estimate: total, PerCall: append([]tokens.Estimate(nil), perCall...)}, nil
}

// Finalized is a Planned command plus raw provider responses and the
// telemetry side channel. Raw holds one entry per call, index-aligned with
// prompts; a failed slot holds its error.
type Finalized struct {
	Planned
	Raw       []any
	Telemetry *Telemetry
}

// Finalize attaches raw responses and telemetry.
func (c Planned) Finalize(raw []any, tel *Telemetry) Finalized {
	return Finalized{Planned: c, Raw: append([]any(nil), raw...), Telemetry: tel}
}
