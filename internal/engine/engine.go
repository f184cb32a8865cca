package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"promptbatch/internal/command"
	"promptbatch/internal/logging"
)

// Engine dispatches a plan's calls against one provider adapter. The upload
// and cache registries are shared across requests and safe for concurrent
// use.
type Engine struct {
	adapter ProviderAdapter
	uploads *UploadRegistry
	caches  CacheRegistry
	log     *zap.Logger
}

// New builds an engine. Nil registries get in-memory defaults.
func New(adapter ProviderAdapter, uploads *UploadRegistry, caches CacheRegistry) *Engine {
	if uploads == nil {
		uploads = NewUploadRegistry()
	}
	if caches == nil {
		caches = NewMemoryCacheRegistry()
	}
	return &Engine{
		adapter: adapter,
		uploads: uploads,
		caches:  caches,
		log:     logging.For(logging.CategoryEngine),
	}
}

// Execute runs every call in the plan concurrently under the resolved
// concurrency bound and produces the Finalized stage. A failing call is
// fatal only for its own slot; Execute returns an error only when input is
// malformed or every slot failed.
func (e *Engine) Execute(ctx context.Context, cmd command.Planned) (command.Finalized, error) {
	plan := cmd.Plan
	tel := command.NewTelemetry(len(plan.Calls))

	uploadStart := time.Now()
	shared, err := e.resolveParts(ctx, plan.SharedParts)
	if err != nil {
		return command.Finalized{}, err
	}
	// Per-call parts carry file placeholders too; resolve them before
	// dispatch so the registry dedups across slots.
	calls := make([]command.Call, len(plan.Calls))
	for i, call := range plan.Calls {
		parts, rerr := e.resolveParts(ctx, call.Parts)
		if rerr != nil {
			return command.Finalized{}, rerr
		}
		call.Parts = parts
		calls[i] = call
	}
	tel.RecordDuration("upload", time.Since(uploadStart))

	cacheName, cacheMode := e.resolveCache(ctx, plan, shared, tel)
	tel.RecordCacheApplication(cacheMode)

	limit := resolveConcurrency(cmd)
	tel.RecordConcurrency(limit)

	var limiter, tokenLimiter *rate.Limiter
	if plan.Rate != nil {
		if rpm := plan.Rate.RequestsPerMinute; rpm > 0 {
			limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
		if tpm := plan.Rate.TokensPerMinute; tpm > 0 {
			// Burst is one second's worth of tokens; a call's estimated
			// cost drains the bucket before it dispatches.
			burst := tpm / 60
			if burst < 1 {
				burst = 1
			}
			tokenLimiter = rate.NewLimiter(rate.Limit(tpm)/60.0, burst)
		}
	}

	execStart := time.Now()
	raws := make([]any, len(plan.Calls))
	errs := make([]error, len(plan.Calls))

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range calls {
		i := i
		call := calls[i]
		g.Go(func() error {
			if werr := waitRate(ctx, limiter, tokenLimiter, callTokens(cmd, i)); werr != nil {
				errs[i] = werr
				tel.RecordCall(i, command.CallMeta{Err: werr.Error()}, command.Usage{})
				return nil
			}
			cc := callContext{
				call:      call,
				shared:    shared,
				system:    plan.SystemInstruction,
				cacheName: effectiveCacheName(call, cacheName),
				fallback:  plan.Fallback,
			}
			resp, meta, cerr := e.executeCall(ctx, cc)
			tel.RecordCall(i, meta, resp.Usage)
			if cerr != nil {
				errs[i] = cerr
				e.log.Warn("call failed after resilience",
					zap.Int("index", i), zap.Error(cerr))
				return nil
			}
			raws[i] = resp.Raw
			return nil
		})
	}
	_ = g.Wait()
	tel.RecordDuration("execute", time.Since(execStart))

	failed := 0
	var firstErr error
	for _, cerr := range errs {
		if cerr != nil {
			failed++
			if firstErr == nil {
				firstErr = cerr
			}
		}
	}
	if failed == len(plan.Calls) {
		if pe, ok := firstErr.(*command.ProviderError); ok {
			return command.Finalized{}, pe
		}
		return command.Finalized{}, command.WrapProvider("execute", 0, firstErr)
	}

	return cmd.Finalize(raws, tel), nil
}

// callContext carries everything one call slot needs to build its requests.
type callContext struct {
	call      command.Call
	shared    []command.Part
	system    string
	cacheName string
	fallback  *command.Call
}

// request builds the adapter request. When a cache is applied the shared
// parts live in the cached content and are not resent.
func (c callContext) request(withCache bool) Request {
	req := Request{
		Model:             c.call.Model,
		GenConfig:         c.call.GenConfig,
		SystemInstruction: c.system,
	}
	if withCache && c.cacheName != "" {
		req.CacheName = c.cacheName
		req.Parts = append([]command.Part(nil), c.call.Parts...)
		return req
	}
	req.Parts = append(append([]command.Part(nil), c.shared...), c.call.Parts...)
	return req
}

// executeCall applies the resilience ladder for one slot: (a) one retry
// without cache when caching was applied, (b) up to two backoff retries for
// transient errors, (c) the plan-level fallback call once.
func (e *Engine) executeCall(ctx context.Context, cc callContext) (Response, command.CallMeta, error) {
	var meta command.CallMeta
	wallStart := time.Now()

	req := cc.request(true)
	resp, err := e.attempt(ctx, req, &meta)

	if err != nil && req.CacheName != "" {
		// Any failure on a cached attempt triggers one uncached retry; a
		// stale or expired cache name is indistinguishable from other 4xx
		// failures at this layer.
		meta.NoCacheRetry = true
		req = cc.request(false)
		resp, err = e.attempt(ctx, req, &meta)
	}

	for retry := 0; err != nil && isTransient(err) && retry < maxTransientRetries; retry++ {
		if berr := backoff(ctx, retry); berr != nil {
			err = berr
			break
		}
		resp, err = e.attempt(ctx, req, &meta)
	}

	if err != nil && cc.fallback != nil {
		meta.UsedFallback = true
		fb := cc.request(false)
		fb.Model = cc.fallback.Model
		if len(cc.fallback.GenConfig) > 0 {
			fb.GenConfig = cc.fallback.GenConfig
		}
		resp, err = e.attempt(ctx, fb, &meta)
	}

	meta.WallTime = time.Since(wallStart)
	if err != nil {
		meta.Err = err.Error()
	}
	return resp, meta, err
}

// attempt makes one adapter call, accumulating API time and attempt count.
func (e *Engine) attempt(ctx context.Context, req Request, meta *command.CallMeta) (Response, error) {
	meta.Attempts++
	apiStart := time.Now()
	resp, err := e.adapter.Generate(ctx, req)
	meta.APITime += time.Since(apiStart)
	return resp, err
}

// resolveParts replaces local-file placeholders with remote references,
// uploading each path at most once via the shared registry.
func (e *Engine) resolveParts(ctx context.Context, parts []command.Part) ([]command.Part, error) {
	needsUpload := false
	for _, p := range parts {
		if p.Kind == command.PartFile {
			needsUpload = true
			break
		}
	}
	if !needsUpload {
		return parts, nil
	}
	up, ok := e.adapter.(Uploader)
	if !ok {
		return nil, command.NewConfigError("execute", "plan requires file uploads but the adapter cannot upload")
	}

	resolved := make([]command.Part, len(parts))
	copy(resolved, parts)
	for i, p := range parts {
		if p.Kind != command.PartFile {
			continue
		}
		ref, err := e.uploads.Resolve(ctx, command.UploadTask{LocalPath: p.LocalPath, MIMEType: p.MIMEType}, up)
		if err != nil {
			return nil, command.WrapProvider("upload "+p.LocalPath, 0, err)
		}
		resolved[i] = command.RemotePart(ref, p.MIMEType)
	}
	return resolved, nil
}

// resolveCache resolves the plan's cache intent to a concrete cache name.
// Intent is never inferred here; only plan- or override-derived modes apply.
func (e *Engine) resolveCache(ctx context.Context, plan command.Plan, shared []command.Part, tel *command.Telemetry) (string, command.CacheApplication) {
	switch plan.CacheMode {
	case command.CacheOverride:
		// Calls already carry the explicit name; record it best-effort so
		// later runs can find the same content under the plan's key.
		if plan.CacheKey != "" && len(plan.Calls) > 0 && plan.Calls[0].CacheName != "" {
			e.caches.Store(CacheEntry{
				Key:       plan.CacheKey,
				Name:      plan.Calls[0].CacheName,
				Mode:      command.CacheOverride,
				Artifacts: artifactList(shared),
				CreatedAt: time.Now(),
				TTL:       plan.CacheTTL,
			})
		}
		return "", command.CacheOverride
	case command.CachePlan:
		if entry, ok := e.caches.Lookup(plan.CacheKey); ok {
			return entry.Name, command.CachePlan
		}
		if plan.ReuseOnly {
			tel.AddDiagnostic("cache key %s not found and policy is reuse-only; running uncached", plan.CacheKey)
			return "", command.CacheNone
		}
		creator, ok := e.adapter.(CacheCreator)
		if !ok {
			tel.AddDiagnostic("adapter lacks cache support; running uncached")
			return "", command.CacheNone
		}
		name, err := creator.CreateCache(ctx, plan.Model(), shared, plan.SystemInstruction, plan.CacheTTL)
		if err != nil {
			tel.AddDiagnostic("cache creation failed: %v; running uncached", err)
			return "", command.CacheNone
		}
		e.caches.Store(CacheEntry{
			Key:       plan.CacheKey,
			Name:      name,
			Mode:      command.CachePlan,
			Artifacts: artifactList(shared),
			CreatedAt: time.Now(),
			TTL:       plan.CacheTTL,
		})
		e.log.Debug("cache created", zap.String("key", plan.CacheKey), zap.String("name", name))
		return name, command.CachePlan
	default:
		return "", command.CacheNone
	}
}

// effectiveCacheName picks the cache name for one call given the plan-level
// resolution.
func effectiveCacheName(call command.Call, planResolved string) string {
	if call.CacheMode == command.CacheOverride {
		return call.CacheName
	}
	return planResolved
}

// waitRate blocks until both the request and token buckets admit the call.
func waitRate(ctx context.Context, requests, budget *rate.Limiter, cost int) error {
	if requests != nil {
		if err := requests.Wait(ctx); err != nil {
			return err
		}
	}
	if budget != nil {
		if cost < 1 {
			cost = 1
		}
		if cost > budget.Burst() {
			cost = budget.Burst()
		}
		if err := budget.WaitN(ctx, cost); err != nil {
			return err
		}
	}
	return nil
}

// callTokens is the planner's expected token cost for one slot.
func callTokens(cmd command.Planned, i int) int {
	if i < len(cmd.PerCall) {
		return cmd.PerCall[i].Expected
	}
	return 1
}

// resolveConcurrency computes the fan-out bound: per-request override, then
// configured default, forced to 1 for rate-constrained plans.
func resolveConcurrency(cmd command.Planned) int {
	if cmd.Plan.Rate != nil {
		return 1
	}
	limit := cmd.Config.Execution.DefaultConcurrency
	if cmd.Opts.Concurrency > 0 {
		limit = cmd.Opts.Concurrency
	}
	if limit > len(cmd.Plan.Calls) {
		limit = len(cmd.Plan.Calls)
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// artifactList summarizes the cached shared content for registry metadata.
func artifactList(parts []command.Part) []string {
	var artifacts []string
	for _, p := range parts {
		switch p.Kind {
		case command.PartRemote:
			artifacts = append(artifacts, p.RemoteURI)
		case command.PartFile:
			artifacts = append(artifacts, p.LocalPath)
		case command.PartText:
			artifacts = append(artifacts, fmt.Sprintf("text(%d bytes)", len(p.Text)))
		}
	}
	return artifacts
}
