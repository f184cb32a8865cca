// Package engine executes an execution plan against an injected provider
// adapter: it resolves uploads, applies cache intent, dispatches calls under
// a concurrency bound with retry/fallback resilience, and records telemetry.
package engine

import (
	"context"
	"time"

	"promptbatch/internal/command"
)

// Request is one concrete generation request handed to the adapter.
type Request struct {
	Model             string
	Parts             []command.Part
	GenConfig         map[string]any
	SystemInstruction string
	CacheName         string
}

// Response is the adapter's raw output plus token accounting.
type Response struct {
	Raw   any
	Usage command.Usage
}

// ProviderAdapter is the minimal capability every provider must offer. The
// engine treats it as opaque; transport, auth and timeouts live behind it.
type ProviderAdapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Uploader is the optional file-upload capability. The engine raises a
// configuration error only when a plan requires uploads and the adapter
// lacks this interface.
type Uploader interface {
	Upload(ctx context.Context, localPath, mimeType string) (string, error)
}

// CacheCreator is the optional provider-side context-cache capability.
// Adapters without it degrade gracefully: plans run uncached.
type CacheCreator interface {
	CreateCache(ctx context.Context, model string, parts []command.Part, systemInstruction string, ttl time.Duration) (string, error)
}
