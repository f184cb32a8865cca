package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"promptbatch/internal/command"
	"promptbatch/internal/engine"
)

// Simulated is an offline adapter for dry runs and tests. It echoes the
// last text part of each request and fabricates plausible token usage, so
// the rest of the pipeline exercises its real paths without network access.
type Simulated struct {
	// Respond overrides the canned response when set.
	Respond func(req engine.Request) (engine.Response, error)

	mu        sync.Mutex
	requests  []engine.Request
	uploads   []string
	cacheSeq  atomic.Int64
	genCalls  atomic.Int64
	uploadDur time.Duration
}

// NewSimulated returns an adapter that never leaves the process.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Generate records the request and returns an echo response.
func (s *Simulated) Generate(_ context.Context, req engine.Request) (engine.Response, error) {
	s.genCalls.Add(1)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.Respond != nil {
		return s.Respond(req)
	}

	prompt := lastText(req.Parts)
	text := fmt.Sprintf("simulated response for: %s", prompt)
	promptTokens := 0
	for _, p := range req.Parts {
		promptTokens += len(p.Text) / 4
	}
	return engine.Response{
		Raw: text,
		Usage: command.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: len(text) / 4,
			TotalTokens:      promptTokens + len(text)/4,
		},
	}, nil
}

// Upload pretends to upload and returns a stable fake reference.
func (s *Simulated) Upload(_ context.Context, localPath, _ string) (string, error) {
	if s.uploadDur > 0 {
		time.Sleep(s.uploadDur)
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, localPath)
	s.mu.Unlock()
	sum := sha256.Sum256([]byte(localPath))
	return "sim://files/" + hex.EncodeToString(sum[:8]), nil
}

// CreateCache returns a fresh fake cache name per call.
func (s *Simulated) CreateCache(_ context.Context, model string, _ []command.Part, _ string, _ time.Duration) (string, error) {
	return fmt.Sprintf("sim://caches/%s/%d", model, s.cacheSeq.Add(1)), nil
}

// Requests returns a copy of every recorded generation request.
func (s *Simulated) Requests() []engine.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Uploads returns the local paths uploaded, in arrival order.
func (s *Simulated) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// GenerateCalls returns how many generation attempts were made.
func (s *Simulated) GenerateCalls() int {
	return int(s.genCalls.Load())
}

// SetUploadDelay makes Upload block, widening the race window in tests.
func (s *Simulated) SetUploadDelay(d time.Duration) {
	s.uploadDur = d
}

func lastText(parts []command.Part) string {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Kind == command.PartText {
			return parts[i].Text
		}
	}
	return ""
}

var (
	_ engine.ProviderAdapter = (*Simulated)(nil)
	_ engine.Uploader        = (*Simulated)(nil)
	_ engine.CacheCreator    = (*Simulated)(nil)
)
