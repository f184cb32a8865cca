// Package gemini adapts the Google GenAI SDK to the engine's provider
// interface. Transport, auth and per-call timeouts live in the SDK; this
// layer only maps parts and surfaces usage.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"promptbatch/internal/command"
	"promptbatch/internal/engine"
)

// Adapter implements engine.ProviderAdapter, engine.Uploader and
// engine.CacheCreator against the Gemini API.
type Adapter struct {
	client *genai.Client
}

// New creates an adapter. The API key is required.
func New(ctx context.Context, apiKey string) (*Adapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Adapter{client: client}, nil
}

// Generate sends one generation request and returns the provider-normalized
// response shape (candidates -> content -> parts) plus token usage.
func (a *Adapter) Generate(ctx context.Context, req engine.Request) (engine.Response, error) {
	contents := toContents(req.Parts)
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.CacheName != "" {
		cfg.CachedContent = req.CacheName
		// Cached content already carries the system instruction.
		cfg.SystemInstruction = nil
	}
	applyGenConfig(cfg, req.GenConfig)

	resp, err := a.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return engine.Response{}, wrapErr("generate", err)
	}

	out := engine.Response{Raw: toRaw(resp)}
	if resp.UsageMetadata != nil {
		out.Usage = command.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			CachedTokens:     int(resp.UsageMetadata.CachedContentTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// Upload pushes a local file to the Files API and returns its URI.
func (a *Adapter) Upload(ctx context.Context, localPath, mimeType string) (string, error) {
	file, err := a.client.Files.UploadFromPath(ctx, localPath, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return "", wrapErr("upload", err)
	}
	return file.URI, nil
}

// CreateCache creates a provider-side context cache over the shared parts.
func (a *Adapter) CreateCache(ctx context.Context, model string, parts []command.Part, systemInstruction string, ttl time.Duration) (string, error) {
	cfg := &genai.CreateCachedContentConfig{
		Contents: toContents(parts),
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	if ttl > 0 {
		cfg.TTL = ttl
	}
	cache, err := a.client.Caches.Create(ctx, model, cfg)
	if err != nil {
		return "", wrapErr("create cache", err)
	}
	return cache.Name, nil
}

// toContents maps pipeline parts onto GenAI contents. History turns become
// role-tagged contents; everything else folds into one user content in
// order.
func toContents(parts []command.Part) []*genai.Content {
	var contents []*genai.Content
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			contents = append(contents, genai.NewContentFromParts(pending, genai.RoleUser))
			pending = nil
		}
	}

	for _, p := range parts {
		switch p.Kind {
		case command.PartHistory:
			flush()
			role := genai.Role(genai.RoleUser)
			if p.Role == "model" || p.Role == "assistant" {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(p.Text, role))
		case command.PartText:
			pending = append(pending, genai.NewPartFromText(p.Text))
		case command.PartRemote:
			pending = append(pending, genai.NewPartFromURI(p.RemoteURI, p.MIMEType))
		case command.PartFile:
			// Placeholders must be resolved by the engine before dispatch;
			// sending the path as text is the least-wrong degradation.
			pending = append(pending, genai.NewPartFromText(p.LocalPath))
		}
	}
	flush()
	return contents
}

// applyGenConfig copies recognized generation settings from the plan's
// config map.
func applyGenConfig(cfg *genai.GenerateContentConfig, gen map[string]any) {
	for key, value := range gen {
		switch key {
		case "temperature":
			if f, ok := value.(float64); ok {
				t := float32(f)
				cfg.Temperature = &t
			}
		case "max_output_tokens":
			switch n := value.(type) {
			case int:
				cfg.MaxOutputTokens = int32(n)
			case float64:
				cfg.MaxOutputTokens = int32(n)
			}
		case "response_mime_type":
			if s, ok := value.(string); ok {
				cfg.ResponseMIMEType = s
			}
		}
	}
}

// toRaw converts the SDK response into the generic candidates shape the
// extraction chain understands. Falls back to plain text when the round
// trip fails.
func toRaw(resp *genai.GenerateContentResponse) any {
	data, err := json.Marshal(resp)
	if err != nil {
		return resp.Text()
	}
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return resp.Text()
	}
	return generic
}

// statusMarkers maps error-text fragments to HTTP statuses. The SDK folds
// the API status into the message; sniffing it out keeps hints and retry
// classification working without depending on the SDK's error types.
var statusMarkers = []struct {
	fragment string
	status   int
}{
	{"429", 429},
	{"RESOURCE_EXHAUSTED", 429},
	{"401", 401},
	{"UNAUTHENTICATED", 401},
	{"403", 403},
	{"PERMISSION_DENIED", 403},
	{"400", 400},
	{"INVALID_ARGUMENT", 400},
	{"404", 404},
	{"NOT_FOUND", 404},
	{"503", 503},
	{"UNAVAILABLE", 503},
	{"500", 500},
	{"INTERNAL", 500},
}

// wrapErr converts SDK errors into provider errors carrying the HTTP status
// when one can be recovered from the message.
func wrapErr(op string, err error) error {
	msg := err.Error()
	for _, m := range statusMarkers {
		if strings.Contains(msg, m.fragment) {
			return command.WrapProvider(op, m.status, err)
		}
	}
	return command.WrapProvider(op, 0, err)
}

var (
	_ engine.ProviderAdapter = (*Adapter)(nil)
	_ engine.Uploader        = (*Adapter)(nil)
	_ engine.CacheCreator    = (*Adapter)(nil)
)
