package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"promptbatch/internal/cachestore"
	"promptbatch/internal/command"
	"promptbatch/internal/config"
	"promptbatch/internal/engine"
	"promptbatch/internal/extract"
	"promptbatch/internal/logging"
	"promptbatch/internal/pipeline"
	"promptbatch/internal/planner"
	"promptbatch/internal/provider/gemini"
	"promptbatch/internal/source"
)

var (
	// Global flags
	verbose    bool
	configPath string
	apiKey     string
	model      string

	// run flags
	files       []string
	uris        []string
	textSources []string
	historyPath string
	simulate    bool
	concurrency int
	preferArray bool
	cacheKey    string
	cacheTTL    time.Duration
	reuseOnly   bool
	diagnostics bool
	cacheDir    string
)

var rootCmd = &cobra.Command{
	Use:   "pbatch",
	Short: "pbatch - batched prompt execution against Gemini",
	Long: `pbatch runs many prompts against one shared context in a single batch.

Shared sources (files, URIs, inline text) are uploaded or cached once,
prompts fan out concurrently under rate and concurrency bounds, and the
raw model output is normalized into a stable JSON envelope with exactly
one answer per prompt.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.Init(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [prompt]...",
	Short: "Run a batch of prompts against the shared sources",
	Long: `Executes every prompt against the same shared context and prints the
result envelope as JSON on stdout.

Example:
  pbatch run --file report.pdf "Summarize the findings" "List the risks"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

var planCmd = &cobra.Command{
	Use:   "plan [prompt]...",
	Short: "Build and print the execution plan without dispatching",
	Long: `Resolves sources and builds the execution plan, then prints the plan
summary and token estimates as JSON. Nothing is sent to the provider.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides config and env)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model to use (overrides config)")

	for _, cmd := range []*cobra.Command{runCmd, planCmd} {
		cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local file to share across prompts (repeatable)")
		cmd.Flags().StringArrayVarP(&uris, "uri", "u", nil, "Remote URI to share across prompts (repeatable)")
		cmd.Flags().StringArrayVarP(&textSources, "text", "t", nil, "Inline text to share across prompts (repeatable)")
		cmd.Flags().StringVar(&historyPath, "history", "", "JSON file of prior conversation turns")
		cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Max concurrent calls (0 = config default)")
		cmd.Flags().BoolVar(&preferArray, "prefer-array", false, "Bias extraction toward JSON arrays")
		cmd.Flags().StringVar(&cacheKey, "cache-key", "", "Reuse or create a provider cache under this key")
		cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 0, "TTL for a newly created cache (0 = config default)")
		cmd.Flags().BoolVar(&reuseOnly, "reuse-only", false, "Only reuse an existing cache, never create one")
		cmd.Flags().BoolVar(&diagnostics, "diagnostics", false, "Include extraction diagnostics in the envelope")
	}
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Run offline against the simulated provider")
	runCmd.Flags().StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "Directory for the persistent cache registry")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if simulate {
		cfg.Execution.Simulate = true
	}
	if diagnostics {
		cfg.Extraction.Diagnostics = true
	}

	sources, err := buildSources()
	if err != nil {
		return err
	}
	history, err := loadHistory(historyPath)
	if err != nil {
		return err
	}

	adapter, caches, cleanup, err := buildAdapter(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	runner := pipeline.NewRunner(cfg, adapter, nil, caches)
	env := runner.Run(ctx, pipeline.Request{
		Sources: sources,
		Prompts: args,
		History: history,
		Opts:    buildOptions(cfg),
	})
	if err := printJSON(env); err != nil {
		return err
	}
	if env.Status == extract.StatusError {
		os.Exit(2)
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Execution.Simulate = true

	sources, err := buildSources()
	if err != nil {
		return err
	}
	history, err := loadHistory(historyPath)
	if err != nil {
		return err
	}

	initial, err := command.NewInitial(cfg, sources, args, history, buildOptions(cfg))
	if err != nil {
		return err
	}
	resolved, err := initial.Resolve()
	if err != nil {
		return err
	}
	planned, err := planner.Build(resolved)
	if err != nil {
		return err
	}

	summary := map[string]any{
		"model":        planned.Plan.Model(),
		"calls":        len(planned.Plan.Calls),
		"shared_parts": len(planned.Plan.SharedParts),
		"uploads":      len(planned.Plan.Uploads),
		"cache_mode":   planned.Plan.CacheMode,
		"cache_key":    planned.Plan.CacheKey,
		"estimate":     planned.Estimate,
		"per_call":     planned.PerCall,
	}
	if planned.Plan.Rate != nil {
		summary["rpm_limit"] = planned.Plan.Rate.RequestsPerMinute
	}
	return printJSON(summary)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if model != "" {
		cfg.Provider.Model = model
	}
	return cfg, nil
}

func buildSources() ([]source.Source, error) {
	var out []source.Source
	for _, path := range files {
		s, err := source.FromFile(path, "")
		if err != nil {
			return nil, fmt.Errorf("file source %s: %w", path, err)
		}
		out = append(out, s)
	}
	for _, uri := range uris {
		s, err := source.FromURI(uri, mimeFromURI(uri))
		if err != nil {
			return nil, fmt.Errorf("uri source %s: %w", uri, err)
		}
		out = append(out, s)
	}
	for _, text := range textSources {
		out = append(out, source.FromText(text))
	}
	return out, nil
}

// mimeFromURI guesses a MIME type from the URI extension; the provider
// re-validates on its side.
func mimeFromURI(uri string) string {
	switch {
	case strings.HasSuffix(uri, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(uri, ".png"):
		return "image/png"
	case strings.HasSuffix(uri, ".jpg"), strings.HasSuffix(uri, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(uri, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(uri, ".mp3"):
		return "audio/mpeg"
	default:
		return "text/plain"
	}
}

func loadHistory(path string) ([]command.Turn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	var turns []command.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return turns, nil
}

func buildOptions(cfg config.Config) command.Options {
	opts := command.Options{
		Concurrency: concurrency,
		PreferArray: preferArray,
	}
	if cacheKey != "" {
		ttl := cacheTTL
		if ttl == 0 {
			ttl = cfg.Provider.CacheTTL
		}
		opts.Cache = &command.CachePolicy{
			Key:       cacheKey,
			TTL:       ttl,
			ReuseOnly: reuseOnly,
		}
	}
	return opts
}

// buildAdapter picks the provider: the real Gemini client, or the simulated
// one for offline runs. The persistent cache registry is only worth opening
// for real traffic.
func buildAdapter(ctx context.Context, cfg config.Config) (engine.ProviderAdapter, engine.CacheRegistry, func(), error) {
	if cfg.Execution.Simulate {
		return gemini.NewSimulated(), nil, func() {}, nil
	}
	adapter, err := gemini.New(ctx, cfg.Provider.APIKey)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := cachestore.Open(cacheDir)
	if err != nil {
		// A broken registry downgrades to in-memory, it never blocks a run.
		logging.For(logging.CategoryCache).Warn("cache registry unavailable: " + err.Error())
		return adapter, nil, func() {}, nil
	}
	return adapter, store, func() { _ = store.Close() }, nil
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pbatch"
	}
	return home + "/.pbatch"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
