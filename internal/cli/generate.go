package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chad-deng/openapi-testgen/internal/pipeline"
	"github.com/chad-deng/openapi-testgen/internal/spec"
)

// envPrefix namespaces the environment variables the CLI honours, e.g.
// TESTGEN_SEED or TESTGEN_OPTIONAL_FRACTION.
const envPrefix = "TESTGEN_"

// GenerateConfig captures all inputs that influence the generate command
// after merging defaults, config file, environment, and CLI overrides.
type GenerateConfig struct {
	Input            string
	Out              string
	Seed             int64
	Kinds            []string
	OptionalFraction float64
	MaxDepth         int
	CacheDir         string
	Report           string
	Workers          int
	DryRun           bool
	Force            bool
	Verbose          bool
}

var generateRunner = runGenerate

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a Go test suite from an OpenAPI/Swagger document",
		Long: "Generate a deterministic Go test suite from an OpenAPI/Swagger document. " +
			"Options can be provided via flags, a config file, TESTGEN_* environment variables, or defaults.",
		Example: strings.TrimSpace(`  openapi-testgen generate --input spec.yaml --out ./generated-tests
  openapi-testgen generate --input https://example.com/openapi.json --kinds happy,boundary --seed 7
  openapi-testgen --config testgen.yaml generate --dry-run`),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveGenerateConfig(cmd)
			if err != nil {
				return err
			}
			return generateRunner(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("input", "", "Path or URL to the OpenAPI/Swagger document")
	flags.String("out", "", "Output directory for generated test packages")
	flags.Int64("seed", 0, "Deterministic synthesis seed")
	flags.StringSlice("kinds", nil, "Scenario kinds to generate (happy|validation|error|boundary|auth); all when omitted")
	flags.Float64("optional-fraction", 0, "Probability an optional property is synthesized (0..1]")
	flags.Int("max-depth", 0, "Maximum schema recursion depth during synthesis")
	flags.String("cache-dir", "", "Directory for the generation cache; empty disables caching")
	flags.String("report", "", `Report path ("-" suppresses; defaults to <out>/report.json)`)
	flags.Int("workers", 0, "Concurrent generation workers")
	flags.Bool("dry-run", false, "Validate and plan without writing files")
	flags.Bool("force", false, "Overwrite a non-empty output directory")

	return cmd
}

// resolveGenerateConfig merges the four sources lowest to highest: built-in
// defaults, config file, TESTGEN_* environment, explicit flags.
func resolveGenerateConfig(cmd *cobra.Command) (*GenerateConfig, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"out":               "./generated-tests",
		"seed":              int64(1),
		"optional_fraction": 0.5,
		"max_depth":         8,
		"workers":           4,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if configPath = strings.TrimSpace(configPath); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, newUsageError(fmt.Sprintf("read config file %q: %v", configPath, err))
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &GenerateConfig{
		Input:            strings.TrimSpace(k.String("input")),
		Out:              strings.TrimSpace(k.String("out")),
		Seed:             k.Int64("seed"),
		Kinds:            kindList(k),
		OptionalFraction: k.Float64("optional_fraction"),
		MaxDepth:         k.Int("max_depth"),
		CacheDir:         strings.TrimSpace(k.String("cache_dir")),
		Report:           strings.TrimSpace(k.String("report")),
		Workers:          k.Int("workers"),
		DryRun:           k.Bool("dry_run"),
		Force:            k.Bool("force"),
	}
	if err := applyGenerateFlagOverrides(cmd.Flags(), cfg); err != nil {
		return nil, err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	cfg.Verbose = verbose

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// kindList accepts both YAML lists and comma-separated strings.
func kindList(k *koanf.Koanf) []string {
	if ks := k.Strings("kinds"); len(ks) > 0 {
		return ks
	}
	raw := strings.TrimSpace(k.String("kinds"))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyGenerateFlagOverrides(flags *pflag.FlagSet, cfg *GenerateConfig) error {
	if flags.Changed("input") {
		v, err := flags.GetString("input")
		if err != nil {
			return err
		}
		cfg.Input = strings.TrimSpace(v)
	}
	if flags.Changed("out") {
		v, err := flags.GetString("out")
		if err != nil {
			return err
		}
		cfg.Out = strings.TrimSpace(v)
	}
	if flags.Changed("seed") {
		v, err := flags.GetInt64("seed")
		if err != nil {
			return err
		}
		cfg.Seed = v
	}
	if flags.Changed("kinds") {
		v, err := flags.GetStringSlice("kinds")
		if err != nil {
			return err
		}
		cfg.Kinds = v
	}
	if flags.Changed("optional-fraction") {
		v, err := flags.GetFloat64("optional-fraction")
		if err != nil {
			return err
		}
		cfg.OptionalFraction = v
	}
	if flags.Changed("max-depth") {
		v, err := flags.GetInt("max-depth")
		if err != nil {
			return err
		}
		cfg.MaxDepth = v
	}
	if flags.Changed("cache-dir") {
		v, err := flags.GetString("cache-dir")
		if err != nil {
			return err
		}
		cfg.CacheDir = strings.TrimSpace(v)
	}
	if flags.Changed("report") {
		v, err := flags.GetString("report")
		if err != nil {
			return err
		}
		cfg.Report = strings.TrimSpace(v)
	}
	if flags.Changed("workers") {
		v, err := flags.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Workers = v
	}
	if flags.Changed("dry-run") {
		v, err := flags.GetBool("dry-run")
		if err != nil {
			return err
		}
		cfg.DryRun = v
	}
	if flags.Changed("force") {
		v, err := flags.GetBool("force")
		if err != nil {
			return err
		}
		cfg.Force = v
	}
	return nil
}

func (c *GenerateConfig) validate() error {
	if c.Input == "" {
		return newUsageError("generate: --input is required (set via flag, config file, or TESTGEN_INPUT)")
	}
	if c.Out == "" {
		return newUsageError("generate: --out must not be empty")
	}
	if c.OptionalFraction < 0 || c.OptionalFraction > 1 {
		return newUsageError(fmt.Sprintf("generate: --optional-fraction %g out of range (0..1]", c.OptionalFraction))
	}
	if c.Workers < 0 {
		return newUsageError("generate: --workers must not be negative")
	}
	return nil
}

func runGenerate(ctx context.Context, cfg *GenerateConfig) error {
	log := newLogger(cfg.Verbose)

	rep, err := pipeline.Run(ctx, pipeline.Config{
		Input:            cfg.Input,
		OutDir:           cfg.Out,
		Seed:             cfg.Seed,
		ScenarioKinds:    cfg.Kinds,
		OptionalFraction: cfg.OptionalFraction,
		MaxDepth:         cfg.MaxDepth,
		CacheDir:         cfg.CacheDir,
		DryRun:           cfg.DryRun,
		Force:            cfg.Force,
		Workers:          cfg.Workers,
		ReportPath:       cfg.Report,
		Logger:           log,
	})
	if err != nil {
		var le *spec.LoadError
		if errors.As(err, &le) {
			msg := fmt.Sprintf("spec: %s", le.Message)
			if le.Location != "" {
				msg = fmt.Sprintf("%s\nLocation: %s", msg, le.Location)
			}
			if le.JSONPointer != "" {
				msg = fmt.Sprintf("%s\nPointer: %s", msg, le.JSONPointer)
			}
			return newUsageError(msg)
		}
		return err
	}

	if cfg.DryRun {
		fmt.Fprintf(os.Stdout, "Planned writes to %s (%d files, %d scenarios):\n", cfg.Out, len(rep.Files), rep.ScenarioTotal())
		for _, f := range rep.Files {
			fmt.Fprintf(os.Stdout, "- %s\n", f.Path)
		}
	}
	if failed := rep.Failed(); len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrFailedFiles, strings.Join(failed, ", "))
	}
	return nil
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
