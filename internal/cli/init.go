package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// InitConfig captures the options for the init command.
type InitConfig struct {
	OutputPath string
	Force      bool
}

var initRunner = runInit

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a sample openapi-testgen configuration file",
		Long:  "Scaffold a commented openapi-testgen configuration file that documents available options.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			return initRunner(cmd.Context(), &InitConfig{OutputPath: out, Force: force})
		},
	}

	cmd.Flags().String("out", "testgen.yaml", "Where to write the sample config file")
	cmd.Flags().Bool("force", false, "Overwrite the target file if it already exists")

	return cmd
}

func runInit(ctx context.Context, cfg *InitConfig) error {
	_ = ctx

	out := strings.TrimSpace(cfg.OutputPath)
	if out == "" {
		out = "testgen.yaml"
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return fmt.Errorf("init: resolve output path: %w", err)
	}

	if st, err := os.Stat(absPath); err == nil && !cfg.Force {
		if st.Mode().IsRegular() {
			return newUsageError(fmt.Sprintf("init: %q already exists (use --force to overwrite)", absPath))
		}
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot create parent directory: %v", err))
	}

	content := strings.TrimSpace(sampleConfigYAML) + "\n"

	// Atomic write via temp + rename
	tmp := absPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return newUsageError(fmt.Sprintf("init: cannot write temp file: %v\nHint: choose a different --out or check directory permissions.", err))
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return newUsageError(fmt.Sprintf("init: cannot place file at %s: %v", absPath, err))
	}
	fmt.Fprintf(os.Stdout, "Wrote sample config to %s\n", absPath)
	return nil
}

// sampleConfigYAML is a commented example config documenting available options.
const sampleConfigYAML = `# openapi-testgen configuration (YAML)
# All fields are optional. Environment variables (TESTGEN_*) override file
# values; command-line flags override both.

# Path or URL to the OpenAPI/Swagger document (http/https or local file).
# input: ./openapi.yaml

# Output directory for the generated test packages.
# out: ./generated-tests

# Seed for deterministic value synthesis. Same spec + seed = same output.
# seed: 1

# Scenario kinds to generate. All kinds when omitted.
# kinds: [happy, validation, error, boundary, auth]

# Probability an optional object property is included in synthesized bodies.
# optional_fraction: 0.5

# Maximum schema recursion depth during synthesis.
# max_depth: 8

# Directory for the generation cache. Empty disables caching.
# cache_dir: ""

# Report path. "-" suppresses the report; defaults to <out>/report.json.
# report: ""

# Concurrent generation workers.
# workers: 4

# Validate and plan without writing files.
# dry_run: false

# Overwrite a non-empty output directory.
# force: false
`
