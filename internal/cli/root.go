package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the openapi-testgen CLI and returns the process exit code:
// 0 on success, 1 for fatal errors, 2 when generated files failed compile
// validation.
func Execute() int {
	err := NewRootCmd().Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrFailedFiles):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
}

// NewRootCmd constructs the root command so tests can exercise the CLI easily.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "openapi-testgen",
		Short:         "Generate compilable HTTP test suites from OpenAPI/Swagger specs",
		Long:          "openapi-testgen reads an OpenAPI or Swagger document and emits deterministic, ready-to-run Go test files covering happy paths, validation failures, declared errors, boundary values, and auth handling.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	// Convert Cobra flag errors (like unknown flags) into friendly usage
	// errors that also show the command's help text.
	flagErr := func(c *cobra.Command, err error) error {
		return newUsageError(fmt.Sprintf("%v\n\n%s", err, c.UsageString()))
	}
	cmd.SetFlagErrorFunc(flagErr)

	cmd.PersistentFlags().StringP("config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging output")

	g := newGenerateCmd()
	g.SetFlagErrorFunc(flagErr)
	cmd.AddCommand(g)

	i := newInitCmd()
	i.SetFlagErrorFunc(flagErr)
	cmd.AddCommand(i)

	return cmd
}
