package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vrelay/internal/manifest"
)

// ValidationIssue is one problem found in a manifest directory.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Backends []BackendSummary  `json:"backends,omitempty"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// BackendSummary describes one compiled backend.
type BackendSummary struct {
	Name       string   `json:"name"`
	Version    int64    `json:"version"`
	Operations []string `json:"operations"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [specs-dir]",
		Short: "Validate backend manifests",
		Long: `Compile and check every CUE backend manifest in a directory.

Reports every problem rather than stopping at the first one. Without an
argument the configured specs directory is validated.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			dir := rootOpts.Specs
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				cfg, err := rootOpts.Settings()
				if err != nil {
					return formatter.Fail("invalid configuration", err)
				}
				dir = cfg.Specs
			}
			return runValidate(formatter, dir)
		},
	}

	return cmd
}

func runValidate(formatter *OutputFormatter, specsDir string) error {
	loaded, loadErrors := manifest.LoadDir(specsDir, manifest.LoadModeCollectAll)

	// Directory-level failures (not found, no files, CUE build errors)
	if loaded == nil && len(loadErrors) > 0 {
		issue := toIssue(loadErrors[0])
		_ = formatter.Error(issue.Code, issue.Message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", issue.Code, issue.Message))
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, specsDir)

	if len(loadErrors) > 0 {
		issues := make([]ValidationIssue, 0, len(loadErrors))
		for _, err := range loadErrors {
			issues = append(issues, toIssue(err))
		}
		return outputValidationErrors(formatter, issues)
	}

	result := ValidationResult{Valid: true}
	for _, spec := range loaded.Backends {
		ops := make([]string, 0, len(spec.Operations))
		for _, op := range spec.Operations {
			ops = append(ops, op.Signature)
		}
		formatter.VerboseLog("Validated backend %s v%d (%s)", spec.Name, spec.Version, strings.Join(ops, ", "))
		result.Backends = append(result.Backends, BackendSummary{
			Name:       spec.Name,
			Version:    spec.Version,
			Operations: ops,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ All manifests valid (%d backends)\n", len(result.Backends))
	return nil
}

func toIssue(err error) ValidationIssue {
	var le *manifest.LoadError
	if errors.As(err, &le) {
		issue := ValidationIssue{Code: le.Code, Message: le.Message}
		if le.Pos.IsValid() {
			issue.Line = le.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Code: manifest.ErrCodeGeneric, Message: err.Error()}
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	return failure
}
