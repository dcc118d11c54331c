package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/modux/internal/compiler"
	"github.com/roach88/modux/internal/engine"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Namespaces []string                   `json:"namespaces,omitempty"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [models-dir]",
		Short: "Validate model manifests",
		Long: `Validate the CUE model manifests of a directory.

Every model is compiled and checked (reducer ops, paths, effect dispatch
targets, selector ops, declared args). The resulting tree is then registered
on a scratch engine so namespace and action name clashes are reported too.
All problems are listed, not just the first.

The directory defaults to [models] dir of modux.toml.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := pathArg(args, rootOpts.config().Models.Dir, "models directory")
			if err != nil {
				return err
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, modelsDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	bundle, problems, err := compiler.LoadBundle(modelsDir)
	if err != nil {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, compiler.ErrCodeGeneric, err.Error(), nil)
	}
	if len(problems) > 0 {
		return outputValidationErrors(formatter, problems)
	}

	if err := checkRegistration(opts, bundle); err != nil {
		return outputValidationErrors(formatter, []compiler.ValidationError{{
			Field:   "models",
			Message: err.Error(),
			Code:    compiler.ErrCompile,
		}})
	}

	namespaces := bundle.Namespaces()
	for _, ns := range namespaces {
		formatter.VerboseLog("Validated model: %s", ns)
	}
	return outputValidateSuccess(formatter, namespaces)
}

// checkRegistration registers the bundle on a scratch engine.
func checkRegistration(opts *RootOptions, bundle *compiler.Bundle) error {
	eng, err := engine.New(engine.WithLogger(opts.logger()))
	if err != nil {
		return err
	}
	defer closeEngine(eng)
	return eng.RegisterModels(bundle.Tree)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, namespaces []string) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Namespaces: namespaces})
	}

	fmt.Fprintf(formatter.Writer, "OK: %d model(s) valid\n", len(namespaces))
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		result := ValidationResult{Valid: false, Errors: errs}
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "FAIL: validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		if err.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
		}
	}

	return failed
}
