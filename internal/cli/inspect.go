package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/modux/internal/compiler"
	"github.com/roach88/modux/internal/engine"
)

// ModelSummary describes one registered base namespace.
type ModelSummary struct {
	Namespace    string           `json:"namespace"`
	Path         string           `json:"path"`
	Dynamic      bool             `json:"dynamic"`
	AutoRegister bool             `json:"auto_register"`
	Variants     []VariantSummary `json:"variants"`
}

// VariantSummary describes one model of a base registration.
type VariantSummary struct {
	Index        int      `json:"index"`
	Actions      []string `json:"actions"`
	Getters      []string `json:"getters"`
	ArgsRequired []string `json:"args_required,omitempty"`
}

// InspectResult is the output of the inspect command.
type InspectResult struct {
	Models []ModelSummary `json:"models"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [models-dir]",
		Short: "List namespaces, action names and getters",
		Long: `Register the model manifests of a directory on a scratch engine and list
what the registry resolved: every base namespace with its storage path,
whether it is dynamic or auto-registered, and per model variant the action
names it handles and the getters it exposes.

Examples:
  modux inspect ./models
  modux inspect ./models --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := pathArg(args, rootOpts.config().Models.Dir, "models directory")
			if err != nil {
				return err
			}
			return runInspect(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, modelsDir string, cmd *cobra.Command) error {
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

	result, err := inspectBundle(opts, bundle)
	if err != nil {
		return outputValidateError(formatter, compiler.ErrCompile, err.Error(), nil)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeInspectText(formatter, result)
	return nil
}

// inspectBundle registers bundle on a scratch engine and summarizes the
// registry.
func inspectBundle(opts *RootOptions, bundle *compiler.Bundle) (*InspectResult, error) {
	eng, err := engine.New(engine.WithLogger(opts.logger()))
	if err != nil {
		return nil, err
	}
	defer closeEngine(eng)

	if err := eng.RegisterModels(bundle.Tree); err != nil {
		return nil, err
	}

	reg := eng.Registry()
	result := &InspectResult{Models: []ModelSummary{}}
	for _, base := range reg.Bases() {
		summary := ModelSummary{
			Namespace: base.Namespace,
			Path:      base.Path,
			Dynamic:   base.Dynamic,
		}
		for i, m := range base.Models {
			if i == 0 {
				summary.AutoRegister = m.Options().AutoRegister
			}
			mc, ok := reg.ModelContext(m)
			if !ok {
				return nil, fmt.Errorf("model %d of %s is not registered", i, base.Namespace)
			}
			variant := VariantSummary{
				Index:   i,
				Actions: nonNil(mc.ActionNames()),
				Getters: nonNil(mc.SelectorPaths()),
			}
			if spec, ok := bundle.Specs[base.Namespace]; ok {
				variant.ArgsRequired = spec.ArgsRequired
			}
			summary.Variants = append(summary.Variants, variant)
		}
		result.Models = append(result.Models, summary)
	}
	return result, nil
}

func writeInspectText(formatter *OutputFormatter, result *InspectResult) {
	w := formatter.Writer
	for _, m := range result.Models {
		var flags []string
		if m.Dynamic {
			flags = append(flags, "dynamic")
		} else {
			flags = append(flags, "static")
		}
		if m.AutoRegister {
			flags = append(flags, "auto-register")
		}
		fmt.Fprintf(w, "%s (%s)\n", m.Namespace, strings.Join(flags, ", "))
		if formatter.Verbose {
			fmt.Fprintf(w, "  path:    %s\n", m.Path)
		}
		for _, v := range m.Variants {
			prefix := "  "
			if len(m.Variants) > 1 {
				fmt.Fprintf(w, "  [%d]\n", v.Index)
				prefix = "    "
			}
			fmt.Fprintf(w, "%sactions: %s\n", prefix, listOrNone(v.Actions))
			fmt.Fprintf(w, "%sgetters: %s\n", prefix, listOrNone(v.Getters))
			if len(v.ArgsRequired) > 0 {
				fmt.Fprintf(w, "%srequired args: %s\n", prefix, strings.Join(v.ArgsRequired, ", "))
			}
		}
	}
	fmt.Fprintf(w, "\n%d namespace(s)\n", len(result.Models))
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

// closeEngine shuts down a scratch engine, bounded by a short timeout.
func closeEngine(eng *engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = eng.Close(ctx)
}
