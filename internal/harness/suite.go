package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Golden comparison outcomes.
const (
	GoldenMatched  = "matched"
	GoldenMismatch = "mismatch"
	GoldenMissing  = "missing"
	GoldenUpdated  = "updated"
)

// SuiteOptions configures RunSuite.
type SuiteOptions struct {
	// Filter is a glob matched against scenario file names without extension.
	Filter string

	// GoldenDir holds {scenario name}.golden files. Default: <dir>/golden.
	GoldenDir string

	// Update rewrites golden files instead of comparing them.
	Update bool
}

// ScenarioOutcome is the result of one scenario file in a suite.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// SuiteResult summarizes a suite run.
type SuiteResult struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
}

// FindScenarios returns the YAML scenario files under dir whose base name
// (without extension) matches filter. An empty filter matches everything.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// RunSuite runs every scenario under dir and checks golden files when they
// exist. A scenario without a golden file is judged by its assertions alone.
func RunSuite(ctx context.Context, dir string, opts SuiteOptions) (*SuiteResult, error) {
	files, err := FindScenarios(dir, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find scenarios: %w", err)
	}

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(dir, "golden")
	}

	result := &SuiteResult{Scenarios: make([]ScenarioOutcome, 0, len(files))}
	for _, file := range files {
		outcome := runScenarioFile(ctx, file, goldenDir, opts.Update)
		result.Scenarios = append(result.Scenarios, outcome)
		result.Total++
		if outcome.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func runScenarioFile(ctx context.Context, file, goldenDir string, update bool) ScenarioOutcome {
	outcome := ScenarioOutcome{Name: filepath.Base(file), File: file}

	scenario, err := LoadScenario(file)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return outcome
	}
	outcome.Name = scenario.Name

	result, err := RunContext(ctx, scenario)
	if err != nil {
		outcome.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return outcome
	}
	outcome.Pass = result.Pass
	outcome.Errors = result.Errors

	data, err := Snapshot(scenario.Name, result)
	if err != nil {
		outcome.Pass = false
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("failed to build snapshot: %v", err))
		return outcome
	}

	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")
	if update {
		if err := writeGolden(goldenPath, data); err != nil {
			outcome.Pass = false
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return outcome
		}
		outcome.Golden = GoldenUpdated
		return outcome
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case os.IsNotExist(err):
		outcome.Golden = GoldenMissing
	case err != nil:
		outcome.Pass = false
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("failed to read golden file: %v", err))
	case bytes.Equal(want, data):
		outcome.Golden = GoldenMatched
	default:
		outcome.Golden = GoldenMismatch
		outcome.Pass = false
		outcome.Errors = append(outcome.Errors, "trace does not match golden file")
	}
	return outcome
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
