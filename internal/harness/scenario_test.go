package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a scenario file next to an empty models directory.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0755))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
models:
  - models
tokens: [a, b]
steps:
  - register: {namespace: lists/l1, model_index: 1, args: {title: x}}
  - dispatch:
      action: lists/l1/rename
      payload: y
      expect: {result: ok}
  - unregister: {namespace: lists/l1}
  - reload:
      patch:
        - {namespace: counter, path: count, value: 3}
assertions:
  - type: trace_contains
    action: lists/l1/rename
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, []string{"a", "b"}, scenario.Tokens)
	require.Len(t, scenario.Models, 1)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "models"), scenario.Models[0])

	require.Len(t, scenario.Steps, 4)
	assert.Equal(t, "register", scenario.Steps[0].Kind())
	assert.Equal(t, 1, scenario.Steps[0].Register.ModelIndex)
	assert.Equal(t, "x", scenario.Steps[0].Register.Args["title"])
	assert.Equal(t, "dispatch", scenario.Steps[1].Kind())
	assert.Equal(t, "ok", scenario.Steps[1].Dispatch.Expect.Result)
	assert.Equal(t, "unregister", scenario.Steps[2].Kind())
	assert.Equal(t, "reload", scenario.Steps[3].Kind())
	assert.Equal(t, "count", scenario.Steps[3].Reload.Patch[0].Path)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Invalid(t *testing.T) {
	const base = `
name: n
description: d
models: [models]
`
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nmodels: [models]\nsteps: [{dispatch: {action: a/b}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nmodels: [models]\nsteps: [{dispatch: {action: a/b}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing models",
			content: "name: n\ndescription: d\nsteps: [{dispatch: {action: a/b}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "models list is required",
		},
		{
			name:    "missing steps",
			content: base + "assertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "missing assertions",
			content: base + "steps: [{dispatch: {action: a/b}}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "models directory not found",
			content: "name: n\ndescription: d\nmodels: [elsewhere]\nsteps: [{dispatch: {action: a/b}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "models directory not found",
		},
		{
			name:    "two kinds in one step",
			content: base + "steps: [{dispatch: {action: a/b}, unregister: {namespace: a}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "exactly one of register",
		},
		{
			name:    "empty step",
			content: base + "steps: [{}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "got 0",
		},
		{
			name:    "dispatch without action",
			content: base + "steps: [{dispatch: {payload: 1}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "action is required",
		},
		{
			name:    "register without namespace",
			content: base + "steps: [{register: {args: {a: 1}}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "namespace is required",
		},
		{
			name:    "expect result and error",
			content: base + "steps: [{dispatch: {action: a/b, expect: {result: 1, error: x}}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "mutually exclusive",
		},
		{
			name:    "reload snapshot and patch",
			content: base + "steps: [{reload: {snapshot: {a: 1}, patch: [{path: a, value: 2}]}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "snapshot and patch are mutually exclusive",
		},
		{
			name:    "patch without path",
			content: base + "steps: [{reload: {patch: [{value: 2}]}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "path is required",
		},
		{
			name:    "unknown field",
			content: base + "flow: []\nsteps: [{dispatch: {action: a/b}}]\nassertions: [{type: trace_count, action: a/b}]\n",
			wantErr: "field flow not found",
		},
		{
			name:    "assertion without type",
			content: base + "steps: [{dispatch: {action: a/b}}]\nassertions: [{action: a/b}]\n",
			wantErr: "type is required",
		},
		{
			name:    "state assertion without expectation",
			content: base + "steps: [{dispatch: {action: a/b}}]\nassertions: [{type: state, namespace: a}]\n",
			wantErr: "equals or exists is required",
		},
		{
			name:    "getter assertion without getter",
			content: base + "steps: [{dispatch: {action: a/b}}]\nassertions: [{type: getter, namespace: a}]\n",
			wantErr: "namespace and getter are required",
		},
		{
			name:    "trace_order without actions",
			content: base + "steps: [{dispatch: {action: a/b}}]\nassertions: [{type: trace_order}]\n",
			wantErr: "actions list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := FindScenarios(scenariosDir, "")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			_, err := LoadScenario(f)
			require.NoError(t, err)
		})
	}
}
