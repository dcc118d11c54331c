package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeModels writes a single-file manifest directory.
func writeModels(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models.cue"), []byte(content), 0644))
	return dir
}

func TestValidateValidModels(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{modelsDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "OK: 3 model(s) valid")
}

func TestValidateValidModelsJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{modelsDir})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"app/lists", "app/todos", "counter"}, resp.Data.Namespaces)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/directory/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, buf.String(), "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E003")
}

func TestValidateInvalidModel(t *testing.T) {
	dir := writeModels(t, `package models

models: broken: {
	state: {n: 0}
	reducers: bump: {op: "explode", path: "n"}
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "FAIL: validation failed")
	assert.Contains(t, buf.String(), "E102")
}

func TestValidateMultipleErrorsJSON(t *testing.T) {
	dir := writeModels(t, `package models

models: {
	one: {
		state: {n: 0}
		reducers: bump: {op: "explode", path: "n"}
	}
	two: {
		state: {ratio: 1.5}
	}
	three: {
		state: {}
		effects: go: dispatch: [{action: "nowhere"}]
	}
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)

	var codes []string
	for _, e := range resp.Data.Errors {
		codes = append(codes, e.Code)
	}
	assert.Contains(t, codes, "E102")
	assert.Contains(t, codes, "E106")
	assert.Contains(t, codes, "E109")
}

func TestValidateVerboseOutput(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(out)
	cmd.SetErr(diag)
	cmd.SetArgs([]string{modelsDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, diag.String(), "Validated model: app/todos")
	assert.NotContains(t, out.String(), "Validated model")
}
