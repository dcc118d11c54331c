package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0644))
}

func TestLoadDirTestdata(t *testing.T) {
	dir := filepath.Join("..", "..", "testdata", "models")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("testdata/models directory not found")
	}

	res, errs := LoadDir(dir, LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.FileCount)

	var namespaces []string
	for _, spec := range res.Specs {
		namespaces = append(namespaces, spec.Namespace)
		assert.Empty(t, Validate(spec), spec.Namespace)
	}
	assert.Equal(t, []string{"app/lists", "app/todos", "counter"}, namespaces)
}

func TestLoadDirNotFound(t *testing.T) {
	res, errs := LoadDir("/nonexistent/models", LoadModeFailFast)
	assert.Nil(t, res)
	require.Len(t, errs, 1)

	var le *LoadError
	require.True(t, errors.As(errs[0], &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoadDirNoFiles(t *testing.T) {
	res, errs := LoadDir(t.TempDir(), LoadModeFailFast)
	assert.Nil(t, res)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeNoFiles)
}

func TestLoadDirNoModels(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "x.cue", "package x\n\nother: 1\n")

	res, errs := LoadDir(dir, LoadModeFailFast)
	require.NotNil(t, res)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no models found")
}

func TestLoadDirCollectAll(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "m.cue", `package x

models: {
	good: state: {n: 0}
	bad: state: {ratio: 1.5}
	worse: {state: {}, dynamic: "yes"}
}
`)

	res, errs := LoadDir(dir, LoadModeCollectAll)
	require.NotNil(t, res)
	assert.Len(t, errs, 2)
	require.Len(t, res.Specs, 1)
	assert.Equal(t, "good", res.Specs[0].Namespace)

	_, errs = LoadDir(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadBundle(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "m.cue", `package x

models: counter: {
	state: {n: 0}
	reducers: inc: {op: "add", path: "n", by: 1}
}
`)

	b, problems, err := LoadBundle(dir)
	require.NoError(t, err)
	require.Empty(t, problems)
	assert.Equal(t, []string{"counter"}, b.Namespaces())
	assert.Contains(t, b.Tree, "counter")
}

func TestLoadBundleReportsProblems(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "m.cue", `package x

models: {
	a: {state: {}, reducers: r: {op: "nope"}}
	b: state: {x: 0.5}
}
`)

	b, problems, err := LoadBundle(dir)
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.ElementsMatch(t, []string{ErrFloatForbidden, ErrUnknownReducerOp}, codes(problems))
}

func TestLoadBundleMissingDir(t *testing.T) {
	_, _, err := LoadBundle("/nonexistent/models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}
