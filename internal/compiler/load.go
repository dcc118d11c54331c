package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled while loading a manifest dir.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes, shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
)

// LoadResult contains the results of loading a manifest directory.
type LoadResult struct {
	Specs     []*ModelSpec
	CUEValue  cue.Value
	FileCount int
}

// LoadError is an error that occurred while loading a manifest directory.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadDir loads every .cue file of dir as one instance and compiles its
// models: tree. A nil result means the directory could not be loaded at all.
// In collect-all mode each failing model is reported and the rest are kept.
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("models directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing models directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{CUEValue: value, FileCount: len(cueFiles)}

	models := value.LookupPath(cue.ParsePath("models"))
	if !models.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no models found in manifests"}}
	}

	if mode == LoadModeFailFast {
		specs, err := CompileModels(models)
		if err != nil {
			return result, []error{err}
		}
		result.Specs = specs
		return result, nil
	}

	// Compile one top-level entry at a time so a broken model does not hide
	// the others.
	var errs []error
	iter, err := models.Fields()
	if err != nil {
		return result, []error{cueError(err, "models")}
	}
	for iter.Next() {
		if err := compileEntry(iter.Label(), iter.Value(), "", "models", &result.Specs); err != nil {
			errs = append(errs, err)
		}
	}
	sortSpecs(result.Specs)
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// LoadBundle loads dir, validates every model, and builds the bundle. All
// compile and validation problems are returned together.
func LoadBundle(dir string) (*Bundle, []ValidationError, error) {
	res, errs := LoadDir(dir, LoadModeCollectAll)
	if res == nil {
		return nil, nil, errs[0]
	}

	var problems []ValidationError
	for _, err := range errs {
		if le, ok := err.(*LoadError); ok {
			problems = append(problems, ValidationError{Field: "models", Message: le.Message, Code: le.Code, Line: lineOf(le.Pos)})
			continue
		}
		problems = append(problems, FromCompileError(err))
	}
	for _, spec := range res.Specs {
		problems = append(problems, Validate(spec)...)
	}
	if len(problems) > 0 {
		return nil, problems, nil
	}

	b, err := Build(res.Specs)
	if err != nil {
		return nil, []ValidationError{FromCompileError(err)}, nil
	}
	return b, nil, nil
}
