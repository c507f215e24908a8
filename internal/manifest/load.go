package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/vrelay/internal/backend"
	"github.com/roach88/vrelay/internal/ir"
)

// LoadMode controls how errors are handled during manifest loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the backends compiled from a directory.
type LoadResult struct {
	Backends  []ir.BackendSpec
	FileCount int // Number of CUE files found
}

// Backend returns the compiled backend with the given name.
func (r *LoadResult) Backend(name string) (ir.BackendSpec, bool) {
	for _, b := range r.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return ir.BackendSpec{}, false
}

// LoadError represents an error that occurred during manifest loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants, shared by every CLI command that loads manifests.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Backend manifest errors
	ErrCodeBackendVersion    = "E101" // Missing or non-integer version
	ErrCodeBackendOperations = "E102" // No operations defined
	ErrCodeOperationReturns  = "E103" // Missing or invalid return type
	ErrCodeInvalidValue      = "E104" // Value missing, float, or not of the return type
	ErrCodeInvalidSignature  = "E105" // Malformed or colliding signature
)

// MapFieldToErrorCode maps a compile or validation field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "version":
		return ErrCodeBackendVersion
	case field == "operation" || field == "operations":
		return ErrCodeBackendOperations
	case strings.HasSuffix(field, ".returns"):
		return ErrCodeOperationReturns
	case field == "value" || strings.HasSuffix(field, ".value"):
		return ErrCodeInvalidValue
	case strings.HasSuffix(field, ".signature"):
		return ErrCodeInvalidSignature
	default:
		return ErrCodeGeneric
	}
}

// LoadDir loads, compiles and validates the backend manifests in dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
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

	result := &LoadResult{FileCount: len(cueFiles)}

	backendsVal := value.LookupPath(cue.ParsePath("backend"))
	if !backendsVal.Exists() {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: "no backends found in specs"}}
	}

	iter, err := backendsVal.Fields()
	if err != nil {
		return result, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating backends: %v", err)}}
	}

	for iter.Next() {
		label := labelString(iter.Selector())
		spec, compileErr := CompileBackend(iter.Value())
		if compileErr != nil {
			errs = append(errs, convertCompileError(compileErr, "backend."+label))
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}

		if verrs := backend.Validate(*spec); len(verrs) > 0 {
			for _, v := range verrs {
				errs = append(errs, &LoadError{
					Code:    MapFieldToErrorCode(v.Field),
					Message: fmt.Sprintf("backend.%s.%s: %s", label, v.Field, v.Message),
					Pos:     iter.Value().Pos(),
				})
				if mode == LoadModeFailFast {
					return result, errs
				}
			}
			continue
		}

		result.Backends = append(result.Backends, *spec)
	}

	if len(result.Backends) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no backends found in specs"})
	}

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

// convertCompileError converts a compile error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", context, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
