package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/vrelay/internal/abi"
	"github.com/roach88/vrelay/internal/ir"
)

// ValidationError represents a manifest error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a BackendSpec against manifest rules.
// Returns all errors (not fail-fast) for better developer experience.
func Validate(spec ir.BackendSpec) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}

	if len(spec.Operations) == 0 {
		errs = append(errs, ValidationError{Field: "operations", Message: "at least one operation is required"})
	}

	seen := make(map[ir.Selector]string)
	for i, op := range spec.Operations {
		field := fmt.Sprintf("operations[%d]", i)

		parsed, err := abi.ParseSignature(op.Signature)
		if err != nil {
			errs = append(errs, ValidationError{Field: field + ".signature", Message: err.Error()})
			continue
		}
		if len(parsed.Args) > 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".signature",
				Message: fmt.Sprintf("%q takes arguments; fixed-result operations must not", op.Signature),
			})
		}

		sel := abi.SelectorOf(parsed)
		if prev, dup := seen[sel]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".signature",
				Message: fmt.Sprintf("selector %s of %q collides with %q", sel, op.Signature, prev),
			})
		}
		seen[sel] = op.Signature

		if _, err := abi.EncodeValue(op.Returns, op.Value); err != nil {
			errs = append(errs, ValidationError{Field: field + ".value", Message: err.Error()})
		}
	}

	return errs
}

func joinValidation(errs []ValidationError) error {
	all := make([]error, len(errs))
	for i, e := range errs {
		all[i] = e
	}
	return errors.Join(all...)
}
