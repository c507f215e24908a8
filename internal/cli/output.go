package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Relay error, failed scenario or invalid manifest
	ExitCommandError = 2 // Command error (bad arguments, unknown relay, unreadable database)
)

// Error codes for failures that are not RelayErrors.
const (
	ErrCodeCommand       = "E_COMMAND"
	ErrCodeRelayNotFound = "E_RELAY_NOT_FOUND"
	ErrCodeRelayExists   = "E_RELAY_EXISTS"
	ErrCodeTestFailed    = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // RelayError code or E_* code
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// Text output uses the value's String method when it has one.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.emit(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format. Text output shows
// details only in verbose mode.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.emit(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// emit writes one JSON document per line.
func (f *OutputFormatter) emit(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Fail reports err and returns the ExitError the command should return.
//
// RelayErrors are reported under their own code and exit with ExitFailure;
// they are the relay refusing a request, not the command misbehaving.
// Everything else exits with ExitCommandError.
func (f *OutputFormatter) Fail(message string, err error) error {
	var re *ir.RelayError
	switch {
	case errors.As(err, &re):
		var details any
		if len(re.Details) > 0 {
			details = re.Details
		}
		_ = f.Error(string(re.Code), re.Error(), details)
		return WrapExitError(ExitFailure, message, err)
	case errors.Is(err, store.ErrRelayNotFound):
		_ = f.Error(ErrCodeRelayNotFound, err.Error(), nil)
	case errors.Is(err, store.ErrRelayExists):
		_ = f.Error(ErrCodeRelayExists, err.Error(), nil)
	default:
		_ = f.Error(ErrCodeCommand, err.Error(), nil)
	}
	return WrapExitError(ExitCommandError, message, err)
}

// VerboseLog writes a diagnostic line to the error writer in verbose mode.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, falling back to Writer. Diagnostics and
// slog output go here so JSON on Writer stays parseable.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
