package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stablecall/internal/module"
	"github.com/roach88/stablecall/internal/proxy"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected call, failed scenario, incompatible layout
	ExitCommandError = 2 // Command error (bad arguments, database errors, etc.)
)

// CLI error codes for failures that are not proxy errors. Proxy errors
// keep their own codes (UNAUTHORIZED, ...).
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeBadArgs      = "E002" // Malformed --args JSON or flags
	ErrCodeNotFound     = "E005" // Path, proxy or module not found
	ErrCodeManifest     = "E101" // Manifest failed to compile
	ErrCodeInvalidSpec  = "E102" // Module spec rejected by the registry
	ErrCodeIncompatible = "E201" // Layouts are not append-only compatible
	ErrCodeTestFailed   = "E_TEST_FAILED"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
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

// CLIResponse is the JSON envelope of every command's output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Output writes command results as text or as a JSON envelope.
type Output struct {
	Format string
	Writer io.Writer
}

func newOutput(opts *RootOptions, cmd *cobra.Command) *Output {
	return &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// Success writes data. In text mode text renders it; a nil text prints
// data with fmt.
func (o *Output) Success(data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(o.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == nil {
		fmt.Fprintln(o.Writer, data)
		return nil
	}
	text(o.Writer)
	return nil
}

// Fail reports err and returns it as an ExitError. Text output is left to
// the caller of Execute, which prints the returned error.
func (o *Output) Fail(message string, err error) error {
	code, exit := classify(err)
	if o.Format == "json" {
		enc := json.NewEncoder(o.Writer)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: err.Error()},
		}); encErr != nil {
			return encErr
		}
	}
	return WrapExitError(exit, message, err)
}

// classify picks the error code and exit code of err.
func classify(err error) (string, int) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return ErrCodeGeneric, exitErr.Code
	}
	if code := proxy.CodeOf(err); code != "" {
		if code == proxy.ErrCodeProxyNotFound {
			return string(code), ExitCommandError
		}
		return string(code), ExitFailure
	}
	switch {
	case errors.Is(err, proxy.ErrProxyNotFound):
		return string(proxy.ErrCodeProxyNotFound), ExitCommandError
	case errors.Is(err, module.ErrIncompatibleLayout):
		return ErrCodeIncompatible, ExitFailure
	case errors.Is(err, module.ErrInvalidSpec):
		return ErrCodeInvalidSpec, ExitCommandError
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}
