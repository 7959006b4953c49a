package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/psbthsm/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A request was refused or failed (denied, pre-flight error, invalid policy)
	ExitCommandError = 2 // Command error (bad flags, unreadable files, catalog unavailable)
)

// ExitError carries the exit code for a failed command.
type ExitError struct {
	Code     int    // ExitFailure or ExitCommandError
	Message  string
	Err      error // optional
	Reported bool  // already written by an OutputFormatter
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

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err.
// Returns ExitSuccess for nil and ExitFailure for errors without a code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope for command output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"` // model.Code, e.g. "AUTHORIZATION_DENIED"
	Message string `json:"message"`
	Input   *int   `json:"input,omitempty"`
}

// NewCLIError describes err for output. Pre-flight errors keep their
// input index.
func NewCLIError(err error) *CLIError {
	ce := &CLIError{Code: string(model.CodeOf(err)), Message: err.Error()}

	var me *model.Error
	if errors.As(err, &me) && me.Input >= 0 {
		input := me.Input
		ce.Input = &input
	}
	return ce
}

// Success writes data. Text output uses data's String method when present.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == OutputJSON {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a failure.
func (f *OutputFormatter) Error(err error) error {
	ce := NewCLIError(err)

	if f.Format == OutputJSON {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  ce,
		})
	}

	_, werr := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", ce.Code, ce.Message)
	return werr
}

// Fail writes err and returns the ExitError for it. Execute does not print
// a reported error again.
func (f *OutputFormatter) Fail(code int, message string, err error) *ExitError {
	_ = f.Error(err)
	return &ExitError{Code: code, Message: message, Err: err, Reported: true}
}

// VerboseLog writes a diagnostic line when verbose output is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
