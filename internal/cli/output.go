package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Clean run, nothing wrong found
	ExitFailure      = 1 // The run worked and found problems (failed proofs, drift)
	ExitCommandError = 2 // The command itself broke (bad flags, database unreachable)
)

// ExitError carries a specific exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors without a code
// default to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes each command's output: human summary lines first,
// then one final machine-parseable JSON line.
type OutputFormatter struct {
	Writer    io.Writer
	ErrWriter io.Writer // verbose/diagnostic output, kept off stdout so the machine line stays parseable
	Verbose   bool
}

// Response is the machine-parseable envelope every command ends with.
type Response struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CmdError `json:"error,omitempty"`
}

// CmdError is the error payload inside a Response.
type CmdError struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success emits the final machine line: one compact JSON object carrying the
// command's summary, always the last thing on stdout.
func (f *OutputFormatter) Success(data any) error {
	return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
}

// Error prints one human line to ErrWriter and the error envelope as the
// final machine line.
func (f *OutputFormatter) Error(message string, details any) error {
	fmt.Fprintf(f.errWriter(), "error: %s\n", message)
	return json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: &CmdError{Message: message, Details: details}})
}

// VerboseLog writes a diagnostic line when --verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

// Textf writes one human summary line.
func (f *OutputFormatter) Textf(format string, args ...any) {
	fmt.Fprintf(f.Writer, format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
