// pkg/fwerr/errors.go

package fwerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrInvalidInput is matched by every caller-mistake error (bad IP, unknown operation).
// Errors matching it are never retried.
var ErrInvalidInput = errors.New("invalid input")

// InvalidIPError reports an address that is not a valid IPv4/IPv6 literal
type InvalidIPError struct {
	IP string
}

func (e *InvalidIPError) Error() string {
	return fmt.Sprintf("invalid IP address %q", e.IP)
}

// Is lets errors.Is(err, ErrInvalidInput) match
func (e *InvalidIPError) Is(target error) bool {
	return target == ErrInvalidInput
}

// UnknownOperationError is returned when the command catalog has no entry for an operation name.
// It is a configuration error, never a no-op.
type UnknownOperationError struct {
	Operation string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown command catalog operation %q", e.Operation)
}

// Is lets errors.Is(err, ErrInvalidInput) match
func (e *UnknownOperationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ConnectionSetupError means the session could not be prepared locally, i.e. the
// private key could not be written to disk.
type ConnectionSetupError struct {
	Path  string
	Cause error
}

func (e *ConnectionSetupError) Error() string {
	return fmt.Sprintf("failed to prepare SSH key file %s: %v", e.Path, e.Cause)
}

func (e *ConnectionSetupError) Unwrap() error { return e.Cause }

// ConnectionFailedError is a transport failure: dial, authentication or command timeout.
type ConnectionFailedError struct {
	Host  string
	Port  int
	Cause error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("SSH connection to %s:%d failed: %v", e.Host, e.Port, e.Cause)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Cause }

// CsfRemediationError wraps a failure of `csf -dr` or `csf -ta`
type CsfRemediationError struct {
	Command string
	Output  string
	Cause   error
}

func (e *CsfRemediationError) Error() string {
	return fmt.Sprintf("CSF remediation command %q failed: %v", e.Command, e.Cause)
}

func (e *CsfRemediationError) Unwrap() error { return e.Cause }

// BFM removal sub-steps, reported by CommandExecutionError.Step
const (
	StepFetch   = "fetch"
	StepFilter  = "filter"
	StepRewrite = "rewrite"
	StepVerify  = "verify"
)

// CommandExecutionError reports which remediation sub-step failed and what it had captured so far
type CommandExecutionError struct {
	Step    string
	Command string
	Output  string
	Cause   error
}

func (e *CommandExecutionError) Error() string {
	return fmt.Sprintf("BFM removal failed at %s step (%q): %v", e.Step, e.Command, e.Cause)
}

func (e *CommandExecutionError) Unwrap() error { return e.Cause }

// UnsupportedPanelError describes a host whose panel has no dedicated analyzer.
// It is informational: analysis still runs the CSF-only battery.
type UnsupportedPanelError struct {
	Panel string
}

func (e *UnsupportedPanelError) Error() string {
	return fmt.Sprintf("unsupported panel type %q, running CSF-only checks", e.Panel)
}

// Class returns a short, stable name for the error kind, used in reports and audit rows
func Class(err error) string {
	if err == nil {
		return ""
	}

	var (
		invalidIP   *InvalidIPError
		unknownOp   *UnknownOperationError
		setupErr    *ConnectionSetupError
		connErr     *ConnectionFailedError
		csfErr      *CsfRemediationError
		execErr     *CommandExecutionError
		unsupported *UnsupportedPanelError
	)

	switch {
	case errors.As(err, &invalidIP):
		return "InvalidIpError"
	case errors.As(err, &unknownOp):
		return "UnknownOperationError"
	case errors.As(err, &setupErr):
		return "ConnectionSetupError"
	case errors.As(err, &connErr):
		return "ConnectionFailedError"
	case errors.As(err, &csfErr):
		return "CsfRemediationError"
	case errors.As(err, &execErr):
		return "CommandExecutionError"
	case errors.As(err, &unsupported):
		return "UnsupportedPanelError"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInputError"
	}
	return "Error"
}
