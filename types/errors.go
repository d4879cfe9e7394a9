package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jnoliv/mkusb-part/constants"
)

// MalformedPlanError is a syntax-level defect in the partition plan text.
// It names the offending line and field so the plan can be fixed.
type MalformedPlanError struct {
	Line  int
	Field string
	Err   error
}

func (e *MalformedPlanError) Error() string {
	return fmt.Sprintf("malformed plan: line %d, field %q: %v", e.Line, e.Field, e.Err)
}

func (e *MalformedPlanError) Unwrap() error { return e.Err }

// UsageError is a malformed invocation: required inputs missing or
// mutually inconsistent. Reported before any work starts.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

// InvalidPlanError is a whole-plan semantic violation found during layout
// resolution, before any device mutation.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan: %s", e.Reason)
}

// DeviceStateError reports that the target device has mounted partitions
// and force-unmount was not requested. Recoverable via an explicit unmount.
type DeviceStateError struct {
	Device  string
	Mounted []string
}

func (e *DeviceStateError) Error() string {
	return fmt.Sprintf("device %s has mounted partitions: %s", e.Device, strings.Join(e.Mounted, ", "))
}

// UnsupportedFilesystemError aborts the run when a table entry requests a
// filesystem no formatter exists for.
type UnsupportedFilesystemError struct {
	Filesystem string
}

func (e *UnsupportedFilesystemError) Error() string {
	return fmt.Sprintf("unsupported filesystem %q", e.Filesystem)
}

// StagingError is a fatal mid-pipeline failure while mounting or copying
// OS content. No partial-copy recovery is attempted.
type StagingError struct {
	Step string
	Err  error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging failed at %s: %v", e.Step, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// BootloaderInstallError is a fatal failure while rewriting the bootloader
// configuration or installing the bootloader binary.
type BootloaderInstallError struct {
	Step string
	Err  error
}

func (e *BootloaderInstallError) Error() string {
	return fmt.Sprintf("bootloader install failed at %s: %v", e.Step, e.Err)
}

func (e *BootloaderInstallError) Unwrap() error { return e.Err }

// ExitCode maps the error taxonomy to the process exit codes surfaced to
// the caller.
func ExitCode(err error) int {
	if err == nil {
		return constants.ExitOK
	}

	var usage *UsageError
	var malformed *MalformedPlanError
	var invalid *InvalidPlanError
	var devState *DeviceStateError
	var unsupported *UnsupportedFilesystemError

	switch {
	case errors.As(err, &devState):
		return constants.ExitMounted
	case errors.As(err, &usage), errors.As(err, &malformed):
		return constants.ExitUsage
	case errors.As(err, &invalid), errors.As(err, &unsupported):
		return constants.ExitDataErr
	default:
		return constants.ExitFailure
	}
}
