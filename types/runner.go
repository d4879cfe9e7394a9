package types

import (
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts the invocation of the external disk utilities (sgdisk,
// the mkfs family, grub-install, cp, sync) so the pipeline can be exercised
// without a real device.
type Runner interface {
	Run(command string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host, waiting synchronously for each.
type ExecRunner struct {
	Logger *MkusbLogger
}

func NewExecRunner(logger *MkusbLogger) ExecRunner {
	if logger == nil {
		l := NewNullLogger()
		logger = &l
	}
	return ExecRunner{Logger: logger}
}

func (r ExecRunner) Run(command string, args ...string) ([]byte, error) {
	r.Logger.Logger.Debug().Str("command", command).Strs("args", args).Msg("Running command")
	out, err := exec.Command(command, args...).CombinedOutput()
	if err != nil {
		r.Logger.Logger.Error().Err(err).Str("command", command).Str("output", string(out)).Msg("Command failed")
		return out, fmt.Errorf("%s %s: %w (output: %s)", command, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	r.Logger.Logger.Trace().Str("command", command).Str("output", string(out)).Msg("Command finished")
	return out, nil
}
