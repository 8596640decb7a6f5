// Package hostctl runs privileged host commands. The agent never restarts
// or reconfigures the host itself, it asks the OS through these commands.
package hostctl

import (
	"context"
	"os/exec"
	"strings"

	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return out, errors.Annotatef(err, "run %s %s", name, strings.Join(args, " "))
}

var DefaultRebootCommand = []string{"sudo", "systemctl", "reboot"}

// SyncClock enables NTP so reading timestamps and logger clock skew checks
// are based on network time. Status output goes to debug log.
func SyncClock(ctx context.Context, r Runner, log *log2.Log) error {
	if _, err := r.Run(ctx, "sudo", "timedatectl", "set-ntp", "true"); err != nil {
		return errors.Annotate(err, "sync clock")
	}
	out, err := r.Run(ctx, "timedatectl")
	if err != nil {
		log.Errorf("timedatectl status err=%v", err)
		return nil
	}
	log.Debugf("timedatectl:\n%s", strings.TrimSpace(string(out)))
	log.Infof("system clock ntp sync enabled")
	return nil
}

// MockRunner records commands, Errs are consumed one per call.
type MockRunner struct {
	Calls  [][]string
	Errs   []error
	Output string
}

func (self *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	self.Calls = append(self.Calls, append([]string{name}, args...))
	if len(self.Errs) != 0 {
		err := self.Errs[0]
		self.Errs = self.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []byte(self.Output), nil
}
