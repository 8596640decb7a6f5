package escalation

import (
	"context"
	"fmt"
	"os"
	"time"

	escalation_config "github.com/crop2cloud/logger-lora/internal/escalation/config"
	"github.com/crop2cloud/logger-lora/internal/hostctl"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

// Rebooter signals the host environment. It must not wait for the reboot.
type Rebooter interface {
	Reboot(ctx context.Context, reason string) error
}

func NewRebooter(c escalation_config.Config, runner hostctl.Runner, log *log2.Log) (Rebooter, error) {
	switch c.Method {
	case "", escalation_config.MethodTrigger:
		path := c.TriggerPath
		if path == "" {
			path = escalation_config.DefaultTriggerPath
		}
		return &TriggerFile{Path: path, Log: log}, nil
	case escalation_config.MethodCommand:
		argv := c.Command
		if len(argv) == 0 {
			argv = hostctl.DefaultRebootCommand
		}
		return &Command{Runner: runner, Argv: argv, Log: log}, nil
	case escalation_config.MethodNone:
		return Noop{Log: log}, nil
	}
	return nil, errors.NotValidf("reboot.method=%s", c.Method)
}

// TriggerFile is watched by a host side unit which performs the reboot.
type TriggerFile struct {
	Path string
	Log  *log2.Log
}

func (self *TriggerFile) Reboot(ctx context.Context, reason string) error {
	content := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), reason)
	if err := os.WriteFile(self.Path, []byte(content), 0644); err != nil {
		return errors.Annotatef(err, "reboot trigger path=%s", self.Path)
	}
	self.Log.Infof("reboot trigger written path=%s", self.Path)
	return nil
}

type Command struct {
	Runner hostctl.Runner
	Argv   []string
	Log    *log2.Log
}

func (self *Command) Reboot(ctx context.Context, reason string) error {
	if len(self.Argv) == 0 {
		return errors.NotValidf("reboot command empty")
	}
	self.Log.Infof("reboot command=%v reason=%s", self.Argv, reason)
	out, err := self.Runner.Run(ctx, self.Argv[0], self.Argv[1:]...)
	return errors.Annotatef(err, "output=%s", out)
}

type Noop struct{ Log *log2.Log }

func (self Noop) Reboot(ctx context.Context, reason string) error {
	self.Log.Infof("reboot requested (noop) reason=%s", reason)
	return nil
}
