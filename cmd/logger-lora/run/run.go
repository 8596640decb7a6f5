package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/crop2cloud/logger-lora/cmd/logger-lora/subcmd"
	"github.com/crop2cloud/logger-lora/helpers"
	"github.com/crop2cloud/logger-lora/internal/state"
	"github.com/juju/errors"
)

var Mod = subcmd.Mod{Name: "run", Usage: "acquisition loop (default)", Main: Main}
var OnceMod = subcmd.Mod{Name: "once", Usage: "single cycle, exit status reflects outcome", Main: Once}
var ResetMod = subcmd.Mod{Name: "reset-reboots", Usage: "clear reboot tally after confirmed healthy run", Main: ResetReboots}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)

	o, err := g.Orchestrator()
	if err != nil {
		return errors.Annotate(err, "run init")
	}
	if !g.Alive.Add(1) {
		return nil
	}
	defer g.Alive.Done()

	ctx, cancel := helpers.AliveContext(ctx, g.Alive)
	defer cancel()

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("logger-lora node=%d running", g.Config.NodeID)
	err = o.Run(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	return err
}

func Once(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	o, err := g.Orchestrator()
	if err != nil {
		return errors.Annotate(err, "once init")
	}
	if !g.Alive.Add(1) {
		return nil
	}
	defer g.Alive.Done()

	ctx, cancel := helpers.AliveContext(ctx, g.Alive)
	defer cancel()
	return o.Once(ctx)
}

func ResetReboots(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	esc, err := g.Escalation()
	if err != nil {
		return errors.Annotate(err, "reset-reboots")
	}
	before := esc.Tally().Count
	if err := esc.ResetTally(); err != nil {
		return errors.Annotate(err, "reset-reboots")
	}
	g.Log.Infof("reboot tally reset, was=%d", before)
	return nil
}
