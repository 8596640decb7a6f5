package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/crop2cloud/logger-lora/cmd/logger-lora/console"
	"github.com/crop2cloud/logger-lora/cmd/logger-lora/run"
	"github.com/crop2cloud/logger-lora/cmd/logger-lora/subcmd"
	"github.com/crop2cloud/logger-lora/internal/cycle"
	"github.com/crop2cloud/logger-lora/internal/state"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

var (
	log          = log2.NewStderr(log2.LDebug)
	BuildVersion = "unknown" // set by ldflags -X
)

var modules = []subcmd.Mod{
	run.Mod,
	run.OnceMod,
	run.ResetMod,
	console.Mod,
	{Name: "version", Usage: "print build version", Main: nil},
}

// Exit status for host side units: reboot requested was already signaled,
// halted means reboot tally exceeded and restarting will not help.
const (
	exitFailure         = 1
	exitRebootRequested = 3
	exitHalted          = 4
)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "/etc/logger-lora/logger-lora.hcl", "")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "Usage: %s [option] command\n\nCommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(cmdline.Output(), "  %-14s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(cmdline.Output(), "\nOptions:\n")
		cmdline.PrintDefaults()
	}
	_ = cmdline.Parse(os.Args[1:])

	command := cmdline.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		log.Error(err)
		cmdline.Usage()
		os.Exit(exitFailure)
	}
	if mod.Name == "version" {
		fmt.Printf("logger-lora %s\n", BuildVersion)
		return
	}

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	var logFile io.Closer
	if config.Log.File != "" {
		flog, closer, err := log2.NewFile(log2.FileConfig{
			Path:       config.Log.File,
			MaxSizeMB:  config.Log.MaxSizeMB,
			MaxBackups: config.Log.MaxBackups,
		}, log2.LDebug)
		if err != nil {
			log.Fatal(errors.Annotatef(err, "config: log.file=%s", config.Log.File))
		}
		logFile = closer
		flog.SetFlags(log2.LInteractiveFlags)
		log = flog
	}

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		g.Log.Infof("signal=%v stopping", sig)
		g.Stop()
	}()

	err = mod.Main(ctx, config)
	g.Stop()
	g.Alive.Wait()
	if cerr := g.Close(); cerr != nil {
		g.Log.Error(cerr)
	}
	code := exitCode(g, err)
	if logFile != nil {
		_ = logFile.Close()
	}
	os.Exit(code)
}

func exitCode(g *state.Global, err error) int {
	switch errors.Cause(err) {
	case nil:
		return 0
	case cycle.ErrRebootRequested:
		g.Log.Infof("exit: %v", err)
		return exitRebootRequested
	case cycle.ErrHalted:
		g.Log.Errorf("exit: %v", err)
		return exitHalted
	}
	g.Log.Error(errors.ErrorStack(err))
	return exitFailure
}
