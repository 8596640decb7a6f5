// Package console is interactive diagnostics against live datalogger and local store.
// Nothing here advances the watermark or transmits.
package console

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/crop2cloud/logger-lora/cmd/logger-lora/subcmd"
	"github.com/crop2cloud/logger-lora/helpers"
	"github.com/crop2cloud/logger-lora/helpers/cli"
	"github.com/crop2cloud/logger-lora/internal/device"
	"github.com/crop2cloud/logger-lora/internal/reading"
	"github.com/crop2cloud/logger-lora/internal/state"
	"github.com/juju/errors"
)

const usage = `commands:
- streams        list datalogger tables, show selected data stream
- time           datalogger clock and skew against host
- read N         records of last N minutes, normalized
- watermark      newest committed reading time
- tally          reboot tally and consecutive failures
- plan           uplink plan of latest datalogger reading, not sent
- help
`

var Mod = subcmd.Mod{Name: "console", Usage: "interactive diagnostics", Main: Main}

type command struct {
	name string
	f    func(ctx context.Context, g *state.Global, args []string) error
}

var commands = []command{
	{"streams", doStreams},
	{"time", doTime},
	{"read", doRead},
	{"watermark", doWatermark},
	{"tally", doTally},
	{"plan", doPlan},
	{"help", func(ctx context.Context, g *state.Global, args []string) error {
		g.Log.Infof(usage)
		return nil
	}},
}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)

	ctx, cancel := helpers.AliveContext(ctx, g.Alive)
	defer cancel()
	return cli.MainLoop(ctx, "logger-lora", newExecutor(g), newCompleter())
}

func newCompleter() cli.Completer {
	suggests := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		suggests = append(suggests, prompt.Suggest{Text: c.name})
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(g *state.Global) cli.Executor {
	return func(ctx context.Context, line string) {
		words := strings.Fields(line)
		if len(words) == 0 {
			return
		}
		for _, c := range commands {
			if c.name == words[0] {
				tbegin := time.Now()
				if err := c.f(ctx, g, words[1:]); err != nil {
					g.Log.Errorf(errors.ErrorStack(err))
				}
				g.Log.Debugf("duration=%v", time.Since(tbegin))
				return
			}
		}
		g.Log.Errorf("unknown command='%s', try help", words[0])
	}
}

func session(ctx context.Context, g *state.Global) (*device.Session, error) {
	dev, err := g.Device()
	if err != nil {
		return nil, err
	}
	return dev.Connect(ctx)
}

func doStreams(ctx context.Context, g *state.Global, args []string) error {
	sess, err := session(ctx, g)
	if err != nil {
		return err
	}
	defer sess.Close()
	stream, err := sess.Stream(ctx)
	if err != nil {
		return err
	}
	g.Log.Infof("data stream=%s", stream)
	return nil
}

func doTime(ctx context.Context, g *state.Global, args []string) error {
	sess, err := session(ctx, g)
	if err != nil {
		return err
	}
	defer sess.Close()
	lt, err := sess.CurrentTime(ctx)
	if err != nil {
		return err
	}
	host := time.Now()
	g.Log.Infof("logger=%s host=%s skew=%v", lt.Format(time.RFC3339), host.Format(time.RFC3339), host.Sub(lt).Round(time.Second))
	return nil
}

func readLast(ctx context.Context, g *state.Global, d time.Duration) ([]reading.Reading, error) {
	sess, err := session(ctx, g)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	stream, err := sess.Stream(ctx)
	if err != nil {
		return nil, err
	}
	stop := time.Now()
	recs, err := sess.ReadWindow(ctx, stream, stop.Add(-d), stop)
	if err != nil {
		return nil, err
	}
	n, err := g.Normalizer()
	if err != nil {
		return nil, err
	}
	rs, invalid := n.Batch(recs)
	if invalid != 0 {
		g.Log.Infof("records without timestamp=%d", invalid)
	}
	return rs, nil
}

func doRead(ctx context.Context, g *state.Global, args []string) error {
	if len(args) != 1 {
		return errors.NotValidf("syntax: read N")
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes <= 0 {
		return errors.NotValidf("minutes=%s", args[0])
	}
	rs, err := readLast(ctx, g, time.Duration(minutes)*time.Minute)
	if err != nil {
		return err
	}
	for _, r := range rs {
		g.Log.Infof("%s", r.String())
	}
	g.Log.Infof("readings=%d", len(rs))
	return nil
}

func doWatermark(ctx context.Context, g *state.Global, args []string) error {
	store, err := g.Store()
	if err != nil {
		return err
	}
	wm, ok, err := store.Watermark(ctx)
	if err != nil {
		return err
	}
	if !ok {
		g.Log.Infof("watermark absent")
		return nil
	}
	count, err := store.Count(ctx)
	if err != nil {
		return err
	}
	g.Log.Infof("watermark=%s readings=%d", reading.FormatTime(wm), count)
	return nil
}

func doTally(ctx context.Context, g *state.Global, args []string) error {
	esc, err := g.Escalation()
	if err != nil {
		return err
	}
	t := esc.Tally()
	g.Log.Infof("reboot tally=%d last_reboot=%s failures=%d/%d",
		t.Count, reading.FormatTime(t.LastReboot), esc.Failures(), esc.MaxFailures())
	return nil
}

func doPlan(ctx context.Context, g *state.Global, args []string) error {
	rs, err := readLast(ctx, g, 2*g.Config.Interval())
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		g.Log.Infof("no readings in last %v", 2*g.Config.Interval())
		return nil
	}
	sched, err := g.Scheduler()
	if err != nil {
		return err
	}
	plan, err := sched.Plan(rs[len(rs)-1])
	if err != nil {
		return err
	}
	for i, chunk := range plan.Chunks {
		b, err := json.Marshal(chunk)
		if err != nil {
			return errors.Trace(err)
		}
		g.Log.Infof("chunk=%d bytes=%d %s", i+1, len(b), b)
	}
	g.Log.Infof("delays=%v max_delay=%v total=%v", plan.Delays, plan.MaxDelay, plan.TotalDelay())
	return nil
}
