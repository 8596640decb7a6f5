package state

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/crop2cloud/logger-lora/internal/cycle"
	"github.com/crop2cloud/logger-lora/internal/device"
	device_config "github.com/crop2cloud/logger-lora/internal/device/config"
	"github.com/crop2cloud/logger-lora/internal/device/toa5"
	"github.com/crop2cloud/logger-lora/internal/escalation"
	escalation_config "github.com/crop2cloud/logger-lora/internal/escalation/config"
	"github.com/crop2cloud/logger-lora/internal/normalize"
	"github.com/crop2cloud/logger-lora/internal/uplink"
	"github.com/crop2cloud/logger-lora/internal/watermark"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

// components are built on first use.
// Driver, Channel, Runner may be set before first use, tests do that.
type components struct {
	Device struct {
		once
		Driver  device.Driver
		manager *device.Manager
	}
	Store struct {
		once
		store *watermark.Store
	}
	Uplink struct {
		once
		Channel   uplink.Channel
		scheduler *uplink.Scheduler
	}
	Escalation struct {
		once
		controller *escalation.Controller
	}
	Orchestrator struct {
		once
		o *cycle.Orchestrator
	}
}

func (g *Global) Device() (*device.Manager, error) {
	x := &g.Components.Device // short alias
	_ = x.do(func() error {
		cfg := &g.Config.Datalogger
		if x.Driver == nil {
			switch cfg.Driver {
			case "", "toa5":
				loc, err := g.Config.Location()
				if err != nil {
					return err
				}
				d := toa5.NewDriver(loc)
				d.Log = g.Log
				x.Driver = d
			case "mock":
				x.Driver = device.NewMockDriver(normalize.DefaultTimestampKey)
			default:
				return errors.NotValidf("config: datalogger.driver=%s valid: toa5, mock", cfg.Driver)
			}
		}
		devLog := g.Log.Clone(log2.LInfo)
		if cfg.LogDebug {
			devLog.SetLevel(log2.LDebug)
		}
		x.manager = device.NewManager(x.Driver, *cfg, devLog)
		return nil
	})
	return x.manager, x.err
}

func (g *Global) Normalizer() (*normalize.Normalizer, error) {
	loc, err := g.Config.Location()
	if err != nil {
		return nil, err
	}
	return normalize.New(normalize.ConfigFrom(&g.Config.Datalogger, loc)), nil
}

func (g *Global) Store() (*watermark.Store, error) {
	x := &g.Components.Store
	_ = x.do(func() error {
		path := g.Config.DatabasePath()
		x.store, x.err = watermark.Open(path, g.Log)
		return errors.Annotatef(x.err, "config: database.path=%s", path)
	})
	return x.store, x.err
}

func (g *Global) Scheduler() (*uplink.Scheduler, error) {
	x := &g.Components.Uplink
	_ = x.do(func() error {
		if x.Channel == nil {
			ch, err := uplink.NewChannel(g.Config.Uplink.Channel, g.Config.NodeID, g.Log)
			if err != nil {
				return errors.Annotate(err, "config: uplink.channel")
			}
			x.Channel = ch
		}
		upLog := g.Log.Clone(log2.LInfo)
		if g.Config.Uplink.LogDebug {
			upLog.SetLevel(log2.LDebug)
		}
		x.scheduler = uplink.NewScheduler(g.Config.Uplink, g.Metadata, x.Channel, upLog)
		return nil
	})
	return x.scheduler, x.err
}

func (g *Global) Escalation() (*escalation.Controller, error) {
	x := &g.Components.Escalation
	_ = x.do(func() error {
		rebooter, err := escalation.NewRebooter(g.Config.Reboot, g.Runner, g.Log)
		if err != nil {
			return err
		}
		x.controller, err = escalation.NewController(g.Config.Reboot, rebooter, g.Config.Persist.Root, g.Log)
		return err
	})
	return x.controller, x.err
}

func (g *Global) Orchestrator() (*cycle.Orchestrator, error) {
	x := &g.Components.Orchestrator
	_ = x.do(func() error {
		dev, err := g.Device()
		if err != nil {
			return errors.Annotate(err, "device")
		}
		n, err := g.Normalizer()
		if err != nil {
			return err
		}
		store, err := g.Store()
		if err != nil {
			return errors.Annotate(err, "store")
		}
		sched, err := g.Scheduler()
		if err != nil {
			return errors.Annotate(err, "uplink")
		}
		esc, err := g.Escalation()
		if err != nil {
			return errors.Annotate(err, "escalation")
		}
		dc := &g.Config.Datalogger
		rc := &g.Config.Reboot
		x.o = cycle.New(cycle.Config{
			Interval:      g.Config.Interval(),
			Lookback:      time.Duration(dc.LookbackHours) * time.Hour,
			ClockSkewWarn: time.Duration(dc.ClockSkewWarnSec) * time.Second,
			Backlog:       g.Config.Uplink.Backlog,
			RetryMin:      time.Duration(rc.RetryDelaySec) * time.Second,
			RetryMax:      time.Duration(rc.RetryDelayMaxSec) * time.Second,
		}, g.Log, dev, n, store, sched, esc, g.Metrics)
		return nil
	})
	return x.o, x.err
}

func (g *Global) closeComponents() error {
	x := &g.Components.Store
	if x.done() && x.store != nil {
		return x.store.Close()
	}
	return nil
}

func applyDefaults(c *Config) {
	dc := &c.Datalogger
	if dc.LookbackHours == 0 {
		dc.LookbackHours = device_config.DefaultLookbackHours
	}
	rc := &c.Reboot
	if rc.RetryDelaySec == 0 {
		rc.RetryDelaySec = escalation_config.DefaultRetryDelaySec
	}
	if rc.RetryDelayMaxSec == 0 {
		rc.RetryDelayMaxSec = escalation_config.DefaultRetryDelayMaxSec
	}
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
