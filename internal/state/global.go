package state

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/crop2cloud/logger-lora/internal/hostctl"
	"github.com/crop2cloud/logger-lora/internal/metadata"
	"github.com/crop2cloud/logger-lora/internal/metrics"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Components   components // components.go
	Log          *log2.Log
	Metadata     *metadata.Metadata
	Metrics      *metrics.Metrics
	Runner       hostctl.Runner

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive:  alive.NewAlive(),
		Log:    log,
		Runner: hostctl.ExecRunner{},
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s node=%d", g.BuildVersion, cfg.NodeID)

	if err := g.Config.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	applyDefaults(g.Config)
	if g.Config.Log.Level != "" {
		level, _ := log2.ParseLevel(g.Config.Log.Level)
		g.Log.SetLevel(level)
	}
	if g.Config.Persist.Root == "" {
		g.Config.Persist.Root = DefaultPersistRoot
		g.Log.Errorf("config: persist.root=empty changed=%s", g.Config.Persist.Root)
	}
	g.Log.Debugf("config: persist.root=%s database=%s", g.Config.Persist.Root, g.Config.DatabasePath())

	// metrics first so error lines are counted from here on
	g.Metrics = metrics.New(g.Config.Metrics.Textfile)
	g.Log.SetErrorFunc(g.Metrics.ErrorFunc)

	if g.BuildVersion == "unknown" {
		g.Error(fmt.Errorf("build version is not set, please use script/build"))
	}

	md, err := metadata.Load(g.Config.SensorMetadata)
	if err != nil {
		return errors.Annotatef(err, "config: sensor_metadata=%s", g.Config.SensorMetadata)
	}
	g.Metadata = md
	g.Log.Debugf("sensor metadata entries=%d", md.Len())

	if g.Config.System.NtpSync {
		// clock only matters for window end, a stale clock is not fatal
		if err := hostctl.SyncClock(ctx, g.Runner, g.Log); err != nil {
			g.Error(err, "ntp sync")
		}
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.Log.Debugf("%s", errors.ErrorStack(err))
		g.StopWait(5 * time.Second)
		g.Log.Fatal(err)
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases components, call after Alive finished.
func (g *Global) Close() error {
	return g.closeComponents()
}
