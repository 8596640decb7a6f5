package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/crop2cloud/logger-lora/internal/device"
	"github.com/crop2cloud/logger-lora/internal/hostctl"
	"github.com/crop2cloud/logger-lora/internal/normalize"
	"github.com/crop2cloud/logger-lora/internal/uplink"
	"github.com/crop2cloud/logger-lora/log2"
)

const TestMetadata = `
- sensor_id: AirTC
  hash: at
- sensor_id: RH
  hash: rh
`

// NewTestContext inits Global with config text plus a minimal required base,
// mock datalogger, mock channel and mock host runner.
// State files go into t.TempDir().
func NewTestContext(t testing.TB, confString string) (context.Context, *Global) {
	dir := t.TempDir()
	mdPath := filepath.Join(dir, "metadata.yaml")
	if err := os.WriteFile(mdPath, []byte(TestMetadata), 0644); err != nil {
		t.Fatal(err)
	}
	base := `
node_id = 1
persist { root = "` + dir + `" }
sensor_metadata = "` + mdPath + `"
datalogger { driver = "mock" }
uplink {
	channel { driver = "log" }
	schedule { transmission_window = 0 min_interval = 0 }
}
reboot { method = "none" }
`
	fs := NewMockFullReader(map[string]string{
		"test-base":   base,
		"test-inline": confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.BuildVersion = "test"
	g.Runner = &hostctl.MockRunner{}
	g.Components.Device.Driver = device.NewMockDriver(normalize.DefaultTimestampKey, "Status", "Table1")
	g.Components.Uplink.Channel = &uplink.MockChannel{}
	g.MustInit(ctx, MustReadConfig(log, fs, "test-base", "test-inline"))
	t.Cleanup(func() { _ = g.Close() })
	return ctx, g
}
