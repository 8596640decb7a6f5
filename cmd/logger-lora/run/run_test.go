package run

import (
	"context"
	"testing"
	"time"

	"github.com/crop2cloud/logger-lora/internal/device"
	"github.com/crop2cloud/logger-lora/internal/state"
	"github.com/crop2cloud/logger-lora/internal/uplink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnce(t *testing.T) {
	t.Parallel()
	ctx, g := state.NewTestContext(t, "")
	driver := g.Components.Device.Driver.(*device.MockDriver)
	driver.Append(device.Record{
		{Key: "Datetime", Value: time.Now().Add(-time.Hour)},
		{Key: "AirTC_Avg", Value: 18.0},
	})

	require.NoError(t, Once(ctx, g.Config))
	ch := g.Components.Uplink.Channel.(*uplink.MockChannel)
	assert.Len(t, ch.Sent, 1)

	// second run has nothing new, still success
	require.NoError(t, Once(ctx, g.Config))
	assert.Len(t, ch.Sent, 1)
}

func TestOnceFailure(t *testing.T) {
	t.Parallel()
	ctx, g := state.NewTestContext(t, `datalogger { connect_attempts = 1 }`)
	driver := g.Components.Device.Driver.(*device.MockDriver)
	driver.ConnectErrs = []error{context.DeadlineExceeded}
	assert.Error(t, Once(ctx, g.Config))
}

func TestResetReboots(t *testing.T) {
	t.Parallel()
	ctx, g := state.NewTestContext(t, "")
	require.NoError(t, ResetReboots(ctx, g.Config))
	esc, err := g.Escalation()
	require.NoError(t, err)
	assert.Equal(t, 0, esc.Tally().Count)
}
