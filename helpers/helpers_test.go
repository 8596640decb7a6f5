package helpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/alive/v2"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()

	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{nil, nil}))
	err := FoldErrors([]error{fmt.Errorf("first"), nil, fmt.Errorf("second")})
	assert.EqualError(t, err, "first\nsecond")
}

func TestIntSecondDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7*time.Second, IntSecondDefault(0, 7*time.Second))
	assert.Equal(t, 3*time.Second, IntSecondDefault(3, 7*time.Second))
	assert.Equal(t, 6, IntDefault(0, 6))
	assert.Equal(t, 5, IntDefault(5, 6))
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, SleepContext(ctx, time.Hour))
}

func TestAliveContext(t *testing.T) {
	t.Parallel()
	a := alive.NewAlive()
	ctx, cancel := AliveContext(context.Background(), a)
	defer cancel()
	assert.NoError(t, ctx.Err())
	a.Stop()
	<-ctx.Done()
	assert.Equal(t, context.Canceled, ctx.Err())
}
