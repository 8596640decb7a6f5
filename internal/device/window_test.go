package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 3, 12, 0, 0, 500e6, time.UTC)
	stop := now.Truncate(time.Second)
	lookback := 48 * time.Hour
	type Case struct {
		name        string
		wm          time.Time
		ok          bool
		expectStart time.Time
		clamped     bool
	}
	cases := []Case{
		{"absent", time.Time{}, false, stop.Add(-lookback), false},
		{"recent", stop.Add(-15 * time.Minute), true, stop.Add(-15*time.Minute + time.Second), false},
		{"old", stop.Add(-72 * time.Hour), true, stop.Add(-lookback), true},
		{"exact-floor", stop.Add(-lookback - time.Second), true, stop.Add(-lookback), false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			start, end, clamped := Window(c.wm, c.ok, now, lookback)
			assert.Equal(t, c.expectStart, start)
			assert.Equal(t, stop, end)
			assert.Equal(t, c.clamped, clamped)
		})
	}
}
