package uplink

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crop2cloud/logger-lora/internal/fault"
	"github.com/crop2cloud/logger-lora/internal/metadata"
	"github.com/crop2cloud/logger-lora/internal/reading"
	uplink_config "github.com/crop2cloud/logger-lora/internal/uplink/config"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC)

func intp(i int) *int { return &i }

func testConfig() uplink_config.Config {
	return uplink_config.Config{
		Channel:  &uplink_config.Channel{Driver: "log"},
		Schedule: &uplink_config.Schedule{IntervalMinutes: 15, TransmissionWindow: intp(600), MinInterval: intp(30)},
	}
}

func testMetadata(t testing.TB, names ...string) *metadata.Metadata {
	entries := make([]metadata.Entry, len(names))
	for i, n := range names {
		entries[i] = metadata.Entry{SensorID: n, Hash: "h" + n}
	}
	md, err := metadata.New(entries)
	require.NoError(t, err)
	return md
}

type sleepRecorder struct{ ds []time.Duration }

func (self *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	self.ds = append(self.ds, d)
	return ctx.Err()
}

func newTestScheduler(t testing.TB, cfg uplink_config.Config, md *metadata.Metadata, ch Channel) (*Scheduler, *sleepRecorder) {
	s := NewScheduler(cfg, md, ch, log2.NewTest(t, log2.LDebug))
	rec := &sleepRecorder{}
	s.sleep = rec.sleep
	s.rand = rand.New(rand.NewSource(1))
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return s, rec
}

func mkReading(names ...string) reading.Reading {
	r := reading.Reading{Time: testTime}
	for i, n := range names {
		r.Fields = append(r.Fields, reading.Field{Name: n, Value: float64(i+1) + 0.5})
	}
	return r
}

func TestSevenFieldExample(t *testing.T) {
	t.Parallel()
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	ch := &MockChannel{}
	s, rec := newTestScheduler(t, testConfig(), testMetadata(t, names...), ch)
	plan, err := s.Schedule(context.Background(), mkReading(names...))
	require.NoError(t, err)
	require.Len(t, plan.Chunks, 2)
	assert.Equal(t, []string{"ha", "hb", "hc", "hd", "he", "hf", TimeKey}, plan.Chunks[0].Names())
	assert.Equal(t, []string{"hg", TimeKey}, plan.Chunks[1].Names())
	for _, c := range plan.Chunks {
		v, _ := c.Get(TimeKey)
		assert.Equal(t, "20240601121500", v)
	}
	payloads := ch.Payloads()
	require.Len(t, payloads, 2)
	assert.Equal(t, `{"hg":7.5,"time":"20240601121500"}`, payloads[1])
	assert.True(t, strings.HasPrefix(payloads[0], `{"ha":1.5,"hb":2.5,`), payloads[0])
	assert.Equal(t, 1, ch.Opens)
	assert.Equal(t, 1, ch.Closes)
	assert.Equal(t, plan.Delays, rec.ds)
}

func TestChunkCount(t *testing.T) {
	t.Parallel()
	all := make([]string, 20)
	for i := range all {
		all[i] = fmt.Sprintf("s%02d", i)
	}
	md := testMetadata(t, all...)
	for size := 2; size <= 8; size++ {
		for k := 0; k <= len(all); k++ {
			cfg := testConfig()
			cfg.ChunkSize = size
			s, _ := newTestScheduler(t, cfg, md, &MockChannel{})
			plan, err := s.Plan(mkReading(all[:k]...))
			require.NoError(t, err)
			expect := int(math.Ceil(float64(k+1) / float64(size)))
			require.Len(t, plan.Chunks, expect, "size=%d k=%d", size, k)
			fields := 0
			for _, c := range plan.Chunks {
				v, ok := c.Get(TimeKey)
				require.True(t, ok)
				require.Equal(t, testTime.Format(TimeLayout), v)
				require.LessOrEqual(t, len(c)-1, size)
				fields += len(c) - 1
			}
			require.Equal(t, k, fields, "size=%d k=%d every mapped field exactly once", size, k)
		}
	}
}

func TestChunkTimeOnlyTail(t *testing.T) {
	t.Parallel()
	names := []string{"a", "b", "c", "d"}
	cfg := testConfig()
	cfg.ChunkSize = 4
	s, _ := newTestScheduler(t, cfg, testMetadata(t, names...), &MockChannel{})
	plan, err := s.Plan(mkReading(names...))
	require.NoError(t, err)
	require.Len(t, plan.Chunks, 2)
	assert.Equal(t, []string{"ha", "hb", "hc", "hd", TimeKey}, plan.Chunks[0].Names())
	assert.Equal(t, []string{TimeKey}, plan.Chunks[1].Names())
}

func TestPlanConfigErrors(t *testing.T) {
	t.Parallel()
	type Case struct {
		name   string
		mutate func(*uplink_config.Config)
		expect string
	}
	cases := []Case{
		{"no-channel", func(c *uplink_config.Config) { c.Channel = nil }, "uplink.channel"},
		{"no-schedule", func(c *uplink_config.Config) { c.Schedule = nil }, "uplink.schedule"},
		{"no-window", func(c *uplink_config.Config) { c.Schedule.TransmissionWindow = nil }, "transmission_window"},
		{"no-min-interval", func(c *uplink_config.Config) { c.Schedule.MinInterval = nil }, "min_interval"},
		{"negative-window", func(c *uplink_config.Config) { c.Schedule.TransmissionWindow = intp(-1) }, "transmission_window"},
		{"chunk-size", func(c *uplink_config.Config) { c.ChunkSize = 1 }, "chunk_size"},
		{"battery-policy", func(c *uplink_config.Config) { c.BatteryPolicy = "sometimes" }, "battery_policy"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			c.mutate(&cfg)
			ch := &MockChannel{}
			s, _ := newTestScheduler(t, cfg, testMetadata(t, "a"), ch)
			_, err := s.Schedule(context.Background(), mkReading("a"))
			require.Error(t, err)
			assert.Equal(t, fault.Config, fault.KindOf(err))
			assert.Contains(t, err.Error(), c.expect)
			assert.Equal(t, 0, ch.Opens, "config error must not touch channel")
		})
	}
}

func TestZeroMinIntervalAllowed(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Schedule.MinInterval = intp(0)
	cfg.Schedule.TransmissionWindow = intp(0)
	s, _ := newTestScheduler(t, cfg, testMetadata(t, "a"), &MockChannel{})
	_, err := s.Plan(mkReading("a"))
	require.NoError(t, err)
}

func TestUnmappedDropped(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, testConfig(), testMetadata(t, "a", "c"), &MockChannel{})
	plan, err := s.Plan(mkReading("a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, plan.Dropped)
	require.Len(t, plan.Chunks, 1)
	assert.Equal(t, []string{"ha", "hc", TimeKey}, plan.Chunks[0].Names())
}

func TestBatteryPolicy(t *testing.T) {
	t.Parallel()
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	r := mkReading(names...)
	r.Fields = append(r.Fields, reading.Field{Name: uplink_config.DefaultBatteryField, Value: 12.61})
	type Case struct {
		policy string
		md     *metadata.Metadata
		expect [][]string
	}
	cases := []Case{
		{uplink_config.BatteryFirst, testMetadata(t, names...), [][]string{
			{"ha", "hb", "hc", "hd", "he", "hf", "batt", TimeKey}, {"hg", TimeKey}}},
		{uplink_config.BatteryEvery, testMetadata(t, names...), [][]string{
			{"ha", "hb", "hc", "hd", "he", "hf", "batt", TimeKey}, {"hg", "batt", TimeKey}}},
		// battery is a regular field, dropped without mapping
		{uplink_config.BatteryNone, testMetadata(t, names...), [][]string{
			{"ha", "hb", "hc", "hd", "he", "hf", TimeKey}, {"hg", TimeKey}}},
		{uplink_config.BatteryFirst, testMetadata(t, append(names, uplink_config.DefaultBatteryField)...), [][]string{
			{"ha", "hb", "hc", "hd", "he", "hf", "h" + uplink_config.DefaultBatteryField, TimeKey}, {"hg", TimeKey}}},
	}
	for i, c := range cases {
		cfg := testConfig()
		cfg.BatteryPolicy = c.policy
		s, _ := newTestScheduler(t, cfg, c.md, &MockChannel{})
		plan, err := s.Plan(r)
		require.NoError(t, err)
		actual := make([][]string, len(plan.Chunks))
		for j, ch := range plan.Chunks {
			actual[j] = ch.Names()
		}
		assert.Equal(t, c.expect, actual, "case=%d policy=%s", i, c.policy)
	}
}

func TestPacing(t *testing.T) {
	t.Parallel()
	type Case struct {
		name     string
		fields   int
		window   int
		min      int
		expMax   time.Duration
		expDelay int
	}
	cases := []Case{
		{"single", 3, 600, 30, 600 * time.Second, 0},
		{"two", 7, 600, 30, 285 * time.Second, 1},
		{"four", 20, 600, 60, 105 * time.Second, 3},
		{"tight", 20, 60, 30, 30 * time.Second, 3},
	}
	all := make([]string, 20)
	for i := range all {
		all[i] = fmt.Sprintf("s%02d", i)
	}
	md := testMetadata(t, all...)
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Schedule.TransmissionWindow = intp(c.window)
			cfg.Schedule.MinInterval = intp(c.min)
			s, _ := newTestScheduler(t, cfg, md, &MockChannel{})
			for run := 0; run < 50; run++ {
				plan, err := s.Plan(mkReading(all[:c.fields]...))
				require.NoError(t, err)
				assert.Equal(t, c.expMax, plan.MaxDelay)
				require.Len(t, plan.Delays, c.expDelay)
				minD := time.Duration(c.min) * time.Second
				for _, d := range plan.Delays {
					require.GreaterOrEqual(t, d, minD)
					require.LessOrEqual(t, d, plan.MaxDelay)
				}
				require.GreaterOrEqual(t, plan.TotalDelay(), time.Duration(c.expDelay)*minD)
				if c.name != "tight" {
					require.LessOrEqual(t, plan.TotalDelay(), time.Duration(c.window)*time.Second)
				}
			}
		})
	}
}

func TestRounding(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.FloatPrecision = intp(1)
	s, _ := newTestScheduler(t, cfg, testMetadata(t, "a", "b", "c", "d", "e"), &MockChannel{})
	r := reading.Reading{Time: testTime, Fields: reading.Fields{
		{Name: "a", Value: 21.456},
		{Name: "b", Value: math.NaN()},
		{Name: "c", Value: math.Inf(-1)},
		{Name: "d", Value: "text"},
		{Name: "e", Value: -9999},
	}}
	plan, err := s.Plan(r)
	require.NoError(t, err)
	b, err := plan.Chunks[0].MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"ha":21.5,"hb":-9999,"hc":-9999,"hd":"text","he":-9999,"time":"20240601121500"}`, string(b))
	// source reading is not mutated
	assert.Equal(t, 21.456, r.Fields[0].Value)
}

func TestTransmitRetry(t *testing.T) {
	t.Parallel()
	errRadio := fmt.Errorf("no ack")
	type Case struct {
		name      string
		openErrs  []error
		sendErrs  []error
		expectErr bool
		attempts  int
		sent      int
		opens     int
		closes    int
	}
	cases := []Case{
		{"ok", nil, nil, false, 2, 2, 1, 1},
		{"send-retry", nil, []error{errRadio, errRadio}, false, 4, 2, 1, 1},
		{"send-exhausted", nil, []error{nil, errRadio, errRadio, errRadio}, true, 4, 1, 1, 1},
		{"open-retry", []error{errRadio}, nil, false, 2, 2, 2, 1},
		{"open-exhausted", []error{errRadio, errRadio, errRadio}, nil, true, 0, 0, 3, 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			ch := &MockChannel{OpenErrs: c.openErrs, SendErrs: c.sendErrs}
			names := []string{"a", "b", "c", "d", "e", "f", "g"}
			s, _ := newTestScheduler(t, testConfig(), testMetadata(t, names...), ch)
			_, err := s.Schedule(context.Background(), mkReading(names...))
			if c.expectErr {
				require.Error(t, err)
				assert.Equal(t, fault.Uplink, fault.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, c.attempts, ch.Attempts)
			assert.Len(t, ch.Sent, c.sent)
			assert.Equal(t, c.opens, ch.Opens)
			assert.Equal(t, c.closes, ch.Closes)
		})
	}
}

func TestTransmitCancelReleases(t *testing.T) {
	t.Parallel()
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	ch := &MockChannel{}
	s, _ := newTestScheduler(t, testConfig(), testMetadata(t, names...), ch)
	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	_, err := s.Schedule(ctx, mkReading(names...))
	require.Error(t, err)
	assert.Equal(t, fault.Uplink, fault.KindOf(err))
	assert.Len(t, ch.Sent, 1)
	assert.Equal(t, 1, ch.Closes)
}

func TestTransmitOverrunIsSoft(t *testing.T) {
	t.Parallel()
	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	ch := &MockChannel{}
	s, _ := newTestScheduler(t, testConfig(), testMetadata(t, names...), ch)
	clock := testTime
	s.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}
	_, err := s.Schedule(context.Background(), mkReading(names...))
	require.NoError(t, err)
	assert.Len(t, ch.Sent, 2)
}
