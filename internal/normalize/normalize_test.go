package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/crop2cloud/logger-lora/internal/device"
	device_config "github.com/crop2cloud/logger-lora/internal/device/config"
	"github.com/crop2cloud/logger-lora/internal/reading"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultNormalizer() *Normalizer {
	return New(ConfigFrom(&device_config.Config{}, time.UTC))
}

func TestKey(t *testing.T) {
	t.Parallel()
	n := defaultNormalizer()
	cases := map[string]string{
		"Datetime":      reading.TimestampField,
		"TIMESTAMP":     reading.TimestampField,
		"b'Datetime'":   reading.TimestampField,
		"AirTC_Avg":     "AirTC",
		"b'AirTC_Avg'":  "AirTC",
		"RecNbr":        "RecNbr",
		"BattV_Min":     "BattV_Min",
		"_Avg":          "_Avg",
		"Solar_2m_Avg":  "Solar_2m",
		"VWC_Avg_Extra": "VWC_Avg_Extra",
	}
	for input, expect := range cases {
		assert.Equal(t, expect, n.Key(input), "input=%s", input)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 6, 1, 12, 15, 0, 300e6, time.UTC)
	type Case struct {
		name  string
		input device.Record
		check func(t testing.TB, r reading.Reading)
	}
	cases := []Case{
		{"nan-sentinel",
			device.Record{{Key: "Datetime", Value: ts}, {Key: "AirTC_Avg", Value: math.NaN()}, {Key: "RH", Value: float32(math.NaN())}, {Key: "BattV_Min", Value: 12.6}},
			func(t testing.TB, r reading.Reading) {
				assert.Equal(t, ts.Truncate(time.Second), r.Time)
				assert.Equal(t, []string{"AirTC", "RH", "BattV_Min"}, r.Fields.Names())
				v, _ := r.Get("AirTC")
				assert.Equal(t, DefaultSentinel, v)
				v, _ = r.Get("RH")
				assert.Equal(t, DefaultSentinel, v)
				v, _ = r.Get("BattV_Min")
				assert.Equal(t, 12.6, v)
			}},
		{"passthrough",
			device.Record{{Key: "Datetime", Value: "2024-06-01 12:15:00"}, {Key: "Site", Value: "north"}, {Key: "Flags", Value: []int{1, 2}}, {Key: "Nil", Value: nil}, {Key: "Inf", Value: math.Inf(1)}},
			func(t testing.TB, r reading.Reading) {
				assert.Equal(t, time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC), r.Time)
				v, _ := r.Get("Flags")
				assert.Equal(t, []int{1, 2}, v)
				v, ok := r.Get("Nil")
				assert.True(t, ok)
				assert.Nil(t, v)
				v, _ = r.Get("Inf")
				assert.True(t, math.IsInf(v.(float64), 1))
			}},
		{"no-timestamp",
			device.Record{{Key: "AirTC_Avg", Value: 1.0}},
			func(t testing.TB, r reading.Reading) {
				assert.True(t, r.Time.IsZero())
				assert.Equal(t, 1, r.Len())
			}},
		{"bad-timestamp",
			device.Record{{Key: "Datetime", Value: 42}},
			func(t testing.TB, r reading.Reading) { assert.True(t, r.Time.IsZero()) }},
		{"collapse-suffix",
			device.Record{{Key: "Datetime", Value: ts}, {Key: "AirTC", Value: 1.0}, {Key: "AirTC_Avg", Value: 2.0}},
			func(t testing.TB, r reading.Reading) {
				require.Equal(t, 1, r.Len())
				v, _ := r.Get("AirTC")
				assert.Equal(t, 2.0, v)
			}},
		{"empty", nil, func(t testing.TB, r reading.Reading) { assert.Equal(t, 0, r.Len()) }},
	}
	n := defaultNormalizer()
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			assert.NotPanics(t, func() { c.check(t, n.Normalize(c.input)) })
		})
	}
}

func TestNormalizeLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("MST", -7*3600)
	n := New(ConfigFrom(&device_config.Config{}, loc))
	r := n.Normalize(device.Record{{Key: "Datetime", Value: "2024-06-01 05:00:00"}})
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), r.Time.UTC())
}

func TestCustomSentinel(t *testing.T) {
	t.Parallel()
	dc := device_config.Config{}
	s := -7999
	dc.Normalize.NanSentinel = &s
	dc.Normalize.TimestampKey = "TS"
	n := New(ConfigFrom(&dc, nil))
	r := n.Normalize(device.Record{{Key: "TS", Value: "2024-06-01 05:00:00"}, {Key: "x", Value: math.NaN()}})
	assert.False(t, r.Time.IsZero())
	v, _ := r.Get("x")
	assert.Equal(t, -7999, v)
}

func TestBatch(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(m int, v float64) device.Record {
		return device.Record{{Key: "Datetime", Value: base.Add(time.Duration(m) * time.Minute)}, {Key: "x", Value: v}}
	}
	n := defaultNormalizer()
	rs, invalid := n.Batch([]device.Record{at(30, 3), at(0, 1), at(15, 2), at(30, 4), {{Key: "x", Value: 9.0}}})
	assert.Equal(t, 1, invalid)
	require.Len(t, rs, 3)
	for i := 1; i < len(rs); i++ {
		assert.True(t, rs[i-1].Time.Before(rs[i].Time))
	}
	v, _ := rs[2].Get("x")
	assert.Equal(t, 4.0, v)

	rs, invalid = n.Batch(nil)
	assert.Empty(t, rs)
	assert.Equal(t, 0, invalid)
}
