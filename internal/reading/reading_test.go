package reading

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsMarshalJSON(t *testing.T) {
	t.Parallel()

	fs := Fields{
		{"z_last_alphabet", 1.5},
		{"a_first_alphabet", int64(3)},
		{"label", "north"},
		{"nan", math.NaN()},
		{"at", time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)},
	}
	b, err := fs.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z_last_alphabet":1.5,"a_first_alphabet":3,"label":"north","nan":null,"at":"2024-06-01 12:30:00"}`, string(b))
}

func TestReadingGet(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	r := Reading{Time: ts, Fields: Fields{{"AirTC", 21.5}}}
	v, ok := r.Get(TimestampField)
	assert.True(t, ok)
	assert.Equal(t, ts, v)
	v, ok = r.Get("AirTC")
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)
	_, ok = r.Get("RH")
	assert.False(t, ok)
	assert.Equal(t, "TIMESTAMP=2024-06-01 12:30:00 AirTC=21.5", r.String())

	c := r.Clone()
	c.Fields[0].Value = 0.0
	assert.Equal(t, 21.5, r.Fields[0].Value)
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	ts, err := ParseTime("2024-06-01 12:30:00", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC), ts)
	assert.Equal(t, "2024-06-01 12:30:00", FormatTime(ts))
	assert.Equal(t, "", FormatTime(time.Time{}))
}
