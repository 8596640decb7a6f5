package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCycle(t *testing.T) {
	t.Parallel()
	m := New("")
	wm := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m.ObserveCycle(Cycle{Result: ResultSuccess, Duration: 3 * time.Second, Committed: 4, Chunks: 2, Watermark: wm, At: wm})
	m.ObserveCycle(Cycle{Result: ResultFailure, Duration: time.Second, Failures: 1, Tally: 2})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues(ResultFailure)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.committed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunks))
	assert.Equal(t, float64(wm.Unix()), testutil.ToFloat64(m.watermark))
	assert.Equal(t, float64(wm.Unix()), testutil.ToFloat64(m.lastSuccessTs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rebootTally))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	m.ErrorFunc(fmt.Errorf("x"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsLogged))
}

func TestFlush(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logger_lora.prom")
	m := New(path)
	m.ObserveCycle(Cycle{Result: ResultEmpty})
	require.NoError(t, m.Flush())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `logger_lora_cycles_total{result="empty"} 1`), string(b))

	assert.NoError(t, New("").Flush())
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCycle(Cycle{Result: ResultSuccess})
		m.ErrorFunc(nil)
		assert.NoError(t, m.Flush())
	})
}
