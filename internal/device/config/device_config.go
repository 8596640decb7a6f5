// Separate package for datalogger related config structure.
// Workaround to import cycles between state and device.
package device_config

type Config struct { //nolint:maligned
	Driver           string   `hcl:"driver"` // toa5|mock
	Port             string   `hcl:"port"`
	BaudRate         int      `hcl:"baud_rate"`
	ConnectAttempts  int      `hcl:"connect_attempts"`
	BackoffMinSec    int      `hcl:"backoff_min_sec"`
	BackoffMaxSec    int      `hcl:"backoff_max_sec"`
	ExcludeStreams   []string `hcl:"exclude_streams"`
	LookbackHours    int      `hcl:"lookback_hours"`
	ClockSkewWarnSec int      `hcl:"clock_skew_warn_sec"`
	WaitForDeviceSec int      `hcl:"wait_for_device_sec"`
	Timezone         string   `hcl:"timezone"`
	LogDebug         bool     `hcl:"log_debug"`

	Normalize struct {
		TimestampKey string   `hcl:"timestamp_key"`
		StripSuffix  string   `hcl:"strip_suffix"`
		KeepSuffix   []string `hcl:"keep_suffix"`
		NanSentinel  *int     `hcl:"nan_sentinel"`
	} `hcl:"normalize"`
}

var DefaultExcludeStreams = []string{"Status", "DataTableInfo", "Public"}

const (
	DefaultBaudRate        = 38400
	DefaultConnectAttempts = 5
	DefaultBackoffMinSec   = 5
	DefaultBackoffMaxSec   = 180
	DefaultLookbackHours   = 48
)
