// Separate package for uplink related config structure.
package uplink_config

type Config struct { //nolint:maligned
	ChunkSize      int    `hcl:"chunk_size"`
	FloatPrecision *int   `hcl:"float_precision"`
	NanSentinel    *int   `hcl:"nan_sentinel"`
	BatteryField   string `hcl:"battery_field"`
	BatteryKey     string `hcl:"battery_key"`
	// first|every|none
	BatteryPolicy string `hcl:"battery_policy"`
	Backlog       bool   `hcl:"backlog"`
	MaxPayload    int    `hcl:"max_payload"`
	RetryAttempts int    `hcl:"retry_attempts"`
	RetryDelaySec int    `hcl:"retry_delay_sec"`
	LogDebug      bool   `hcl:"log_debug"`

	Channel  *Channel  `hcl:"channel"`
	Schedule *Schedule `hcl:"schedule"`
}

type Channel struct { //nolint:maligned
	Driver            string `hcl:"driver"` // mqtt|log
	Region            string `hcl:"region"`
	DataRate          int    `hcl:"data_rate"`
	DevAddr           string `hcl:"dev_addr"`
	AppsKey           string `hcl:"apps_key"`
	NwksKey           string `hcl:"nwks_key"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttTopic         string `hcl:"mqtt_topic"`
	MqttClientID      string `hcl:"mqtt_client_id"`
	MqttUsername      string `hcl:"mqtt_username"`
	MqttPassword      string `hcl:"mqtt_password"`
	TlsCaFile         string `hcl:"tls_ca_file"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
}

type Schedule struct {
	IntervalMinutes    int  `hcl:"interval_minutes"`
	TransmissionWindow *int `hcl:"transmission_window"`
	MinInterval        *int `hcl:"min_interval"`
}

const (
	DefaultChunkSize       = 6
	DefaultBatteryField    = "BattV_Min"
	DefaultBatteryKey      = "batt"
	DefaultNanSentinel     = -9999
	DefaultMaxPayload      = 222
	DefaultRetryAttempts   = 3
	DefaultRetryDelaySec   = 60
	DefaultIntervalMinutes = 15

	BatteryFirst = "first"
	BatteryEvery = "every"
	BatteryNone  = "none"
)
