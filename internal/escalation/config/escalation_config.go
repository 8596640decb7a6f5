package escalation_config

type Config struct {
	MaxFailures int `hcl:"max_failures"`
	MaxReboots  int `hcl:"max_reboots"`
	// trigger|command|none
	Method      string   `hcl:"method"`
	TriggerPath string   `hcl:"trigger_path"`
	Command     []string `hcl:"command"`
	// delay before next cycle after failed one, doubles up to max
	RetryDelaySec    int `hcl:"retry_delay_sec"`
	RetryDelayMaxSec int `hcl:"retry_delay_max_sec"`
}

const (
	DefaultMaxFailures      = 3
	DefaultMaxReboots       = 5
	DefaultTriggerPath      = "/tmp/logger_reboot_trigger"
	DefaultRetryDelaySec    = 30
	DefaultRetryDelayMaxSec = 300

	MethodTrigger = "trigger"
	MethodCommand = "command"
	MethodNone    = "none"
)
