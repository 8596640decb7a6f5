package state

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crop2cloud/logger-lora/helpers"
	device_config "github.com/crop2cloud/logger-lora/internal/device/config"
	escalation_config "github.com/crop2cloud/logger-lora/internal/escalation/config"
	uplink_config "github.com/crop2cloud/logger-lora/internal/uplink/config"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
)

const DefaultPersistRoot = "/var/lib/logger-lora"

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	NodeID  int `hcl:"node_id"`
	Persist struct {
		Root string `hcl:"root"`
	}
	Log struct {
		Level      string `hcl:"level"`
		File       string `hcl:"file"`
		MaxSizeMB  int    `hcl:"max_size_mb"`
		MaxBackups int    `hcl:"max_backups"`
	}
	Datalogger device_config.Config `hcl:"datalogger"`
	Database   struct {
		// {node_id} is replaced
		Path string `hcl:"path"`
	}
	SensorMetadata string                   `hcl:"sensor_metadata"`
	Uplink         uplink_config.Config     `hcl:"uplink"`
	Reboot         escalation_config.Config `hcl:"reboot"`
	Metrics        struct {
		Textfile string `hcl:"textfile"`
	}
	System struct {
		NtpSync bool `hcl:"ntp_sync"`
	}

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) DatabasePath() string {
	p := c.Database.Path
	if p == "" {
		p = filepath.Join(c.Persist.Root, "readings-node{node_id}.db")
	}
	return strings.Replace(p, "{node_id}", strconv.Itoa(c.NodeID), -1)
}

// Location of datalogger clock, host local time when not configured.
func (c *Config) Location() (*time.Location, error) {
	if c.Datalogger.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Datalogger.Timezone)
	return loc, errors.Annotatef(err, "config: datalogger.timezone=%s", c.Datalogger.Timezone)
}

func (c *Config) Interval() time.Duration {
	minutes := uplink_config.DefaultIntervalMinutes
	if s := c.Uplink.Schedule; s != nil && s.IntervalMinutes > 0 {
		minutes = s.IntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	if c.NodeID <= 0 {
		errs = append(errs, errors.NotValidf("config: node_id=%d", c.NodeID))
	}
	if _, err := log2.ParseLevel(c.Log.Level); c.Log.Level != "" && err != nil {
		errs = append(errs, errors.NotValidf("config: log.level=%s", c.Log.Level))
	}
	switch c.Datalogger.Driver {
	case "", "toa5":
		if c.Datalogger.Port == "" {
			errs = append(errs, errors.NotValidf("config: datalogger.port empty"))
		}
	case "mock":
	default:
		errs = append(errs, errors.NotValidf("config: datalogger.driver=%s", c.Datalogger.Driver))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.SensorMetadata == "" {
		errs = append(errs, errors.NotValidf("config: sensor_metadata empty"))
	}
	if s := c.Uplink.Schedule; s == nil {
		errs = append(errs, errors.NotValidf("config: uplink.schedule missing"))
	} else {
		if s.TransmissionWindow == nil {
			errs = append(errs, errors.NotValidf("config: uplink.schedule.transmission_window not set"))
		}
		if s.MinInterval == nil {
			errs = append(errs, errors.NotValidf("config: uplink.schedule.min_interval not set"))
		}
	}
	switch c.Reboot.Method {
	case "", escalation_config.MethodTrigger, escalation_config.MethodCommand, escalation_config.MethodNone:
	default:
		errs = append(errs, errors.NotValidf("config: reboot.method=%s", c.Reboot.Method))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges names in order, later sources override earlier.
// Per node overrides go into include files.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
