// Package normalize turns vendor-shaped logger records into canonical readings.
package normalize

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/crop2cloud/logger-lora/internal/device"
	device_config "github.com/crop2cloud/logger-lora/internal/device/config"
	"github.com/crop2cloud/logger-lora/internal/reading"
)

const (
	DefaultTimestampKey = "Datetime"
	DefaultStripSuffix  = "_Avg"
	DefaultSentinel     = -9999
)

var DefaultKeepSuffix = []string{"RecNbr"}

var timeLayouts = []string{
	reading.TimeLayout,
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

type Config struct {
	TimestampKey string
	StripSuffix  string
	KeepSuffix   []string
	Sentinel     int
	Location     *time.Location
}

func ConfigFrom(dc *device_config.Config, loc *time.Location) Config {
	c := Config{
		TimestampKey: dc.Normalize.TimestampKey,
		StripSuffix:  dc.Normalize.StripSuffix,
		KeepSuffix:   dc.Normalize.KeepSuffix,
		Sentinel:     DefaultSentinel,
		Location:     loc,
	}
	if c.TimestampKey == "" {
		c.TimestampKey = DefaultTimestampKey
	}
	if c.StripSuffix == "" {
		c.StripSuffix = DefaultStripSuffix
	}
	if c.KeepSuffix == nil {
		c.KeepSuffix = DefaultKeepSuffix
	}
	if dc.Normalize.NanSentinel != nil {
		c.Sentinel = *dc.Normalize.NanSentinel
	}
	return c
}

type Normalizer struct {
	config Config
	keep   map[string]struct{}
}

func New(c Config) *Normalizer {
	if c.Location == nil {
		c.Location = time.UTC
	}
	self := &Normalizer{config: c, keep: make(map[string]struct{}, len(c.KeepSuffix))}
	for _, k := range c.KeepSuffix {
		self.keep[k] = struct{}{}
	}
	return self
}

func (self *Normalizer) Sentinel() int { return self.config.Sentinel }

// Normalize never fails. Unknown value types pass through,
// a missing or unparseable timestamp leaves Reading.Time zero.
func (self *Normalizer) Normalize(rec device.Record) reading.Reading {
	r := reading.Reading{Fields: make(reading.Fields, 0, len(rec))}
	for _, raw := range rec {
		key := self.Key(raw.Key)
		if key == reading.TimestampField {
			if t, ok := self.timestamp(raw.Value); ok {
				r.Time = t
			}
			continue
		}
		value := self.sanitize(raw.Value)
		replaced := false
		for i := range r.Fields {
			if r.Fields[i].Name == key {
				r.Fields[i].Value = value
				replaced = true
				break
			}
		}
		if !replaced {
			r.Fields = append(r.Fields, reading.Field{Name: key, Value: value})
		}
	}
	return r
}

// Key rewrites one raw field name.
func (self *Normalizer) Key(key string) string {
	key = strings.Replace(key, "b'", "", -1)
	key = strings.Replace(key, "'", "", -1)
	if key == self.config.TimestampKey || key == reading.TimestampField {
		return reading.TimestampField
	}
	if _, keep := self.keep[key]; keep {
		return key
	}
	if s := self.config.StripSuffix; s != "" && strings.HasSuffix(key, s) && len(key) > len(s) {
		return key[:len(key)-len(s)]
	}
	return key
}

// Batch returns readings sorted ascending and distinct by timestamp,
// later duplicate wins. Readings without timestamp are counted in invalid.
func (self *Normalizer) Batch(recs []device.Record) (rs []reading.Reading, invalid int) {
	byTime := make(map[int64]int, len(recs))
	rs = make([]reading.Reading, 0, len(recs))
	for _, rec := range recs {
		r := self.Normalize(rec)
		if r.Time.IsZero() {
			invalid++
			continue
		}
		key := r.Time.Unix()
		if i, dup := byTime[key]; dup {
			rs[i] = r
			continue
		}
		byTime[key] = len(rs)
		rs = append(rs, r)
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Time.Before(rs[j].Time) })
	return rs, invalid
}

func (self *Normalizer) sanitize(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return self.config.Sentinel
		}
	case float32:
		if math.IsNaN(float64(x)) {
			return self.config.Sentinel
		}
	}
	return v
}

func (self *Normalizer) timestamp(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, false
		}
		return x.In(self.config.Location).Truncate(time.Second), true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, x, self.config.Location); err == nil {
				return t.Truncate(time.Second), true
			}
		}
	case []byte:
		return self.timestamp(string(x))
	}
	return time.Time{}, false
}
