// Package metadata maps logger field names to short uplink identifiers.
// Entries are loaded once per process and never change after.
package metadata

import (
	"os"
	"strings"

	"github.com/crop2cloud/logger-lora/helpers"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

type Entry struct {
	SensorID   string `yaml:"sensor_id"`
	Hash       string `yaml:"hash"`
	Field      string `yaml:"field,omitempty"`
	Treatment  string `yaml:"treatment,omitempty"`
	PlotNumber int    `yaml:"plot_number,omitempty"`
	Project    string `yaml:"project,omitempty"`
}

type Metadata struct {
	entries  []Entry
	bySensor map[string]int
	byHash   map[string]int
}

func Load(path string) (*Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "sensor metadata path=%s", path)
	}
	md, err := Parse(b)
	return md, errors.Annotatef(err, "sensor metadata path=%s", path)
}

// Parse accepts a YAML list of entries.
func Parse(b []byte) (*Metadata, error) {
	var entries []Entry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, errors.Annotate(err, "yaml")
	}
	return New(entries)
}

func New(entries []Entry) (*Metadata, error) {
	self := &Metadata{
		entries:  entries,
		bySensor: make(map[string]int, len(entries)),
		byHash:   make(map[string]int, len(entries)),
	}
	errs := make([]error, 0)
	for i, e := range entries {
		e.SensorID = strings.TrimSpace(e.SensorID)
		e.Hash = strings.TrimSpace(e.Hash)
		self.entries[i] = e
		switch {
		case e.SensorID == "":
			errs = append(errs, errors.NotValidf("entry=%d sensor_id empty", i))
			continue
		case e.Hash == "":
			errs = append(errs, errors.NotValidf("sensor_id=%s hash empty", e.SensorID))
			continue
		}
		if j, dup := self.bySensor[e.SensorID]; dup {
			errs = append(errs, errors.NotValidf("sensor_id=%s duplicate entries=%d,%d", e.SensorID, j, i))
			continue
		}
		if j, dup := self.byHash[e.Hash]; dup {
			errs = append(errs, errors.NotValidf("hash=%s shared by sensor_id=%s,%s", e.Hash, entries[j].SensorID, e.SensorID))
			continue
		}
		self.bySensor[e.SensorID] = i
		self.byHash[e.Hash] = i
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, err
	}
	return self, nil
}

// Hash returns short identifier for field name.
func (self *Metadata) Hash(sensorID string) (string, bool) {
	if self == nil {
		return "", false
	}
	i, ok := self.bySensor[sensorID]
	if !ok {
		return "", false
	}
	return self.entries[i].Hash, true
}

func (self *Metadata) ByHash(hash string) (Entry, bool) {
	if self == nil {
		return Entry{}, false
	}
	i, ok := self.byHash[hash]
	if !ok {
		return Entry{}, false
	}
	return self.entries[i], true
}

func (self *Metadata) Len() int {
	if self == nil {
		return 0
	}
	return len(self.bySensor)
}
