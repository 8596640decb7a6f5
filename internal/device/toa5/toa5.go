// Package toa5 reads Campbell Scientific TOA5 table files as a datalogger.
// Port is a directory where LoggerNet or the logger card drops *.dat files,
// every file is one table (stream). Baud rate is ignored.
package toa5

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/crop2cloud/logger-lora/internal/device"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

const (
	FileFormat   = "TOA5"
	headerLines  = 4
	tableNameCol = 7
	TimestampKey = "TIMESTAMP"
)

var timeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04:05.999999999"}

type Driver struct {
	Location *time.Location
	Pattern  string // default *.dat
	Now      func() time.Time
	Log      *log2.Log
}

var _ device.Driver = &Driver{}

func NewDriver(loc *time.Location) *Driver {
	if loc == nil {
		loc = time.Local
	}
	return &Driver{Location: loc, Pattern: "*.dat", Now: time.Now}
}

func (self *Driver) Connect(ctx context.Context, port string, baud int) (device.Handle, error) {
	fi, err := os.Stat(port)
	if err != nil {
		return nil, errors.Annotatef(err, "toa5 dir=%s", port)
	}
	if !fi.IsDir() {
		return nil, errors.NotValidf("toa5 dir=%s is not a directory", port)
	}
	return &handle{d: self, dir: port}, nil
}

type handle struct {
	d      *Driver
	dir    string
	tables map[string]string // table -> path
}

func (self *handle) ListStreams(ctx context.Context) ([]string, error) {
	pattern := self.d.Pattern
	if pattern == "" {
		pattern = "*.dat"
	}
	paths, err := filepath.Glob(filepath.Join(self.dir, pattern))
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(paths)
	self.tables = make(map[string]string, len(paths))
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		env, err := readEnvironment(p)
		if err != nil {
			return nil, errors.Annotatef(err, "toa5 file=%s", p)
		}
		name := env[tableNameCol]
		if _, dup := self.tables[name]; dup {
			continue
		}
		self.tables[name] = p
		names = append(names, name)
	}
	return names, nil
}

func (self *handle) Read(ctx context.Context, stream string, start, stop time.Time) ([]device.Record, error) {
	if self.tables == nil {
		if _, err := self.ListStreams(ctx); err != nil {
			return nil, err
		}
	}
	path, ok := self.tables[stream]
	if !ok {
		return nil, errors.NotFoundf("toa5 table=%s", stream)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	return parse(ctx, f, self.d.Location, start, stop, self.d.Log)
}

func (self *handle) CurrentTime(ctx context.Context) (time.Time, error) {
	now := time.Now
	if self.d.Now != nil {
		now = self.d.Now
	}
	return now().In(self.d.Location), nil
}

func (self *handle) Close() error { return nil }

func readEnvironment(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := newReader(f)
	env, err := r.Read()
	if err != nil {
		return nil, errors.Annotate(err, "environment line")
	}
	if len(env) <= tableNameCol || env[0] != FileFormat {
		return nil, errors.NotValidf("file format, expected %s header", FileFormat)
	}
	return env, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false
	return cr
}

// Row with unreadable timestamp (logger cut power mid-write) is skipped.
func parse(ctx context.Context, r io.Reader, loc *time.Location, start, stop time.Time, log *log2.Log) ([]device.Record, error) {
	cr := newReader(r)
	var names []string
	for i := 0; i < headerLines; i++ {
		row, err := cr.Read()
		if err != nil {
			return nil, errors.Annotatef(err, "toa5 header line=%d", i+1)
		}
		if i == 0 && (len(row) == 0 || row[0] != FileFormat) {
			return nil, errors.NotValidf("file format, expected %s header", FileFormat)
		}
		if i == 1 {
			names = row
		}
	}
	if len(names) == 0 || names[0] != TimestampKey {
		return nil, errors.NotValidf("toa5 first column=%v", names)
	}

	result := make([]device.Record, 0, 64)
	for line := headerLines + 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Annotatef(err, "toa5 line=%d", line)
		}
		ts, err := parseTime(row[0], loc)
		if err != nil {
			log.Errorf("toa5 line=%d skip err=%v", line, err)
			continue
		}
		if ts.Before(start) || ts.After(stop) {
			continue
		}
		rec := make(device.Record, 0, len(names))
		rec = append(rec, device.Field{Key: TimestampKey, Value: ts})
		for i := 1; i < len(names) && i < len(row); i++ {
			rec = append(rec, device.Field{Key: names[i], Value: parseValue(row[i])})
		}
		result = append(result, rec)
	}
	return result, nil
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Annotatef(err, "timestamp=%q", s)
}

func parseValue(s string) interface{} {
	switch strings.ToUpper(s) {
	case "NAN":
		return math.NaN()
	case "INF", "+INF":
		return math.Inf(1)
	case "-INF":
		return math.Inf(-1)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
