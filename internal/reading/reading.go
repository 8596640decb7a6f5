// Package reading holds the canonical sensor reading shared by storage and uplink.
package reading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// TimestampField is canonical name of the reading time column.
const TimestampField = "TIMESTAMP"

// TimeLayout is second precision, lexically sortable.
const TimeLayout = "2006-01-02 15:04:05"

type Field struct {
	Name  string
	Value interface{}
}

// Fields keeps insertion order, which is also transmission order.
type Fields []Field

// Reading is one logger record: timestamp plus scalar fields, timestamp not included in Fields.
type Reading struct {
	Time   time.Time
	Fields Fields
}

func (r *Reading) Get(name string) (interface{}, bool) {
	if name == TimestampField {
		return r.Time, !r.Time.IsZero()
	}
	return r.Fields.Get(name)
}

func (r *Reading) Len() int { return len(r.Fields) }

func (r *Reading) Clone() Reading {
	fs := make(Fields, len(r.Fields))
	copy(fs, r.Fields)
	return Reading{Time: r.Time, Fields: fs}
}

func (r Reading) String() string {
	var b strings.Builder
	b.WriteString(TimestampField)
	b.WriteByte('=')
	b.WriteString(FormatTime(r.Time))
	for _, f := range r.Fields {
		fmt.Fprintf(&b, " %s=%v", f.Name, f.Value)
	}
	return b.String()
}

func (fs Fields) Get(name string) (interface{}, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (fs Fields) Names() []string {
	ss := make([]string, len(fs))
	for i, f := range fs {
		ss[i] = f.Name
	}
	return ss
}

// MarshalJSON writes object keys in insertion order.
// Non-finite floats have no JSON form and are written as null.
func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field=%s: %w", f.Name, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalValue(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return []byte("null"), nil
		}
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return []byte("null"), nil
		}
	case time.Time:
		return json.Marshal(FormatTime(x))
	}
	return json.Marshal(v)
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(TimeLayout, s, loc)
}
