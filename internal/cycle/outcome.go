package cycle

import (
	"fmt"
	"time"

	"github.com/crop2cloud/logger-lora/internal/fault"
	"github.com/crop2cloud/logger-lora/internal/metrics"
	"github.com/crop2cloud/logger-lora/internal/reading"
)

// Outcome is the report of one cycle. Err nil and Skipped false is success.
type Outcome struct {
	ID          string
	Begin       time.Time
	Duration    time.Duration
	Start       time.Time
	Stop        time.Time
	Clamped     bool
	Stream      string
	Records     int
	Invalid     int
	Fresh       int
	Watermark   time.Time
	WatermarkOK bool
	Committed   int
	Chunks      int
	Skipped     bool
	Err         error
}

func (o *Outcome) Success() bool { return o.Err == nil && !o.Skipped }

func (o *Outcome) Result() string {
	switch {
	case o.Skipped:
		return metrics.ResultSkip
	case o.Err != nil:
		return metrics.ResultFailure
	case o.Fresh == 0:
		return metrics.ResultEmpty
	}
	return metrics.ResultSuccess
}

func (o *Outcome) String() string {
	s := fmt.Sprintf("cycle=%s result=%s records=%d fresh=%d committed=%d chunks=%d watermark=%s duration=%v",
		o.ID, o.Result(), o.Records, o.Fresh, o.Committed, o.Chunks, reading.FormatTime(o.Watermark), o.Duration)
	if o.Err != nil {
		s += fmt.Sprintf(" kind=%s err=%v", fault.KindOf(o.Err), o.Err)
	}
	return s
}
