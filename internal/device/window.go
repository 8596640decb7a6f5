package device

import "time"

// Window resolves acquisition range for next read.
// With watermark present, start is one second after it: everything up to and including
// the watermark is committed. Start is never earlier than now-lookback, the logger
// does not keep more and requesting it only slows down the serial link.
// clamped=true means data between watermark and start is skipped.
func Window(watermark time.Time, ok bool, now time.Time, lookback time.Duration) (start, stop time.Time, clamped bool) {
	stop = now.Truncate(time.Second)
	floor := stop.Add(-lookback)
	if !ok {
		return floor, stop, false
	}
	start = watermark.Truncate(time.Second).Add(time.Second)
	if lookback > 0 && start.Before(floor) {
		return floor, stop, true
	}
	return start, stop, false
}
