// Package cycle drives the acquisition pipeline: window from watermark,
// read from device, normalize, commit, uplink, then feed outcome to escalation.
// Exactly one cycle runs at a time.
package cycle

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/crop2cloud/logger-lora/helpers"
	"github.com/crop2cloud/logger-lora/internal/device"
	"github.com/crop2cloud/logger-lora/internal/escalation"
	"github.com/crop2cloud/logger-lora/internal/fault"
	"github.com/crop2cloud/logger-lora/internal/metrics"
	"github.com/crop2cloud/logger-lora/internal/normalize"
	"github.com/crop2cloud/logger-lora/internal/reading"
	"github.com/crop2cloud/logger-lora/internal/uplink"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/google/uuid"
	"github.com/juju/errors"
)

var (
	ErrRebootRequested = errors.New("reboot requested")
	ErrHalted          = errors.New("halted, reboot tally exceeded")
)

type Store interface {
	Watermark(ctx context.Context) (time.Time, bool, error)
	Commit(ctx context.Context, rs ...reading.Reading) (time.Time, error)
}

type Uplinker interface {
	Schedule(ctx context.Context, r reading.Reading) (*uplink.Plan, error)
}

type Config struct {
	Interval      time.Duration
	Lookback      time.Duration
	ClockSkewWarn time.Duration
	// uplink every fresh reading, not only latest
	Backlog  bool
	RetryMin time.Duration
	RetryMax time.Duration
}

type Orchestrator struct {
	config     Config
	log        *log2.Log
	device     *device.Manager
	normalizer *normalize.Normalizer
	store      Store
	uplink     Uplinker
	escalation *escalation.Controller
	metrics    *metrics.Metrics
	retry      helpers.Backoff

	// test code replaces
	now    func() time.Time
	sleep  helpers.SleepFunc
	notify func(state string)
}

func New(config Config, log *log2.Log, dev *device.Manager, n *normalize.Normalizer, store Store, up Uplinker, esc *escalation.Controller, m *metrics.Metrics) *Orchestrator {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	if config.RetryMin <= 0 {
		config.RetryMin = 30 * time.Second
	}
	if config.RetryMax < config.RetryMin {
		config.RetryMax = config.Interval
	}
	self := &Orchestrator{
		config:     config,
		log:        log,
		device:     dev,
		normalizer: n,
		store:      store,
		uplink:     up,
		escalation: esc,
		metrics:    m,
		now:        time.Now,
		sleep:      helpers.SleepContext,
		notify:     sdNotify,
	}
	self.retry = helpers.Backoff{Min: config.RetryMin, Max: config.RetryMax, K: 2, Res: time.Second}
	return self
}

func sdNotify(state string) { _, _ = daemon.SdNotify(false, state) }

// RunCycle performs one pass. Device session is released on every return path.
func (self *Orchestrator) RunCycle(ctx context.Context) (o Outcome) {
	o.ID = uuid.New().String()
	o.Begin = self.now()
	self.log.Infof("cycle=%s begin", o.ID)
	defer func() { o.Duration = self.now().Sub(o.Begin) }()

	wm, ok, err := self.store.Watermark(ctx)
	if err != nil {
		o.Err = err
		return
	}
	o.Watermark, o.WatermarkOK = wm, ok

	sess, err := self.device.Connect(ctx)
	if err != nil {
		o.Err = err
		return
	}
	defer func() {
		if err := sess.Close(); err != nil {
			self.log.Errorf("cycle=%s device close err=%v", o.ID, err)
		}
	}()
	self.checkClock(ctx, sess)

	o.Stream, err = sess.Stream(ctx)
	if err != nil {
		o.Skipped = fault.Is(err, fault.NoDataStream)
		o.Err = err
		return
	}

	o.Start, o.Stop, o.Clamped = device.Window(wm, ok, self.now(), self.config.Lookback)
	if o.Clamped {
		self.log.Warnf("cycle=%s watermark=%s older than lookback=%v, data before %s is not requested",
			o.ID, reading.FormatTime(wm), self.config.Lookback, reading.FormatTime(o.Start))
	}
	recs, err := sess.ReadWindow(ctx, o.Stream, o.Start, o.Stop)
	if err != nil {
		o.Err = err
		return
	}
	if err := sess.Close(); err != nil {
		self.log.Errorf("cycle=%s device close err=%v", o.ID, err)
	}
	o.Records = len(recs)

	rs, invalid := self.normalizer.Batch(recs)
	o.Invalid = invalid
	if invalid != 0 {
		self.log.Warnf("cycle=%s records without timestamp dropped=%d", o.ID, invalid)
	}
	fresh := rs[:0]
	for _, r := range rs {
		if ok && !r.Time.After(wm) {
			self.log.Debugf("cycle=%s skip committed reading=%s", o.ID, reading.FormatTime(r.Time))
			continue
		}
		fresh = append(fresh, r)
	}
	o.Fresh = len(fresh)
	if len(fresh) == 0 {
		self.log.Infof("cycle=%s no new readings start=%s stop=%s", o.ID, reading.FormatTime(o.Start), reading.FormatTime(o.Stop))
		return
	}

	newWm, err := self.store.Commit(ctx, fresh...)
	if err != nil {
		o.Err = err
		return
	}
	o.Committed = len(fresh)
	o.Watermark, o.WatermarkOK = newWm, true
	self.log.Infof("cycle=%s committed=%d watermark=%s", o.ID, len(fresh), reading.FormatTime(newWm))

	targets := fresh[len(fresh)-1:]
	if self.config.Backlog {
		targets = fresh
	}
	for _, r := range targets {
		plan, err := self.uplink.Schedule(ctx, r)
		if plan != nil {
			o.Chunks += len(plan.Chunks)
		}
		if err != nil {
			o.Err = errors.Annotatef(err, "reading=%s", reading.FormatTime(r.Time))
			return
		}
	}
	return
}

func (self *Orchestrator) checkClock(ctx context.Context, sess *device.Session) {
	if self.config.ClockSkewWarn <= 0 {
		return
	}
	lt, err := sess.CurrentTime(ctx)
	if err != nil {
		self.log.Errorf("logger clock err=%v", err)
		return
	}
	skew := self.now().Sub(lt)
	if skew < 0 {
		skew = -skew
	}
	if skew > self.config.ClockSkewWarn {
		self.log.Warnf("logger clock=%s host clock skew=%v", lt.Format(time.RFC3339), skew.Round(time.Second))
	}
}

// Finish feeds outcome to escalation and metrics.
func (self *Orchestrator) Finish(ctx context.Context, o *Outcome) (escalation.Decision, error) {
	switch {
	case o.Skipped:
		self.log.Errorf("cycle=%s skipped: %v", o.ID, o.Err)
	case o.Err != nil:
		self.log.Errorf("cycle=%s failed kind=%s err=%v", o.ID, fault.KindOf(o.Err), o.Err)
		self.log.Debugf("cycle=%s %s", o.ID, errors.ErrorStack(o.Err))
		self.escalation.RecordOutcome(o.Err)
	default:
		self.escalation.RecordOutcome(nil)
		if self.escalation.Tally().Count != 0 {
			if err := self.escalation.ResetTally(); err != nil {
				self.log.Errorf("cycle=%s %v", o.ID, err)
			}
		}
	}
	self.log.Infof("%s", o.String())

	decision, err := self.escalation.Escalate(ctx)
	if err != nil {
		self.log.Errorf("cycle=%s escalation err=%v", o.ID, err)
	}
	self.metrics.ObserveCycle(metrics.Cycle{
		Result:    o.Result(),
		Duration:  o.Duration,
		Committed: o.Committed,
		Chunks:    o.Chunks,
		Watermark: o.Watermark,
		Failures:  self.escalation.Failures(),
		Tally:     self.escalation.Tally().Count,
		At:        self.now(),
	})
	if err := self.metrics.Flush(); err != nil {
		self.log.Errorf("%v", err)
	}
	self.notify("WATCHDOG=1")
	self.notify("STATUS=" + o.Result() + " watermark=" + reading.FormatTime(o.Watermark))
	return decision, err
}

// Once runs a single cycle, for timer driven deployments.
func (self *Orchestrator) Once(ctx context.Context) error {
	o := self.RunCycle(ctx)
	decision, err := self.Finish(ctx, &o)
	if derr := decisionErr(decision, err); derr != nil {
		return derr
	}
	if o.Skipped {
		return nil
	}
	return o.Err
}

// Run loops until ctx is done or escalation ends the process.
func (self *Orchestrator) Run(ctx context.Context) error {
	for {
		o := self.RunCycle(ctx)
		if ctx.Err() != nil {
			self.log.Infof("cycle=%s interrupted", o.ID)
			return nil
		}
		decision, err := self.Finish(ctx, &o)
		if derr := decisionErr(decision, err); derr != nil {
			return derr
		}
		delay := self.NextDelay(&o)
		self.log.Infof("next cycle in %v", delay)
		if self.sleep(ctx, delay) != nil {
			return nil
		}
	}
}

func decisionErr(d escalation.Decision, err error) error {
	switch d {
	case escalation.Reboot:
		if err != nil {
			return errors.Wrap(err, ErrRebootRequested)
		}
		return ErrRebootRequested
	case escalation.Halt:
		return ErrHalted
	}
	return nil
}

// NextDelay: failed cycle retries with growing delay, otherwise wait for next interval boundary.
// Failure that needs operator action (bad config) is not retried early.
func (self *Orchestrator) NextDelay(o *Outcome) time.Duration {
	switch {
	case o.Err != nil && !o.Skipped && fault.KindOf(o.Err).Retryable():
		if d := self.retry.DelayAfter(false); d > 0 {
			return d
		}
	case o.Err != nil && !o.Skipped:
		self.log.Debugf("cycle=%s kind=%s not retryable, wait for interval", o.ID, fault.KindOf(o.Err))
	default:
		self.retry.DelayAfter(true)
	}
	now := self.now()
	next := now.Truncate(self.config.Interval).Add(self.config.Interval)
	return next.Sub(now)
}
