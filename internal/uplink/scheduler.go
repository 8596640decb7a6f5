// Package uplink packs one reading into radio sized chunks and paces
// their transmission inside a per-cycle airtime window.
package uplink

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crop2cloud/logger-lora/helpers"
	"github.com/crop2cloud/logger-lora/internal/fault"
	"github.com/crop2cloud/logger-lora/internal/metadata"
	"github.com/crop2cloud/logger-lora/internal/reading"
	uplink_config "github.com/crop2cloud/logger-lora/internal/uplink/config"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

const (
	TimeKey    = "time"
	TimeLayout = "20060102150405"
)

// Plan is everything decided before the first byte is sent.
// Delays[i] is the wait before Chunks[i+1].
type Plan struct {
	Time        time.Time
	Chunks      []reading.Fields
	Delays      []time.Duration
	MaxDelay    time.Duration
	Window      time.Duration
	MinInterval time.Duration
	Dropped     []string
}

func (p *Plan) TotalDelay() time.Duration {
	var sum time.Duration
	for _, d := range p.Delays {
		sum += d
	}
	return sum
}

type Scheduler struct {
	config  uplink_config.Config
	md      *metadata.Metadata
	channel Channel
	log     *log2.Log

	// test code replaces
	rand       *rand.Rand
	sleep      helpers.SleepFunc
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func NewScheduler(config uplink_config.Config, md *metadata.Metadata, ch Channel, log *log2.Log) *Scheduler {
	config.ChunkSize = helpers.IntDefault(config.ChunkSize, uplink_config.DefaultChunkSize)
	config.RetryAttempts = helpers.IntDefault(config.RetryAttempts, uplink_config.DefaultRetryAttempts)
	config.RetryDelaySec = helpers.IntDefault(config.RetryDelaySec, uplink_config.DefaultRetryDelaySec)
	config.MaxPayload = helpers.IntDefault(config.MaxPayload, uplink_config.DefaultMaxPayload)
	if config.BatteryField == "" {
		config.BatteryField = uplink_config.DefaultBatteryField
	}
	if config.BatteryPolicy == "" {
		config.BatteryPolicy = uplink_config.BatteryFirst
	}
	if config.NanSentinel == nil {
		s := uplink_config.DefaultNanSentinel
		config.NanSentinel = &s
	}
	self := &Scheduler{
		config:  config,
		md:      md,
		channel: ch,
		log:     log,
		rand:    helpers.RandUnix(),
		sleep:   helpers.SleepContext,
		now:     time.Now,
	}
	self.newBackOff = self.sendBackOff
	return self
}

func (self *Scheduler) Config() uplink_config.Config { return self.config }

func (self *Scheduler) validate() error {
	errs := make([]error, 0)
	if self.config.Channel == nil {
		errs = append(errs, errors.NotValidf("uplink.channel not set"))
	}
	if s := self.config.Schedule; s == nil {
		errs = append(errs, errors.NotValidf("uplink.schedule not set"))
	} else {
		if s.TransmissionWindow == nil {
			errs = append(errs, errors.NotValidf("uplink.schedule.transmission_window not set"))
		} else if *s.TransmissionWindow < 0 {
			errs = append(errs, errors.NotValidf("uplink.schedule.transmission_window=%d", *s.TransmissionWindow))
		}
		if s.MinInterval == nil {
			errs = append(errs, errors.NotValidf("uplink.schedule.min_interval not set"))
		} else if *s.MinInterval < 0 {
			errs = append(errs, errors.NotValidf("uplink.schedule.min_interval=%d", *s.MinInterval))
		}
	}
	if self.config.ChunkSize < 2 {
		errs = append(errs, errors.NotValidf("uplink.chunk_size=%d must leave room for time", self.config.ChunkSize))
	}
	switch self.config.BatteryPolicy {
	case uplink_config.BatteryFirst, uplink_config.BatteryEvery, uplink_config.BatteryNone:
	default:
		errs = append(errs, errors.NotValidf("uplink.battery_policy=%s", self.config.BatteryPolicy))
	}
	return helpers.FoldErrors(errs)
}

// Plan maps, chunks and paces one reading. Only error kind is fault.Config.
func (self *Scheduler) Plan(r reading.Reading) (*Plan, error) {
	if err := self.validate(); err != nil {
		return nil, fault.New(fault.Config, err)
	}
	if r.Time.IsZero() {
		return nil, fault.New(fault.Config, errors.NotValidf("reading without timestamp"))
	}
	sched := self.config.Schedule
	plan := &Plan{
		Time:        r.Time,
		Window:      time.Duration(*sched.TransmissionWindow) * time.Second,
		MinInterval: time.Duration(*sched.MinInterval) * time.Second,
	}

	mapped := make(reading.Fields, 0, r.Len())
	var battery *reading.Field
	for _, f := range r.Fields {
		if f.Name == reading.TimestampField {
			continue
		}
		if self.config.BatteryPolicy != uplink_config.BatteryNone && f.Name == self.config.BatteryField {
			battery = &reading.Field{Name: self.batteryKey(), Value: self.round(f.Value)}
			continue
		}
		hash, ok := self.md.Hash(f.Name)
		if !ok {
			plan.Dropped = append(plan.Dropped, f.Name)
			continue
		}
		mapped = append(mapped, reading.Field{Name: hash, Value: self.round(f.Value)})
	}
	if len(plan.Dropped) != 0 {
		self.log.Warnf("uplink reading=%s unmapped fields dropped=%v", reading.FormatTime(r.Time), plan.Dropped)
	}

	// time takes one slot in partitioning and is then present in every chunk
	timeField := reading.Field{Name: TimeKey, Value: r.Time.Format(TimeLayout)}
	size := self.config.ChunkSize
	count := (len(mapped) + 1 + size - 1) / size
	plan.Chunks = make([]reading.Fields, 0, count)
	for i := 0; i < count; i++ {
		lo, hi := i*size, (i+1)*size
		if lo > len(mapped) {
			lo = len(mapped)
		}
		if hi > len(mapped) {
			hi = len(mapped)
		}
		chunk := make(reading.Fields, 0, hi-lo+2)
		chunk = append(chunk, mapped[lo:hi]...)
		if battery != nil && (i == 0 || self.config.BatteryPolicy == uplink_config.BatteryEvery) {
			chunk = append(chunk, *battery)
		}
		chunk = append(chunk, timeField)
		plan.Chunks = append(plan.Chunks, chunk)
	}

	plan.MaxDelay = plan.Window
	if count > 1 {
		c := time.Duration(count)
		plan.MaxDelay = (plan.Window - (c-1)*plan.MinInterval) / c
		if plan.MaxDelay < plan.MinInterval {
			self.log.Warnf("uplink chunks=%d do not fit window=%v min_interval=%v", count, plan.Window, plan.MinInterval)
			plan.MaxDelay = plan.MinInterval
		}
		plan.Delays = make([]time.Duration, count-1)
		for i := range plan.Delays {
			plan.Delays[i] = self.jitter(plan.MinInterval, plan.MaxDelay)
		}
	}
	self.log.Debugf("uplink plan reading=%s chunks=%d delays=%v", reading.FormatTime(r.Time), count, plan.Delays)
	return plan, nil
}

// Transmit sends chunks strictly in order. Channel session is released on every path.
func (self *Scheduler) Transmit(ctx context.Context, plan *Plan) error {
	if plan == nil || len(plan.Chunks) == 0 {
		return nil
	}
	sess, err := self.open(ctx)
	if err != nil {
		return fault.New(fault.Uplink, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			self.log.Errorf("uplink close err=%v", err)
		}
	}()

	tbegin := self.now()
	total := len(plan.Chunks)
	for i, chunk := range plan.Chunks {
		if i > 0 {
			d := plan.Delays[i-1]
			self.log.Debugf("uplink chunk=%d/%d wait=%v", i+1, total, d)
			if err := self.sleep(ctx, d); err != nil {
				return fault.New(fault.Uplink, errors.Annotatef(err, "uplink chunk=%d/%d pacing", i+1, total))
			}
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			return fault.New(fault.Uplink, errors.Annotatef(err, "uplink chunk=%d/%d encode", i+1, total))
		}
		if len(payload) > self.config.MaxPayload {
			self.log.Warnf("uplink chunk=%d/%d payload=%d bytes exceeds max_payload=%d", i+1, total, len(payload), self.config.MaxPayload)
		}
		if err := self.send(ctx, sess, payload); err != nil {
			return fault.New(fault.Uplink, errors.Annotatef(err, "uplink chunk=%d/%d", i+1, total))
		}
		self.log.Infof("uplink sent chunk=%d/%d payload=%s", i+1, total, payload)
	}
	if elapsed := self.now().Sub(tbegin); elapsed > plan.Window {
		self.log.Warnf("uplink transmission overrun elapsed=%v window=%v", elapsed, plan.Window)
	}
	return nil
}

// Schedule is Plan then Transmit.
func (self *Scheduler) Schedule(ctx context.Context, r reading.Reading) (*Plan, error) {
	plan, err := self.Plan(r)
	if err != nil {
		return nil, err
	}
	return plan, self.Transmit(ctx, plan)
}

func (self *Scheduler) sendBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Duration(self.config.RetryDelaySec) * time.Second)
}

func (self *Scheduler) retryPolicy(ctx context.Context) backoff.BackOff {
	attempts := self.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(self.newBackOff(), uint64(attempts-1)), ctx)
}

func (self *Scheduler) open(ctx context.Context) (Session, error) {
	var sess Session
	op := func() error {
		var err error
		sess, err = self.channel.Open(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		self.log.Errorf("uplink open err=%v retry in %v", err, d)
	}
	if err := backoff.RetryNotify(op, self.retryPolicy(ctx), notify); err != nil {
		return nil, errors.Annotate(err, "uplink open")
	}
	return sess, nil
}

func (self *Scheduler) send(ctx context.Context, sess Session, payload []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		err := sess.Send(ctx, payload)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		self.log.Errorf("uplink send attempt=%d/%d err=%v retry in %v", attempt, self.config.RetryAttempts, err, d)
	}
	return errors.Annotatef(backoff.RetryNotify(op, self.retryPolicy(ctx), notify), "send attempts=%d", attempt)
}

func (self *Scheduler) batteryKey() string {
	if h, ok := self.md.Hash(self.config.BatteryField); ok {
		return h
	}
	if self.config.BatteryKey != "" {
		return self.config.BatteryKey
	}
	return uplink_config.DefaultBatteryKey
}

// round is the only mutation applied to reading values, for transmission only.
func (self *Scheduler) round(v interface{}) interface{} {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return *self.config.NanSentinel
	}
	if self.config.FloatPrecision == nil {
		return v
	}
	p := math.Pow(10, float64(*self.config.FloatPrecision))
	return math.Round(f*p) / p
}

func (self *Scheduler) jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(self.rand.Int63n(int64(max-min)+1))
}
