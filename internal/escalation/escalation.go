// Package escalation turns persistent cycle failures into a controlled reboot request,
// and stops requesting reboots when they evidently do not help.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/crop2cloud/logger-lora/helpers"
	escalation_config "github.com/crop2cloud/logger-lora/internal/escalation/config"
	"github.com/crop2cloud/logger-lora/internal/state/persist"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

const persistTag = "reboot-tally"

type Decision uint8

const (
	Continue Decision = iota
	Reboot
	Halt
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Reboot:
		return "reboot"
	case Halt:
		return "halt"
	}
	return "Decision(?)"
}

// Tally survives process and host restarts.
type Tally struct {
	Count      int       `json:"count"`
	LastReboot time.Time `json:"last_reboot,omitempty"`
	LastReset  time.Time `json:"last_reset,omitempty"`
}

// Stored form is fixed width: storage file is overwritten in place without truncate.
const tallyFormat = "%020d %020d %020d\n"

func (t *Tally) MarshalBinary() ([]byte, error) {
	if t.Count < 0 {
		return nil, errors.NotValidf("reboot tally count=%d", t.Count)
	}
	return []byte(fmt.Sprintf(tallyFormat, t.Count, unixOrZero(t.LastReboot), unixOrZero(t.LastReset))), nil
}

func (t *Tally) UnmarshalBinary(b []byte) error {
	var count, reboot, reset int64
	if _, err := fmt.Sscanf(string(b), "%d %d %d", &count, &reboot, &reset); err != nil {
		return errors.Annotatef(err, "reboot tally parse data=%q", b)
	}
	*t = Tally{Count: int(count), LastReboot: timeOrZero(reboot), LastReset: timeOrZero(reset)}
	return nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

type Controller struct {
	config    escalation_config.Config
	log       *log2.Log
	rebooter  Rebooter
	persist   persist.Persist
	tally     Tally
	failures  int
	requested bool
	now       func() time.Time
}

// NewController loads Reboot Tally from persistRoot.
// Empty persistRoot keeps tally in memory only.
func NewController(config escalation_config.Config, rebooter Rebooter, persistRoot string, log *log2.Log) (*Controller, error) {
	config.MaxFailures = helpers.IntDefault(config.MaxFailures, escalation_config.DefaultMaxFailures)
	config.MaxReboots = helpers.IntDefault(config.MaxReboots, escalation_config.DefaultMaxReboots)
	if rebooter == nil {
		rebooter = Noop{Log: log}
	}
	self := &Controller{
		config:   config,
		log:      log,
		rebooter: rebooter,
		now:      time.Now,
	}
	if err := self.persist.Init(persistTag, &self.tally, persistRoot, persistRoot != "", log); err != nil {
		return nil, errors.Annotate(err, "escalation")
	}
	if err := self.persist.Load(); err != nil {
		// unreadable tally must not keep an unattended node from running
		self.log.Errorf("reboot tally unreadable, starting from zero err=%v", err)
		self.tally = Tally{}
		if err := self.persist.Reset(); err != nil {
			return nil, errors.Annotate(err, "escalation")
		}
		if err := self.persist.Store(); err != nil {
			self.log.Errorf("reboot tally store err=%v", err)
		}
	}
	if self.tally.Count != 0 {
		self.log.Infof("reboot tally=%d last_reboot=%s", self.tally.Count, self.tally.LastReboot.Format(time.RFC3339))
	}
	return self, nil
}

// RecordOutcome nil err means fully successful cycle.
func (self *Controller) RecordOutcome(err error) {
	if err == nil {
		if self.failures != 0 {
			self.log.Infof("cycle success after failures=%d", self.failures)
		}
		self.failures = 0
		return
	}
	self.failures++
	self.log.Infof("cycle failures=%d/%d", self.failures, self.config.MaxFailures)
}

func (self *Controller) ShouldReboot() bool {
	return !self.requested && self.failures >= self.config.MaxFailures
}

// Escalate is called after each failure outcome.
// Reboot is requested at most once per process, tally grows by one per request.
func (self *Controller) Escalate(ctx context.Context) (Decision, error) {
	if !self.ShouldReboot() {
		return Continue, nil
	}
	self.requested = true
	self.tally.Count++
	self.tally.LastReboot = self.now()
	if err := self.persist.Store(); err != nil {
		self.log.Errorf("reboot tally store err=%v", err)
	}
	if self.tally.Count > self.config.MaxReboots {
		self.log.Errorf("reboot tally=%d exceeds max_reboots=%d, halting instead of reboot", self.tally.Count, self.config.MaxReboots)
		return Halt, nil
	}
	reason := "consecutive cycle failures"
	self.log.Errorf("requesting reboot failures=%d tally=%d/%d", self.failures, self.tally.Count, self.config.MaxReboots)
	if err := self.rebooter.Reboot(ctx, reason); err != nil {
		return Reboot, errors.Annotate(err, "reboot request")
	}
	return Reboot, nil
}

// ResetTally is explicit successful run signal.
func (self *Controller) ResetTally() error {
	if self.tally.Count == 0 && !self.tally.LastReset.IsZero() {
		return nil
	}
	self.tally.Count = 0
	self.tally.LastReset = self.now()
	return errors.Annotate(self.persist.Store(), "reboot tally reset")
}

func (self *Controller) Failures() int    { return self.failures }
func (self *Controller) Tally() Tally     { return self.tally }
func (self *Controller) MaxFailures() int { return self.config.MaxFailures }
