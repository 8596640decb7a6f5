package device

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crop2cloud/logger-lora/internal/fault"
	"github.com/juju/errors"
)

// Session is an explicit handle, owned by one cycle.
// Close must be called on every exit path, it is safe to call twice.
type Session struct {
	m      *Manager
	h      Handle
	closed bool
}

// Stream returns first data stream not in exclusion list.
// Listing failures reconnect within the same retry budget as Connect.
func (self *Session) Stream(ctx context.Context) (string, error) {
	if self.closed {
		return "", fault.Newf(fault.Connection, "device session closed")
	}
	var streams []string
	attempt := 0
	op := func() error {
		attempt++
		if self.h == nil {
			h, err := self.m.driver.Connect(ctx, self.m.config.Port, self.m.config.BaudRate)
			if err != nil {
				return errors.Annotate(err, "reconnect")
			}
			self.h = h
			self.m.setState(StateConnected)
		}
		var err error
		streams, err = self.h.ListStreams(ctx)
		if err != nil {
			self.dropHandle()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		self.m.log.Errorf("device list streams attempt=%d err=%v retry in %v", attempt, err, d)
	}
	if err := backoff.RetryNotify(op, self.m.retryPolicy(ctx), notify); err != nil {
		self.m.setState(StateExhausted)
		return "", fault.New(fault.Connection, errors.Annotatef(err, "device list streams attempts=%d", attempt))
	}
	self.m.log.Infof("device streams=%v", streams)
	for _, s := range streams {
		if !self.m.excluded(s) {
			self.m.log.Debugf("device selected stream=%s", s)
			return s, nil
		}
	}
	return "", fault.New(fault.NoDataStream, errors.NotFoundf("data stream among %v", streams))
}

// ReadWindow returns raw records from stream with start <= time <= stop.
func (self *Session) ReadWindow(ctx context.Context, stream string, start, stop time.Time) ([]Record, error) {
	if self.closed || self.h == nil {
		return nil, fault.Newf(fault.Connection, "device session not connected")
	}
	self.m.log.Infof("device read stream=%s start=%s stop=%s", stream, start.Format(time.RFC3339), stop.Format(time.RFC3339))
	self.m.setState(StateReadPending)
	records, err := self.h.Read(ctx, stream, start, stop)
	if err != nil {
		self.dropHandle()
		return nil, fault.New(fault.Read, errors.Annotatef(err, "device read stream=%s", stream))
	}
	self.m.setState(StateConnected)
	self.m.log.Debugf("device read stream=%s records=%d", stream, len(records))
	return records, nil
}

// CurrentTime is logger clock, used for skew diagnostics only.
func (self *Session) CurrentTime(ctx context.Context) (time.Time, error) {
	if self.closed || self.h == nil {
		return time.Time{}, errors.Errorf("device session not connected")
	}
	t, err := self.h.CurrentTime(ctx)
	return t, errors.Annotate(err, "device current time")
}

func (self *Session) Close() error {
	if self.closed {
		return nil
	}
	self.closed = true
	var err error
	if self.h != nil {
		err = self.h.Close()
		self.h = nil
	}
	self.m.setState(StateDisconnected)
	return errors.Annotate(err, "device close")
}

func (self *Session) dropHandle() {
	if self.h != nil {
		if err := self.h.Close(); err != nil {
			self.m.log.Debugf("device close after error: %v", err)
		}
		self.h = nil
	}
	self.m.setState(StateDisconnected)
}
