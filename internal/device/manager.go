package device

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crop2cloud/logger-lora/helpers"
	device_config "github.com/crop2cloud/logger-lora/internal/device/config"
	"github.com/crop2cloud/logger-lora/internal/fault"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

// Manager opens sessions to one datalogger endpoint.
// State is shared by sessions, only one session is expected to exist at a time.
type Manager struct {
	config  device_config.Config
	driver  Driver
	log     *log2.Log
	state   State
	exclude map[string]struct{}

	// test code replaces
	newBackOff func() backoff.BackOff
	sleep      helpers.SleepFunc
}

func NewManager(driver Driver, config device_config.Config, log *log2.Log) *Manager {
	if driver == nil {
		panic("code error device.NewManager driver=nil")
	}
	config.BaudRate = helpers.IntDefault(config.BaudRate, device_config.DefaultBaudRate)
	config.ConnectAttempts = helpers.IntDefault(config.ConnectAttempts, device_config.DefaultConnectAttempts)
	config.BackoffMinSec = helpers.IntDefault(config.BackoffMinSec, device_config.DefaultBackoffMinSec)
	config.BackoffMaxSec = helpers.IntDefault(config.BackoffMaxSec, device_config.DefaultBackoffMaxSec)
	if config.ExcludeStreams == nil {
		config.ExcludeStreams = device_config.DefaultExcludeStreams
	}
	self := &Manager{
		config:  config,
		driver:  driver,
		log:     log,
		exclude: make(map[string]struct{}, len(config.ExcludeStreams)),
		sleep:   helpers.SleepContext,
	}
	for _, s := range config.ExcludeStreams {
		self.exclude[s] = struct{}{}
	}
	self.newBackOff = self.connectBackOff
	return self
}

func (self *Manager) State() State { return self.state }

func (self *Manager) setState(s State) {
	if s != self.state {
		self.log.Debugf("device state %s -> %s", self.state, s)
	}
	self.state = s
}

// 5s, 10s, 20s ... capped, no jitter: one logger per agent, nothing to desynchronize.
func (self *Manager) connectBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(self.config.BackoffMinSec) * time.Second
	bo.MaxInterval = time.Duration(self.config.BackoffMaxSec) * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (self *Manager) retryPolicy(ctx context.Context) backoff.BackOff {
	attempts := self.config.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(self.newBackOff(), uint64(attempts-1)), ctx)
}

// Connect opens new session with bounded retries.
// After retry budget is spent, state is Exhausted until next Connect.
func (self *Manager) Connect(ctx context.Context) (*Session, error) {
	self.waitForDevice(ctx)
	self.setState(StateConnecting)
	h, err := self.dial(ctx, "connect")
	if err != nil {
		self.setState(StateExhausted)
		return nil, err
	}
	self.setState(StateConnected)
	self.log.Infof("device connected port=%s", self.config.Port)
	return &Session{m: self, h: h}, nil
}

func (self *Manager) dial(ctx context.Context, tag string) (Handle, error) {
	var h Handle
	attempt := 0
	op := func() error {
		attempt++
		self.log.Infof("device %s port=%s baud=%d attempt=%d/%d",
			tag, self.config.Port, self.config.BaudRate, attempt, self.config.ConnectAttempts)
		var err error
		h, err = self.driver.Connect(ctx, self.config.Port, self.config.BaudRate)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		self.log.Errorf("device %s attempt=%d err=%v retry in %v", tag, attempt, err, d)
	}
	if err := backoff.RetryNotify(op, self.retryPolicy(ctx), notify); err != nil {
		err = errors.Annotatef(err, "device %s port=%s attempts=%d", tag, self.config.Port, attempt)
		return nil, fault.New(fault.Connection, err)
	}
	return h, nil
}

// Serial adapters (USB) appear some time after boot.
func (self *Manager) waitForDevice(ctx context.Context) {
	timeout := time.Duration(self.config.WaitForDeviceSec) * time.Second
	path := self.config.Port
	if timeout <= 0 || !strings.HasPrefix(path, "/") {
		return
	}
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			self.log.Errorf("device path=%s did not appear in %v", path, timeout)
			return
		}
		if self.sleep(ctx, time.Second) != nil {
			return
		}
	}
}

func (self *Manager) excluded(stream string) bool {
	_, ok := self.exclude[stream]
	return ok
}
