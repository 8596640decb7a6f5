package uplink

import (
	"context"

	uplink_config "github.com/crop2cloud/logger-lora/internal/uplink/config"
	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
)

// Channel contract:
// - Open performs network join, may block up to network timeout
// - Session.Send delivers one payload or fails, no internal retries
// - Session.Close releases radio, must be called exactly once per opened session
type Channel interface {
	Open(ctx context.Context) (Session, error)
}

type Session interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

func NewChannel(c *uplink_config.Channel, nodeID int, log *log2.Log) (Channel, error) {
	if c == nil {
		return nil, errors.NotValidf("uplink.channel not set")
	}
	switch c.Driver {
	case "", "mqtt":
		return NewMqttChannel(c, nodeID, log)
	case "log":
		return &LogChannel{Log: log}, nil
	}
	return nil, errors.NotValidf("uplink.channel.driver=%s", c.Driver)
}

// LogChannel only writes payloads to log, for dry runs and bench setups without radio.
type LogChannel struct {
	Log *log2.Log
}

func (self *LogChannel) Open(ctx context.Context) (Session, error) {
	self.Log.Infof("uplink log channel open")
	return logSession{self.Log}, nil
}

type logSession struct{ log *log2.Log }

func (self logSession) Send(ctx context.Context, payload []byte) error {
	self.log.Infof("uplink send payload=%s", payload)
	return ctx.Err()
}
func (self logSession) Close() error { return nil }
