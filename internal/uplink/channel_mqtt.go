package uplink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/crop2cloud/logger-lora/helpers"
	uplink_config "github.com/crop2cloud/logger-lora/internal/uplink/config"
	"github.com/crop2cloud/logger-lora/log2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

const defaultNetworkTimeout = 30 * time.Second

// MqttChannel publishes uplink frames to LoRaWAN network server MQTT bridge.
// Each Open is one join: new client connection, closed after the cycle.
type MqttChannel struct {
	log     *log2.Log
	config  *uplink_config.Channel
	topic   string
	timeout time.Duration
	opt     *mqtt.ClientOptions
	// test code replaces
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMqttChannel(c *uplink_config.Channel, nodeID int, log *log2.Log) (*MqttChannel, error) {
	if c.MqttBroker == "" {
		return nil, errors.NotValidf("uplink.channel.mqtt_broker empty")
	}
	self := &MqttChannel{
		log:       log,
		config:    c,
		timeout:   helpers.IntSecondDefault(c.NetworkTimeoutSec, defaultNetworkTimeout),
		newClient: mqtt.NewClient,
	}
	clientID := c.MqttClientID
	if clientID == "" {
		clientID = fmt.Sprintf("logger%d", nodeID)
	}
	self.topic = c.MqttTopic
	if self.topic == "" {
		addr := c.DevAddr
		if addr == "" {
			addr = clientID
		}
		self.topic = fmt.Sprintf("lora/%s/up", addr)
	}

	self.opt = mqtt.NewClientOptions().
		AddBroker(c.MqttBroker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(self.timeout).
		SetWriteTimeout(self.timeout).
		SetOrderMatters(true).
		SetConnectionLostHandler(self.connectLostHandler)
	if c.MqttUsername != "" {
		self.opt.SetUsername(c.MqttUsername).SetPassword(c.MqttPassword)
	}
	if c.TlsCaFile != "" {
		tlsconf := new(tls.Config)
		tlsconf.RootCAs = x509.NewCertPool()
		cabytes, err := os.ReadFile(c.TlsCaFile)
		if err != nil {
			return nil, errors.Annotatef(err, "uplink tls_ca_file=%s", c.TlsCaFile)
		}
		if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
			return nil, errors.NotValidf("uplink tls_ca_file=%s no certificates", c.TlsCaFile)
		}
		self.opt.SetTLSConfig(tlsconf)
	}
	return self, nil
}

func (self *MqttChannel) Topic() string { return self.topic }

func (self *MqttChannel) Open(ctx context.Context) (Session, error) {
	self.log.Infof("uplink mqtt join broker=%s topic=%s region=%s dr=%d",
		self.config.MqttBroker, self.topic, self.config.Region, self.config.DataRate)
	m := self.newClient(self.opt)
	token := m.Connect()
	if err := waitToken(ctx, token, self.timeout); err != nil {
		// abort pending connect, else client keeps its network goroutines
		m.Disconnect(0)
		return nil, errors.Annotatef(err, "uplink mqtt connect broker=%s", self.config.MqttBroker)
	}
	return &mqttSession{ch: self, m: m}, nil
}

func (self *MqttChannel) connectLostHandler(c mqtt.Client, err error) {
	self.log.Errorf("uplink mqtt connection lost err=%v", err)
}

type mqttSession struct {
	ch *MqttChannel
	m  mqtt.Client
}

func (self *mqttSession) Send(ctx context.Context, payload []byte) error {
	if !self.m.IsConnected() {
		return errors.Errorf("uplink mqtt not connected")
	}
	token := self.m.Publish(self.ch.topic, 1, false, payload)
	return errors.Annotatef(waitToken(ctx, token, self.ch.timeout), "uplink mqtt publish topic=%s", self.ch.topic)
}

func (self *mqttSession) Close() error {
	if self.m.IsConnected() {
		self.m.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.Timeoutf("mqtt token after %v", timeout)
	}
}
