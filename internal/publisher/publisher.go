// Package publisher wraps an MQTT broker connection for the ingest
// pipeline's final hop: one short-lived session per decoded frame,
// publishing the rendered envelope and tearing back down.
package publisher

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config configures one Client's connection to a broker, widened with
// the timeouts and QoS knobs paho exposes.
type Config struct {
	Broker            string
	Port              int
	Topic             string // publish topic (topic_measurements)
	CommandTopic      string // subscribe topic (topic_commands), optional
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	Disconnect        time.Duration
	QoS               byte
}

// DefaultConfig mirrors the reference client's implicit 1883 default port
// and sets the connect, publish and disconnect timeouts.
func DefaultConfig() Config {
	return Config{
		Port:           1883,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
		Disconnect:     250 * time.Millisecond,
		QoS:            0,
	}
}

// Client is a single connect/publish/stop session, not safe for
// concurrent use: one Client is instantiated per ingest goroutine rather
// than sharing a broker connection.
type Client struct {
	cfg    Config
	mqttC  mqtt.Client
}

// New builds an unconnected Client. clientID should be unique per
// session (the ingest server uses the connection's google/uuid tag); an
// empty clientID falls back to a random suffix, matching paho's own
// collision-avoidance advice for anonymous clients.
func New(cfg Config, clientID string) (*Client, error) {
	if cfg.Topic == "" {
		return nil, errTopicUnspecified()
	}
	if clientID == "" {
		clientID = fmt.Sprintf("libellium-ingest-%d", rand.Int63())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetAutoReconnect(false) // one session per frame; reconnection is the caller's concern, not this one's
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("publisher: connected to %s:%d", cfg.Broker, cfg.Port)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Printf("publisher: connection to %s:%d lost: %v", cfg.Broker, cfg.Port, err)
	})

	return &Client{cfg: cfg, mqttC: mqtt.NewClient(opts)}, nil
}

// Connect opens the broker connection and blocks until it either
// succeeds or ConnectTimeout elapses.
func (c *Client) Connect() error {
	token := c.mqttC.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return errConnect(c.cfg.Broker, fmt.Errorf("timed out after %s", c.cfg.ConnectTimeout))
	}
	if err := token.Error(); err != nil {
		return errConnect(c.cfg.Broker, err)
	}
	return nil
}

// Publish sends payload to the configured topic and blocks until it is
// acknowledged (QoS 1/2) or handed to the transport (QoS 0), or until
// PublishTimeout elapses.
func (c *Client) Publish(payload []byte) error {
	token := c.mqttC.Publish(c.cfg.Topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return errPublish(c.cfg.Topic, fmt.Errorf("timed out after %s", c.cfg.PublishTimeout))
	}
	if err := token.Error(); err != nil {
		return errPublish(c.cfg.Topic, err)
	}
	return nil
}

// Subscribe subscribes to CommandTopic, invoking handler for every
// message received. It is a no-op returning errTopicUnspecified if no
// CommandTopic was configured. Neither the ingest path nor the tap
// command calls it.
func (c *Client) Subscribe(handler func(topic string, payload []byte)) error {
	if c.cfg.CommandTopic == "" {
		return errTopicUnspecified()
	}
	token := c.mqttC.Subscribe(c.cfg.CommandTopic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return errSubscribe(c.cfg.CommandTopic, fmt.Errorf("timed out after %s", c.cfg.ConnectTimeout))
	}
	if err := token.Error(); err != nil {
		return errSubscribe(c.cfg.CommandTopic, err)
	}
	return nil
}

// Stop disconnects, quiescing for cfg.Disconnect so any in-flight QoS
// 1/2 acknowledgements can land first.
func (c *Client) Stop() {
	c.mqttC.Disconnect(uint(c.cfg.Disconnect.Milliseconds()))
}

// IsConnected reports whether the underlying transport is currently up.
func (c *Client) IsConnected() bool {
	return c.mqttC.IsConnected()
}
