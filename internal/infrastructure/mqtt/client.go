package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/domo-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the optional state publisher.
//
// The bridge publishes board snapshots and derived entity states as
// retained messages; nothing is subscribed. All methods are safe for
// concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the optional logging interface accepted by the client.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

// Connect establishes the broker connection and publishes the online
// status. The broker's Last Will announces an unexpected disconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)

	c := &Client{cfg: cfg}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.connMu.Lock()
		c.connected = true
		c.connMu.Unlock()
		c.publishOnline()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()
		c.warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// SetLogger sets the optional logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected reports the current broker connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Close publishes the graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client != nil && c.client.IsConnected() {
		token := c.client.Publish(c.statusTopic(), 1, true, buildOfflinePayload(c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
		c.client.Disconnect(defaultDisconnectQuiesce)
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// publishOnline announces the bridge on the status topic.
func (c *Client) publishOnline() {
	token := c.client.Publish(c.statusTopic(), 1, true, buildOnlinePayload(c.cfg.Broker.ClientID))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.warn("mqtt online status publish timed out")
	}
}

// statusTopic is the LWT/online topic under the configured prefix.
func (c *Client) statusTopic() string {
	return c.cfg.TopicPrefix + "/system/status"
}

// StateTopic returns the topic for one state entry, e.g.
// domobridge/state/board/5 or domobridge/state/light/luce-sala.
func (c *Client) StateTopic(kind, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", c.cfg.TopicPrefix, kind, id)
}

// warn logs through the optional logger.
func (c *Client) warn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
