package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CALEB-creator15/sih-backend-project/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler processes one inbound message. A returned error is logged and
// does not affect the subscription.
type MessageHandler func(topic string, payload []byte) error

// ConnectionListener is notified on every (re)connect and connection loss.
type ConnectionListener func(connected bool, err error)

var (
	ErrNotConnected   = errors.New("mqtt client not connected")
	ErrPublishTimeout = errors.New("mqtt publish not acknowledged in time")
)

const defaultPublishTimeout = 10 * time.Second

type subscription struct {
	qos   byte
	inbox *inbox
}

// Client wraps a paho client. Subscriptions are remembered and re-applied after
// an automatic reconnect, since sessions are clean. Each subscription's handler
// runs on its own goroutine fed in arrival order, so a slow handler never
// stalls paho's network loop.
type Client struct {
	client         mqtt.Client
	config         *config.MQTTConfig
	logger         *zap.Logger
	publishTimeout time.Duration

	mu            sync.RWMutex
	subscriptions map[string]subscription
	listeners     []ConnectionListener
}

// NewClient builds the client without connecting; call Connect.
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		config:         cfg,
		logger:         logger,
		publishTimeout: cfg.PublishTimeout,
		subscriptions:  make(map[string]subscription),
	}
	if c.publishTimeout <= 0 {
		c.publishTimeout = defaultPublishTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	// paho calls back in arrival order from its network loop; the callback
	// only pushes into the subscription's inbox
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// OnConnectionChange registers a listener. Must be called before Connect to
// observe the first connection.
func (c *Client) OnConnectionChange(l ConnectionListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Connect dials the broker and blocks until connected, failed, or ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.config.Broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.config.Broker, err)
	}
	return nil
}

// Subscribe subscribes and remembers the subscription for reconnects. The
// handler may block; messages arriving meanwhile wait in order.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	in := newInbox(handler, c.logger)
	if err := c.subscribe(topic, qos, in); err != nil {
		in.close()
		return err
	}

	c.mu.Lock()
	old := c.subscriptions[topic]
	c.subscriptions[topic] = subscription{qos: qos, inbox: in}
	c.mu.Unlock()
	old.inbox.close()
	return nil
}

func (c *Client) subscribe(topic string, qos byte, in *inbox) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		in.push(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Publish publishes and waits for the broker acknowledgement (QoS > 0), at
// most PublishTimeout.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, ErrNotConnected)
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, ErrPublishTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Unsubscribe drops the subscriptions, including the reconnect record.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		c.subscriptions[t].inbox.close()
		delete(c.subscriptions, t)
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("failed to unsubscribe: timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Disconnect waits up to 250ms for in-flight work before closing. Remaining
// subscriptions are dropped along with their undelivered messages.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)

	c.mu.Lock()
	for topic, s := range c.subscriptions {
		s.inbox.close()
		delete(c.subscriptions, topic)
	}
	c.mu.Unlock()

	c.notify(false, nil)
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Backlog messages received on topic and still waiting for its handler.
func (c *Client) Backlog(topic string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[topic].inbox.backlog()
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subscriptions))
	for topic, s := range c.subscriptions {
		subs[topic] = s
	}
	c.mu.RUnlock()

	var resubErr error
	for topic, s := range subs {
		if err := c.subscribe(topic, s.qos, s.inbox); err != nil {
			c.logger.Error("Failed to restore subscription", zap.String("topic", topic), zap.Error(err))
			resubErr = errors.Join(resubErr, err)
		}
	}

	c.logger.Info("Connected to MQTT broker",
		zap.String("broker", c.config.Broker),
		zap.Int("restored_subscriptions", len(subs)),
	)
	c.notify(resubErr == nil, resubErr)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection lost", zap.String("broker", c.config.Broker), zap.Error(err))
	c.notify(false, err)
}

func (c *Client) notify(connected bool, err error) {
	c.mu.RLock()
	listeners := append([]ConnectionListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, l := range listeners {
		l(connected, err)
	}
}
