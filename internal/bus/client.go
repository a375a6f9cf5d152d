package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/destryteeter/botlab/internal/microservice"
	logx "github.com/destryteeter/botlab/pkg/logx"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 500 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	maxPayloadSize = 1 << 20
	maxQoS         = 2
)

// Config controls the broker connection.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Prefix         string
	QoS            byte
	RatePerSec     int
	Burst          int
	ConnectTimeout time.Duration

	// InstanceID is stamped as fromAppInstanceId on outbound messages.
	InstanceID string
}

// MessageHandler receives raw messages. Errors are logged.
type MessageHandler func(topic string, payload []byte) error

// Client wraps paho with publish rate limiting and subscription restore.
type Client struct {
	client  pahomqtt.Client
	cfg     Config
	topics  Topics
	log     logx.Logger
	limiter *rate.Limiter

	subMu sync.RWMutex
	subs  map[string]MessageHandler
}

// Connect dials the broker and waits for the first connection.
func Connect(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, fmt.Errorf("%w: broker is required", ErrConnectFailed)
	}
	if cfg.QoS > maxQoS {
		cfg.QoS = maxQoS
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:     cfg,
		topics:  Topics{Prefix: cfg.Prefix},
		log:     log.With(logx.String("component", "bus")),
		limiter: newLimiter(cfg.RatePerSec, cfg.Burst),
		subs:    map[string]MessageHandler{},
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.log.Info("bus connected", logx.String("broker", cfg.Broker))
		c.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.log.Warn("bus connection lost", logx.Err(err))
	})

	c.client = pahomqtt.NewClient(opts)
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectFailed, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return c, nil
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "botlab-" + cfg.InstanceID
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	return opts
}

func newLimiter(rps, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = rps
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics { return c.topics }

// Publish sends a datastream message to <prefix>/datastream/<address>.
func (c *Client) Publish(ctx context.Context, m microservice.Message) error {
	if m.Address == "" {
		return ErrInvalidTopic
	}
	if m.FromInstanceID == "" {
		m.FromInstanceID = c.cfg.InstanceID
	}
	if m.Feed == nil {
		m.Feed = map[string]any{}
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return c.PublishRaw(ctx, c.topics.Datastream(m.Address), payload)
}

// PublishRaw sends payload to topic, waiting on the rate limiter first.
func (c *Client) PublishRaw(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic. Subscriptions survive reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	c.subMu.Lock()
	c.subs[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.cfg.QoS, c.wrap(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subs, topic)
	c.subMu.Unlock()
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, h := range c.subs {
		c.client.Subscribe(topic, c.cfg.QoS, c.wrap(h))
	}
}

func (c *Client) wrap(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("bus handler panic recovered",
					logx.String("topic", msg.Topic()),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.log.Warn("bus handler failed", logx.String("topic", msg.Topic()), logx.Err(err))
		}
	}
}

// Close disconnects, letting in-flight work drain briefly.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
