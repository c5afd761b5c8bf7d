package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pulse-monitor/internal/reconcile"
)

const (
	// publishTimeout is deliberately short: a wedged link must not
	// stall the accounting loop, and unconfirmed state messages are
	// replaced by fresher ones anyway.
	publishTimeout   = 2 * time.Second
	subscribeTimeout = 5 * time.Second
	backlogCapacity  = 256
)

// Options wires a RealClient to a broker and to the main loop.
type Options struct {
	Broker   string
	Username string
	Password string
	DeviceID string
	// Channels bounds the channel index parsed from command topics.
	Channels int
	// Commands receives inbound overrides and connection events. The
	// push never blocks; when the loop is this far behind, a dropped
	// override is the lesser harm.
	Commands chan<- reconcile.Command
}

// RealClient publishes to an actual MQTT broker. The connection is
// established and maintained in the background; accounting never
// waits for it. State messages produced while disconnected spool into
// a ring buffer and replay on reconnect.
type RealClient struct {
	client  paho.Client
	topics  Topics
	opts    Options
	backlog *ringBuffer

	mu        sync.Mutex
	connected bool // a connect has happened before
}

// NewRealClient starts a client for the given broker. The first
// connection attempt proceeds in the background with retry, so this
// never blocks boot.
func NewRealClient(o Options) *RealClient {
	c := &RealClient{
		topics:  NewTopics(o.DeviceID),
		opts:    o,
		backlog: newRingBuffer(backlogCapacity),
	}

	popts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID("pulse-monitor_" + o.DeviceID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(c.topics.Online(), "False", 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})
	if o.Username != "" {
		popts.SetUsername(o.Username)
		popts.SetPassword(o.Password)
	}

	c.client = paho.NewClient(popts)
	token := c.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("mqtt: connect to %s: %v (retrying)", o.Broker, err)
		}
	}()
	return c
}

// onConnect runs on every session start: restore subscriptions, mark
// the device available, hand the loop a Connected event, then flush
// whatever state spooled while offline.
func (c *RealClient) onConnect(_ paho.Client) {
	log.Printf("mqtt: connected to %s", c.opts.Broker)

	c.subscribe(c.topics.ThresholdWildcard(), c.handleThreshold)
	c.subscribe(c.topics.Correction(), c.handleCorrection)
	c.subscribe(c.topics.SubtotalReset(), c.handleSubtotalReset)
	c.subscribe(TopicDashboardStatus, c.handleDashboardStatus)

	if err := c.PublishAvailability(true); err != nil {
		log.Printf("mqtt: %v", err)
	}

	c.mu.Lock()
	first := !c.connected
	c.connected = true
	c.mu.Unlock()
	c.sendCommand(reconcile.Connected{First: first})

	for _, msg := range c.backlog.drainAll() {
		if err := c.publish(msg.topic, 0, false, msg.payload); err != nil {
			log.Printf("mqtt: replay backlog: %v", err)
		}
	}
}

func (c *RealClient) subscribe(topic string, handler paho.MessageHandler) {
	token := c.client.Subscribe(topic, 1, handler)
	if !token.WaitTimeout(subscribeTimeout) {
		log.Printf("mqtt: subscribe %s: timeout", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe %s: %v", topic, err)
	}
}

func (c *RealClient) handleThreshold(_ paho.Client, msg paho.Message) {
	channel, err := reconcile.ChannelFromTopic(msg.Topic(), c.topics.Device(), c.opts.Channels)
	if err != nil {
		log.Printf("mqtt: %v", err)
		return
	}
	units, err := reconcile.ParsePreset(msg.Payload())
	if err != nil {
		log.Printf("mqtt: %v", err)
		return
	}
	c.sendCommand(reconcile.PresetTotal{Channel: channel, Units: units})
}

func (c *RealClient) handleCorrection(_ paho.Client, msg paho.Message) {
	ms, err := reconcile.ParseCorrection(msg.Payload())
	if err != nil {
		log.Printf("mqtt: %v", err)
		return
	}
	c.sendCommand(reconcile.SetCorrection{Ms: ms})
}

func (c *RealClient) handleSubtotalReset(_ paho.Client, _ paho.Message) {
	c.sendCommand(reconcile.SubtotalReset{})
}

func (c *RealClient) handleDashboardStatus(_ paho.Client, _ paho.Message) {
	c.sendCommand(reconcile.Republish{})
}

// sendCommand forwards to the main loop without ever blocking the
// broker's router goroutine.
func (c *RealClient) sendCommand(cmd reconcile.Command) {
	select {
	case c.opts.Commands <- cmd:
	default:
		log.Printf("mqtt: command queue full, dropping %T", cmd)
	}
}

// PublishState sends one channel's state, or spools it while the
// broker is unreachable.
func (c *RealClient) PublishState(channel int, p StatePayload) error {
	payload, err := FormatState(p)
	if err != nil {
		return fmt.Errorf("format state: %w", err)
	}
	topic := c.topics.State(channel)
	if !c.IsConnected() {
		c.backlog.push(bufferedMsg{topic: topic, payload: payload})
		return nil
	}
	return c.publish(topic, 0, false, payload)
}

// PublishDiscovery announces the channel's three entities.
func (c *RealClient) PublishDiscovery(channel int, meterName string) error {
	for _, e := range Entities {
		payload, err := FormatDiscovery(c.topics, e, channel, meterName)
		if err != nil {
			return fmt.Errorf("format discovery: %w", err)
		}
		if err := c.publish(c.topics.Discovery(e, channel), 0, false, payload); err != nil {
			return err
		}
	}
	return nil
}

// PublishVersion announces the build identity, retained.
func (c *RealClient) PublishVersion(v string) error {
	return c.publish(c.topics.Version(), 0, true, []byte(v))
}

// PublishStatus publishes a status line, retained.
func (c *RealClient) PublishStatus(msg string) error {
	return c.publish(c.topics.Status(), 0, true, []byte(msg))
}

// PublishAvailability marks the device online or offline, retained.
// The broker's last will covers ungraceful exits with the same topic.
func (c *RealClient) PublishAvailability(online bool) error {
	payload := "False"
	if online {
		payload = "True"
	}
	return c.publish(c.topics.Online(), 0, true, []byte(payload))
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker session is open right now.
// Paho's own IsConnected also answers true while connect-retrying or
// auto-reconnecting; only IsConnectionOpen tracks the live session.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}

var (
	_ Publisher        = (*RealClient)(nil)
	_ ConnectionStatus = (*RealClient)(nil)
)
