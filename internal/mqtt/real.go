package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/sweeney/sensor-node/internal/connectivity"
)

// DefaultConnectTimeout is used when Options.ConnectTimeout is unset.
const DefaultConnectTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	Topic       string
	SystemTopic string
	// ConnectTimeout is how long the connectivity machine waits for an
	// attempt. paho gives up slightly earlier, so an attempt never outlives
	// the machine's timeout and blocks the next Connect.
	ConnectTimeout time.Duration
	// SyncTimeout bounds how long a Sync system event waits.
	SyncTimeout time.Duration
}

// Client wraps a paho client. It satisfies connectivity.Transport (the
// connectivity machine owns connect and disconnect) and Uplink.
//
// paho's own reconnect logic is disabled; retries and backoff belong to the
// connectivity machine.
type Client struct {
	client paho.Client
	opts   Options

	mu    sync.Mutex
	token paho.Token
}

// NewClient creates an unconnected client.
func NewClient(o Options) *Client {
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.SystemTopic == "" {
		o.SystemTopic = DefaultSystemTopic
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 5 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})

	po := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(attemptTimeout(o.ConnectTimeout)).
		SetBinaryWill(o.SystemTopic, will, 1, true)

	return &Client{client: paho.NewClient(po), opts: o}
}

// attemptTimeout is paho's budget for one connect: 90% of the machine's.
func attemptTimeout(d time.Duration) time.Duration {
	return d * 9 / 10
}

// Connect starts a connection attempt and returns immediately.
func (c *Client) Connect() {
	t := c.client.Connect()
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

// Disconnect drops the connection without waiting for in-flight work. An
// attempt still in flight is left to expire on its own; it always does so
// before the machine's connect timeout.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
	if c.client.IsConnected() {
		c.client.Disconnect(0)
	}
}

// Status reports the link state from the last Connect.
func (c *Client) Status() connectivity.LinkStatus {
	if c.client.IsConnectionOpen() {
		return connectivity.LinkUp
	}

	c.mu.Lock()
	t := c.token
	c.mu.Unlock()
	if t == nil {
		return connectivity.LinkDown
	}

	select {
	case <-t.Done():
		if t.Error() != nil {
			return connectivity.LinkFailed
		}
		// Connected once, lost since.
		return connectivity.LinkDown
	default:
		return connectivity.LinkPending
	}
}

// LastError returns the error from the last connect attempt, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return nil
	}
	return c.token.Error()
}

// PublishFrame sends a telemetry frame without waiting for it to be written.
func (c *Client) PublishFrame(frame []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	// QoS 0 (at-most-once), not retained
	c.client.Publish(c.opts.Topic, 0, false, frame)
	return nil
}

// PublishSystem sends a system lifecycle event. Only Sync events wait.
func (c *Client) PublishSystem(event SystemEvent) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.Wrap(err, "format system payload")
	}

	// QoS 1 (at-least-once) for system events
	token := c.client.Publish(c.opts.SystemTopic, 1, event.Retained, payload)
	if !event.Sync {
		return nil
	}
	if !token.WaitTimeout(c.opts.SyncTimeout) {
		return errors.New("publish system timeout")
	}
	return errors.Wrap(token.Error(), "publish system")
}

// Close disconnects from the broker, allowing 1s for in-flight messages.
func (c *Client) Close() error {
	if c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
	return nil
}
