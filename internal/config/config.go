// Package config loads the node configuration from YAML.
//
// Every field has a default, so an empty file (or no file at all) yields a
// runnable node. Example:
//
//	loop_period: 10ms
//	input:
//	  pin: 17
//	  long_press: 3s
//	sensors:
//	  - name: dht22
//	    kind: climate
//	    interval: 2s
//	    paths:
//	      - /sys/bus/iio/devices/iio:device0/in_temp_input
//	      - /sys/bus/iio/devices/iio:device0/in_humidityrelative_input
//	    scales: [0.001, 0.001]
//	mqtt:
//	  broker: tcp://192.168.1.200:1883
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/sensor-node/internal/sensor"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the root configuration.
type Config struct {
	LoopPeriod      Duration           `yaml:"loop_period"`
	LogLevel        string             `yaml:"log_level"`
	Input           InputConfig        `yaml:"input"`
	Sensors         []SensorConfig     `yaml:"sensors"`
	History         HistoryConfig      `yaml:"history"`
	Connectivity    ConnectivityConfig `yaml:"connectivity"`
	Publisher       PublisherConfig    `yaml:"publisher"`
	Scheduler       SchedulerConfig    `yaml:"scheduler"`
	HTTP            HTTPConfig         `yaml:"http"`
	MQTT            MQTTConfig         `yaml:"mqtt"`
	CredentialsFile string             `yaml:"credentials_file"`
}

// InputConfig describes the button line.
type InputConfig struct {
	Chip      string   `yaml:"chip"`
	Pin       int      `yaml:"pin"`
	Debounce  Duration `yaml:"debounce"`
	LongPress Duration `yaml:"long_press"`
	ActiveLow bool     `yaml:"active_low"`
	// QueueSize bounds pending edge events from the line watcher.
	QueueSize int `yaml:"queue_size"`
}

// SensorConfig describes one physical sensor.
type SensorConfig struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Interval Duration `yaml:"interval"`
	Samples  int      `yaml:"samples"`
	// Policy is "retain" or "invalidate"; empty uses the kind's default.
	Policy string        `yaml:"policy"`
	Ranges []RangeConfig `yaml:"ranges"`
	// Paths are sysfs attributes, one per field.
	Paths  []string  `yaml:"paths"`
	Scales []float64 `yaml:"scales"`
}

// RangeConfig bounds one field.
type RangeConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// HistoryConfig sizes the history ring.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// ConnectivityConfig bounds link retries.
type ConnectivityConfig struct {
	ConnectTimeout Duration      `yaml:"connect_timeout"`
	AttemptCeiling int           `yaml:"attempt_ceiling"`
	Backoff        BackoffConfig `yaml:"backoff"`
	Tick           Duration      `yaml:"tick"`
	// AutoStart begins connecting at boot instead of waiting for a long press.
	AutoStart bool `yaml:"auto_start"`
}

// BackoffConfig shapes the delay between connect attempts.
type BackoffConfig struct {
	Initial    Duration `yaml:"initial"`
	Max        Duration `yaml:"max"`
	Multiplier float64  `yaml:"multiplier"`
	Fixed      bool     `yaml:"fixed"`
}

// PublisherConfig controls push delivery.
type PublisherConfig struct {
	BroadcastInterval Duration `yaml:"broadcast_interval"`
	MaxSubscribers    int      `yaml:"max_subscribers"`
	SendBuffer        int      `yaml:"send_buffer"`
}

// SchedulerConfig sizes the task table.
type SchedulerConfig struct {
	MaxTasks int `yaml:"max_tasks"`
}

// HTTPConfig configures the pull API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig configures the broker uplink.
type MQTTConfig struct {
	Broker      string   `yaml:"broker"`
	ClientID    string   `yaml:"client_id"`
	Topic       string   `yaml:"topic"`
	SystemTopic string   `yaml:"system_topic"`
	Heartbeat   Duration `yaml:"heartbeat"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LoopPeriod: Duration(10 * time.Millisecond),
		LogLevel:   "info",
		Input: InputConfig{
			Chip:      "gpiochip0",
			Pin:       17,
			Debounce:  Duration(50 * time.Millisecond),
			LongPress: Duration(3 * time.Second),
			ActiveLow: true,
			QueueSize: 32,
		},
		Sensors: []SensorConfig{
			{
				Name:     "dht22",
				Kind:     "climate",
				Interval: Duration(2 * time.Second),
				Samples:  1,
				Paths: []string{
					"/sys/bus/iio/devices/iio:device0/in_temp_input",
					"/sys/bus/iio/devices/iio:device0/in_humidityrelative_input",
				},
				Scales: []float64{0.001, 0.001},
			},
			{
				Name:     "ldr",
				Kind:     "light",
				Interval: Duration(500 * time.Millisecond),
				Samples:  4,
				Paths:    []string{"/sys/bus/iio/devices/iio:device1/in_voltage0_raw"},
			},
		},
		History: HistoryConfig{Capacity: 60},
		Connectivity: ConnectivityConfig{
			ConnectTimeout: Duration(10 * time.Second),
			AttemptCeiling: 5,
			Backoff: BackoffConfig{
				Initial:    Duration(time.Second),
				Max:        Duration(30 * time.Second),
				Multiplier: 2,
			},
			Tick:      Duration(100 * time.Millisecond),
			AutoStart: true,
		},
		Publisher: PublisherConfig{
			BroadcastInterval: Duration(time.Second),
			MaxSubscribers:    8,
			SendBuffer:        4,
		},
		Scheduler: SchedulerConfig{MaxTasks: 16},
		HTTP:      HTTPConfig{Addr: ":8080"},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "sensor-node",
			Topic:       "sensor-node/telemetry",
			SystemTopic: "sensor-node/system",
			Heartbeat:   Duration(15 * time.Minute),
		},
	}
}

// Load reads and validates a YAML config file. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field, returning the first problem wrapped in ErrInvalid.
func (c *Config) Validate() error {
	if c.LoopPeriod.Duration() <= 0 {
		return invalid("loop_period must be positive, got %s", c.LoopPeriod.Duration())
	}
	if c.Input.Pin < 0 {
		return invalid("input.pin cannot be negative, got %d", c.Input.Pin)
	}
	if c.Input.Debounce.Duration() < 0 {
		return invalid("input.debounce cannot be negative, got %s", c.Input.Debounce.Duration())
	}
	if c.Input.LongPress.Duration() < 0 {
		return invalid("input.long_press cannot be negative, got %s", c.Input.LongPress.Duration())
	}
	if c.Input.QueueSize < 1 {
		return invalid("input.queue_size must be at least 1, got %d", c.Input.QueueSize)
	}

	names := make(map[string]bool, len(c.Sensors))
	owners := make(map[sensor.Field]string)
	for i, s := range c.Sensors {
		if s.Name == "" {
			return invalid("sensors[%d]: name is required", i)
		}
		if names[s.Name] {
			return invalid("sensors[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true
		kind, err := parseKind(s.Kind)
		if err != nil {
			return invalid("sensors[%d] (%s): %v", i, s.Name, err)
		}
		fields := kind.Fields()
		for _, f := range fields {
			if owner, ok := owners[f]; ok {
				return invalid("sensors[%d] (%s): field %s already provided by %q", i, s.Name, f, owner)
			}
			owners[f] = s.Name
		}
		if len(s.Paths) != len(fields) {
			return invalid("sensors[%d] (%s): paths has %d entries, want %d", i, s.Name, len(s.Paths), len(fields))
		}
		if len(s.Scales) != 0 && len(s.Scales) != len(fields) {
			return invalid("sensors[%d] (%s): scales has %d entries, want 0 or %d", i, s.Name, len(s.Scales), len(fields))
		}
		if len(s.Ranges) != 0 && len(s.Ranges) != len(fields) {
			return invalid("sensors[%d] (%s): ranges has %d entries, want 0 or %d", i, s.Name, len(s.Ranges), len(fields))
		}
		if _, err := parsePolicy(s.Policy); err != nil {
			return invalid("sensors[%d] (%s): %v", i, s.Name, err)
		}
		if s.Interval.Duration() <= 0 {
			return invalid("sensors[%d] (%s): interval must be positive", i, s.Name)
		}
		if s.Samples < 0 {
			return invalid("sensors[%d] (%s): samples cannot be negative", i, s.Name)
		}
		for j, r := range s.Ranges {
			if r.Min > r.Max {
				return invalid("sensors[%d] (%s): ranges[%d] min %g exceeds max %g", i, s.Name, j, r.Min, r.Max)
			}
		}
	}

	if c.History.Capacity < 1 {
		return invalid("history.capacity must be at least 1, got %d", c.History.Capacity)
	}

	cc := c.Connectivity
	if cc.ConnectTimeout.Duration() <= 0 {
		return invalid("connectivity.connect_timeout must be positive")
	}
	if cc.AttemptCeiling < 1 {
		return invalid("connectivity.attempt_ceiling must be at least 1, got %d", cc.AttemptCeiling)
	}
	if cc.Tick.Duration() <= 0 {
		return invalid("connectivity.tick must be positive")
	}
	if cc.Backoff.Initial.Duration() <= 0 {
		return invalid("connectivity.backoff.initial must be positive")
	}
	if !cc.Backoff.Fixed {
		if cc.Backoff.Multiplier < 1 {
			return invalid("connectivity.backoff.multiplier must be at least 1, got %g", cc.Backoff.Multiplier)
		}
		if cc.Backoff.Max.Duration() < cc.Backoff.Initial.Duration() {
			return invalid("connectivity.backoff.max must not be below initial")
		}
	}

	if c.Publisher.BroadcastInterval.Duration() <= 0 {
		return invalid("publisher.broadcast_interval must be positive")
	}
	if c.Publisher.MaxSubscribers < 1 {
		return invalid("publisher.max_subscribers must be at least 1, got %d", c.Publisher.MaxSubscribers)
	}
	if c.Publisher.SendBuffer < 1 {
		return invalid("publisher.send_buffer must be at least 1, got %d", c.Publisher.SendBuffer)
	}

	if need := c.TaskCount(); c.Scheduler.MaxTasks < need {
		return invalid("scheduler.max_tasks is %d but %d tasks are configured", c.Scheduler.MaxTasks, need)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return invalid("mqtt.client_id is required when a broker is set")
	}
	if c.MQTT.Heartbeat.Duration() < 0 {
		return invalid("mqtt.heartbeat cannot be negative")
	}
	return nil
}

// FixedTasks is the number of scheduler tasks the node registers besides one
// per sensor: button poll, connectivity tick, broadcast, heartbeat, sample-now.
const FixedTasks = 5

// TaskCount returns how many scheduler tasks this configuration needs.
func (c *Config) TaskCount() int {
	return len(c.Sensors) + FixedTasks
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

// Credentials authenticate the node to the broker.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// String never reveals the password.
func (c Credentials) String() string {
	if c.Password == "" {
		return c.Username
	}
	return c.Username + ":****"
}

// LoadCredentials reads the credential file once. An empty path yields empty
// credentials.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials
	if path == "" {
		return creds, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return creds, errors.Wrap(err, "failed to read credentials file")
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, errors.Wrap(err, "failed to parse credentials file")
	}
	return creds, nil
}
