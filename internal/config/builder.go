package config

import (
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/sweeney/sensor-node/internal/connectivity"
	"github.com/sweeney/sensor-node/internal/sensor"
)

// Backoff builds the retry delay policy. The exponential variant never gives
// up on its own; the attempt ceiling bounds retries instead.
func (c *Config) Backoff() backoff.BackOff {
	b := c.Connectivity.Backoff
	if b.Fixed {
		return backoff.NewConstantBackOff(b.Initial.Duration())
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial.Duration()
	eb.MaxInterval = b.Max.Duration()
	eb.Multiplier = b.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// ConnectivityConfig builds the connectivity machine configuration.
func (c *Config) ConnectivityConfig() connectivity.Config {
	return connectivity.Config{
		ConnectTimeout: c.Connectivity.ConnectTimeout.Duration(),
		AttemptCeiling: c.Connectivity.AttemptCeiling,
		Backoff:        c.Backoff(),
	}
}

// ProbeFunc creates the probe for one sensor.
type ProbeFunc func(s SensorConfig) sensor.Probe

// SysfsProbes builds a sysfs probe from each sensor's paths and scales.
func SysfsProbes(s SensorConfig) sensor.Probe {
	return &sensor.SysfsProbe{Paths: s.Paths, Scales: s.Scales}
}

// Channels builds one sampler channel per configured sensor.
func (c *Config) Channels(probe ProbeFunc) ([]sensor.Channel, error) {
	out := make([]sensor.Channel, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		kind, err := parseKind(s.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %s", s.Name)
		}
		policy, err := parsePolicy(s.Policy)
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %s", s.Name)
		}
		if s.Policy == "" {
			policy = kind.DefaultPolicy()
		}

		ranges := make([]sensor.Range, len(s.Ranges))
		for i, r := range s.Ranges {
			ranges[i] = sensor.Range{Min: r.Min, Max: r.Max}
		}

		out = append(out, sensor.Channel{
			Name:     s.Name,
			Kind:     kind,
			Probe:    probe(s),
			Interval: s.Interval.Duration(),
			Samples:  s.Samples,
			Policy:   policy,
			Ranges:   ranges,
		})
	}
	return out, nil
}

func parseKind(s string) (sensor.Kind, error) {
	switch k := sensor.Kind(s); k {
	case sensor.KindClimate, sensor.KindLight:
		return k, nil
	default:
		return "", errors.Errorf("unknown kind %q (want climate or light)", s)
	}
}

func parsePolicy(s string) (sensor.Policy, error) {
	switch s {
	case "":
		return sensor.RetainLastGood, nil
	case sensor.RetainLastGood.String():
		return sensor.RetainLastGood, nil
	case sensor.Invalidate.String():
		return sensor.Invalidate, nil
	default:
		return 0, errors.Errorf("unknown policy %q (want retain or invalidate)", s)
	}
}
