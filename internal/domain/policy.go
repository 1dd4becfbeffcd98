package domain

import "fmt"

// Policy is an immutable snapshot of the deployment-tunable rules. A new
// snapshot replaces the old one wholesale on reload.
type Policy struct {
	Thresholds       Thresholds
	DeviceThresholds map[string]Thresholds
	Noise            NoisePolicy
	Trend            TrendPolicy
	Gate             GatePolicy
}

// DefaultPolicy returns the built-in rules used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds: DefaultThresholds(),
		Noise:      DefaultNoisePolicy(),
		Trend:      DefaultTrendPolicy(),
		Gate:       DefaultGatePolicy(),
	}
}

// ThresholdsFor returns the device override if one exists, else the deployment table.
func (p Policy) ThresholdsFor(deviceID string) Thresholds {
	if t, ok := p.DeviceThresholds[deviceID]; ok {
		return t
	}
	return p.Thresholds
}

func (p Policy) Validate() error {
	if err := p.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	for id, t := range p.DeviceThresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("thresholds for device %s: %w", id, err)
		}
	}
	if err := p.Noise.Validate(); err != nil {
		return err
	}
	if err := p.Trend.Validate(); err != nil {
		return err
	}
	return p.Gate.Validate()
}
