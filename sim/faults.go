package sim

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// FaultProfile controls the latency and loss the kernel injects into
// simulated disk and network operations. Every injected fault draws from
// the runtime's shared RandomHandle, so a fixed seed fixes the whole fault
// trace. A zero max disables the corresponding delay; a zero drop rate
// disables message loss.
type FaultProfile struct {
	DiskDelayMin time.Duration `yaml:"disk_delay_min"`
	DiskDelayMax time.Duration `yaml:"disk_delay_max"`
	NetDelayMin  time.Duration `yaml:"net_delay_min"`
	NetDelayMax  time.Duration `yaml:"net_delay_max"`
	NetDropRate  float64       `yaml:"net_drop_rate"`
}

// DefaultFaultProfile returns the jitter applied when the caller does not
// supply a profile: sub-millisecond disk latency, single-digit-millisecond
// network latency, no message loss.
func DefaultFaultProfile() FaultProfile {
	return FaultProfile{
		DiskDelayMin: 50 * time.Microsecond,
		DiskDelayMax: 1 * time.Millisecond,
		NetDelayMin:  500 * time.Microsecond,
		NetDelayMax:  5 * time.Millisecond,
		NetDropRate:  0,
	}
}

// Validate reports profiles the kernel cannot honor.
func (fp FaultProfile) Validate() error {
	if fp.DiskDelayMin < 0 || fp.NetDelayMin < 0 {
		return fmt.Errorf("fault profile: negative delay")
	}
	if fp.DiskDelayMax < fp.DiskDelayMin {
		return fmt.Errorf("fault profile: disk_delay_max %v < disk_delay_min %v", fp.DiskDelayMax, fp.DiskDelayMin)
	}
	if fp.NetDelayMax < fp.NetDelayMin {
		return fmt.Errorf("fault profile: net_delay_max %v < net_delay_min %v", fp.NetDelayMax, fp.NetDelayMin)
	}
	if fp.NetDropRate < 0 || fp.NetDropRate > 1 {
		return fmt.Errorf("fault profile: net_drop_rate %v outside [0, 1]", fp.NetDropRate)
	}
	return nil
}

// UnmarshalYAML parses durations from strings like "500us" or "2ms".
func (fp *FaultProfile) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		DiskDelayMin string  `yaml:"disk_delay_min"`
		DiskDelayMax string  `yaml:"disk_delay_max"`
		NetDelayMin  string  `yaml:"net_delay_min"`
		NetDelayMax  string  `yaml:"net_delay_max"`
		NetDropRate  float64 `yaml:"net_drop_rate"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parse := func(field, s string, dst *time.Duration) error {
		if s == "" {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("fault profile: %s: %w", field, err)
		}
		*dst = d
		return nil
	}
	*fp = FaultProfile{NetDropRate: raw.NetDropRate}
	if err := parse("disk_delay_min", raw.DiskDelayMin, &fp.DiskDelayMin); err != nil {
		return err
	}
	if err := parse("disk_delay_max", raw.DiskDelayMax, &fp.DiskDelayMax); err != nil {
		return err
	}
	if err := parse("net_delay_min", raw.NetDelayMin, &fp.NetDelayMin); err != nil {
		return err
	}
	if err := parse("net_delay_max", raw.NetDelayMax, &fp.NetDelayMax); err != nil {
		return err
	}
	return fp.Validate()
}
