package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/imag1ne/madsim/sim"
)

// LoadFaultProfile reads a fault profile from a YAML file. Durations are
// strings accepted by time.ParseDuration ("200us", "3ms"). The file
// replaces the default profile: a field left out disables that injection.
//
//	disk_delay_min: 100us
//	disk_delay_max: 2ms
//	net_delay_min: 1ms
//	net_delay_max: 20ms
//	net_drop_rate: 0.05
func LoadFaultProfile(path string) (sim.FaultProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sim.FaultProfile{}, fmt.Errorf("fault profile %q: %w", path, err)
	}
	var profile sim.FaultProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return sim.FaultProfile{}, fmt.Errorf("fault profile %q: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return sim.FaultProfile{}, fmt.Errorf("fault profile %q: %w", path, err)
	}
	return profile, nil
}
