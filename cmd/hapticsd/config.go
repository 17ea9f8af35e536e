/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/lemonforest/mlehaptics-sub002/pattern"
	"github.com/lemonforest/mlehaptics-sub002/role"
	"github.com/lemonforest/mlehaptics-sub002/timesync"
)

// Config specifies hapticsd's run options, matching the teacher's
// Config/DefaultConfig/Validate/ReadConfig idiom (ptp/sptp/client.Config).
type Config struct {
	RadioChannel   uint8
	MetricsAddr    string
	BeaconInterval time.Duration
	ZoneMode       pattern.ZoneMode
	MetricsWindow  time.Duration
	NVSPath        string
}

// DefaultConfig returns Config initialized with default values.
func DefaultConfig() *Config {
	return &Config{
		RadioChannel:   6,
		MetricsAddr:    ":9469",
		BeaconInterval: timesync.DefaultBeaconInterval,
		ZoneMode:       pattern.ZoneModeAuto,
		MetricsWindow:  60 * time.Second,
		NVSPath:        "/var/lib/hapticsd/nvs.json",
	}
}

// Validate confirms cfg is sane.
func (c *Config) Validate() error {
	if c.BeaconInterval <= 0 {
		return fmt.Errorf("beaconinterval must be greater than zero")
	}
	if c.MetricsWindow <= 0 {
		return fmt.Errorf("metricswindow must be greater than zero")
	}
	if c.MetricsAddr == "" {
		return fmt.Errorf("metricsaddr must be specified")
	}
	return nil
}

// ReadConfig reads config from path, falling back to defaults for any
// field the file omits.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// roleFromFlag maps a CLI/"mode" string to a starting role bias; Negotiate
// still runs, this only seeds advertisedFirst for the daemon command.
func roleFromFlag(s string) role.Role {
	switch s {
	case "server":
		return role.RoleServer
	case "client":
		return role.RoleClient
	default:
		return role.RoleUndetermined
	}
}
