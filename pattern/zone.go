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

package pattern

import "github.com/lemonforest/mlehaptics-sub002/role"

// Zone selects which segment column (LEFT/RIGHT) this device drives.
type Zone uint8

const (
	ZoneLeft Zone = iota
	ZoneRight
)

func (z Zone) String() string {
	if z == ZoneRight {
		return "RIGHT"
	}
	return "LEFT"
}

// ZoneMode is Auto (derived from Role) or Manual (explicitly stored).
type ZoneMode uint8

const (
	ZoneModeAuto ZoneMode = iota
	ZoneModeManual
)

// ZoneConfig resolves the effective Zone for a playback tick. Mode changes
// take effect on the next tick only; they never retroactively re-address
// past ticks.
type ZoneConfig struct {
	Mode   ZoneMode
	Manual Zone
}

// Resolve returns the effective zone given the current role (used only in
// Auto mode).
func (z ZoneConfig) Resolve(r role.Role) Zone {
	if z.Mode == ZoneModeManual {
		return z.Manual
	}
	if r == role.RoleServer {
		return ZoneRight
	}
	return ZoneLeft
}
