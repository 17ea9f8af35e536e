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

package timesync

// Steady-state frequency trim, adapted from servo.PiServo: a proportional
// term reacts to the latest offset, an integral term accumulates to cancel
// steady drift, and the combined correction is clamped before it reaches
// the clock. Unlike PiServo this has no spike filter or ring-buffered
// stddev gate, since offsetWindow (stats.Window) already smooths the beacon
// stream before a sample ever reaches the servo.
const (
	defaultServoKp     = 0.02
	defaultServoKi     = 0.004
	defaultServoMaxPPB = 100_000.0
)

// piServo folds successive offset estimates into a clamped frequency trim.
type piServo struct {
	kp, ki   float64
	maxPPB   float64
	integral float64
}

func newPiServo() *piServo {
	return &piServo{kp: defaultServoKp, ki: defaultServoKi, maxPPB: defaultServoMaxPPB}
}

// sample folds one offset estimate (microseconds) into the servo and
// returns the frequency trim to apply, in parts per billion.
func (s *piServo) sample(offsetUS float64) float64 {
	s.integral += s.ki * offsetUS
	s.integral = clampPPB(s.integral, s.maxPPB)
	return clampPPB(s.kp*offsetUS+s.integral, s.maxPPB)
}

func clampPPB(ppb, max float64) float64 {
	if ppb > max {
		return max
	}
	if ppb < -max {
		return -max
	}
	return ppb
}
