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

// Package tdm schedules low-latency radio bursts into the gaps between BLE
// connection events, so the coexisting BLE stack is never starved.
package tdm

import (
	"time"

	"github.com/lemonforest/mlehaptics-sub002/timebase"
)

// Config describes one TDM schedule: BLE connection events recur every
// Interval; a window of width Width, centered at offset Offset from the
// start of each interval, is considered radio-safe.
type Config struct {
	Interval time.Duration
	Offset   time.Duration
	Width    time.Duration
}

// DefaultConfig holds the default numbers: 50ms BLE interval,
// 20ms window centered at 25ms.
func DefaultConfig() Config {
	return Config{
		Interval: 50 * time.Millisecond,
		Offset:   25 * time.Millisecond,
		Width:    20 * time.Millisecond,
	}
}

// Scheduler computes and waits for TDM-safe windows.
type Scheduler struct {
	cfg Config
}

// NewScheduler creates a Scheduler from cfg.
func NewScheduler(cfg Config) *Scheduler {
	return &Scheduler{cfg: cfg}
}

// IsSafe reports whether now falls inside the radio-safe window.
func (s *Scheduler) IsSafe(now time.Duration) bool {
	phase := now % s.cfg.Interval
	lo := s.cfg.Offset - s.cfg.Width/2
	hi := s.cfg.Offset + s.cfg.Width/2
	return phase >= lo && phase <= hi
}

// delayToSafe computes the delay from now until the next safe-window center.
func (s *Scheduler) delayToSafe(now time.Duration) time.Duration {
	phase := now % s.cfg.Interval
	if phase < s.cfg.Offset {
		return s.cfg.Offset - phase
	}
	return (s.cfg.Interval - phase) + s.cfg.Offset
}

// clockNow is overridable in tests.
var clockNow = func() time.Duration {
	return time.Duration(time.Now().UnixNano())
}

// WaitForSafe blocks until the next TDM-safe window and returns the computed
// delay to that window. stop, if non-nil, lets the wait be aborted early (the
// returned delay is still the computed one, not the time actually waited).
func (s *Scheduler) WaitForSafe(stop <-chan struct{}) time.Duration {
	delay := s.delayToSafe(clockNow())
	timebase.Sleep(delay, stop)
	return delay
}

// DelayFromPhase is the pure function used by tests and callers that already
// have now expressed as an offset into the interval (e.g. via a synchronized
// epoch rather than wall time).
func (s *Scheduler) DelayFromPhase(now time.Duration) time.Duration {
	return s.delayToSafe(now)
}
