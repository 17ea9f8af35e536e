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

package stats

import "sync"

// DefaultJitterWindow is the default ring size for beacon jitter sampling.
const DefaultJitterWindow = 32

// JitterSnapshot is a point-in-time, lock-free copy of JitterMetrics.
type JitterSnapshot struct {
	Count            int
	Mean             float64
	Stddev           float64
	BeaconsSent      uint32
	BeaconsReceived  uint32
	BeaconsFailures  uint32
}

// JitterMetrics tracks beacon arrival jitter (sample = rx_time - expected)
// plus send/receive/failure counters.
type JitterMetrics struct {
	mu              sync.Mutex
	window          *Window
	beaconsSent     uint32
	beaconsReceived uint32
	beaconsFailures uint32
}

// NewJitterMetrics creates a JitterMetrics backed by a ring of size samples.
func NewJitterMetrics(size int) *JitterMetrics {
	if size <= 0 {
		size = DefaultJitterWindow
	}
	return &JitterMetrics{window: NewWindow(size)}
}

// Sample records one jitter sample, in microseconds, signed.
func (j *JitterMetrics) Sample(us float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.window.Add(us)
}

// IncSent increments the beacons-sent counter.
func (j *JitterMetrics) IncSent() {
	j.mu.Lock()
	j.beaconsSent++
	j.mu.Unlock()
}

// IncReceived increments the beacons-received counter.
func (j *JitterMetrics) IncReceived() {
	j.mu.Lock()
	j.beaconsReceived++
	j.mu.Unlock()
}

// IncFailure increments the beacons-failures counter.
func (j *JitterMetrics) IncFailure() {
	j.mu.Lock()
	j.beaconsFailures++
	j.mu.Unlock()
}

// Snapshot returns a consistent copy of the current metrics.
func (j *JitterMetrics) Snapshot() JitterSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JitterSnapshot{
		Count:           j.window.Count(),
		Mean:            j.window.Mean(),
		Stddev:          j.window.Stddev(),
		BeaconsSent:     j.beaconsSent,
		BeaconsReceived: j.beaconsReceived,
		BeaconsFailures: j.beaconsFailures,
	}
}
