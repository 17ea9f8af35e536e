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

// Package timebase provides the monotonic microsecond clock the rest of the
// firmware core builds its notion of time on, plus a software frequency/phase
// correction register driven by the time-sync engine's steady-state servo.
package timebase

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the interface the time-sync engine drives to discipline the local
// notion of time. Mirrors the shape of a hardware clock control surface
// (step, frequency trim, frequency bounds) without assuming a PHC/ioctl is
// available.
type Clock interface {
	// NowUS returns the current disciplined time, in microseconds.
	NowUS() int64
	// Step jumps the clock by the given signed duration, bypassing the slew limiter.
	Step(step time.Duration) error
	// AdjFreqPPB sets a sustained frequency trim, in parts per billion.
	AdjFreqPPB(freqPPB float64) error
	// FrequencyPPB returns the currently applied frequency trim.
	FrequencyPPB() (float64, error)
	// MaxFreqPPB returns the maximum frequency trim this clock accepts.
	MaxFreqPPB() (float64, error)
}

// maxSoftwarePPB bounds the frequency trim a SoftClock will accept; chosen
// generously relative to any crystal drift this class of MCU exhibits.
const maxSoftwarePPB = 500_000.0

// SoftClock is a Clock backed purely by time.Now() plus an accumulated
// offset and frequency trim. There is no PHC/ioctl on this target, so unlike
// the teacher's clock.SysClock/PHC, a SoftClock keeps its own software
// model: offsetUS is stepped directly, freqPPB is applied as a continuous
// correction each time NowUS is sampled.
type SoftClock struct {
	mu          sync.Mutex
	started     time.Time
	offsetUS    int64
	freqPPB     float64
	trimAcc     time.Duration // frequency trim accumulated across samples
	lastSampled time.Time
}

// NewSoftClock creates a SoftClock anchored at the current wall time.
func NewSoftClock() *SoftClock {
	now := time.Now()
	return &SoftClock{
		started:     now,
		lastSampled: now,
	}
}

// NowUS returns current disciplined time in microseconds since the clock was created.
func (c *SoftClock) NowUS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(c.lastSampled)
	c.lastSampled = now
	// apply frequency trim as additional elapsed time, ppb of elapsed interval
	c.trimAcc += time.Duration(float64(elapsed) * c.freqPPB / 1e9)
	rawUS := now.Sub(c.started).Microseconds()
	return rawUS + c.offsetUS + c.trimAcc.Microseconds()
}

// Step jumps the clock by the given signed duration.
func (c *SoftClock) Step(step time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsetUS += step.Microseconds()
	return nil
}

// AdjFreqPPB sets the sustained frequency trim, clamped to +/- maxSoftwarePPB.
func (c *SoftClock) AdjFreqPPB(freqPPB float64) error {
	if freqPPB > maxSoftwarePPB {
		freqPPB = maxSoftwarePPB
	} else if freqPPB < -maxSoftwarePPB {
		freqPPB = -maxSoftwarePPB
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freqPPB = freqPPB
	return nil
}

// FrequencyPPB returns the currently applied frequency trim.
func (c *SoftClock) FrequencyPPB() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freqPPB, nil
}

// MaxFreqPPB returns the maximum frequency trim this clock accepts.
func (c *SoftClock) MaxFreqPPB() (float64, error) {
	return maxSoftwarePPB, nil
}

// FreeRunningClock is a no-op Clock for standalone operation, mirroring the
// teacher's FreeRunningClock test double.
type FreeRunningClock struct {
	base atomic.Int64
}

// NewFreeRunningClock returns a FreeRunningClock anchored at time.Now().
func NewFreeRunningClock() *FreeRunningClock {
	c := &FreeRunningClock{}
	c.base.Store(time.Now().UnixMicro())
	return c
}

// NowUS returns wall-clock microseconds, undisciplined.
func (c *FreeRunningClock) NowUS() int64 { return time.Now().UnixMicro() }

// Step is a no-op.
func (c *FreeRunningClock) Step(time.Duration) error { return nil }

// AdjFreqPPB is a no-op.
func (c *FreeRunningClock) AdjFreqPPB(float64) error { return nil }

// FrequencyPPB always reports zero trim.
func (c *FreeRunningClock) FrequencyPPB() (float64, error) { return 0, nil }

// MaxFreqPPB reports zero, signalling no frequency control available.
func (c *FreeRunningClock) MaxFreqPPB() (float64, error) { return 0, nil }

// Sleep blocks the calling goroutine for d, honoring cancellation via stop.
// stop may be nil.
func Sleep(d time.Duration, stop <-chan struct{}) (woke bool) {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
