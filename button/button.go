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

// Package button implements the single-GPIO debounce and hold-duration
// classification state machine. Countdown blinks and watchdog feeding are
// paced by a time.Sleep loop, one sleep per blink period.
package button

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the button task's run state.
type State uint8

const (
	StateIdle State = iota
	StateDebounce
	StatePressed
	StateHoldDetect
	StateShutdownHold
	StateCountdown
	StateShutdown
	StateShutdownSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDebounce:
		return "DEBOUNCE"
	case StatePressed:
		return "PRESSED"
	case StateHoldDetect:
		return "HOLD_DETECT"
	case StateShutdownHold:
		return "SHUTDOWN_HOLD"
	case StateCountdown:
		return "COUNTDOWN"
	case StateShutdown:
		return "SHUTDOWN"
	case StateShutdownSent:
		return "SHUTDOWN_SENT"
	}
	return "UNKNOWN"
}

// Event is a classified outcome emitted to the motor/BLE tasks.
type Event uint8

const (
	EventModeChange Event = iota
	EventBleReEnable
	EventEmergencyShutdown
	EventFactoryReset
)

// Tunables governing debounce and hold thresholds.
const (
	DebounceWindow       = 50 * time.Millisecond
	HoldModeChangeMax    = 1 * time.Second
	HoldBleReEnableMax   = 2 * time.Second
	HoldShutdownMin      = 5 * time.Second
	HoldFactoryResetMin  = 15 * time.Second
	FactoryResetWindow   = 30 * time.Second
	CountdownBlinks      = 5
	CountdownBlinkPeriod = 200 * time.Millisecond
)

// Reader is the external collaborator: a single active-low GPIO line.
type Reader interface {
	Pressed() bool
}

// Watchdog is fed during the shutdown countdown so the device does not
// reset mid-sequence.
type Watchdog interface {
	Feed()
}

// FSM is the button debounce/hold classification state machine.
type FSM struct {
	mu sync.Mutex

	reader Reader
	wdog   Watchdog
	sink   func(Event)
	clock  func() time.Time

	state      State
	pressStart time.Time
	bootTime   time.Time
}

// NewFSM creates an FSM bound to reader, starting Idle. bootAt is used to
// gate the first-30s factory-reset window.
func NewFSM(reader Reader, wdog Watchdog, sink func(Event), bootAt time.Time) *FSM {
	return &FSM{reader: reader, wdog: wdog, sink: sink, clock: time.Now, state: StateIdle, bootTime: bootAt}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Press is the edge event: GPIO transitioned active. Enters Debounce.
func (f *FSM) Press() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateIdle {
		return
	}
	f.state = StateDebounce
	f.pressStart = f.clock()
}

// Tick advances debounce confirmation and countdown progression; call
// periodically (e.g. at the motor task's 50ms cadence or faster).
func (f *FSM) Tick() {
	f.mu.Lock()
	switch f.state {
	case StateDebounce:
		if f.clock().Sub(f.pressStart) >= DebounceWindow {
			if f.reader.Pressed() {
				f.state = StatePressed
			} else {
				f.state = StateIdle // bounced, not a real press
			}
		}
	case StatePressed:
		held := f.clock().Sub(f.pressStart)
		if !f.reader.Pressed() {
			f.mu.Unlock()
			f.release(held)
			return
		}
		if held >= HoldShutdownMin {
			f.state = StateShutdownHold
		}
	case StateShutdownHold:
		held := f.clock().Sub(f.pressStart)
		if !f.reader.Pressed() {
			f.mu.Unlock()
			f.release(held)
			return
		}
	}
	f.mu.Unlock()
}

// release classifies the completed hold duration and emits the
// corresponding event, or begins the shutdown countdown.
func (f *FSM) release(held time.Duration) {
	f.mu.Lock()
	bootElapsed := f.pressStart.Sub(f.bootTime)
	f.mu.Unlock()

	switch {
	case held >= HoldFactoryResetMin && bootElapsed < FactoryResetWindow:
		f.factoryReset()
	case held >= HoldShutdownMin:
		f.beginCountdown()
	case held >= HoldBleReEnableMax:
		f.toIdle() // between the BLE re-enable and shutdown bands: no event
	case held >= HoldModeChangeMax:
		f.emit(EventBleReEnable)
		f.toIdle()
	default:
		f.emit(EventModeChange)
		f.toIdle()
	}
}

func (f *FSM) toIdle() {
	f.mu.Lock()
	f.state = StateIdle
	f.mu.Unlock()
}

func (f *FSM) emit(e Event) {
	if f.sink != nil {
		f.sink(e)
	}
}

// AbortCountdown is the re-press-during-countdown event: returns to Idle
// without emitting EmergencyShutdown.
func (f *FSM) AbortCountdown() {
	f.mu.Lock()
	if f.state != StateCountdown {
		f.mu.Unlock()
		return
	}
	f.state = StateIdle
	f.mu.Unlock()
	log.Infof("[button] countdown aborted")
}

func (f *FSM) beginCountdown() {
	f.mu.Lock()
	f.state = StateCountdown
	f.mu.Unlock()
	log.Warnf("[button] shutdown hold released, starting %d-blink countdown", CountdownBlinks)

	for i := 0; i < CountdownBlinks; i++ {
		time.Sleep(CountdownBlinkPeriod)
		if f.wdog != nil {
			f.wdog.Feed()
		}
		f.mu.Lock()
		aborted := f.state != StateCountdown
		f.mu.Unlock()
		if aborted {
			return
		}
	}

	f.mu.Lock()
	f.state = StateShutdown
	f.mu.Unlock()
	f.emit(EventEmergencyShutdown)
	f.mu.Lock()
	f.state = StateShutdownSent
	f.mu.Unlock()
	log.Warnf("[button] -> %s", StateShutdownSent)
}

func (f *FSM) factoryReset() {
	log.Warnf("[button] factory reset hold detected within boot window")
	f.toIdle()
	f.emit(EventFactoryReset)
}
