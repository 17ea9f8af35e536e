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

// Package ble implements the BLE task state machine, driving the NimBLE
// host stack through a narrow Controller interface so the FSM itself is
// host-testable without hardware, the same external-collaborator boundary
// style the pack's BLE examples use to keep host-stack calls out of local
// state.
package ble

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lemonforest/mlehaptics-sub002/errs"
)

// State is the BLE task's run state.
type State uint8

const (
	StateIdle State = iota
	StateAdvertising
	StatePairing
	StateConnected
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAdvertising:
		return "ADVERTISING"
	case StatePairing:
		return "PAIRING"
	case StateConnected:
		return "CONNECTED"
	case StateShutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}

// Message is a fire-and-forget notification to the motor/pattern task.
type Message uint8

const (
	MessagePairingFailed Message = iota
	MessageEmergencyShutdown
)

// Tunables governing advertise/pairing timeouts and the disconnect settle delay.
const (
	DefaultAdvertiseTimeout = 300 * time.Second
	DefaultPairingTimeout   = 30 * time.Second
	DefaultDisconnectSettle = 150 * time.Millisecond
)

// PeerIdentity is what a completed pairing hands back to the caller: the
// long-term key and the peer's radio MAC.
type PeerIdentity struct {
	LTK     [16]byte
	PeerMAC [6]byte
}

// Controller is the external collaborator this package drives: the NimBLE
// host stack, which is out of scope here — this is the whole contract the
// FSM consumes from it.
type Controller interface {
	StartAdvertising() error
	StopAdvertising() error
	Disconnect() error
	RestartObserved() bool // true if the lower layer has resumed advertising after a disconnect
}

// MessageSink receives task notifications (PairingFailed, EmergencyShutdown).
type MessageSink func(Message)

// FSM is the BLE task state machine.
type FSM struct {
	mu sync.Mutex

	ctrl  Controller
	sink  MessageSink
	clock func() time.Time

	state State

	advStart     time.Time
	advElapsed   time.Duration // accumulated while paused for an app connection
	advPaused    bool
	pairingStart time.Time
}

// NewFSM creates an FSM bound to ctrl, starting in Idle.
func NewFSM(ctrl Controller, sink MessageSink) *FSM {
	return &FSM{ctrl: ctrl, sink: sink, state: StateIdle, clock: time.Now}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ReEnable is the ReEnable event (from the button task): start advertising
// from Idle with a fresh advertising timer. From any other state it returns
// ErrInvalidState.
func (f *FSM) ReEnable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateIdle {
		return fmt.Errorf("ble re_enable: %w", errs.ErrInvalidState)
	}
	if err := f.ctrl.StartAdvertising(); err != nil {
		return fmt.Errorf("ble re_enable: %w: %v", errs.ErrFail, err)
	}
	f.state = StateAdvertising
	f.advStart = f.clock()
	f.advElapsed = 0
	f.advPaused = false
	log.Infof("[ble] -> %s", f.state)
	return nil
}

// ConnectionUp is the connection-established event, pausing the advertising
// timer and entering Pairing.
func (f *FSM) ConnectionUp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateAdvertising {
		f.advElapsed += f.clock().Sub(f.advStart)
		f.advPaused = true
	}
	f.state = StatePairing
	f.pairingStart = f.clock()
	log.Infof("[ble] -> %s", f.state)
}

// PairingComplete transitions Pairing -> Connected.
func (f *FSM) PairingComplete(identity PeerIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePairing {
		return fmt.Errorf("ble pairing_complete: %w", errs.ErrInvalidState)
	}
	f.state = StateConnected
	log.Infof("[ble] -> %s", f.state)
	return nil
}

// PairingFailed transitions Pairing -> Idle and notifies the sink.
func (f *FSM) PairingFailed() {
	f.mu.Lock()
	f.state = StateIdle
	f.mu.Unlock()
	log.Warnf("[ble] pairing failed, -> %s", StateIdle)
	if f.sink != nil {
		f.sink(MessagePairingFailed)
	}
}

// CheckAdvertiseTimeout reports whether the advertising timer (paused while
// an app connection is up) has exceeded DefaultAdvertiseTimeout, and if so
// transitions to Idle.
func (f *FSM) CheckAdvertiseTimeout() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateAdvertising || f.advPaused {
		return false
	}
	elapsed := f.advElapsed + f.clock().Sub(f.advStart)
	if elapsed < DefaultAdvertiseTimeout {
		return false
	}
	f.state = StateIdle
	log.Infof("[ble] advertising timeout, -> %s", f.state)
	return true
}

// CheckPairingTimeout reports whether Pairing has exceeded
// DefaultPairingTimeout, transitioning to Idle and notifying the sink if so.
func (f *FSM) CheckPairingTimeout() bool {
	f.mu.Lock()
	if f.state != StatePairing || f.clock().Sub(f.pairingStart) < DefaultPairingTimeout {
		f.mu.Unlock()
		return false
	}
	f.state = StateIdle
	f.mu.Unlock()
	log.Warnf("[ble] pairing timeout, -> %s", StateIdle)
	if f.sink != nil {
		f.sink(MessagePairingFailed)
	}
	return true
}

// EmergencyShutdown cleanly terminates both peer and app GAP connections
// while Connected, then moves to Shutdown.
func (f *FSM) EmergencyShutdown() error {
	f.mu.Lock()
	wasConnected := f.state == StateConnected
	f.mu.Unlock()
	if wasConnected {
		if err := f.ctrl.Disconnect(); err != nil {
			log.Warnf("[ble] disconnect during emergency shutdown failed: %v", err)
		}
	}
	f.mu.Lock()
	f.state = StateShutdown
	f.mu.Unlock()
	log.Warnf("[ble] -> %s", StateShutdown)
	if f.sink != nil {
		f.sink(MessageEmergencyShutdown)
	}
	return nil
}

// Disconnected is the link-drop event while Connected: wait a short settle
// and move to Advertising if the lower layer resumed advertising on its
// own, else Idle.
func (f *FSM) Disconnected() {
	f.mu.Lock()
	if f.state != StateConnected {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	time.Sleep(DefaultDisconnectSettle)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctrl.RestartObserved() {
		f.state = StateAdvertising
		f.advStart = f.clock()
		f.advElapsed = 0
		f.advPaused = false
	} else {
		f.state = StateIdle
	}
	log.Infof("[ble] disconnected, -> %s", f.state)
}
