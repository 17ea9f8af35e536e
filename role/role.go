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

// Package role implements role negotiation (SERVER/CLIENT/Standalone),
// disconnect survivor promotion, phase-1/phase-2 fallback rhythm and the
// session lifecycle. The typed-State-with-String() idiom follows
// servo.State; transition logging follows the teacher's colorized
// sent/received convention.
package role

import (
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/lemonforest/mlehaptics-sub002/errs"
)

// Role is the negotiated device role.
type Role uint8

const (
	RoleUndetermined Role = iota
	RoleServer
	RoleClient
	RoleStandalone
)

func (r Role) String() string {
	switch r {
	case RoleUndetermined:
		return "UNDETERMINED"
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	case RoleStandalone:
		return "STANDALONE"
	}
	return "UNKNOWN"
}

// FallbackPhase tracks how far a disconnected link has drifted from
// synchronized rhythm.
type FallbackPhase uint8

const (
	FallbackNone FallbackPhase = iota
	FallbackPhase1Sync
	FallbackPhase2Role
)

func (p FallbackPhase) String() string {
	switch p {
	case FallbackNone:
		return "NONE"
	case FallbackPhase1Sync:
		return "PHASE1_SYNC"
	case FallbackPhase2Role:
		return "PHASE2_ROLE"
	}
	return "UNKNOWN"
}

// Tunables governing survivor promotion and session duration bounds.
const (
	DefaultPhase1Duration     = 120 * time.Second
	DefaultSurvivorTimeout    = 30 * time.Second
	DefaultSessionDurationMin = 5 * time.Minute
	DefaultSessionDurationMax = 30 * time.Minute
)

// FallbackState is the set of parameters frozen at disconnect so the device
// can continue driving the synchronized rhythm without beacons.
type FallbackState struct {
	CycleMS         uint16
	DutyMS          uint16
	Intensity       uint8
	Mode            uint8
	ReferenceEpochUS uint64
	ForwardTurn     bool
	DisconnectTick  time.Time
	LastCommandTick time.Time
}

// FSM is the role/fallback/session state machine for one device.
type FSM struct {
	mu sync.Mutex

	role          Role
	fallbackPhase FallbackPhase
	fallback      FallbackState

	disconnectedAt time.Time
	sessionStart   time.Time
	sessionActive  bool
}

// NewFSM creates an FSM with role Undetermined and no active session.
func NewFSM() *FSM {
	return &FSM{role: RoleUndetermined}
}

// Role returns the current role.
func (f *FSM) Role() Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

// FallbackPhase returns the current fallback phase.
func (f *FSM) FallbackPhase() FallbackPhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fallbackPhase
}

// validTransition enforces {Undetermined -> Server|Client|Standalone} and
// {Client -> Server} (survivor promotion); every other transition,
// including Server -> Client, is rejected.
func validTransition(from, to Role) bool {
	if from == to {
		return true
	}
	switch from {
	case RoleUndetermined:
		return to == RoleServer || to == RoleClient || to == RoleStandalone
	case RoleClient:
		return to == RoleServer
	default:
		return false
	}
}

// Negotiate sets the role following a successful pairing or a discovery
// timeout. advertisedFirst is true if this device began BLE advertising
// before the peer; found is false if no peer was found within the
// discovery window (Standalone).
func (f *FSM) Negotiate(advertisedFirst bool, found bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := RoleClient
	switch {
	case !found:
		target = RoleStandalone
	case advertisedFirst:
		target = RoleServer
	}
	if !validTransition(f.role, target) {
		return fmt.Errorf("role negotiate: %w: %s -> %s", errs.ErrInvalidState, f.role, target)
	}
	logTransition(f.role, target)
	f.role = target
	return nil
}

// PromoteSurvivor upgrades a CLIENT that has been disconnected at least
// DefaultSurvivorTimeout (edge-inclusive) to SERVER, so a reconnecting peer
// can join. No-op (returns false) if the role isn't CLIENT or the timeout
// hasn't elapsed.
func (f *FSM) PromoteSurvivor(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.role != RoleClient || f.disconnectedAt.IsZero() {
		return false
	}
	if now.Sub(f.disconnectedAt) < DefaultSurvivorTimeout {
		return false
	}
	logTransition(f.role, RoleServer)
	f.role = RoleServer
	return true
}

// EnterFallback records the disconnect time and freezes the current
// operational parameters for synchronized-rhythm continuation.
func (f *FSM) EnterFallback(at time.Time, frozen FallbackState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectedAt = at
	frozen.DisconnectTick = at
	f.fallback = frozen
	f.fallbackPhase = FallbackPhase1Sync
	log.Warnf("[role] entering fallback at %s (cycle=%dms duty=%dms)", at, frozen.CycleMS, frozen.DutyMS)
}

// ExitFallback clears fallback state on reconnect.
func (f *FSM) ExitFallback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbackPhase = FallbackNone
	f.disconnectedAt = time.Time{}
	log.Infof("[role] exiting fallback, reconnected")
}

// TickFallback advances the fallback phase given elapsed disconnect time:
// Phase1Sync for the first DefaultPhase1Duration, Phase2Role afterward.
func (f *FSM) TickFallback(now time.Time) FallbackPhase {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fallbackPhase == FallbackNone {
		return FallbackNone
	}
	elapsed := now.Sub(f.disconnectedAt)
	if elapsed > DefaultPhase1Duration {
		f.fallbackPhase = FallbackPhase2Role
	}
	return f.fallbackPhase
}

// FallbackSnapshot returns a copy of the frozen fallback parameters.
func (f *FSM) FallbackSnapshot() FallbackState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fallback
}

// SessionStart records the session epoch and marks it active.
func (f *FSM) SessionStart(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionStart = at
	f.sessionActive = true
}

// SessionShouldEnd reports whether the session should terminate: elapsed is
// in [min,max] and endRequested, or elapsed strictly exceeds max.
func (f *FSM) SessionShouldEnd(now time.Time, endRequested bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessionActive {
		return false
	}
	elapsed := now.Sub(f.sessionStart)
	if elapsed > DefaultSessionDurationMax {
		return true
	}
	if elapsed >= DefaultSessionDurationMin && endRequested {
		return true
	}
	return false
}

// SessionEnd marks the session inactive.
func (f *FSM) SessionEnd() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionActive = false
}

func logTransition(from, to Role) {
	log.Infof("[role] %s -> %s", color.BlueString(from.String()), color.GreenString(to.String()))
}
