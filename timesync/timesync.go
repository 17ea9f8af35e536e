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

// Package timesync implements the PTP-style four-message handshake, beacon
// ingestion, fast-lock convergence and steady-state offset correction that
// keep a pair of devices' clocks aligned over the radio coordination
// channel. It is the direct generalization of ptp/sptp/client: the same
// T1..T4 bookkeeping and trimmed-mean offset filter, with handshake
// retries at a fixed interval, driving timebase.Clock.AdjFreqPPB instead of a PHC ioctl.
package timesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lemonforest/mlehaptics-sub002/errs"
	"github.com/lemonforest/mlehaptics-sub002/radio"
	"github.com/lemonforest/mlehaptics-sub002/stats"
	"github.com/lemonforest/mlehaptics-sub002/timebase"
)

// Tunables governing handshake, fast-lock and beacon-gap timing.
const (
	DefaultBeaconInterval     = 100 * time.Millisecond
	DefaultFastLockMax        = 5
	DefaultFastLockInterval   = 200 * time.Millisecond
	DefaultFastLockBudget     = 1500 * time.Millisecond
	DefaultCoordStartDelay    = 3 * time.Second
	DefaultHandshakeSamples   = 4
	DefaultHandshakeTimeout   = 2 * time.Second
	DefaultBeaconGapFactor    = 3
	defaultOutlierMedianMult  = 3.0
	defaultFastLockVarianceUS = 200.0 // µs^2, sliding-window variance threshold for fast-lock declaration
)

// State is the handshake/convergence state of the time-sync engine.
type State uint8

const (
	StateIdle State = iota
	StateHandshaking
	StateFastLock
	StateLocked
	StateHolding // beacon gap in progress, not yet past the disconnect threshold
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateFastLock:
		return "FAST_LOCK"
	case StateLocked:
		return "LOCKED"
	case StateHolding:
		return "HOLDING"
	}
	return "UNKNOWN"
}

// Sample is one accepted PTP four-message exchange.
type Sample struct {
	T1, T2, T3, T4 uint64 // microseconds
	OffsetUS       float64
	DelayUS        float64
}

func computeSample(t1, t2, t3, t4 uint64) Sample {
	// Differences are taken as signed values: T2/T3 come from the peer's
	// clock, so T4-T3 (and T2-T1) is negative whenever the clocks disagree.
	offset := (float64(int64(t2-t1)) - float64(int64(t4-t3))) / 2
	delay := float64(int64(t4-t1)) - float64(int64(t3-t2))
	return Sample{T1: t1, T2: t2, T3: t3, T4: t4, OffsetUS: offset, DelayUS: delay}
}

// Sender is the narrow slice of radio.Transport the engine drives: sending
// coordination frames. Expressed as an
// interface so the engine is host-testable without a real PHY.
type Sender interface {
	SendCoordination(data []byte) error
}

// Engine runs the handshake and steady-state correction for one side of a
// link. A CLIENT initiates handshakes and applies corrections to its local
// clock; a SERVER responds to SYNC_REQ and emits the beacon stream.
type Engine struct {
	mu sync.Mutex

	clock  timebase.Clock
	sender Sender

	isServer bool

	state State

	// handshake bookkeeping
	handshakeSeq    uint16
	pendingT1       uint64
	samples         []Sample
	delayMedianWnd  *stats.Window
	offsetAccepted  []float64
	fastLockCount   int
	fastLockStart   time.Time
	offsetWindow    *stats.Window

	lastBeaconRecv  time.Time
	beaconInterval  time.Duration
	sequence        uint32
	coordEpochUS    uint64
	coordArmed      bool

	servo *piServo

	onLocked func(offsetUS float64)
}

// NewEngine creates an Engine bound to clock and sender, initially idle.
func NewEngine(clock timebase.Clock, sender Sender, isServer bool) *Engine {
	return &Engine{
		clock:          clock,
		sender:         sender,
		isServer:       isServer,
		state:          StateIdle,
		delayMedianWnd: stats.NewWindow(16),
		offsetWindow:   stats.NewWindow(DefaultFastLockMax),
		beaconInterval: DefaultBeaconInterval,
		servo:          newPiServo(),
	}
}

// SetOnLocked installs a callback invoked once fast-lock converges.
func (e *Engine) SetOnLocked(cb func(offsetUS float64)) {
	e.mu.Lock()
	e.onLocked = cb
	e.mu.Unlock()
}

// State returns the engine's current convergence state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// BeginHandshake starts a CLIENT-side PTP exchange by sending SYNC_REQ (T1).
// Only meaningful for a CLIENT; SERVERs respond reactively in
// HandleCoordination.
func (e *Engine) BeginHandshake() error {
	e.mu.Lock()
	if e.isServer {
		e.mu.Unlock()
		return fmt.Errorf("timesync begin_handshake: %w: server does not initiate", errs.ErrInvalidState)
	}
	t1 := uint64(e.clock.NowUS())
	e.pendingT1 = t1
	e.state = StateHandshaking
	e.mu.Unlock()

	msg := radio.PTPSample{T1: t1}
	if err := e.sender.SendCoordination(msg.Marshal()); err != nil {
		return fmt.Errorf("timesync begin_handshake: %w: %v", errs.ErrFail, err)
	}
	return nil
}

// handshakeRoundInterval paces SYNC_REQ retransmission while the handshake
// is still collecting samples.
const handshakeRoundInterval = 20 * time.Millisecond

// HandshakeWithTimeout reissues BeginHandshake once per handshakeRoundInterval
// until DefaultHandshakeSamples have been accepted (the engine leaves
// StateHandshaking) or ctx expires, the whole retry loop bounded by one ctx
// deadline via errgroup — the same pairing of a send with a bounded wait for
// its reply that Client.RunOnce applies to a single exchange, here repeated
// until the full handshake converges. On timeout or send failure the engine
// resets to StateIdle so the next call starts clean.
func (e *Engine) HandshakeWithTimeout(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(handshakeRoundInterval)
		defer ticker.Stop()
		for {
			if err := e.BeginHandshake(); err != nil {
				return err
			}
			if e.State() != StateHandshaking {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("timesync handshake_with_timeout: %w: %v", errs.ErrTimeout, ctx.Err())
			case <-ticker.C:
			}
		}
	})
	if err := g.Wait(); err != nil {
		e.Reset()
		return err
	}
	return nil
}

// HandleCoordination dispatches an inbound coordination payload (prefix
// already stripped by radio.Transport) to the handshake logic.
func (e *Engine) HandleCoordination(data []byte, rxTimeUS int64) {
	msg, err := radio.ParseCoordination(append([]byte{radio.CoordPrefix}, data...))
	if err != nil {
		log.Warnf("[timesync] dropping malformed coordination frame: %v", err)
		return
	}
	if msg.Tag != radio.TagPTPSample {
		return
	}
	e.handlePTPSample(msg.PTP, uint64(rxTimeUS))
}

func (e *Engine) handlePTPSample(s radio.PTPSample, rxTimeUS uint64) {
	e.mu.Lock()
	isServer := e.isServer
	e.mu.Unlock()

	if isServer {
		e.respondToSyncReq(s, rxTimeUS)
		return
	}
	e.completeHandshake(s, rxTimeUS)
}

// respondToSyncReq handles the SERVER side: it stamps T2 on receipt and
// replies with (T2, T3) once it is ready to transmit.
func (e *Engine) respondToSyncReq(s radio.PTPSample, rxTimeUS uint64) {
	t2 := rxTimeUS
	t3 := uint64(e.clock.NowUS())
	reply := radio.PTPSample{T1: s.T1, T2: t2, T3: t3}
	if err := e.sender.SendCoordination(reply.Marshal()); err != nil {
		log.Warnf("[timesync] failed to answer sync_req: %v", err)
	}
}

// completeHandshake handles the CLIENT side: stamps T4, computes the
// sample, and folds it into the trimmed-mean offset filter.
func (e *Engine) completeHandshake(s radio.PTPSample, rxTimeUS uint64) {
	t4 := rxTimeUS
	e.mu.Lock()
	if s.T1 != e.pendingT1 {
		e.mu.Unlock()
		return // stale reply, ignore
	}
	sample := computeSample(s.T1, s.T2, s.T3, t4)

	accept := true
	if e.delayMedianWnd.Count() >= 4 {
		med := e.delayMedianWnd.Median()
		if med > 0 && sample.DelayUS > med*defaultOutlierMedianMult {
			accept = false
		}
	}
	e.delayMedianWnd.Add(sample.DelayUS)

	if accept {
		e.samples = append(e.samples, sample)
		e.offsetAccepted = append(e.offsetAccepted, sample.OffsetUS)
	}

	enough := len(e.offsetAccepted) >= DefaultHandshakeSamples
	var finalOffset float64
	if enough {
		finalOffset = trimmedMean(e.offsetAccepted)
		e.state = StateFastLock
		e.fastLockStart = time.Now()
	}
	e.mu.Unlock()

	if enough {
		log.Infof("[timesync] handshake converged, offset=%.1fus over %d samples", finalOffset, len(e.offsetAccepted))
		e.clock.Step(time.Duration(finalOffset * float64(time.Microsecond)))
	}
}

// trimmedMean drops the lowest and highest 10% (minimum one each if the
// slice is long enough) and averages the remainder.
func trimmedMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		v := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > v {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = v
	}
	trim := len(sorted) / 10
	if trim == 0 && len(sorted) >= 3 {
		trim = 1
	}
	lo, hi := trim, len(sorted)-trim
	if hi <= lo {
		lo, hi = 0, len(sorted)
	}
	var sum float64
	for _, v := range sorted[lo:hi] {
		sum += v
	}
	return sum / float64(hi-lo)
}

// IngestBeacon feeds a received beacon into fast-lock / steady-state
// tracking. Only meaningful for a CLIENT.
func (e *Engine) IngestBeacon(b radio.Beacon, rxTimeUS int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.lastBeaconRecv = now

	if b.Flags&radio.BeaconFlagCoordinatedStart != 0 {
		e.coordEpochUS = b.EpochUS
		e.coordArmed = true
	}

	localEstimate := float64(b.ServerTimeUS) - float64(rxTimeUS)
	e.offsetWindow.Add(localEstimate)

	switch e.state {
	case StateFastLock:
		e.fastLockCount++
		if e.offsetWindow.Count() >= DefaultFastLockMax {
			if e.offsetWindow.Variance() < defaultFastLockVarianceUS || time.Since(e.fastLockStart) > DefaultFastLockBudget {
				e.state = StateLocked
				mean := e.offsetWindow.Mean()
				log.Infof("[timesync] fast lock converged, mean offset=%.1fus", mean)
				if e.onLocked != nil {
					cb := e.onLocked
					go cb(mean)
				}
			}
		}
	case StateLocked:
		ppb := e.servo.sample(e.offsetWindow.Mean())
		if err := e.clock.AdjFreqPPB(ppb); err != nil {
			log.Warnf("[timesync] adj_freq_ppb: %v", err)
		}
	}
}

// CoordinatedEpoch returns the armed coordinated-start epoch (microseconds)
// and whether one has been received.
func (e *Engine) CoordinatedEpoch() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coordEpochUS, e.coordArmed
}

// BuildCoordinatedStartBeacon constructs the beacon a SERVER broadcasts to
// arm a shared playback epoch Δ (DefaultCoordStartDelay by default) in the
// future.
func (e *Engine) BuildCoordinatedStartBeacon(delta time.Duration) radio.Beacon {
	now := uint64(e.clock.NowUS())
	epoch := now + uint64(delta.Microseconds())
	e.mu.Lock()
	e.sequence++
	seq := e.sequence
	e.mu.Unlock()
	return radio.Beacon{
		ServerTimeUS: now,
		Sequence:     seq,
		EpochUS:      epoch,
		Flags:        radio.BeaconFlagCoordinatedStart,
	}
}

// BeaconGapExceeded reports whether the time since the last received beacon
// exceeds the disconnect threshold (DefaultBeaconGapFactor * interval).
func (e *Engine) BeaconGapExceeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastBeaconRecv.IsZero() {
		return false
	}
	return time.Since(e.lastBeaconRecv) > time.Duration(DefaultBeaconGapFactor)*e.beaconInterval
}

// OffsetStats exposes the current steady-state offset window for diagnostics
// and PPB correction callers.
func (e *Engine) OffsetStats() (mean, stddev float64, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offsetWindow.Mean(), e.offsetWindow.Stddev(), e.offsetWindow.Count()
}

// Reset returns the engine to StateIdle, clearing all handshake and lock
// bookkeeping. Used on handshake timeout (back to role negotiation) or a
// beacon-gap disconnect.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateIdle
	e.samples = nil
	e.offsetAccepted = nil
	e.fastLockCount = 0
	e.delayMedianWnd = stats.NewWindow(16)
	e.offsetWindow = stats.NewWindow(DefaultFastLockMax)
	e.coordArmed = false
}
