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

package radio

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	log "github.com/sirupsen/logrus"

	"github.com/lemonforest/mlehaptics-sub002/errs"
	"github.com/lemonforest/mlehaptics-sub002/kdf"
	"github.com/lemonforest/mlehaptics-sub002/stats"
	"github.com/lemonforest/mlehaptics-sub002/timebase"
)

// State is the transport's lifecycle state.
type State uint8

// Transport states.
const (
	StateUninitialized State = iota
	StateReady
	StatePeerSet
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReady:
		return "READY"
	case StatePeerSet:
		return "PEER_SET"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// RetryConfig governs send_coordination's retry behavior.
type RetryConfig struct {
	Retries    int
	RetryDelay time.Duration
}

// DefaultRetryConfig matches the spec's "retries up to R times with delay D".
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Retries: 3, RetryDelay: 20 * time.Millisecond}
}

// TDMWaiter is the narrow slice of tdm.Scheduler the transport needs for
// send_coordination_tdm. Expressed as a local interface (rather than an
// import of package tdm) so the two components stay decoupled, per the
// "break cyclic references with a callback slot" idiom.
type TDMWaiter interface {
	WaitForSafe(stop <-chan struct{}) time.Duration
}

// BeaconHandler receives decoded, CRC-valid beacons.
type BeaconHandler func(b Beacon, rxTimeUS int64)

// CoordinationHandler receives the coordination payload (the 0xC0 prefix
// stripped, the tag byte retained) and its receive timestamp.
type CoordinationHandler func(data []byte, rxTimeUS int64)

// Transport is the framed-datagram radio transport: broadcast beacons and
// unicast, retried coordination messages, with jitter accounting and an
// optional encrypted peer.
type Transport struct {
	phy   PHY
	clock timebase.Clock

	mu            sync.Mutex
	state         State
	peer          MAC
	hasPeer       bool
	encrypted     bool
	aead          cipherAEAD
	localIsServer bool
	sendSeq       uint32

	beaconInterval  time.Duration
	expectedArrival int64 // microseconds; 0 means "no prediction yet"

	jitter   *stats.JitterMetrics
	warnings atomic.Uint32
	retry    RetryConfig
	tdm      TDMWaiter
	onBeacon BeaconHandler
	onCoord  CoordinationHandler
}

// cipherAEAD is the minimal surface of crypto/cipher.AEAD this package uses.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// Option configures a Transport at construction time.
type Option func(*Transport)

// WithRetryConfig overrides the default coordination retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(t *Transport) { t.retry = cfg }
}

// WithTDMWaiter installs the scheduler send_coordination_tdm waits on.
func WithTDMWaiter(w TDMWaiter) Option {
	return func(t *Transport) { t.tdm = w }
}

// WithBeaconInterval sets the expected beacon cadence used for jitter
// accounting (sample = rx_time - expected).
func WithBeaconInterval(d time.Duration) Option {
	return func(t *Transport) { t.beaconInterval = d }
}

// NewTransport creates a Transport wrapping phy, not yet initialized.
func NewTransport(phy PHY, clock timebase.Clock, opts ...Option) *Transport {
	t := &Transport{
		phy:    phy,
		clock:  clock,
		state:  StateUninitialized,
		jitter: stats.NewJitterMetrics(stats.DefaultJitterWindow),
		retry:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetHandlers installs the beacon and coordination callbacks. These run
// from the PHY's receive path and must not block.
func (t *Transport) SetHandlers(onBeacon BeaconHandler, onCoord CoordinationHandler) {
	t.mu.Lock()
	t.onBeacon = onBeacon
	t.onCoord = onCoord
	t.mu.Unlock()
}

// SetLocalIsServer records which side of the link this device is, used to
// disambiguate encryption nonces between the two directions and to decide
// whether send_coordination_tdm should wait (only SERVER does).
func (t *Transport) SetLocalIsServer(isServer bool) {
	t.mu.Lock()
	t.localIsServer = isServer
	t.mu.Unlock()
}

// Jitter returns the beacon jitter/counters metrics.
func (t *Transport) Jitter() *stats.JitterMetrics { return t.jitter }

// Warnings returns the count of discarded, wrong-size inbound frames.
func (t *Transport) Warnings() uint32 { return t.warnings.Load() }

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Init brings up the PHY, registers callbacks, installs the broadcast peer,
// and fixes channel. Idempotent once any prior Error is cleared by a
// successful Init call.
func (t *Transport) Init(channel uint8) error {
	if err := t.phy.Init(channel); err != nil {
		t.mu.Lock()
		t.state = StateError
		t.mu.Unlock()
		return fmt.Errorf("phy init: %w: %v", errs.ErrFail, err)
	}
	t.phy.SetRecvCallback(t.handleRecv)
	t.phy.SetSendCallback(t.handleSendResult)
	if err := t.phy.AddPeer(Broadcast, nil); err != nil {
		t.mu.Lock()
		t.state = StateError
		t.mu.Unlock()
		return fmt.Errorf("phy install broadcast peer: %w: %v", errs.ErrFail, err)
	}
	t.mu.Lock()
	t.state = StateReady
	t.mu.Unlock()
	log.Infof("[radio] initialized on channel %d", channel)
	return nil
}

func (t *Transport) forceChannel(channel uint8) {
	if t.phy.Channel() != channel {
		log.Warnf("[radio] channel drifted (coexisting BLE stole it), forcing back to %d", channel)
		_ = t.phy.SetChannel(channel)
	}
}

// SetPeer replaces any existing peer with an unencrypted one.
func (t *Transport) SetPeer(mac MAC, channel uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateUninitialized || t.state == StateError {
		return fmt.Errorf("radio set_peer: %w", errs.ErrInvalidState)
	}
	t.clearPeerLocked()
	t.forceChannel(channel)
	if err := t.phy.AddPeer(mac, nil); err != nil {
		return fmt.Errorf("radio set_peer: %w: %v", errs.ErrFail, err)
	}
	t.peer = mac
	t.hasPeer = true
	t.encrypted = false
	t.state = StatePeerSet
	return nil
}

// SetPeerEncrypted replaces any existing peer with one whose traffic is
// sealed under key (a copy is retained in the peer record; the caller's
// SessionKey is unaffected and should still be zeroized by its owner).
func (t *Transport) SetPeerEncrypted(mac MAC, key kdf.SessionKey, channel uint8) error {
	// ChaCha20-Poly1305 takes a 32-byte key; the 16-byte session key is
	// stretched to that size with SHA-256.
	aeadKey := sha256.Sum256(key[:])
	aead, err := chacha20poly1305.New(aeadKey[:])
	kdf.Zero(aeadKey[:])
	if err != nil {
		return fmt.Errorf("radio set_peer_encrypted: %w: %v", errs.ErrCryptoFailed, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateUninitialized || t.state == StateError {
		return fmt.Errorf("radio set_peer_encrypted: %w", errs.ErrInvalidState)
	}
	t.clearPeerLocked()
	t.forceChannel(channel)
	if err := t.phy.AddPeer(mac, key[:]); err != nil {
		return fmt.Errorf("radio set_peer_encrypted: %w: %v", errs.ErrFail, err)
	}
	t.peer = mac
	t.hasPeer = true
	t.encrypted = true
	t.aead = aead
	t.sendSeq = 0
	t.state = StatePeerSet
	return nil
}

// ClearPeer removes the peer record and drops the AEAD built from the peer
// key. It does not overwrite key bytes: the copy inside the dropped AEAD and
// any copy the PHY kept for the removed peer are released, not zeroized.
func (t *Transport) ClearPeer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearPeerLocked()
}

func (t *Transport) clearPeerLocked() {
	if t.hasPeer {
		_ = t.phy.RemovePeer(t.peer)
	}
	t.peer = MAC{}
	t.hasPeer = false
	t.encrypted = false
	t.aead = nil
	t.sendSeq = 0
	if t.state == StatePeerSet {
		t.state = StateReady
	}
}

// nonce builds a 12-byte ChaCha20-Poly1305 nonce from the local direction
// (so the two ends of one symmetric key never pick the same nonce for
// different plaintexts) and a monotonically increasing per-key counter.
func nonce(isServer bool, seq uint32) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	if isServer {
		n[7] = 1
	}
	n[8] = byte(seq >> 24)
	n[9] = byte(seq >> 16)
	n[10] = byte(seq >> 8)
	n[11] = byte(seq)
	return n
}

// sealLocked encrypts data under the current peer's key, if encrypted,
// prefixing the ciphertext with the 4-byte big-endian sequence counter the
// receiver needs to reconstruct the nonce.
func (t *Transport) sealLocked(data []byte) []byte {
	if !t.encrypted {
		return data
	}
	seq := t.sendSeq
	t.sendSeq++
	n := nonce(t.localIsServer, seq)
	out := make([]byte, 4, 4+len(data)+chacha20poly1305.Overhead)
	out[0] = byte(seq >> 24)
	out[1] = byte(seq >> 16)
	out[2] = byte(seq >> 8)
	out[3] = byte(seq)
	return t.aead.Seal(out, n, data, nil)
}

// SendBeacon transmits a 25-byte beacon via broadcast (fire-and-forget); if
// the broadcast peer isn't installed, falls back to unicast to the current
// peer. Beacon send failure is non-fatal and never retried.
func (t *Transport) SendBeacon(b Beacon) error {
	t.mu.Lock()
	if t.state == StateUninitialized || t.state == StateError {
		t.mu.Unlock()
		return fmt.Errorf("radio send_beacon: %w", errs.ErrInvalidState)
	}
	data := b.Marshal()
	target := Broadcast
	if err := t.phy.Send(Broadcast, data); err != nil {
		if !t.hasPeer {
			t.mu.Unlock()
			t.jitter.IncFailure()
			return fmt.Errorf("radio send_beacon: %w: %v", errs.ErrFail, err)
		}
		target = t.peer
		err = t.phy.Send(t.peer, data)
		if err != nil {
			t.mu.Unlock()
			t.jitter.IncFailure()
			return fmt.Errorf("radio send_beacon: %w: %v", errs.ErrFail, err)
		}
	}
	t.mu.Unlock()
	t.jitter.IncSent()
	log.Debugf("[radio] beacon seq=%d sent to %v", b.Sequence, target)
	return nil
}

// SendCoordination sends data unicast, 0xC0-prefixed already by the caller
// (see the wire.go Marshal helpers), making up to RetryConfig.Retries
// attempts in total. The failure counter increments only on the final failure.
func (t *Transport) SendCoordination(data []byte) error {
	return t.sendCoordination(data, false, nil)
}

// SendCoordinationTDM is SendCoordination, but each attempt is preceded by a
// wait for a TDM-safe window. Only the SERVER waits — the CLIENT has
// stopped BLE after bootstrap and sends immediately.
func (t *Transport) SendCoordinationTDM(data []byte, stop <-chan struct{}) error {
	return t.sendCoordination(data, true, stop)
}

func (t *Transport) sendCoordination(data []byte, useTDM bool, stop <-chan struct{}) error {
	t.mu.Lock()
	state := t.state
	peer := t.peer
	hasPeer := t.hasPeer
	isServer := t.localIsServer
	retry := t.retry
	tdm := t.tdm
	sealed := t.sealLocked(data)
	t.mu.Unlock()

	if state != StatePeerSet || !hasPeer {
		return fmt.Errorf("radio send_coordination: %w", errs.ErrInvalidState)
	}

	var lastErr error
	attempts := retry.Retries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if useTDM && isServer && tdm != nil {
			tdm.WaitForSafe(stop)
		}
		if err := t.phy.Send(peer, sealed); err != nil {
			lastErr = err
			if attempt < attempts-1 {
				timebase.Sleep(retry.RetryDelay, stop)
				continue
			}
			t.jitter.IncFailure()
			return fmt.Errorf("radio send_coordination: %w: %v", errs.ErrFail, lastErr)
		}
		return nil
	}
	return fmt.Errorf("radio send_coordination: %w: %v", errs.ErrFail, lastErr)
}

// handleRecv is the PHY receive callback. It must capture a
// timestamp as its first statement and must never block.
func (t *Transport) handleRecv(from MAC, data []byte, rxTimeUS int64) {
	t.mu.Lock()
	hasPeer := t.hasPeer
	peer := t.peer
	encrypted := t.encrypted
	aead := t.aead
	localIsServer := t.localIsServer
	onBeacon := t.onBeacon
	onCoord := t.onCoord
	beaconInterval := t.beaconInterval
	expected := t.expectedArrival
	t.mu.Unlock()

	if hasPeer && from != peer && from != Broadcast {
		return // reject frames not from the configured unicast peer
	}

	plain := data
	if encrypted && aead != nil && len(data) != BeaconSize {
		// Encrypted coordination frames are wrapped as seq(4B BE) || AEAD
		// ciphertext. The remote's role is always the opposite of ours,
		// which lets us reconstruct its nonce without carrying extra
		// direction bits on the wire.
		if len(data) < 4+chacha20poly1305.Overhead {
			t.warnings.Add(1)
			log.Warnf("[radio] discarding undersized encrypted frame from %v", from)
			return
		}
		seq := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		n := nonce(!localIsServer, seq)
		opened, err := aead.Open(nil, n, data[4:], nil)
		if err != nil {
			t.warnings.Add(1)
			log.Warnf("[radio] dropping frame that failed to authenticate from %v", from)
			return
		}
		plain = opened
	}

	switch {
	case len(plain) > 0 && plain[0] == CoordPrefix:
		if onCoord != nil {
			onCoord(plain[1:], rxTimeUS)
		}
	case len(plain) == BeaconSize:
		b, err := UnmarshalBeacon(plain)
		if err != nil {
			t.warnings.Add(1)
			log.Warnf("[radio] discarding malformed beacon: %v", err)
			return
		}
		t.jitter.IncReceived()
		if beaconInterval > 0 && expected != 0 {
			sample := float64(rxTimeUS - expected)
			t.jitter.Sample(sample)
		}
		t.mu.Lock()
		t.expectedArrival = rxTimeUS + beaconInterval.Microseconds()
		t.mu.Unlock()
		if onBeacon != nil {
			onBeacon(b, rxTimeUS)
		}
	default:
		t.warnings.Add(1)
		log.Warnf("[radio] discarding frame of unexpected size %d from %v", len(plain), from)
	}
}

func (t *Transport) handleSendResult(to MAC, success bool) {
	if !success {
		log.Debugf("[radio] send to %v failed", to)
	}
}
