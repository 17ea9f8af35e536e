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

// Loopback peripherals stand in for the hardware this firmware core treats
// as out of scope (ESP-NOW PHY, GPIO button, NimBLE host, motor PWM,
// addressable LED, watchdog) on a host/bench build, the same role
// client.FreeRunningClock plays for a PHC-less host build of the teacher.
package main

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lemonforest/mlehaptics-sub002/actuator"
	"github.com/lemonforest/mlehaptics-sub002/power"
	"github.com/lemonforest/mlehaptics-sub002/radio"
)

// loopbackPHY discards every send; a standalone host build has no peer.
type loopbackPHY struct {
	mu      sync.Mutex
	channel uint8
}

func newLoopbackPHY() *loopbackPHY { return &loopbackPHY{} }

func (p *loopbackPHY) Init(channel uint8) error {
	p.mu.Lock()
	p.channel = channel
	p.mu.Unlock()
	return nil
}
func (p *loopbackPHY) Channel() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}
func (p *loopbackPHY) SetChannel(channel uint8) error {
	p.mu.Lock()
	p.channel = channel
	p.mu.Unlock()
	return nil
}
func (p *loopbackPHY) AddPeer(radio.MAC, []byte) error    { return nil }
func (p *loopbackPHY) RemovePeer(radio.MAC) error         { return nil }
func (p *loopbackPHY) Send(radio.MAC, []byte) error       { return nil }
func (p *loopbackPHY) SetRecvCallback(radio.RecvCallback) {}
func (p *loopbackPHY) SetSendCallback(radio.SendCallback) {}

// loopbackReader reports the button as never pressed; the daemon's button
// task still runs so its timing code paths are exercised under bench load.
type loopbackReader struct{}

func newLoopbackReader() *loopbackReader { return &loopbackReader{} }
func (r *loopbackReader) Pressed() bool  { return false }

// loopbackWatchdog logs feeds instead of petting real hardware.
type loopbackWatchdog struct{}

func newLoopbackWatchdog() *loopbackWatchdog { return &loopbackWatchdog{} }
func (w *loopbackWatchdog) Feed()            { log.Debugf("[hapticsd] watchdog fed") }

// loopbackBLEController simulates an always-idle NimBLE host.
type loopbackBLEController struct{}

func newLoopbackBLEController() *loopbackBLEController { return &loopbackBLEController{} }
func (c *loopbackBLEController) StartAdvertising() error { return nil }
func (c *loopbackBLEController) StopAdvertising() error  { return nil }
func (c *loopbackBLEController) Disconnect() error       { return nil }
func (c *loopbackBLEController) RestartObserved() bool   { return false }

// loopbackPWM logs motor commands instead of driving an H-bridge.
type loopbackPWM struct{}

func newLoopbackPWM() *loopbackPWM { return &loopbackPWM{} }
func (p *loopbackPWM) Forward(duty uint16) error {
	log.Debugf("[hapticsd] motor forward duty=%d", duty)
	return nil
}
func (p *loopbackPWM) Reverse(duty uint16) error {
	log.Debugf("[hapticsd] motor reverse duty=%d", duty)
	return nil
}
func (p *loopbackPWM) Coast() error { return nil }

// loopbackStrip logs LED writes instead of driving an addressable strip.
type loopbackStrip struct{}

func newLoopbackStrip() *loopbackStrip { return &loopbackStrip{} }
func (s *loopbackStrip) Set(index int, c actuator.RGB) error {
	log.Debugf("[hapticsd] led[%d] = %+v", index, c)
	return nil
}
func (s *loopbackStrip) Show() error { return nil }

// loopbackSleepController reports an immediate timer wake, since a host
// build has no real sleep state to enter.
type loopbackSleepController struct{}

func newLoopbackSleepController() *loopbackSleepController { return &loopbackSleepController{} }
func (c *loopbackSleepController) Sleep(ctx context.Context) (power.WakeSource, error) {
	select {
	case <-ctx.Done():
		return power.WakeUnknown, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return power.WakeTimer, nil
	}
}

// loopbackStore is an in-memory power.Store for host/bench builds.
type loopbackStore struct {
	mu sync.Mutex
	kv map[string][]byte
}

func newLoopbackStore() *loopbackStore { return &loopbackStore{kv: map[string][]byte{}} }

func (s *loopbackStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok
}

func (s *loopbackStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = append([]byte(nil), value...)
	return nil
}

func (s *loopbackStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv = map[string][]byte{}
	return nil
}
