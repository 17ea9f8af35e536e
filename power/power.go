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

// Package power persists the ble_settings NVS namespace and drives deep
// sleep entry, clearing the radio transport's peer (and the AEAD built from
// its session key) through ClearPeer before handing off to the injected sleep controller. The NVS
// primitive itself is out of scope, reached only through the narrow Store
// interface, the same external-collaborator boundary style used for the
// radio PHY and the BLE host stack.
package power

import (
	"context"
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/lemonforest/mlehaptics-sub002/errs"
	"github.com/lemonforest/mlehaptics-sub002/radio"
)

// NVS keys for the ble_settings namespace.
const (
	KeyMode          = "mode"
	KeyFreqHz        = "freq_hz"
	KeyDutyPct       = "duty_pct"
	KeyPWMPct        = "pwm_pct"
	KeyLEDEnabled    = "led_enabled"
	KeyLEDMode       = "led_mode"
	KeyPaletteIdx    = "palette_idx"
	KeyCustomRGB     = "custom_rgb"
	KeyBrightnessPct = "brightness_pct"
	KeySessionMS     = "session_ms"
)

// Store is the NVS primitive this package persists through.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Erase() error
}

// Settings mirrors the ble_settings NVS namespace.
type Settings struct {
	Mode          uint8
	FreqHz        uint16
	DutyPct       uint8
	PWMPct        uint8
	LEDEnabled    bool
	LEDMode       uint8
	PaletteIdx    uint8
	CustomRGB     [3]uint8
	BrightnessPct uint8
	SessionMS     uint32
}

// WakeSource is the reason the device woke from deep sleep.
type WakeSource uint8

const (
	WakeUnknown WakeSource = iota
	WakeButton
	WakeTimer
	WakeRadio
)

func (w WakeSource) String() string {
	switch w {
	case WakeButton:
		return "BUTTON"
	case WakeTimer:
		return "TIMER"
	case WakeRadio:
		return "RADIO"
	}
	return "UNKNOWN"
}

// SleepController is the external collaborator invoked to actually suspend
// the MCU and report why it later resumed, which is out of scope here.
type SleepController interface {
	Sleep(ctx context.Context) (WakeSource, error)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// SaveSettings encodes s little-endian, one key per field, and writes each
// through store.
func SaveSettings(store Store, s Settings) error {
	u16 := make([]byte, 2)
	u32 := make([]byte, 4)

	binary.LittleEndian.PutUint16(u16, s.FreqHz)
	if err := store.Set(KeyFreqHz, append([]byte(nil), u16...)); err != nil {
		return fmt.Errorf("power save_settings %s: %w: %v", KeyFreqHz, errs.ErrFail, err)
	}
	binary.LittleEndian.PutUint32(u32, s.SessionMS)
	if err := store.Set(KeySessionMS, append([]byte(nil), u32...)); err != nil {
		return fmt.Errorf("power save_settings %s: %w: %v", KeySessionMS, errs.ErrFail, err)
	}

	scalar := map[string]byte{
		KeyMode:          s.Mode,
		KeyDutyPct:       s.DutyPct,
		KeyPWMPct:        s.PWMPct,
		KeyLEDEnabled:    boolByte(s.LEDEnabled),
		KeyLEDMode:       s.LEDMode,
		KeyPaletteIdx:    s.PaletteIdx,
		KeyBrightnessPct: s.BrightnessPct,
	}
	for key, v := range scalar {
		if err := store.Set(key, []byte{v}); err != nil {
			return fmt.Errorf("power save_settings %s: %w: %v", key, errs.ErrFail, err)
		}
	}
	if err := store.Set(KeyCustomRGB, append([]byte(nil), s.CustomRGB[:]...)); err != nil {
		return fmt.Errorf("power save_settings %s: %w: %v", KeyCustomRGB, errs.ErrFail, err)
	}
	return nil
}

// LoadSettings reads every ble_settings key from store, leaving fields at
// their zero value when a key is absent (first-boot default).
func LoadSettings(store Store) Settings {
	var s Settings
	if v, ok := store.Get(KeyMode); ok && len(v) >= 1 {
		s.Mode = v[0]
	}
	if v, ok := store.Get(KeyFreqHz); ok && len(v) >= 2 {
		s.FreqHz = binary.LittleEndian.Uint16(v)
	}
	if v, ok := store.Get(KeyDutyPct); ok && len(v) >= 1 {
		s.DutyPct = v[0]
	}
	if v, ok := store.Get(KeyPWMPct); ok && len(v) >= 1 {
		s.PWMPct = v[0]
	}
	if v, ok := store.Get(KeyLEDEnabled); ok && len(v) >= 1 {
		s.LEDEnabled = v[0] != 0
	}
	if v, ok := store.Get(KeyLEDMode); ok && len(v) >= 1 {
		s.LEDMode = v[0]
	}
	if v, ok := store.Get(KeyPaletteIdx); ok && len(v) >= 1 {
		s.PaletteIdx = v[0]
	}
	if v, ok := store.Get(KeyCustomRGB); ok && len(v) >= 3 {
		copy(s.CustomRGB[:], v)
	}
	if v, ok := store.Get(KeyBrightnessPct); ok && len(v) >= 1 {
		s.BrightnessPct = v[0]
	}
	if v, ok := store.Get(KeySessionMS); ok && len(v) >= 4 {
		s.SessionMS = binary.LittleEndian.Uint32(v)
	}
	return s
}

// EnterDeepSleep clears the radio transport's peer via ClearPeer, persists s,
// and hands off to ctrl. It returns the wake source ctrl reports.
func EnterDeepSleep(ctx context.Context, store Store, tr *radio.Transport, ctrl SleepController, s Settings, reason string) (WakeSource, error) {
	tr.ClearPeer()
	if err := SaveSettings(store, s); err != nil {
		log.Warnf("[power] enter_deep_sleep: settings save failed: %v", err)
	}
	log.Infof("[power] entering deep sleep: %s", reason)
	src, err := ctrl.Sleep(ctx)
	if err != nil {
		return WakeUnknown, fmt.Errorf("power enter_deep_sleep: %w: %v", errs.ErrFail, err)
	}
	log.Infof("[power] woke: %s", src)
	return src, nil
}
