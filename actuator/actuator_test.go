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

package actuator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lemonforest/mlehaptics-sub002/pattern"
)

type fakePWM struct {
	lastCall string
	lastDuty uint16
	failErr  error
}

func (p *fakePWM) Forward(duty uint16) error {
	if p.failErr != nil {
		return p.failErr
	}
	p.lastCall, p.lastDuty = "forward", duty
	return nil
}

func (p *fakePWM) Reverse(duty uint16) error {
	if p.failErr != nil {
		return p.failErr
	}
	p.lastCall, p.lastDuty = "reverse", duty
	return nil
}

func (p *fakePWM) Coast() error {
	if p.failErr != nil {
		return p.failErr
	}
	p.lastCall, p.lastDuty = "coast", 0
	return nil
}

type fakeStrip struct {
	set    map[int]RGB
	shown  int
	failOn error
}

func newFakeStrip() *fakeStrip { return &fakeStrip{set: map[int]RGB{}} }

func (s *fakeStrip) Set(index int, c RGB) error {
	if s.failOn != nil {
		return s.failOn
	}
	s.set[index] = c
	return nil
}

func (s *fakeStrip) Show() error {
	s.shown++
	return nil
}

func TestPerceptualDutyAnchors(t *testing.T) {
	require.Equal(t, uint8(0), PerceptualDuty(0))
	require.Equal(t, uint8(255), PerceptualDuty(100))
	require.InDelta(t, 46, int(PerceptualDuty(50)), 3)
}

func TestPerceptualDutyClampsAboveHundred(t *testing.T) {
	require.Equal(t, PerceptualDuty(100), PerceptualDuty(255))
}

func TestDriveMotorForwardClampsToMax(t *testing.T) {
	pwm := &fakePWM{}
	c := NewController(pwm, newFakeStrip())
	err := c.DriveMotor(pattern.Output{Motor: pattern.MotorForward, MotorPower: 200})
	require.NoError(t, err)
	require.Equal(t, "forward", pwm.lastCall)
	require.Equal(t, uint16(MotorPWMMax), pwm.lastDuty)
}

func TestDriveMotorReverse(t *testing.T) {
	pwm := &fakePWM{}
	c := NewController(pwm, newFakeStrip())
	err := c.DriveMotor(pattern.Output{Motor: pattern.MotorReverse, MotorPower: 60})
	require.NoError(t, err)
	require.Equal(t, "reverse", pwm.lastCall)
	require.Equal(t, uint16(60), pwm.lastDuty)
}

func TestDriveMotorCoastOnDefault(t *testing.T) {
	pwm := &fakePWM{}
	c := NewController(pwm, newFakeStrip())
	err := c.DriveMotor(pattern.Output{Motor: pattern.MotorCoast})
	require.NoError(t, err)
	require.Equal(t, "coast", pwm.lastCall)
}

func TestDriveMotorPropagatesPeripheralFailure(t *testing.T) {
	pwm := &fakePWM{failErr: errors.New("bus error")}
	c := NewController(pwm, newFakeStrip())
	err := c.DriveMotor(pattern.Output{Motor: pattern.MotorForward, MotorPower: 60})
	require.Error(t, err)
}

func TestSetPalettePerceptualSkippedWhenLEDDisabled(t *testing.T) {
	strip := newFakeStrip()
	c := NewController(&fakePWM{}, strip)
	err := c.SetPalettePerceptual(0, pattern.Output{LEDEnabled: false})
	require.NoError(t, err)
	require.Empty(t, strip.set)
	require.Equal(t, 0, strip.shown)
}

func TestSetPalettePerceptualScalesByBrightness(t *testing.T) {
	strip := newFakeStrip()
	c := NewController(&fakePWM{}, strip)
	err := c.SetPalettePerceptual(2, pattern.Output{LEDEnabled: true, Color: pattern.ColorRed, Brightness: 100})
	require.NoError(t, err)
	require.Equal(t, RGB{R: 255, G: 0, B: 0}, strip.set[2])
	require.Equal(t, 1, strip.shown)
}

func TestSetPalettePerceptualZeroBrightnessIsBlack(t *testing.T) {
	strip := newFakeStrip()
	c := NewController(&fakePWM{}, strip)
	err := c.SetPalettePerceptual(0, pattern.Output{LEDEnabled: true, Color: pattern.ColorWhite, Brightness: 0})
	require.NoError(t, err)
	require.Equal(t, RGB{0, 0, 0}, strip.set[0])
}

func TestMotorOwnershipFlag(t *testing.T) {
	c := NewController(&fakePWM{}, newFakeStrip())
	require.False(t, c.MotorOwnsLED())
	c.SetMotorOwnership(true)
	require.True(t, c.MotorOwnsLED())
}
