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

// Package actuator drives the motor PWM and addressable LED peripherals
// through narrow interfaces, keeping the out-of-scope actuator hardware
// itself behind PWM and LEDStrip. The CIE-1931 perceptual lookup table is
// a compiled-in flat array indexed directly, the same way the teacher
// builds compiled-in lookup/threshold tables.
package actuator

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/lemonforest/mlehaptics-sub002/errs"
	"github.com/lemonforest/mlehaptics-sub002/pattern"
)

// Motor PWM bounds.
const (
	MotorPWMMin     = 0
	MotorPWMDefault = 60
	MotorPWMMax     = 80
)

// PWM is the motor peripheral: 25kHz/10-bit H-bridge control.
type PWM interface {
	Forward(duty uint16) error
	Reverse(duty uint16) error
	Coast() error
}

// RGB is a single LED color.
type RGB struct {
	R, G, B uint8
}

// LEDStrip is the addressable-LED peripheral.
type LEDStrip interface {
	Set(index int, c RGB) error
	Show() error
}

// Palette maps pattern.Color indices to RGB. Index 0 is always off.
var Palette = [8]RGB{
	pattern.ColorOff:    {0, 0, 0},
	pattern.ColorRed:    {255, 0, 0},
	pattern.ColorGreen:  {0, 255, 0},
	pattern.ColorBlue:   {0, 0, 255},
	pattern.ColorWhite:  {255, 255, 255},
	pattern.ColorPurple: {160, 32, 240},
	pattern.ColorAmber:  {255, 191, 0},
	pattern.ColorCyan:   {0, 255, 255},
}

// cieLUT maps perceived brightness percent (0-100) to 8-bit PWM duty,
// following the CIE 1931 lightness curve so perceived brightness scales
// linearly rather than the raw duty cycle. Index 50 is ~46, matching
// a "50% perceived ≈ 46/255" anchor.
var cieLUT = buildCIELUT()

func buildCIELUT() [101]uint8 {
	var t [101]uint8
	for pct := 0; pct <= 100; pct++ {
		l := float64(pct)
		var y float64
		if l <= 8 {
			y = l / 902.3
		} else {
			y = ((l + 16) / 116)
			y = y * y * y
		}
		v := y * 255
		if v > 255 {
			v = 255
		}
		t[pct] = uint8(v + 0.5)
	}
	return t
}

// PerceptualDuty looks up the 8-bit PWM duty for a perceived brightness
// percent (0-100, clamped).
func PerceptualDuty(percent uint8) uint8 {
	if percent > 100 {
		percent = 100
	}
	return cieLUT[percent]
}

// Controller owns the motor and LED peripherals plus the ownership flag
// gating status-LED access during motor-task indication windows.
type Controller struct {
	mu sync.Mutex

	pwm   PWM
	strip LEDStrip

	motorOwnsLED bool
}

// NewController creates a Controller wrapping pwm and strip.
func NewController(pwm PWM, strip LEDStrip) *Controller {
	return &Controller{pwm: pwm, strip: strip}
}

// SetMotorOwnership gates the addressable LED: while owned is true, the
// status-LED subsystem must not drive the strip.
func (c *Controller) SetMotorOwnership(owned bool) {
	c.mu.Lock()
	c.motorOwnsLED = owned
	c.mu.Unlock()
}

// MotorOwnsLED reports the current ownership flag.
func (c *Controller) MotorOwnsLED() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.motorOwnsLED
}

// clampMotor clamps intensity to [MotorPWMMin, MotorPWMMax].
func clampMotor(intensity uint8) uint16 {
	if intensity < MotorPWMMin {
		intensity = MotorPWMMin
	}
	if intensity > MotorPWMMax {
		intensity = MotorPWMMax
	}
	return uint16(intensity)
}

// DriveMotor applies a pattern.Output's motor command.
func (c *Controller) DriveMotor(out pattern.Output) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch out.Motor {
	case pattern.MotorForward:
		if err := c.pwm.Forward(clampMotor(out.MotorPower)); err != nil {
			return fmt.Errorf("actuator drive_motor forward: %w: %v", errs.ErrFail, err)
		}
	case pattern.MotorReverse:
		if err := c.pwm.Reverse(clampMotor(out.MotorPower)); err != nil {
			return fmt.Errorf("actuator drive_motor reverse: %w: %v", errs.ErrFail, err)
		}
	default:
		if err := c.pwm.Coast(); err != nil {
			return fmt.Errorf("actuator drive_motor coast: %w: %v", errs.ErrFail, err)
		}
	}
	return nil
}

// SetPalettePerceptual applies a pattern.Output's LED command to ledIndex,
// gated only by out.LEDEnabled; it does not consult the motor-ownership flag.
func (c *Controller) SetPalettePerceptual(ledIndex int, out pattern.Output) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !out.LEDEnabled {
		return nil
	}
	base := Palette[out.Color]
	duty := PerceptualDuty(out.Brightness)
	scaled := RGB{
		R: scale(base.R, duty),
		G: scale(base.G, duty),
		B: scale(base.B, duty),
	}
	if err := c.strip.Set(ledIndex, scaled); err != nil {
		return fmt.Errorf("actuator set_palette_perceptual: %w: %v", errs.ErrFail, err)
	}
	if err := c.strip.Show(); err != nil {
		return fmt.Errorf("actuator set_palette_perceptual: %w: %v", errs.ErrFail, err)
	}
	return nil
}

func scale(channel, duty uint8) uint8 {
	return uint8(uint16(channel) * uint16(duty) / 255)
}

func init() {
	if PerceptualDuty(100) != 255 {
		log.Fatalf("actuator: CIE lookup table invariant broken: duty(100) = %d", PerceptualDuty(100))
	}
}
