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

package pattern

// Builtin is a compiled-in pattern: a full segment table plus the header
// flags/mode it should be loaded with. Modeled as a flat table the same way
// the teacher builds compiled-in lookup tables (ptp/protocol's LogInterval,
// ClockAccuracy), not a runtime generator.
type Builtin struct {
	ModeID   uint8
	Flags    uint8
	Segments []Segment
}

const segBoth = FlagLED | FlagMotor

// BuiltinAlternating drives LEFT and RIGHT in antiphase, swapping every
// second, looping indefinitely.
var BuiltinAlternating = Builtin{
	ModeID: 1,
	Flags:  FlagLooping | FlagLED | FlagMotor,
	Segments: []Segment{
		{TOffsetMS: 0, Flags: segBoth, LColor: uint8(ColorGreen), LBright: 100, LMotor: 60, RColor: uint8(ColorGreen), RBright: 0, RMotor: 0},
		{TOffsetMS: 1000, Flags: segBoth, LColor: uint8(ColorGreen), LBright: 0, LMotor: 0, RColor: uint8(ColorGreen), RBright: 100, RMotor: 60},
		{TOffsetMS: 2000, Flags: segBoth, LColor: uint8(ColorGreen), LBright: 100, LMotor: 60, RColor: uint8(ColorGreen), RBright: 0, RMotor: 0},
	},
}

// BuiltinEmergencyQuad flashes red four times on both columns, then holds
// solid white, one-shot (no looping).
var BuiltinEmergencyQuad = Builtin{
	ModeID: 2,
	Flags:  FlagLED,
	Segments: []Segment{
		{TOffsetMS: 0, Flags: segBoth, LColor: uint8(ColorRed), LBright: 100, RColor: uint8(ColorRed), RBright: 100},
		{TOffsetMS: 50, Flags: segBoth, LColor: uint8(ColorRed), LBright: 0, RColor: uint8(ColorRed), RBright: 0},
		{TOffsetMS: 100, Flags: segBoth, LColor: uint8(ColorRed), LBright: 100, RColor: uint8(ColorRed), RBright: 100},
		{TOffsetMS: 150, Flags: segBoth, LColor: uint8(ColorRed), LBright: 0, RColor: uint8(ColorRed), RBright: 0},
		{TOffsetMS: 200, Flags: segBoth, LColor: uint8(ColorRed), LBright: 100, RColor: uint8(ColorRed), RBright: 100},
		{TOffsetMS: 250, Flags: segBoth, LColor: uint8(ColorRed), LBright: 0, RColor: uint8(ColorRed), RBright: 0},
		{TOffsetMS: 300, Flags: segBoth, LColor: uint8(ColorRed), LBright: 100, RColor: uint8(ColorRed), RBright: 100},
		{TOffsetMS: 350, Flags: segBoth, LColor: uint8(ColorRed), LBright: 0, RColor: uint8(ColorRed), RBright: 0},
		{TOffsetMS: 400, Flags: segBoth, LColor: uint8(ColorWhite), LBright: 100, RColor: uint8(ColorWhite), RBright: 100},
		{TOffsetMS: 2000, Flags: segBoth, LColor: uint8(ColorWhite), LBright: 100, RColor: uint8(ColorWhite), RBright: 100},
	},
}

// BuiltinEmergency is the single-column variant of the quad flash, used
// when only one device is reachable.
var BuiltinEmergency = Builtin{
	ModeID: 3,
	Flags:  FlagLED,
	Segments: []Segment{
		{TOffsetMS: 0, Flags: segBoth, LColor: uint8(ColorRed), LBright: 100},
		{TOffsetMS: 50, Flags: segBoth, LColor: uint8(ColorRed), LBright: 0},
		{TOffsetMS: 100, Flags: segBoth, LColor: uint8(ColorRed), LBright: 100},
		{TOffsetMS: 150, Flags: segBoth, LColor: uint8(ColorRed), LBright: 0},
		{TOffsetMS: 2000, Flags: segBoth, LColor: uint8(ColorRed), LBright: 0},
	},
}

// BuiltinBreathe is a slow sinusoidal-feeling brightness ramp approximated
// by a small number of keyframes, looping. Playback holds each keyframe
// until the next one; brightness is not interpolated between them.
var BuiltinBreathe = Builtin{
	ModeID: 4,
	Flags:  FlagLooping | FlagLED,
	Segments: []Segment{
		{TOffsetMS: 0, Flags: segBoth, LColor: uint8(ColorBlue), LBright: 0, RColor: uint8(ColorBlue), RBright: 0},
		{TOffsetMS: 1500, Flags: segBoth, LColor: uint8(ColorBlue), LBright: 100, RColor: uint8(ColorBlue), RBright: 100},
		{TOffsetMS: 3000, Flags: segBoth, LColor: uint8(ColorBlue), LBright: 0, RColor: uint8(ColorBlue), RBright: 0},
	},
}
