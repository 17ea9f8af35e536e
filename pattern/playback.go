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

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/lemonforest/mlehaptics-sub002/errs"
)

// MaxSegments bounds a loaded pattern's segment count.
const MaxSegments = 64

// MotorDirection is the direction a zone's motor should be driven.
type MotorDirection uint8

const (
	MotorCoast MotorDirection = iota
	MotorForward
	MotorReverse
)

// Output is one zone's driven state for a playback tick.
type Output struct {
	LEDEnabled bool
	Color      Color
	Brightness uint8
	Motor      MotorDirection
	MotorPower uint8
}

// PlaybackState is the pattern engine's run state.
type PlaybackState struct {
	StartTimeUS    uint64
	CurrentSegment uint16
	LoopCount      uint32
	Playing        bool
	Paused         bool
}

// Buffer is PatternBuffer: a validated header plus its segment list.
type Buffer struct {
	mu       sync.Mutex
	header   Header
	segments []Segment
	valid    bool
	state    PlaybackState
}

// NewBuffer creates an empty, invalid Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// validateSegments enforces the non-decreasing t_offset_ms invariant.
func validateSegments(segs []Segment) error {
	for i := 1; i < len(segs); i++ {
		if segs[i].TOffsetMS < segs[i-1].TOffsetMS {
			return fmt.Errorf("pattern segments: %w: offsets not non-decreasing at index %d", errs.ErrInvalidArg, i)
		}
	}
	return nil
}

// LoadBuiltin copies one of the compiled-in patterns, recomputes its CRC,
// and stamps born_at_us with nowUS (the current synchronized time).
func (b *Buffer) LoadBuiltin(p Builtin, nowUS uint64) error {
	segs := append([]Segment(nil), p.Segments...)
	if err := validateSegments(segs); err != nil {
		return err
	}
	header := Header{
		BornAtUS:     nowUS,
		SegmentCount: uint16(len(segs)),
		ModeID:       p.ModeID,
		Flags:        p.Flags,
		ContentCRC:   CRC32(segs),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.header = header
	b.segments = segs
	b.valid = true
	b.state = PlaybackState{}
	return nil
}

// LoadExternal validates and installs an externally supplied pattern:
// rejects if n exceeds MaxSegments, if the recomputed CRC32 doesn't match
// header.ContentCRC, or if playback is active and the currently loaded
// pattern is LOCKED.
func (b *Buffer) LoadExternal(header Header, segs []Segment) error {
	if len(segs) > MaxSegments || int(header.SegmentCount) != len(segs) {
		return fmt.Errorf("pattern load_external: %w: too many segments", errs.ErrInvalidSize)
	}
	if err := validateSegments(segs); err != nil {
		return err
	}
	if CRC32(segs) != header.ContentCRC {
		return fmt.Errorf("pattern load_external: %w: crc32 mismatch", errs.ErrInvalidCRC)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Playing && b.header.Flags&FlagLocked != 0 {
		return fmt.Errorf("pattern load_external: %w: locked while playing", errs.ErrInvalidState)
	}
	b.header = header
	b.segments = append([]Segment(nil), segs...)
	b.valid = true
	b.state = PlaybackState{}
	return nil
}

// Start arms playback at startTimeUS.
func (b *Buffer) Start(startTimeUS uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return fmt.Errorf("pattern start: %w: no valid pattern loaded", errs.ErrInvalidState)
	}
	b.state = PlaybackState{StartTimeUS: startTimeUS, Playing: true}
	return nil
}

// Stop halts playback without discarding the loaded pattern.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Playing = false
}

// State returns a snapshot of the current playback state.
func (b *Buffer) State() PlaybackState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// duration is the last segment's t_offset_ms, the pattern's total length.
func (b *Buffer) duration() uint32 {
	if len(b.segments) == 0 {
		return 0
	}
	return b.segments[len(b.segments)-1].TOffsetMS
}

// findSegment returns the largest index i with segments[i].TOffsetMS <= elapsedMS.
func findSegment(segs []Segment, elapsedMS uint32) int {
	idx := 0
	for i, s := range segs {
		if s.TOffsetMS <= elapsedMS {
			idx = i
		} else {
			break
		}
	}
	return idx
}

// Tick advances playback to currentTimeUS and returns the driven output for
// the given zone. errs.ErrInvalidState is returned if no pattern is
// playing; errs.ErrFail (wrapping not-found semantics
// step 3) is returned once non-looping playback completes.
func (b *Buffer) Tick(currentTimeUS uint64, zone Zone) (Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.valid || !b.state.Playing {
		return Output{}, fmt.Errorf("pattern tick: %w: not playing", errs.ErrInvalidState)
	}
	if currentTimeUS < b.state.StartTimeUS {
		return Output{}, nil // pre-start, Ok per spec step 1
	}

	elapsedUS := currentTimeUS - b.state.StartTimeUS
	elapsedMS := uint32(elapsedUS / 1000)
	duration := b.duration()

	if duration > 0 && elapsedMS >= duration {
		if b.header.Flags&FlagLooping != 0 {
			b.state.LoopCount = elapsedMS / duration
			elapsedMS %= duration
		} else {
			b.state.Playing = false
			log.Debugf("[pattern] playback complete after %d loops", b.state.LoopCount)
			return Output{}, fmt.Errorf("pattern tick: %w: playback complete", errs.ErrFail)
		}
	}

	idx := findSegment(b.segments, elapsedMS)
	b.state.CurrentSegment = uint16(idx)
	seg := b.segments[idx]

	var color Color
	var bright, motor uint8
	if zone == ZoneLeft {
		color, bright, motor = Color(seg.LColor), seg.LBright, seg.LMotor
	} else {
		color, bright, motor = Color(seg.RColor), seg.RBright, seg.RMotor
	}

	out := Output{}
	if b.header.Flags&FlagLED != 0 {
		out.LEDEnabled = true
		out.Color = color
		out.Brightness = bright
	}
	if b.header.Flags&FlagMotor != 0 && motor > 0 {
		out.MotorPower = motor
		if zone == ZoneLeft {
			out.Motor = MotorForward
		} else {
			out.Motor = MotorReverse
		}
	}
	return out, nil
}
