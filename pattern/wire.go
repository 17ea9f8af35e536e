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

// Package pattern implements the zone-addressable, CRC-validated bilateral
// pattern playback engine. The wire layouts below follow the teacher's
// explicit offset-based codec style from ptp/protocol (fields read/written
// at fixed byte offsets, never via in-memory struct layout), because the
// segment image must be bit-stable for CRC validation regardless of Go
// struct padding.
package pattern

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/lemonforest/mlehaptics-sub002/errs"
)

// HeaderSize and SegmentSize are the fixed wire sizes of PatternHeader and
// BilateralSegment.
const (
	HeaderSize  = 16
	SegmentSize = 16
)

// Header flag bits.
const (
	FlagLooping uint8 = 1 << 0
	FlagLED     uint8 = 1 << 1
	FlagMotor   uint8 = 1 << 2
	FlagLocked  uint8 = 1 << 3
)

// Header is PatternHeader: {born_at_us, segment_count, mode_id, flags, content_crc}.
type Header struct {
	BornAtUS     uint64
	SegmentCount uint16
	ModeID       uint8
	Flags        uint8
	ContentCRC   uint32
}

// Marshal encodes h into a fresh HeaderSize-byte buffer.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.BornAtUS)
	binary.LittleEndian.PutUint16(buf[8:10], h.SegmentCount)
	buf[10] = h.ModeID
	buf[11] = h.Flags
	binary.LittleEndian.PutUint32(buf[12:16], h.ContentCRC)
	return buf
}

// UnmarshalHeader decodes a Header from buf.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("pattern header: %w: want %d bytes, got %d", errs.ErrInvalidSize, HeaderSize, len(buf))
	}
	return Header{
		BornAtUS:     binary.LittleEndian.Uint64(buf[0:8]),
		SegmentCount: binary.LittleEndian.Uint16(buf[8:10]),
		ModeID:       buf[10],
		Flags:        buf[11],
		ContentCRC:   binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Segment is BilateralSegment: per-zone color/brightness/motor at a given
// time offset from pattern start.
type Segment struct {
	TOffsetMS    uint32
	TransitionMS uint16
	Flags        uint8
	Waveform     uint8 // reserved for future interpolation curves; round-tripped, unused
	LColor       uint8
	LBright      uint8
	LMotor       uint8
	RColor       uint8
	RBright      uint8
	RMotor       uint8
}

// Marshal encodes s into a fresh SegmentSize-byte buffer.
func (s Segment) Marshal() []byte {
	buf := make([]byte, SegmentSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.TOffsetMS)
	binary.LittleEndian.PutUint16(buf[4:6], s.TransitionMS)
	buf[6] = s.Flags
	buf[7] = s.Waveform
	buf[8] = s.LColor
	buf[9] = s.LBright
	buf[10] = s.LMotor
	buf[11] = s.RColor
	buf[12] = s.RBright
	buf[13] = s.RMotor
	// buf[14:16] reserved, left zero
	return buf
}

// UnmarshalSegment decodes a Segment from buf.
func UnmarshalSegment(buf []byte) (Segment, error) {
	if len(buf) != SegmentSize {
		return Segment{}, fmt.Errorf("pattern segment: %w: want %d bytes, got %d", errs.ErrInvalidSize, SegmentSize, len(buf))
	}
	return Segment{
		TOffsetMS:    binary.LittleEndian.Uint32(buf[0:4]),
		TransitionMS: binary.LittleEndian.Uint16(buf[4:6]),
		Flags:        buf[6],
		Waveform:     buf[7],
		LColor:       buf[8],
		LBright:      buf[9],
		LMotor:       buf[10],
		RColor:       buf[11],
		RBright:      buf[12],
		RMotor:       buf[13],
	}, nil
}

// MarshalSegments concatenates the wire image of every segment, the byte
// image CRC32 is computed over.
func MarshalSegments(segs []Segment) []byte {
	buf := make([]byte, 0, len(segs)*SegmentSize)
	for _, s := range segs {
		buf = append(buf, s.Marshal()...)
	}
	return buf
}

// CRC32 computes the IEEE (reflected, initial value 0) CRC32 over the
// segment byte image. hash/crc32 with the default IEEE polynomial computes
// exactly this profile, which is why this is a standard-library component
// (see DESIGN.md).
func CRC32(segs []Segment) uint32 {
	return crc32.ChecksumIEEE(MarshalSegments(segs))
}
