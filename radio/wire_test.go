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
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCRC16CCITTFalseCheckValue is the standard "123456789" check value for
// CRC-16/CCITT-FALSE (0x29B1), published here as the test vector DESIGN.md
// promises for the beacon footer's polynomial.
func TestCRC16CCITTFalseCheckValue(t *testing.T) {
	require.Equal(t, uint16(0x29B1), CRC16CCITTFalse([]byte("123456789")))
}

func TestBeaconRoundTrip(t *testing.T) {
	b := Beacon{
		ServerTimeUS: 123456789,
		Sequence:     42,
		EpochUS:      987654321,
		Flags:        BeaconFlagFastLock,
	}
	buf := b.Marshal()
	require.Len(t, buf, BeaconSize)

	got, err := UnmarshalBeacon(buf)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestBeaconRejectsBadCRC(t *testing.T) {
	b := Beacon{ServerTimeUS: 1, Sequence: 1, EpochUS: 1}
	buf := b.Marshal()
	buf[0] ^= 0xFF // corrupt server_time_us
	_, err := UnmarshalBeacon(buf)
	require.Error(t, err)
}

func TestBeaconRejectsBadSize(t *testing.T) {
	_, err := UnmarshalBeacon(make([]byte, BeaconSize-1))
	require.Error(t, err)
}

func TestCoordinationPTPSampleRoundTrip(t *testing.T) {
	s := PTPSample{T1: 1, T2: 2, T3: 3, T4: 4}
	msg, err := ParseCoordination(s.Marshal())
	require.NoError(t, err)
	require.Equal(t, TagPTPSample, msg.Tag)
	require.Equal(t, s, msg.PTP)
}

func TestCoordinationAsymmetryProbeRoundTrip(t *testing.T) {
	p := AsymmetryProbe{ProbeID: 7, TxTimeUS: 123}
	msg, err := ParseCoordination(p.Marshal())
	require.NoError(t, err)
	require.Equal(t, TagAsymmetryProbe, msg.Tag)
	require.Equal(t, p, msg.Asymmetry)
}

func TestCoordinationRoleParamsRoundTrip(t *testing.T) {
	r := RoleParams{Role: 1, CycleMS: 500, DutyMS: 125, Intensity: 60, Mode: 2}
	msg, err := ParseCoordination(r.Marshal())
	require.NoError(t, err)
	require.Equal(t, TagRoleParams, msg.Tag)
	require.Equal(t, r, msg.RoleParams)
}

func TestParseCoordinationRejectsMissingPrefix(t *testing.T) {
	_, err := ParseCoordination([]byte{0x00, TagRoleParams})
	require.Error(t, err)
}

func TestParseCoordinationRejectsUnknownTag(t *testing.T) {
	_, err := ParseCoordination([]byte{CoordPrefix, 0x7F})
	require.Error(t, err)
}
