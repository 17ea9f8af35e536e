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

package timesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lemonforest/mlehaptics-sub002/radio"
	"github.com/lemonforest/mlehaptics-sub002/timebase"
)

// loopSender delivers coordination frames directly into the peer engine's
// HandleCoordination, synchronously, as if carried over a zero-latency link.
type loopSender struct {
	peer    *Engine
	clock   timebase.Clock
	corrupt bool
}

func (s *loopSender) SendCoordination(data []byte) error {
	msg, err := radio.ParseCoordination(append([]byte{radio.CoordPrefix}, data...))
	if err != nil {
		return err
	}
	if s.corrupt {
		return nil
	}
	s.peer.HandleCoordination(msg.PTP.Marshal()[1:], s.clock.NowUS())
	return nil
}

func TestTrimmedMeanDropsOutliers(t *testing.T) {
	values := []float64{100, 101, 99, 102, 10000, 98}
	got := trimmedMean(values)
	require.InDelta(t, 100, got, 5)
}

func TestComputeSampleSymmetric(t *testing.T) {
	// no clock offset, no asymmetry: T1=0,T2=10,T3=11,T4=21 -> offset 0, delay 20
	s := computeSample(0, 10, 11, 21)
	require.InDelta(t, 0, s.OffsetUS, 0.001)
	require.InDelta(t, 20, s.DelayUS, 0.001)
}

func TestComputeSampleKnownOffset(t *testing.T) {
	// server clock reads ahead of the client's: T1=0 and T4=1020 (client),
	// T2=1500 and T3=1510 (server), so T4-T3 is negative and must not wrap.
	s := computeSample(0, 1500, 1510, 1020)
	// offset = ((1500-0)-(1020-1510))/2 = (1500+490)/2 = 995
	require.InDelta(t, 995, s.OffsetUS, 0.001)
}

func TestFullHandshakeConverges(t *testing.T) {
	serverClock := timebase.NewFreeRunningClock()
	clientClock := timebase.NewFreeRunningClock()

	server := NewEngine(serverClock, nil, true)
	client := NewEngine(clientClock, nil, false)

	client.sender = &loopSender{peer: server, clock: clientClock}
	server.sender = &loopSender{peer: client, clock: serverClock}

	for i := 0; i < DefaultHandshakeSamples; i++ {
		require.NoError(t, client.BeginHandshake())
	}

	require.Len(t, client.offsetAccepted, DefaultHandshakeSamples)
	require.Equal(t, StateFastLock, client.State())
}

func TestIngestBeaconFastLockConverges(t *testing.T) {
	clock := timebase.NewFreeRunningClock()
	e := NewEngine(clock, nil, false)
	e.mu.Lock()
	e.state = StateFastLock
	e.fastLockStart = time.Now()
	e.mu.Unlock()

	var locked bool
	e.SetOnLocked(func(float64) { locked = true })

	for i := 0; i < DefaultFastLockMax; i++ {
		e.IngestBeacon(radio.Beacon{ServerTimeUS: 1_000_000 + uint64(i)}, 1_000_000+int64(i))
	}
	require.Equal(t, StateLocked, e.State())
	time.Sleep(5 * time.Millisecond) // let the async onLocked callback fire
	require.True(t, locked)
}

func TestBeaconGapExceededAfterSilence(t *testing.T) {
	clock := timebase.NewFreeRunningClock()
	e := NewEngine(clock, nil, false)
	e.beaconInterval = time.Millisecond
	e.IngestBeacon(radio.Beacon{}, 0)
	time.Sleep(10 * time.Millisecond)
	require.True(t, e.BeaconGapExceeded())
}

func TestCoordinatedStartBeaconArmsEpoch(t *testing.T) {
	serverClock := timebase.NewFreeRunningClock()
	server := NewEngine(serverClock, nil, true)
	b := server.BuildCoordinatedStartBeacon(DefaultCoordStartDelay)
	require.NotZero(t, b.EpochUS)
	require.Equal(t, radio.BeaconFlagCoordinatedStart, b.Flags&radio.BeaconFlagCoordinatedStart)

	client := NewEngine(timebase.NewFreeRunningClock(), nil, false)
	client.IngestBeacon(b, int64(b.ServerTimeUS))
	epoch, armed := client.CoordinatedEpoch()
	require.True(t, armed)
	require.Equal(t, b.EpochUS, epoch)
}

func TestResetClearsState(t *testing.T) {
	e := NewEngine(timebase.NewFreeRunningClock(), nil, false)
	e.state = StateFastLock
	e.offsetAccepted = []float64{1, 2, 3}
	e.Reset()
	require.Equal(t, StateIdle, e.State())
	require.Empty(t, e.offsetAccepted)
}

func TestHandshakeWithTimeoutReturnsOnceSamplesConverge(t *testing.T) {
	serverClock := timebase.NewFreeRunningClock()
	clientClock := timebase.NewFreeRunningClock()

	server := NewEngine(serverClock, nil, true)
	client := NewEngine(clientClock, nil, false)
	client.sender = &loopSender{peer: server, clock: clientClock}
	server.sender = &loopSender{peer: client, clock: serverClock}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.HandshakeWithTimeout(ctx))
	require.NotEqual(t, StateIdle, client.State())
}

func TestHandshakeWithTimeoutExpiresWithoutAReply(t *testing.T) {
	client := NewEngine(timebase.NewFreeRunningClock(), nil, false)
	client.sender = &loopSender{peer: NewEngine(timebase.NewFreeRunningClock(), nil, true), corrupt: true}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := client.HandshakeWithTimeout(ctx)
	require.Error(t, err)
}

func TestHandshakeWithTimeoutRejectsServer(t *testing.T) {
	server := NewEngine(timebase.NewFreeRunningClock(), nil, true)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, server.HandshakeWithTimeout(ctx))
}
