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

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lemonforest/mlehaptics-sub002/ble"
	"github.com/lemonforest/mlehaptics-sub002/button"
	"github.com/lemonforest/mlehaptics-sub002/pattern"
	"github.com/lemonforest/mlehaptics-sub002/radio"
	"github.com/lemonforest/mlehaptics-sub002/role"
	"github.com/lemonforest/mlehaptics-sub002/tdm"
	"github.com/lemonforest/mlehaptics-sub002/timebase"
	"github.com/lemonforest/mlehaptics-sub002/timesync"
)

func newDispatchDevice() *device {
	return &device{
		modeChangeQ: make(chan button.Event, 1),
		bleEventQ:   make(chan button.Event, 1),
		bleMotorQ:   make(chan ble.Message, 1),
		sessionQ:    make(chan struct{}, 1),
	}
}

func TestDispatchButtonEventRoutesModeChangeOnly(t *testing.T) {
	d := newDispatchDevice()
	d.dispatchButtonEvent(button.EventModeChange)

	require.Len(t, d.modeChangeQ, 1)
	require.Len(t, d.bleEventQ, 0)
}

func TestDispatchButtonEventRoutesBleReEnableToBothQueues(t *testing.T) {
	d := newDispatchDevice()
	d.dispatchButtonEvent(button.EventBleReEnable)

	require.Len(t, d.modeChangeQ, 1)
	require.Len(t, d.bleEventQ, 1)
}

func TestDispatchButtonEventRoutesEmergencyShutdownToBothQueues(t *testing.T) {
	d := newDispatchDevice()
	d.dispatchButtonEvent(button.EventEmergencyShutdown)

	require.Len(t, d.modeChangeQ, 1)
	require.Len(t, d.bleEventQ, 1)
}

func TestDispatchButtonEventDropsOnFullQueue(t *testing.T) {
	d := newDispatchDevice()
	d.dispatchButtonEvent(button.EventModeChange)
	require.NotPanics(t, func() { d.dispatchButtonEvent(button.EventModeChange) })
	require.Len(t, d.modeChangeQ, 1)
}

func TestDispatchBLEMessageRoutesToMotorQueue(t *testing.T) {
	d := newDispatchDevice()
	d.dispatchBLEMessage(ble.MessagePairingFailed)

	require.Len(t, d.bleMotorQ, 1)
	require.Equal(t, ble.MessagePairingFailed, <-d.bleMotorQ)
}

func TestBuiltinByNameKnownAndUnknown(t *testing.T) {
	_, err := builtinByName("alternating")
	require.NoError(t, err)
	_, err = builtinByName("breathe")
	require.NoError(t, err)
	_, err = builtinByName("not_a_pattern")
	require.Error(t, err)
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidateRejectsZeroBeaconInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BeaconInterval = 0
	require.Error(t, cfg.Validate())
}

func newTimeSyncTestDevice(t *testing.T) *device {
	t.Helper()
	clock := timebase.NewSoftClock()
	sched := tdm.NewScheduler(tdm.DefaultConfig())
	tr := radio.NewTransport(newLoopbackPHY(), clock, radio.WithTDMWaiter(sched))
	require.NoError(t, tr.Init(6))
	sync := timesync.NewEngine(clock, tr, false)
	buf := pattern.NewBuffer()
	require.NoError(t, buf.LoadBuiltin(pattern.BuiltinAlternating, uint64(clock.NowUS())))
	return &device{
		clock:     clock,
		transport: tr,
		sched:     sched,
		sync:      sync,
		roleFSM:   role.NewFSM(),
		buf:       buf,
		sessionQ:  make(chan struct{}, 1),
	}
}

func TestRunTimeSyncTaskSendsBeaconsAsServer(t *testing.T) {
	d := newTimeSyncTestDevice(t)
	require.NoError(t, d.roleFSM.Negotiate(true, true))
	d.transport.SetLocalIsServer(true)

	ctx, cancel := context.WithCancel(context.Background())
	go d.runTimeSyncTask(ctx, 2*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	require.Greater(t, d.beaconSeq, uint32(0))
}

func TestRunTimeSyncTaskBeginsHandshakeAsClient(t *testing.T) {
	d := newTimeSyncTestDevice(t)
	require.NoError(t, d.roleFSM.Negotiate(false, true))
	d.transport.SetLocalIsServer(false)
	// a peer lets SYNC_REQ go out; with none the send fails and the engine
	// resets to StateIdle at once
	require.NoError(t, d.transport.SetPeer(radio.MAC{1, 2, 3, 4, 5, 6}, 6))
	require.Equal(t, timesync.StateIdle, d.sync.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.runTimeSyncTask(ctx, 2*time.Millisecond)

	require.Eventually(t, func() bool {
		return d.sync.State() != timesync.StateIdle
	}, 100*time.Millisecond, time.Millisecond)
}

func TestRunTimeSyncTaskArmsCoordinatedStartAsServer(t *testing.T) {
	d := newTimeSyncTestDevice(t)
	require.NoError(t, d.roleFSM.Negotiate(true, true))
	d.transport.SetLocalIsServer(true)

	ctx, cancel := context.WithCancel(context.Background())
	go d.runTimeSyncTask(ctx, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	require.True(t, d.coordArmed)
	require.True(t, d.buf.State().Playing)
}

func TestRunTimeSyncTaskArmsCoordinatedStartAsClientOnBeacon(t *testing.T) {
	d := newTimeSyncTestDevice(t)
	require.NoError(t, d.roleFSM.Negotiate(false, true))
	d.transport.SetLocalIsServer(false)

	cb := d.sync.BuildCoordinatedStartBeacon(timesync.DefaultCoordStartDelay)
	d.sync.IngestBeacon(cb, int64(cb.ServerTimeUS))
	epoch, armed := d.sync.CoordinatedEpoch()
	require.True(t, armed)

	ctx, cancel := context.WithCancel(context.Background())
	go d.runTimeSyncTask(ctx, 2*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	require.True(t, d.coordArmed)
	require.True(t, d.buf.State().Playing)
	require.Equal(t, epoch, d.buf.State().StartTimeUS)
}

func TestRunTimeSyncTaskStopsOnContextCancel(t *testing.T) {
	d := newTimeSyncTestDevice(t)
	require.NoError(t, d.roleFSM.Negotiate(true, true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.runTimeSyncTask(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runTimeSyncTask did not stop after context cancel")
	}
}
