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

package ble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeController struct {
	advertised int
	restart    bool
	disconnect error
}

func (c *fakeController) StartAdvertising() error { c.advertised++; return nil }
func (c *fakeController) StopAdvertising() error  { return nil }
func (c *fakeController) Disconnect() error       { return c.disconnect }
func (c *fakeController) RestartObserved() bool   { return c.restart }

func TestReEnableStartsAdvertising(t *testing.T) {
	ctrl := &fakeController{}
	f := NewFSM(ctrl, nil)
	require.NoError(t, f.ReEnable())
	require.Equal(t, StateAdvertising, f.State())
	require.Equal(t, 1, ctrl.advertised)
}

func TestFullPairingFlow(t *testing.T) {
	ctrl := &fakeController{}
	f := NewFSM(ctrl, nil)
	require.NoError(t, f.ReEnable())
	f.ConnectionUp()
	require.Equal(t, StatePairing, f.State())
	require.NoError(t, f.PairingComplete(PeerIdentity{}))
	require.Equal(t, StateConnected, f.State())
}

func TestPairingFailedNotifiesSinkAndReturnsToIdle(t *testing.T) {
	ctrl := &fakeController{}
	var got Message
	f := NewFSM(ctrl, func(m Message) { got = m })
	require.NoError(t, f.ReEnable())
	f.ConnectionUp()
	f.PairingFailed()
	require.Equal(t, StateIdle, f.State())
	require.Equal(t, MessagePairingFailed, got)
}

func TestPairingTimeoutFires(t *testing.T) {
	ctrl := &fakeController{}
	f := NewFSM(ctrl, nil)
	base := time.Unix(0, 0)
	f.clock = func() time.Time { return base }
	require.NoError(t, f.ReEnable())
	f.ConnectionUp()

	f.clock = func() time.Time { return base.Add(DefaultPairingTimeout - time.Millisecond) }
	require.False(t, f.CheckPairingTimeout())

	f.clock = func() time.Time { return base.Add(DefaultPairingTimeout) }
	require.True(t, f.CheckPairingTimeout())
	require.Equal(t, StateIdle, f.State())
}

func TestAdvertiseTimeoutPausesDuringConnection(t *testing.T) {
	ctrl := &fakeController{}
	f := NewFSM(ctrl, nil)
	base := time.Unix(0, 0)
	f.clock = func() time.Time { return base }
	require.NoError(t, f.ReEnable())

	// advertise for half the timeout, then a connection pauses the timer
	f.clock = func() time.Time { return base.Add(DefaultAdvertiseTimeout / 2) }
	f.ConnectionUp()
	require.False(t, f.CheckAdvertiseTimeout()) // no longer Advertising, can't time out
}

func TestEmergencyShutdownFromConnected(t *testing.T) {
	ctrl := &fakeController{}
	var got Message
	f := NewFSM(ctrl, func(m Message) { got = m })
	require.NoError(t, f.ReEnable())
	f.ConnectionUp()
	require.NoError(t, f.PairingComplete(PeerIdentity{}))

	require.NoError(t, f.EmergencyShutdown())
	require.Equal(t, StateShutdown, f.State())
	require.Equal(t, MessageEmergencyShutdown, got)
}

func TestDisconnectedRestartsAdvertisingWhenObserved(t *testing.T) {
	ctrl := &fakeController{restart: true}
	f := NewFSM(ctrl, nil)
	require.NoError(t, f.ReEnable())
	f.ConnectionUp()
	require.NoError(t, f.PairingComplete(PeerIdentity{}))

	f.Disconnected()
	require.Equal(t, StateAdvertising, f.State())
}

func TestDisconnectedGoesIdleWithoutRestart(t *testing.T) {
	ctrl := &fakeController{restart: false}
	f := NewFSM(ctrl, nil)
	require.NoError(t, f.ReEnable())
	f.ConnectionUp()
	require.NoError(t, f.PairingComplete(PeerIdentity{}))

	f.Disconnected()
	require.Equal(t, StateIdle, f.State())
}
