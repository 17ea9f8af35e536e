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

package kdf

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDeriveFromLTK_Vector is scenario S3: fixed LTK/MACs/info must produce
// a fixed, byte-identical 16-byte output on both endpoints.
func TestDeriveFromLTK_Vector(t *testing.T) {
	var ltk [LTKSize]byte
	for i := range ltk {
		ltk[i] = 0x01
	}
	serverMAC := [MacSize]byte{0xAA, 0xBB, 0xCC, 0x01, 0x02, 0x03}
	clientMAC := [MacSize]byte{0xAA, 0xBB, 0xCC, 0x04, 0x05, 0x06}

	key, err := DeriveFromLTK(ltk, serverMAC, clientMAC)
	require.NoError(t, err)

	want, err := hex.DecodeString("833faaab2e5a7cc551cbdd05adcf60a6")
	require.NoError(t, err)
	require.Equal(t, want, key[:])
}

func TestDeriveFromLTK_BothEndpointsAgree(t *testing.T) {
	var ltk [LTKSize]byte
	for i := range ltk {
		ltk[i] = byte(i)
	}
	serverMAC := [MacSize]byte{1, 2, 3, 4, 5, 6}
	clientMAC := [MacSize]byte{6, 5, 4, 3, 2, 1}

	// Both endpoints compute with the same canonical (server-first) ordering
	// regardless of which physical device is "self".
	a, err := DeriveFromLTK(ltk, serverMAC, clientMAC)
	require.NoError(t, err)
	b, err := DeriveFromLTK(ltk, serverMAC, clientMAC)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestDeriveFromNonce_Deterministic(t *testing.T) {
	serverMAC := [MacSize]byte{1, 2, 3, 4, 5, 6}
	clientMAC := [MacSize]byte{6, 5, 4, 3, 2, 1}
	nonce := [8]byte{1, 1, 2, 3, 5, 8, 13, 21}

	a, err := DeriveFromNonce(serverMAC, clientMAC, nonce)
	require.NoError(t, err)
	b, err := DeriveFromNonce(serverMAC, clientMAC, nonce)
	require.NoError(t, err)
	require.Equal(t, a, b)

	ltk, err := DeriveFromLTK([LTKSize]byte{}, serverMAC, clientMAC)
	require.NoError(t, err)
	require.NotEqual(t, a, ltk, "v1 and v2 derivations must never collide")
}

func TestRedactedNeverLeaksMiddleBytes(t *testing.T) {
	key := SessionKey{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0x00}
	r := key.Redacted()
	require.Equal(t, "aabb...9900", r)
}

func TestZeroWipesBuffer(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zero(b)
	for _, v := range b {
		require.Zero(t, v)
	}
}
