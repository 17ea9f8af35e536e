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

// Package kdf derives the session key used to encrypt the low-latency
// radio link from the BLE Long-Term Key and both devices' MAC addresses.
package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/lemonforest/mlehaptics-sub002/errs"
)

// sizes, in bytes, of the identifiers this package deals in.
const (
	MacSize = 6
	LTKSize = 16
	KeySize = 16
)

// info strings distinguish the v2 (LTK-derived) and legacy v1 (nonce-derived)
// derivations so the two schemes can never collide on output.
const (
	infoV2 = "EMDR-ESP-NOW-LMK-v2"
	infoV1 = "EMDR-ESP-NOW-LMK-v1"
)

// SessionKey is the 16-byte ephemeral key used to encrypt the radio link.
// Never persisted; call Zero when done with it.
type SessionKey [KeySize]byte

// Zero overwrites a SessionKey with zeroes.
func (k *SessionKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Redacted renders a key as its first and last two bytes only, per the log
// taxonomy rule that no log line may expose full key material.
func (k SessionKey) Redacted() string {
	return fmt.Sprintf("%02x%02x...%02x%02x", k[0], k[1], k[KeySize-2], k[KeySize-1])
}

// Zero overwrites an arbitrary byte buffer, used for IKM material that must
// not survive past the function that built it.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DeriveFromLTK derives the session key from the BLE Long-Term Key and both
// devices' MAC addresses (v2, canonical). IKM is LTK||SERVER_MAC||CLIENT_MAC so
// both endpoints, regardless of which one is computing it, produce identical
// output. The IKM buffer is zeroized before return, success or failure.
func DeriveFromLTK(ltk [LTKSize]byte, serverMAC, clientMAC [MacSize]byte) (SessionKey, error) {
	ikm := make([]byte, 0, LTKSize+2*MacSize)
	ikm = append(ikm, ltk[:]...)
	ikm = append(ikm, serverMAC[:]...)
	ikm = append(ikm, clientMAC[:]...)
	defer Zero(ikm)

	return expand(ikm, infoV2)
}

// DeriveFromNonce derives the session key via the legacy v1 scheme: IKM is
// SERVER_MAC||CLIENT_MAC||nonce. Retained for compatibility with devices
// that paired before LTK-derived keys were introduced.
func DeriveFromNonce(serverMAC, clientMAC [MacSize]byte, nonce [8]byte) (SessionKey, error) {
	ikm := make([]byte, 0, 2*MacSize+len(nonce))
	ikm = append(ikm, serverMAC[:]...)
	ikm = append(ikm, clientMAC[:]...)
	ikm = append(ikm, nonce[:]...)
	defer Zero(ikm)

	return expand(ikm, infoV1)
}

// expand runs HKDF-SHA256 with an empty salt over ikm, producing KeySize
// bytes of output tagged with info. The output buffer is never touched
// unless the derivation succeeds.
func expand(ikm []byte, info string) (SessionKey, error) {
	var out SessionKey
	r := hkdf.New(sha256.New, ikm, nil, []byte(info))
	buf := make([]byte, KeySize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return SessionKey{}, fmt.Errorf("hkdf expand: %w: %v", errs.ErrCryptoFailed, err)
	}
	copy(out[:], buf)
	Zero(buf)
	return out, nil
}
