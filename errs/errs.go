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

// Package errs defines the sentinel error kinds shared across the firmware
// core components.
package errs

import "errors"

// Sentinel error kinds. Components wrap these with fmt.Errorf("...: %w", ...)
// and callers check them with errors.Is.
var (
	// ErrInvalidArg is a caller contract violation: nil parameter, out of range value.
	ErrInvalidArg = errors.New("invalid argument")
	// ErrInvalidState is an operation attempted in the wrong FSM state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidSize is an external input rejected on size grounds.
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvalidCRC is an external input rejected on checksum grounds.
	ErrInvalidCRC = errors.New("invalid crc")
	// ErrTimeout is a handshake or wait budget exhausted.
	ErrTimeout = errors.New("timeout")
	// ErrCryptoFailed is an HKDF/SHA primitive error.
	ErrCryptoFailed = errors.New("crypto failed")
	// ErrFail is a non-specific PHY or peripheral failure; treat as non-fatal.
	ErrFail = errors.New("fail")
)
