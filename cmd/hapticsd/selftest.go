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
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lemonforest/mlehaptics-sub002/kdf"
	"github.com/lemonforest/mlehaptics-sub002/pattern"
	"github.com/lemonforest/mlehaptics-sub002/power"
	"github.com/lemonforest/mlehaptics-sub002/radio"
	"github.com/lemonforest/mlehaptics-sub002/timebase"
)

// selftestCmd exercises the crypto, wire-codec and power-glue paths on a
// bench without a paired peer, reporting PASS/FAIL per check — the same
// intent as cmd/sptp's free-running mode, adapted into an explicit
// subcommand rather than a client flag.
func selftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "exercise crypto, wire-codec and power-glue paths without a paired peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag {
				log.SetLevel(log.DebugLevel)
			}
			return runSelftest()
		},
	}
}

func runSelftest() error {
	checks := []struct {
		name string
		run  func() error
	}{
		{"kdf round trip", checkKDFRoundTrip},
		{"beacon wire round trip", checkBeaconRoundTrip},
		{"pattern CRC gate", checkPatternCRCGate},
		{"deep sleep zeroizes peer", checkDeepSleep},
	}
	failed := 0
	for _, c := range checks {
		if err := c.run(); err != nil {
			fmt.Printf("FAIL %s: %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("PASS %s\n", c.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d selftest checks failed", failed, len(checks))
	}
	return nil
}

func checkKDFRoundTrip() error {
	ltk := [kdf.LTKSize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	serverMAC := [kdf.MacSize]byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	clientMAC := [kdf.MacSize]byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}
	a, err := kdf.DeriveFromLTK(ltk, serverMAC, clientMAC)
	if err != nil {
		return err
	}
	b, err := kdf.DeriveFromLTK(ltk, serverMAC, clientMAC)
	if err != nil {
		return err
	}
	if a != b {
		return fmt.Errorf("derivation not deterministic")
	}
	return nil
}

func checkBeaconRoundTrip() error {
	b := radio.Beacon{ServerTimeUS: 123456789, Sequence: 42, EpochUS: 987654321, Flags: radio.BeaconFlagFastLock}
	buf := b.Marshal()
	got, err := radio.UnmarshalBeacon(buf)
	if err != nil {
		return err
	}
	if got != b {
		return fmt.Errorf("round trip mismatch: got %+v, want %+v", got, b)
	}
	return nil
}

func checkPatternCRCGate() error {
	buf := pattern.NewBuffer()
	if err := buf.LoadBuiltin(pattern.BuiltinAlternating, 0); err != nil {
		return err
	}
	segs := pattern.BuiltinAlternating.Segments
	header := pattern.Header{
		SegmentCount: uint16(len(segs)),
		ModeID:       pattern.BuiltinAlternating.ModeID,
		Flags:        pattern.BuiltinAlternating.Flags,
		ContentCRC:   pattern.CRC32(segs) ^ 0xFFFFFFFF, // corrupt
	}
	if err := buf.LoadExternal(header, segs); err == nil {
		return fmt.Errorf("expected crc32 mismatch to be rejected")
	}
	return nil
}

func checkDeepSleep() error {
	phy := newLoopbackPHY()
	clock := timebase.NewSoftClock()
	tr := radio.NewTransport(phy, clock)
	if err := tr.Init(6); err != nil {
		return err
	}
	key, err := kdf.DeriveFromLTK([kdf.LTKSize]byte{}, [kdf.MacSize]byte{}, [kdf.MacSize]byte{1})
	if err != nil {
		return err
	}
	if err := tr.SetPeerEncrypted(radio.MAC{1, 2, 3, 4, 5, 6}, key, 6); err != nil {
		return err
	}
	store := newLoopbackStore()
	ctrl := newLoopbackSleepController()
	if _, err := power.EnterDeepSleep(context.Background(), store, tr, ctrl, power.Settings{}, "selftest"); err != nil {
		return err
	}
	if tr.State() != radio.StateReady {
		return fmt.Errorf("transport state after deep sleep = %v, want %v", tr.State(), radio.StateReady)
	}
	return nil
}
