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
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemonforest/mlehaptics-sub002/errs"
	"github.com/lemonforest/mlehaptics-sub002/pattern"
)

var patternName string
var patternZone string

// patternCmd runs a compiled-in pattern standalone on the bench, printing
// each tick's driven output until playback completes or 200 ticks have
// printed, whichever comes first — useful for
// verifying a pattern's segment table without a paired peer or hardware.
func patternCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "play a compiled-in pattern on the bench and print each tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPattern()
		},
	}
	cmd.Flags().StringVar(&patternName, "name", "alternating", "alternating|emergency_quad|emergency|breathe")
	cmd.Flags().StringVar(&patternZone, "zone", "left", "left|right")
	return cmd
}

func builtinByName(name string) (pattern.Builtin, error) {
	switch name {
	case "alternating":
		return pattern.BuiltinAlternating, nil
	case "emergency_quad":
		return pattern.BuiltinEmergencyQuad, nil
	case "emergency":
		return pattern.BuiltinEmergency, nil
	case "breathe":
		return pattern.BuiltinBreathe, nil
	default:
		return pattern.Builtin{}, fmt.Errorf("unknown pattern %q", name)
	}
}

func runPattern() error {
	b, err := builtinByName(patternName)
	if err != nil {
		return err
	}
	zone := pattern.ZoneLeft
	if patternZone == "right" {
		zone = pattern.ZoneRight
	}

	buf := pattern.NewBuffer()
	if err := buf.LoadBuiltin(b, 0); err != nil {
		return err
	}
	if err := buf.Start(0); err != nil {
		return err
	}

	const tick = 50 * time.Millisecond
	var elapsed time.Duration
	for i := 0; i < 200; i++ {
		out, err := buf.Tick(uint64(elapsed.Microseconds()), zone)
		if err != nil {
			if errors.Is(err, errs.ErrFail) {
				fmt.Println("playback complete")
				return nil
			}
			return err
		}
		fmt.Printf("t=%-8s led=%v color=%v bright=%d motor=%v power=%d\n",
			elapsed, out.LEDEnabled, out.Color, out.Brightness, out.Motor, out.MotorPower)
		elapsed += tick
	}
	return nil
}
