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

package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWindowMeanAndMedian(t *testing.T) {
	w := NewWindow(5)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Add(v)
	}
	require.True(t, w.Full())
	require.Equal(t, 3.0, w.Mean())
	require.Equal(t, 3.0, w.Median())
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	w.Add(10)
	w.Add(20)
	w.Add(30)
	w.Add(40) // evicts 10
	require.ElementsMatch(t, []float64{20, 30, 40}, w.AllSamples())
}

func TestWindowStddevZeroForConstantSamples(t *testing.T) {
	w := NewWindow(4)
	for i := 0; i < 4; i++ {
		w.Add(7)
	}
	require.InDelta(t, 0.0, w.Stddev(), 1e-9)
}

func TestJitterMetricsSnapshot(t *testing.T) {
	j := NewJitterMetrics(8)
	j.IncSent()
	j.IncSent()
	j.IncReceived()
	j.IncFailure()
	j.Sample(5)
	j.Sample(-5)

	snap := j.Snapshot()
	require.Equal(t, uint32(2), snap.BeaconsSent)
	require.Equal(t, uint32(1), snap.BeaconsReceived)
	require.Equal(t, uint32(1), snap.BeaconsFailures)
	require.Equal(t, 2, snap.Count)
	require.InDelta(t, 0.0, snap.Mean, 1e-9)
}
