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

// Package stats holds the ring-buffer-backed statistics shared by the radio
// transport's jitter accounting and the time-sync engine's offset/path-delay
// filtering.
package stats

import (
	"container/ring"
	"math"
	"sort"
)

// Window is a fixed-size ring buffer of float64 samples with running
// sum/mean/median/stddev, adapted from the teacher's slidingWindow.
type Window struct {
	size        int
	currentSize int
	sum         float64
	sumSq       float64
	samples     *ring.Ring
	sorted      []float64
}

// NewWindow creates a Window holding up to size samples. size < 1 is
// clamped to 1.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	w := &Window{
		size:    size,
		samples: ring.New(size),
		sorted:  make([]float64, size),
	}
	for i := 0; i < w.size; i++ {
		w.samples.Value = math.NaN()
		w.sorted[i] = math.NaN()
		w.samples = w.samples.Next()
	}
	return w
}

// Add pushes a new sample, evicting the oldest if the window is full.
func (w *Window) Add(sample float64) {
	w.samples = w.samples.Next()
	v := w.samples.Value.(float64)
	if !math.IsNaN(v) {
		w.sum -= v
		w.sumSq -= v * v
	}
	if !w.Full() {
		w.currentSize++
	}
	w.samples.Value = sample
	w.sum += sample
	w.sumSq += sample * sample
}

// LastSample returns the most recently added sample, or NaN if empty.
func (w *Window) LastSample() float64 {
	return w.samples.Value.(float64)
}

// AllSamples returns the valid samples currently held, oldest-first is not
// guaranteed; order is irrelevant to the consumers (mean/median/stddev).
func (w *Window) AllSamples() []float64 {
	r := w.samples
	for j := 0; j < w.size; j++ {
		v := r.Value.(float64)
		if !math.IsNaN(v) {
			w.sorted[j] = v
		}
		r = r.Prev()
	}
	return w.sorted[0:w.currentSize]
}

func mean(data []float64) float64 {
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// Median returns the median of the samples currently held, NaN if empty.
func (w *Window) Median() float64 {
	c := append([]float64(nil), w.AllSamples()...)
	sort.Float64s(c)
	l := len(c)
	if l == 0 {
		return math.NaN()
	} else if l%2 == 0 {
		return mean(c[l/2-1 : l/2+1])
	}
	return c[l/2]
}

// Mean returns the running mean of the samples currently held.
func (w *Window) Mean() float64 {
	if w.currentSize == 0 {
		return math.NaN()
	}
	return w.sum / float64(w.currentSize)
}

// Variance returns the running (population) variance of the samples currently held.
func (w *Window) Variance() float64 {
	if w.currentSize == 0 {
		return math.NaN()
	}
	m := w.Mean()
	return w.sumSq/float64(w.currentSize) - m*m
}

// Stddev returns the running standard deviation.
func (w *Window) Stddev() float64 {
	v := w.Variance()
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// Count returns the number of valid samples currently held.
func (w *Window) Count() int { return w.currentSize }

// Full reports whether the window has accumulated size samples.
func (w *Window) Full() bool {
	return w.currentSize == w.size
}
