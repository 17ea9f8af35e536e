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
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// Telemetry is the host/bench-build process telemetry and exporter,
// grounded on the teacher's Stats/SysStats pair: atomic counters collected
// by CollectSysStats and exposed for monitoring, here as Prometheus gauges
// instead of the teacher's JSON stats endpoint.
type Telemetry struct {
	proc *process.Process

	offsetUS      prometheus.Gauge
	jitterStddev  prometheus.Gauge
	beaconsSent   prometheus.Counter
	beaconsRecv   prometheus.Counter
	beaconsFailed prometheus.Counter
	goroutines    prometheus.Gauge
	rssBytes      prometheus.Gauge
	cpuPercent    prometheus.Gauge
	uptimeSeconds prometheus.Gauge

	startedAt time.Time
}

// NewTelemetry registers hapticsd's gauges/counters against reg.
func NewTelemetry(reg prometheus.Registerer) (*Telemetry, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	t := &Telemetry{
		proc:      proc,
		startedAt: time.Now(),
		offsetUS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hapticsd_timesync_offset_us", Help: "last filtered clock offset, microseconds",
		}),
		jitterStddev: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hapticsd_radio_jitter_stddev_us", Help: "beacon arrival jitter standard deviation, microseconds",
		}),
		beaconsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hapticsd_beacons_sent_total", Help: "beacons transmitted",
		}),
		beaconsRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hapticsd_beacons_received_total", Help: "beacons received",
		}),
		beaconsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hapticsd_beacons_failed_total", Help: "beacon sends that failed",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hapticsd_process_goroutines", Help: "live goroutine count",
		}),
		rssBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hapticsd_process_rss_bytes", Help: "resident set size",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hapticsd_process_cpu_percent", Help: "process CPU utilization percent",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hapticsd_process_uptime_seconds", Help: "seconds since process start",
		}),
	}
	for _, c := range []prometheus.Collector{
		t.offsetUS, t.jitterStddev, t.beaconsSent, t.beaconsRecv, t.beaconsFailed,
		t.goroutines, t.rssBytes, t.cpuPercent, t.uptimeSeconds,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// SetOffset records the time-sync engine's last filtered offset.
func (t *Telemetry) SetOffset(us float64) { t.offsetUS.Set(us) }

// ObserveJitter records the radio transport's current jitter snapshot.
func (t *Telemetry) ObserveJitter(snap JitterSnapshot) {
	t.jitterStddev.Set(snap.Stddev)
	t.beaconsSent.Add(float64(snap.BeaconsSent))
	t.beaconsRecv.Add(float64(snap.BeaconsReceived))
	t.beaconsFailed.Add(float64(snap.BeaconsFailures))
}

// CollectSysStats samples goroutine count, RSS and CPU percent, mirroring
// the teacher's SysStats.CollectSysStats.
func (t *Telemetry) CollectSysStats() {
	t.goroutines.Set(float64(runtime.NumGoroutine()))
	t.uptimeSeconds.Set(time.Since(t.startedAt).Seconds())
	if v, err := t.proc.Percent(0); err == nil {
		t.cpuPercent.Set(v)
	}
	if v, err := t.proc.MemoryInfo(); err == nil {
		t.rssBytes.Set(float64(v.RSS))
	}
}

// CollectForever samples system stats every interval until stop is closed.
func (t *Telemetry) CollectForever(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.CollectSysStats()
		case <-stop:
			return
		}
	}
}

// Serve starts the Prometheus /metrics exporter, matching the teacher's
// monitoring-port convention (cmd/sptp serves JSON stats the same way).
func Serve(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Infof("[stats] serving /metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("[stats] metrics server stopped: %v", err)
	}
}
