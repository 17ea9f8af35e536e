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

// Command hapticsd wires the firmware core components into a set of
// priority-ordered goroutines cooperating over bounded channel queues, and
// exposes a cobra CLI (daemon, selftest, pattern), matching the flag/pprof
// idiom of cmd/sptp/main.go and the cobra RootCmd/subcommand structure of
// calnex/cmd/cmd.go.
package main

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lemonforest/mlehaptics-sub002/actuator"
	"github.com/lemonforest/mlehaptics-sub002/ble"
	"github.com/lemonforest/mlehaptics-sub002/button"
	"github.com/lemonforest/mlehaptics-sub002/pattern"
	"github.com/lemonforest/mlehaptics-sub002/radio"
	"github.com/lemonforest/mlehaptics-sub002/role"
	"github.com/lemonforest/mlehaptics-sub002/stats"
	"github.com/lemonforest/mlehaptics-sub002/tdm"
	"github.com/lemonforest/mlehaptics-sub002/timebase"
	"github.com/lemonforest/mlehaptics-sub002/timesync"
)

var (
	configPath  string
	verboseFlag bool
	pprofAddr   string
)

func main() {
	root := &cobra.Command{
		Use:   "hapticsd",
		Short: "bilateral-stimulation device firmware core, host/bench build",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a yaml config file")
	root.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "verbose output")
	root.PersistentFlags().StringVar(&pprofAddr, "pprof", "", "address to serve pprof on, disabled if empty")

	root.AddCommand(daemonCmd(), selftestCmd(), patternCmd())

	log.SetLevel(log.InfoLevel)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return ReadConfig(configPath)
}

func startPprof(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("pprof server stopped: %v", err)
		}
	}()
}

func daemonCmd() *cobra.Command {
	var roleFlag string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "run the firmware task set (button, motor/pattern, time-sync, BLE, telemetry)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag {
				log.SetLevel(log.DebugLevel)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			startPprof(pprofAddr)
			return runDaemon(cfg, roleFromFlag(roleFlag))
		},
	}
	cmd.Flags().StringVar(&roleFlag, "role", "", "server|client, seeds the role negotiation bias on bench builds with no real BLE discovery")
	return cmd
}

// device bundles every component one physical unit owns. Two of these
// paired over radio/ble form one bilateral-stimulation session.
type device struct {
	clock     *timebase.SoftClock
	transport *radio.Transport
	sched     *tdm.Scheduler
	sync      *timesync.Engine
	roleFSM   *role.FSM
	buf       *pattern.Buffer
	zones     pattern.ZoneConfig
	bleFSM    *ble.FSM
	buttonFSM *button.FSM
	actuators *actuator.Controller
	telemetry *stats.Telemetry

	modeChangeQ chan button.Event // button -> motor
	bleEventQ   chan button.Event // button -> ble
	bleMotorQ   chan ble.Message  // ble -> motor
	sessionQ    chan struct{}     // motor -> button, SessionTimeout

	beaconSeq  uint32
	coordArmed bool // true once this device has armed buf.Start from a coordinated epoch

	handshaking atomic.Bool // true while a CLIENT-side HandshakeWithTimeout is in flight
}

func runDaemon(cfg *Config, roleBias role.Role) error {
	reg := prometheus.NewRegistry()
	telemetry, err := stats.NewTelemetry(reg)
	if err != nil {
		return err
	}

	phy := newLoopbackPHY() // host/bench build: no ESP-NOW hardware present
	clock := timebase.NewSoftClock()
	sched := tdm.NewScheduler(tdm.DefaultConfig())
	transport := radio.NewTransport(phy, clock,
		radio.WithBeaconInterval(cfg.BeaconInterval),
		radio.WithTDMWaiter(sched),
	)
	if err := transport.Init(cfg.RadioChannel); err != nil {
		return err
	}

	roleFSM := role.NewFSM()
	syncEngine := timesync.NewEngine(clock, transport, false)
	syncEngine.SetOnLocked(telemetry.SetOffset)
	transport.SetHandlers(syncEngine.IngestBeacon, syncEngine.HandleCoordination)

	buf := pattern.NewBuffer()
	if err := buf.LoadBuiltin(pattern.BuiltinAlternating, uint64(clock.NowUS())); err != nil {
		return err
	}

	gpio := newLoopbackReader()
	d := &device{
		clock:     clock,
		transport: transport,
		sched:     sched,
		sync:      syncEngine,
		roleFSM:   roleFSM,
		buf:       buf,
		zones:     pattern.ZoneConfig{Mode: cfg.ZoneMode},
		actuators: actuator.NewController(newLoopbackPWM(), newLoopbackStrip()),
		telemetry: telemetry,

		modeChangeQ: make(chan button.Event, 5),
		bleEventQ:   make(chan button.Event, 3),
		bleMotorQ:   make(chan ble.Message, 3),
		sessionQ:    make(chan struct{}, 1),
	}
	d.buttonFSM = button.NewFSM(gpio, newLoopbackWatchdog(), d.dispatchButtonEvent, time.Now())
	d.bleFSM = ble.NewFSM(newLoopbackBLEController(), d.dispatchBLEMessage)

	// A real pairing supplies advertisedFirst/found from the BLE FSM's
	// discovery window; a standalone host build has no real discovery, so
	// --role seeds advertisedFirst directly (CLIENT unless told SERVER)
	// and simulates having found a peer, so the time-sync task always has
	// a beacon cadence or a handshake to exercise.
	if err := d.roleFSM.Negotiate(roleBias == role.RoleServer, true); err != nil {
		return err
	}
	d.transport.SetLocalIsServer(d.roleFSM.Role() == role.RoleServer)
	d.roleFSM.SessionStart(time.Now())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go d.runButtonTask(ctx)
	go d.runMotorTask(ctx)
	go d.runBLETask(ctx)
	go d.runTimeSyncTask(ctx, cfg.BeaconInterval)
	go telemetry.CollectForever(cfg.MetricsWindow, ctx.Done())
	go stats.Serve(cfg.MetricsAddr, reg)

	log.Infof("[hapticsd] daemon running (channel=%d, metrics=%s)", cfg.RadioChannel, cfg.MetricsAddr)
	<-ctx.Done()
	log.Infof("[hapticsd] shutting down")
	return nil
}

// dispatchButtonEvent routes a classified button event onto the
// button->motor and button->ble queues.
func (d *device) dispatchButtonEvent(e button.Event) {
	select {
	case d.modeChangeQ <- e:
	default:
		log.Warnf("[hapticsd] button->motor queue full, dropping %v", e)
	}
	if e == button.EventBleReEnable || e == button.EventEmergencyShutdown {
		select {
		case d.bleEventQ <- e:
		default:
			log.Warnf("[hapticsd] button->ble queue full, dropping %v", e)
		}
	}
}

func (d *device) dispatchBLEMessage(m ble.Message) {
	select {
	case d.bleMotorQ <- m:
	default:
		log.Warnf("[hapticsd] ble->motor queue full, dropping %v", m)
	}
}

// runButtonTask is the highest-priority task: debounce/hold classification
// at a tight poll interval.
func (d *device) runButtonTask(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.sessionQ:
			log.Infof("[hapticsd] session ended, stopping playback")
			d.buf.Stop()
		case <-ticker.C:
			d.buttonFSM.Tick()
		}
	}
}

// runMotorTask is the 50ms real-time playback loop, draining the
// button->motor and ble->motor queues between ticks.
func (d *device) runMotorTask(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.modeChangeQ:
			if e == button.EventEmergencyShutdown {
				d.buf.Stop()
			}
		case <-d.bleMotorQ:
			// PairingComplete/PairingFailed/peer params handled by the
			// radio/role layer; motor task only needs to know to keep playing.
		case <-ticker.C:
			zone := d.zones.Resolve(d.roleFSM.Role())
			out, err := d.buf.Tick(uint64(d.clock.NowUS()), zone)
			if err != nil {
				continue
			}
			if err := d.actuators.DriveMotor(out); err != nil {
				log.Warnf("[hapticsd] drive_motor: %v", err)
			}
			if err := d.actuators.SetPalettePerceptual(0, out); err != nil {
				log.Warnf("[hapticsd] set_palette_perceptual: %v", err)
			}
		}
	}
}

// runBLETask drains the button->ble queue and polls advertise/pairing
// timeouts.
func (d *device) runBLETask(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.bleEventQ:
			switch e {
			case button.EventBleReEnable:
				if err := d.bleFSM.ReEnable(); err != nil {
					log.Debugf("[hapticsd] ble re_enable: %v", err)
				}
			case button.EventEmergencyShutdown:
				_ = d.bleFSM.EmergencyShutdown()
			}
		case <-ticker.C:
			d.bleFSM.CheckAdvertiseTimeout()
			d.bleFSM.CheckPairingTimeout()
		}
	}
}

// runTimeSyncTask drives the beacon cadence on the SERVER side and the
// handshake/fast-lock convergence on the CLIENT side. A disconnected
// CLIENT promotes itself to SERVER after the survivor timeout so a
// reconnecting peer still has someone to sync against, and both sides
// track session duration for the motor->button SessionTimeout signal.
func (d *device) runTimeSyncTask(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			switch d.roleFSM.Role() {
			case role.RoleServer:
				// the SERVER's own engine never leaves StateIdle (handshake/
				// fast-lock tracking is CLIENT-side bookkeeping), so the
				// coordinated start fires on the first beacon tick rather
				// than waiting on a lock state that SERVER never reaches.
				if d.beaconSeq == 0 && !d.coordArmed {
					cb := d.sync.BuildCoordinatedStartBeacon(timesync.DefaultCoordStartDelay)
					if err := d.transport.SendBeacon(cb); err != nil {
						log.Debugf("[hapticsd] send_coordinated_start_beacon: %v", err)
					}
					if err := d.buf.Start(cb.EpochUS); err != nil {
						log.Warnf("[hapticsd] arm coordinated start: %v", err)
					}
					d.coordArmed = true
					break
				}
				d.beaconSeq++
				b := radio.Beacon{ServerTimeUS: uint64(d.clock.NowUS()), Sequence: d.beaconSeq}
				if d.sync.State() == timesync.StateFastLock {
					b.Flags |= radio.BeaconFlagFastLock
				}
				if err := d.transport.SendBeacon(b); err != nil {
					log.Debugf("[hapticsd] send_beacon: %v", err)
				}
			case role.RoleClient:
				// HandshakeWithTimeout now spans multiple SYNC_REQ/SYNC_RESP
				// rounds (DefaultHandshakeSamples of them) before it returns,
				// so it runs off the tick goroutine guarded by handshaking;
				// otherwise one in-flight attempt would stall the
				// coordinated-start, beacon-gap and survivor checks below
				// for every tick until it settles.
				if d.sync.State() == timesync.StateIdle && d.handshaking.CompareAndSwap(false, true) {
					go func() {
						defer d.handshaking.Store(false)
						hctx, hcancel := context.WithTimeout(ctx, timesync.DefaultHandshakeTimeout)
						defer hcancel()
						if err := d.sync.HandshakeWithTimeout(hctx); err != nil {
							log.Debugf("[hapticsd] handshake_with_timeout: %v", err)
						}
					}()
				}
				if !d.coordArmed {
					if epoch, armed := d.sync.CoordinatedEpoch(); armed {
						if err := d.buf.Start(epoch); err != nil {
							log.Warnf("[hapticsd] arm coordinated start: %v", err)
						}
						d.coordArmed = true
					}
				}
				if d.sync.BeaconGapExceeded() && d.roleFSM.FallbackPhase() == role.FallbackNone {
					d.roleFSM.EnterFallback(now, role.FallbackState{})
				}
				if d.roleFSM.PromoteSurvivor(now) {
					d.transport.SetLocalIsServer(true)
				}
			}
			if d.roleFSM.SessionShouldEnd(now, false) {
				d.roleFSM.SessionEnd()
				select {
				case d.sessionQ <- struct{}{}:
				default:
				}
			}
		}
	}
}
