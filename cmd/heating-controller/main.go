// Command heating-controller decides when the boiler fires from room
// thermometers and a weekly plan, and drives the relay over GPIO.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/heating-controller/internal/app"
	"github.com/sweeney/heating-controller/internal/gpio"
	"github.com/sweeney/heating-controller/internal/heating"
	"github.com/sweeney/heating-controller/internal/metrics"
	"github.com/sweeney/heating-controller/internal/mqtt"
	"github.com/sweeney/heating-controller/internal/schedule"
	"github.com/sweeney/heating-controller/internal/status"
	"github.com/sweeney/heating-controller/internal/store"
	"github.com/sweeney/heating-controller/internal/web"
)

type config struct {
	resolve        time.Duration
	decide         time.Duration
	broker         string
	sensorTopic    string
	heartbeat      time.Duration
	relayPin       int
	relayActiveLow bool
	httpAddr       string
	db             string
	tz             string
	saveDebounce   time.Duration
	printState     bool
}

func main() {
	var cfg config
	flag.DurationVar(&cfg.resolve, "resolve", 30*time.Second, "Schedule resolver interval")
	flag.DurationVar(&cfg.decide, "decide", 10*time.Second, "Heating decision interval")
	flag.StringVar(&cfg.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&cfg.sensorTopic, "sensor-topic", mqtt.DefaultSensorTopic, "MQTT topic filter for thermometer readings")
	flag.DurationVar(&cfg.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.IntVar(&cfg.relayPin, "relay-pin", gpio.PinRelay, "BCM pin number for the boiler relay")
	flag.BoolVar(&cfg.relayActiveLow, "relay-active-low", true, "Relay board energises on a low line")
	flag.StringVar(&cfg.httpAddr, "http", ":80", "HTTP status and API address (empty to disable)")
	flag.StringVar(&cfg.db, "db", "/var/lib/heating-controller/state.db", "SQLite state file (empty to disable persistence)")
	flag.StringVar(&cfg.tz, "tz", "Local", "IANA time zone of the weekly plan")
	flag.DurationVar(&cfg.saveDebounce, "save-debounce", 5*time.Second, "Minimum interval between state saves")
	flag.BoolVar(&cfg.printState, "print-state", false, "Print the saved state and exit")

	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := time.LoadLocation(cfg.tz)
	if err != nil {
		return fmt.Errorf("load time zone: %w", err)
	}

	// Print state mode
	if cfg.printState {
		return printState(ctx, cfg.db)
	}

	var st *store.Store
	if cfg.db != "" {
		st, err = store.Open(ctx, cfg.db)
		if err != nil {
			log.Printf("store: %v; running without persistence", err)
			st = nil
		} else {
			defer st.Close()
		}
	}

	// Initialize GPIO
	relay, err := gpio.NewRealRelay(cfg.relayPin, cfg.relayActiveLow)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer relay.Close()

	ctrl := app.New(app.Options{Location: loc, Relay: relay})
	if st != nil {
		restoreState(ctx, ctrl, st, time.Now())
	}
	if err := ctrl.Start(); err != nil {
		return fmt.Errorf("init relay: %w", err)
	}

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(mqtt.Options{Broker: cfg.broker})
	defer publisher.Close()
	if err := publisher.SubscribeSensors(cfg.sensorTopic, ctrl.Rooms()); err != nil {
		log.Printf("mqtt: %v", err)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		ResolveMs:      cfg.resolve.Milliseconds(),
		DecideMs:       cfg.decide.Milliseconds(),
		HeartbeatMs:    cfg.heartbeat.Milliseconds(),
		SaveDebounceMs: cfg.saveDebounce.Milliseconds(),
		Broker:         cfg.broker,
		SensorTopic:    cfg.sensorTopic,
		HTTPPort:       cfg.httpAddr,
		DB:             cfg.db,
		TZ:             loc.String(),
		RelayPin:       cfg.relayPin,
	})
	tracker.SetSettings(ctrl.Engine().Settings())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server
	if cfg.httpAddr != "" {
		srv := web.New(web.Options{
			Addr:       cfg.httpAddr,
			Tracker:    tracker,
			Controller: ctrl,
			AccessLog:  os.Stdout,
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				// The heating loop keeps running without the control surface.
				log.Printf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
		log.Printf("http server listening on %s", cfg.httpAddr)
	}

	log.Printf("started: resolve=%v decide=%v broker=%s heartbeat=%v tz=%s", cfg.resolve, cfg.decide, cfg.broker, cfg.heartbeat, loc)

	resolveTicker := time.NewTicker(cfg.resolve)
	defer resolveTicker.Stop()
	decideTicker := time.NewTicker(cfg.decide)
	defer decideTicker.Stop()
	saveTicker := time.NewTicker(cfg.saveDebounce)
	defer saveTicker.Stop()
	ticks := loopTicks{
		resolve: resolveTicker.C,
		decide:  decideTicker.C,
		save:    saveTicker.C,
	}
	if cfg.heartbeat > 0 {
		hb := time.NewTicker(cfg.heartbeat)
		defer hb.Stop()
		ticks.heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var saver stateSaver
	if st != nil {
		saver = st
	}
	g.Go(func() error {
		defer cancel()
		return runLoop(ctrl, publisher, publisher, tracker, saver, time.Now, ticks, sigCh)
	})
	return g.Wait()
}

// stateSaver persists a controller dump.
type stateSaver interface {
	Save(ctx context.Context, doc store.Document) error
}

// loopTicks carries the periodic triggers of runLoop. A nil channel never fires.
type loopTicks struct {
	resolve   <-chan time.Time
	decide    <-chan time.Time
	save      <-chan time.Time
	heartbeat <-chan time.Time
}

func runLoop(ctrl *app.Controller, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, saver stateSaver, now func() time.Time, ticks loopTicks, sig <-chan os.Signal) error {
	ctx := context.Background()

	// Resolve once so the first decision sees the planned mode.
	resolveCycle(ctx, ctrl, tracker, now())

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			t := now()
			run, err := ctrl.Shutdown(t)
			if err != nil {
				log.Printf("heating: relay off at shutdown: %v", err)
			}
			if run != nil {
				res := heating.Result{
					Decision: heating.DecisionStop,
					Mode:     ctrl.Rooms().ActiveMode(),
					Changed:  true,
					Closed:   run,
				}
				if tracker != nil {
					tracker.UpdateDecision(res, ctrl.Engine().State(), ctrl.Engine().Settings())
				}
				publishResult(publisher, t, res)
			}
			saveState(ctx, ctrl, saver, t, true)

			event := mqtt.SystemEvent{
				Timestamp: t,
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-ticks.resolve:
			resolveCycle(ctx, ctrl, tracker, now())

		case <-ticks.decide:
			t := now()
			res, err := ctrl.DecisionCycle(t)
			if err != nil {
				log.Printf("heating: decision skipped, retry next cycle: %v", err)
				continue
			}
			if tracker != nil {
				tracker.UpdateDecision(res, ctrl.Engine().State(), ctrl.Engine().Settings())
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
			}
			// Publish after the engine lock is released.
			publishResult(publisher, t, res)

		case <-ticks.save:
			saveState(ctx, ctrl, saver, now(), false)

		case <-ticks.heartbeat:
			t := now()
			hbEvent := mqtt.SystemEvent{
				Timestamp: t,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v heating_on=%d heating_off=%d mode=%s",
					snap.Uptime().Truncate(time.Second), snap.Counts.On, snap.Counts.Off, snap.Schedule.Mode)
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

func resolveCycle(ctx context.Context, ctrl *app.Controller, tracker *status.Tracker, t time.Time) {
	res, err := ctrl.ResolveCycle(ctx, t)
	if errors.Is(err, schedule.ErrBusy) {
		log.Printf("schedule: resolve skipped, retry next cycle")
		return
	}
	if err != nil {
		log.Printf("schedule: resolve failed: %v", err)
		return
	}
	if tracker != nil {
		tracker.UpdateSchedule(status.Schedule{
			Mode:        res.Mode,
			NextChange:  res.Next,
			User:        res.User,
			Smart:       res.Smart,
			Rooms:       ctrl.Rooms().Len(),
			HeatingRate: ctrl.History().HeatingRate(),
		})
	}
}

func publishResult(publisher mqtt.Publisher, t time.Time, res heating.Result) {
	event, ok := mqtt.EventFromResult(t, res)
	if !ok {
		return
	}
	log.Printf("event: %s (mode=%s decision=%s)", event.Type, event.Mode, event.Decision)
	if err := publisher.Publish(event); err != nil {
		log.Printf("publish error: %v", err)
		// Don't crash on publish failure
	}
}

// saveState writes the controller state when it changed since the last save,
// or unconditionally when force is set. A failed save is retried next time.
func saveState(ctx context.Context, ctrl *app.Controller, saver stateSaver, t time.Time, force bool) {
	if saver == nil {
		return
	}
	if !ctrl.TakeDirty() && !force {
		return
	}
	doc, err := ctrl.Dump(ctx, t)
	if err != nil {
		ctrl.MarkDirty()
		metrics.StateSaves.WithLabelValues("error").Inc()
		log.Printf("store: dump skipped, retry next cycle: %v", err)
		return
	}
	if err := saver.Save(ctx, doc); err != nil {
		ctrl.MarkDirty()
		metrics.StateSaves.WithLabelValues("error").Inc()
		log.Printf("store: save failed: %v", err)
		return
	}
	metrics.StateSaves.WithLabelValues("ok").Inc()
}

// stateLoader reads a previously saved document.
type stateLoader interface {
	Load(ctx context.Context) (store.Document, error)
}

// restoreState loads saved state into ctrl. Any failure leaves the
// controller at its defaults.
func restoreState(ctx context.Context, ctrl *app.Controller, loader stateLoader, now time.Time) {
	doc, err := loader.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("store: no saved state, starting from defaults")
		return
	}
	if err != nil {
		log.Printf("store: load failed, starting from defaults: %v", err)
		return
	}
	if err := ctrl.Restore(ctx, doc, now); err != nil {
		log.Printf("store: restore failed, starting from defaults: %v", err)
		return
	}
	log.Printf("store: restored %d rooms saved at %s", len(doc.Rooms), doc.SavedAt.Format(time.RFC3339))
}

func printState(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("print-state needs -db")
	}
	st, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer st.Close()
	doc, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
