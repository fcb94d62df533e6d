package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/heating-controller/internal/app"
	"github.com/sweeney/heating-controller/internal/gpio"
	"github.com/sweeney/heating-controller/internal/heating"
	"github.com/sweeney/heating-controller/internal/mqtt"
	"github.com/sweeney/heating-controller/internal/room"
	"github.com/sweeney/heating-controller/internal/schedule"
	"github.com/sweeney/heating-controller/internal/status"
	"github.com/sweeney/heating-controller/internal/store"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.IP != "" || info.SSID != "" {
		t.Errorf("unset fields should be empty, got %+v", info)
	}
}

// --- runLoop tests ---

// start is Monday 2026-01-05 12:00 UTC; the default plan is HOME all week.
var start = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

const sensorTopic = "heating/sensors/s1"

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fakeSaver struct {
	docs []store.Document
	err  error
}

func (f *fakeSaver) Save(_ context.Context, doc store.Document) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	return nil
}

type fakeLoader struct {
	doc store.Document
	err error
}

func (f fakeLoader) Load(context.Context) (store.Document, error) {
	return f.doc, f.err
}

// harness drives runLoop one tick at a time. A tick send returns once the
// loop has taken it; sending the next tick waits for the previous one to be
// fully handled.
type harness struct {
	ctrl    *app.Controller
	relay   *gpio.FakeRelay
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	saver   *fakeSaver

	resolve, decide, save, heartbeat chan time.Time
	sig                              chan os.Signal
	errCh                            chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	relay := gpio.NewFakeRelay()
	ctrl := app.New(app.Options{Location: time.UTC, Relay: relay})
	if err := ctrl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cfg := room.DefaultConfig("lounge")
	cfg.Sensors = []string{"s1"}
	if err := ctrl.Rooms().Add(cfg); err != nil {
		t.Fatalf("Add: %v", err)
	}

	pub := mqtt.NewFakePublisher()
	if err := pub.SubscribeSensors(mqtt.DefaultSensorTopic, ctrl.Rooms()); err != nil {
		t.Fatalf("SubscribeSensors: %v", err)
	}
	return &harness{
		ctrl:      ctrl,
		relay:     relay,
		pub:       pub,
		tracker:   status.NewTracker(start, status.Config{Broker: "tcp://test:1883"}),
		saver:     &fakeSaver{},
		resolve:   make(chan time.Time),
		decide:    make(chan time.Time),
		save:      make(chan time.Time),
		heartbeat: make(chan time.Time),
		sig:       make(chan os.Signal, 1),
		errCh:     make(chan error, 1),
	}
}

func (h *harness) start(clock func() time.Time) {
	ticks := loopTicks{resolve: h.resolve, decide: h.decide, save: h.save, heartbeat: h.heartbeat}
	go func() {
		h.errCh <- runLoop(h.ctrl, h.pub, h.pub, h.tracker, h.saver, clock, ticks, h.sig)
	}()
}

// barrier returns once every earlier tick has been handled.
func (h *harness) barrier() {
	h.resolve <- time.Time{}
}

func (h *harness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	if err := <-h.errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func (h *harness) reading(temp float64, at time.Time) {
	h.pub.Deliver(sensorTopic, []byte(fmt.Sprintf(`{"temperature":%g,"humidity":40,"battery":80}`, temp)), at)
}

func (h *harness) systemEvents(name string) []mqtt.SystemEvent {
	var out []mqtt.SystemEvent
	for _, se := range h.pub.SystemEvents {
		if se.Event == name {
			out = append(out, se)
		}
	}
	return out
}

func TestRunLoopHeatingCycle(t *testing.T) {
	h := newHarness(t)
	h.reading(19, start)
	h.start(fakeClock(start, time.Second))

	h.decide <- time.Time{}
	h.barrier()
	if !h.relay.Active() {
		t.Fatal("relay should be on after a cold reading")
	}

	h.reading(23, start.Add(2*time.Second))
	h.decide <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.Events) != 2 {
		t.Fatalf("expected 2 heating events, got %d", len(h.pub.Events))
	}
	if h.pub.Events[0].Type != mqtt.EventHeatingOn || h.pub.Events[0].Decision != "START" {
		t.Errorf("event 0: got %+v", h.pub.Events[0])
	}
	off := h.pub.Events[1]
	if off.Type != mqtt.EventHeatingOff || off.RunStart.IsZero() {
		t.Errorf("event 1: got %+v", off)
	}
	if h.relay.Active() {
		t.Error("relay should be off")
	}

	snap := h.tracker.Snapshot()
	if snap.Counts.On != 1 || snap.Counts.Off != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if snap.Schedule.Mode != room.ModeHome {
		t.Errorf("schedule mode: got %q, want HOME", snap.Schedule.Mode)
	}

	if n := len(h.systemEvents("SHUTDOWN")); n != 1 {
		t.Fatalf("expected 1 SHUTDOWN, got %d", n)
	}
	if len(h.saver.docs) != 1 {
		t.Fatalf("expected the shutdown save, got %d saves", len(h.saver.docs))
	}
	if runs := h.saver.docs[0].History.Runs; len(runs) != 1 {
		t.Errorf("saved runs: got %d, want 1", len(runs))
	}
}

func TestRunLoopShutdownClosesRun(t *testing.T) {
	h := newHarness(t)
	h.reading(19, start)
	h.start(fakeClock(start, time.Second))

	h.decide <- time.Time{}
	h.stop(t, syscall.SIGINT)

	if len(h.pub.Events) != 2 || h.pub.Events[1].Type != mqtt.EventHeatingOff {
		t.Fatalf("expected ON then OFF, got %+v", h.pub.Events)
	}
	if h.pub.Events[1].RunEnd.Sub(h.pub.Events[1].RunStart) <= 0 {
		t.Errorf("shutdown event should carry the closed run, got %+v", h.pub.Events[1])
	}
	if h.relay.Active() {
		t.Error("relay should be off after shutdown")
	}

	se := h.systemEvents("SHUTDOWN")
	if len(se) != 1 {
		t.Fatalf("expected 1 SHUTDOWN, got %d", len(se))
	}
	if se[0].Reason != "SIGINT" || !se[0].Retained {
		t.Errorf("shutdown event: got %+v", se[0])
	}
	if !strings.Contains(string(se[0].RawPayload), `"heating":"OFF"`) {
		t.Errorf("shutdown payload: %s", se[0].RawPayload)
	}
	if len(h.saver.docs) != 1 || len(h.saver.docs[0].History.Runs) != 1 {
		t.Errorf("shutdown save should include the run, got %d saves", len(h.saver.docs))
	}
}

func TestRunLoopStaleSensorsNeverStart(t *testing.T) {
	h := newHarness(t)
	h.reading(15, start.Add(-2*time.Minute))
	h.start(fakeClock(start, time.Second))

	h.decide <- time.Time{}
	h.decide <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.Events) != 0 {
		t.Errorf("expected no heating events, got %d", len(h.pub.Events))
	}
	if w := h.relay.Writes(); len(w) != 1 || w[0] {
		t.Errorf("relay writes: got %v, want the single initial OFF", w)
	}
}

func TestRunLoopRelayErrorRecovery(t *testing.T) {
	h := newHarness(t)
	h.reading(19, start)
	h.relay.SetError = errors.New("line busy")
	h.start(fakeClock(start, time.Second))

	h.decide <- time.Time{}
	h.barrier()
	if len(h.pub.Events) != 0 {
		t.Fatalf("no event should be published for a failed write, got %d", len(h.pub.Events))
	}

	h.relay.SetError = nil
	h.decide <- time.Time{}
	h.barrier()
	if len(h.pub.Events) != 1 || h.pub.Events[0].Type != mqtt.EventHeatingOn {
		t.Fatalf("expected HEATING_ON after recovery, got %+v", h.pub.Events)
	}
	h.stop(t, syscall.SIGTERM)
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(t)
	h.reading(19, start)
	h.pub.PublishError = errors.New("broker unavailable")
	h.start(fakeClock(start, time.Second))

	h.decide <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	if w := h.relay.Writes(); len(w) != 3 || !w[1] {
		t.Errorf("relay should still switch despite publish failures, writes %v", w)
	}
	if len(h.pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(h.pub.Events))
	}
	if len(h.systemEvents("SHUTDOWN")) != 1 {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopSavesOnlyWhenDirty(t *testing.T) {
	h := newHarness(t)
	h.start(fakeClock(start, time.Second))

	h.save <- time.Time{}
	h.barrier()
	if len(h.saver.docs) != 0 {
		t.Fatalf("clean state should not be saved, got %d saves", len(h.saver.docs))
	}

	h.ctrl.MarkDirty()
	h.save <- time.Time{}
	h.save <- time.Time{}
	h.barrier()
	if len(h.saver.docs) != 1 {
		t.Fatalf("expected 1 save, got %d", len(h.saver.docs))
	}
	if len(h.saver.docs[0].Rooms) != 1 || h.saver.docs[0].Rooms[0].Name != "lounge" {
		t.Errorf("saved rooms: got %+v", h.saver.docs[0].Rooms)
	}

	h.stop(t, syscall.SIGTERM)
	if len(h.saver.docs) != 2 {
		t.Errorf("shutdown should always save, got %d saves", len(h.saver.docs))
	}
}

func TestRunLoopSaveFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.saver.err = errors.New("disk full")
	h.ctrl.MarkDirty()
	h.start(fakeClock(start, time.Second))

	h.save <- time.Time{}
	h.barrier()
	h.saver.err = nil
	h.save <- time.Time{}
	h.barrier()
	if len(h.saver.docs) != 1 {
		t.Fatalf("failed save should be retried, got %d saves", len(h.saver.docs))
	}
	h.stop(t, syscall.SIGTERM)
}

func TestRunLoopPreheatDirective(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	plan := schedule.NewPlan()
	for s := 0; s < 26; s++ { // Monday 00:00-13:00 AWAY
		plan[0][s] = room.ModeAway
	}
	if err := h.ctrl.Schedule().SetPlan(ctx, plan); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	h.reading(15, start)
	h.start(fakeClock(start, time.Second))

	h.barrier()
	h.stop(t, syscall.SIGTERM)

	snap := h.tracker.Snapshot()
	if snap.Schedule.Mode != room.ModeHome || snap.Schedule.Smart != 1 {
		t.Errorf("expected a pre-heat to HOME, got %+v", snap.Schedule)
	}
	if len(h.saver.docs) != 1 || len(h.saver.docs[0].Schedule.Smart) != 1 {
		t.Errorf("smart directive should be saved")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkWifiSSID, "HomeNet")

	h := newHarness(t)
	h.pub.Connected = true
	h.start(fakeClock(start.Add(20*time.Minute), time.Second))

	h.heartbeat <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	hb := h.systemEvents("HEARTBEAT")
	if len(hb) != 1 {
		t.Fatalf("expected 1 HEARTBEAT, got %d", len(hb))
	}
	payload := string(hb[0].RawPayload)
	for _, want := range []string{`"event":"HEARTBEAT"`, `"ip":"192.168.1.42"`, `"connected":true`} {
		if !strings.Contains(payload, want) {
			t.Errorf("heartbeat payload missing %s: %s", want, payload)
		}
	}
	if strings.Contains(payload, `"needs"`) {
		t.Errorf("heartbeat should omit per-room needs: %s", payload)
	}
	if hb[0].Retained {
		t.Error("heartbeat should not be retained")
	}
}

func TestRunLoopManualMode(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.SetSettings(heating.Settings{Mode: heating.ModeManual, ManualOn: true}); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	h.start(fakeClock(start, time.Second))

	h.decide <- time.Time{}
	h.barrier()
	if !h.relay.Active() {
		t.Error("manual ON should drive the relay without any reading")
	}
	h.stop(t, syscall.SIGTERM)
}

func TestRestoreState(t *testing.T) {
	donor := app.New(app.Options{Location: time.UTC, Relay: gpio.NewFakeRelay()})
	if err := donor.Rooms().Add(room.DefaultConfig("office")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	doc, err := donor.Dump(context.Background(), start)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	bad := doc
	bad.Settings = heating.Settings{Mode: "TURBO"}

	cases := []struct {
		name  string
		load  fakeLoader
		rooms int
	}{
		{"nothing saved", fakeLoader{err: store.ErrNotFound}, 0},
		{"corrupt", fakeLoader{err: store.ErrCorrupt}, 0},
		{"invalid document", fakeLoader{doc: bad}, 0},
		{"valid", fakeLoader{doc: doc}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := app.New(app.Options{Location: time.UTC, Relay: gpio.NewFakeRelay()})
			restoreState(context.Background(), ctrl, tc.load, start)
			if n := ctrl.Rooms().Len(); n != tc.rooms {
				t.Errorf("rooms: got %d, want %d", n, tc.rooms)
			}
		})
	}
}
