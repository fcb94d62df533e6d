// Package app wires the room registry, schedule, engine and history into one
// controller. It owns all mutable state; the daemon loop and the HTTP server
// both work through it.
package app

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/sweeney/heating-controller/internal/heating"
	"github.com/sweeney/heating-controller/internal/history"
	"github.com/sweeney/heating-controller/internal/metrics"
	"github.com/sweeney/heating-controller/internal/room"
	"github.com/sweeney/heating-controller/internal/schedule"
	"github.com/sweeney/heating-controller/internal/store"
)

// Options configures a Controller.
type Options struct {
	Location    *time.Location
	LockTimeout time.Duration
	Relay       heating.Relay
	NewID       func() string
}

// Controller is the explicit context object for the heating core.
type Controller struct {
	loc      *time.Location
	rooms    *room.Registry
	schedule *schedule.Scheduler
	history  *history.Aggregator
	engine   *heating.Engine

	dirty atomic.Bool
}

// New builds a controller with default state. The history aggregator feeds
// the predictive pass its heating rate and receives the engine's closed runs.
func New(o Options) *Controller {
	if o.Location == nil {
		o.Location = time.Local
	}
	rooms := room.NewRegistry()
	hist := history.NewAggregator(o.Location)
	return &Controller{
		loc:   o.Location,
		rooms: rooms,
		schedule: schedule.New(schedule.Options{
			Location:    o.Location,
			LockTimeout: o.LockTimeout,
			Rooms:       rooms,
			Rate:        hist,
			Sink:        rooms,
			NewID:       o.NewID,
		}),
		history: hist,
		engine:  heating.NewEngine(rooms, o.Relay, hist),
	}
}

func (c *Controller) Location() *time.Location      { return c.loc }
func (c *Controller) Rooms() *room.Registry         { return c.rooms }
func (c *Controller) Schedule() *schedule.Scheduler { return c.schedule }
func (c *Controller) History() *history.Aggregator  { return c.history }
func (c *Controller) Engine() *heating.Engine       { return c.engine }

// MarkDirty records that persistent state changed.
func (c *Controller) MarkDirty() { c.dirty.Store(true) }

// TakeDirty reports whether state changed since the last call and clears the flag.
func (c *Controller) TakeDirty() bool { return c.dirty.Swap(false) }

// Start drives the relay off. Call once before the first cycle.
func (c *Controller) Start() error {
	if err := c.engine.Init(); err != nil {
		metrics.RelayErrors.Inc()
		return err
	}
	metrics.SetBool(metrics.RelayActive, false)
	return nil
}

// ResolveCycle runs one resolver pass and publishes the active mode. Usage
// history past its retention window is evicted on the same cadence.
func (c *Controller) ResolveCycle(ctx context.Context, now time.Time) (schedule.Result, error) {
	c.history.Prune(now)
	res, err := c.schedule.Update(ctx, now)
	if err != nil {
		metrics.CycleSkips.WithLabelValues("resolve").Inc()
		return res, err
	}

	metrics.SetActiveMode(string(res.Mode), modeNames())
	metrics.HeatingRate.Set(c.history.HeatingRate())
	if res.Inserted != nil {
		metrics.SmartDirectives.Inc()
		log.Printf("schedule: pre-heat to %s until %s", res.Inserted.Mode, res.Inserted.End.In(c.loc).Format(time.RFC3339))
		c.MarkDirty()
	}
	if res.Pruned > 0 {
		c.MarkDirty()
	}
	return res, nil
}

// DecisionCycle runs one engine step against the current rooms.
func (c *Controller) DecisionCycle(now time.Time) (heating.Result, error) {
	res, err := c.engine.Step(now)
	if err != nil {
		metrics.RelayErrors.Inc()
		metrics.CycleSkips.WithLabelValues("decide").Inc()
		return res, err
	}

	metrics.Decisions.WithLabelValues(string(res.Decision)).Inc()
	metrics.SetBool(metrics.RelayActive, res.Heating)
	metrics.DemandActual.Set(res.Demand.Actual)
	metrics.DemandHeat.Set(res.Demand.Heat)
	c.observeRooms(now, res.Mode)

	if res.Changed {
		state := "off"
		if res.Heating {
			state = "on"
		}
		metrics.RelayTransitions.WithLabelValues(state).Inc()
	}
	c.recordRun(res.Closed)
	return res, nil
}

// Shutdown switches the relay off and records any open run.
func (c *Controller) Shutdown(now time.Time) (*history.RunInterval, error) {
	run, err := c.engine.Shutdown(now)
	if err != nil {
		metrics.RelayErrors.Inc()
		return nil, err
	}
	metrics.SetBool(metrics.RelayActive, false)
	c.recordRun(run)
	return run, nil
}

func (c *Controller) recordRun(run *history.RunInterval) {
	if run == nil || run.Duration() <= 0 {
		return
	}
	metrics.RunsRecorded.Inc()
	metrics.RunSeconds.Add(run.Duration().Seconds())
	c.MarkDirty()
}

func (c *Controller) observeRooms(now time.Time, m room.Mode) {
	obs := c.rooms.Observe(now)
	metrics.RoomTemperature.Reset()
	metrics.RoomNeed.Reset()
	metrics.RoomValid.Reset()
	for _, o := range obs {
		metrics.SetBool(metrics.RoomValid.WithLabelValues(o.Name), o.Valid)
		if !o.Valid {
			continue
		}
		metrics.RoomTemperature.WithLabelValues(o.Name).Set(o.Temperature)
		metrics.RoomNeed.WithLabelValues(o.Name).Set(o.Need(m))
	}
}

// SetSettings changes the global operating mode.
func (c *Controller) SetSettings(s heating.Settings) error {
	if err := c.engine.SetSettings(s); err != nil {
		return err
	}
	c.MarkDirty()
	return nil
}

// ResetSettings forgets every room and returns to automatic operation.
// The plan and the usage history are kept.
func (c *Controller) ResetSettings() error {
	if err := c.rooms.Replace(nil); err != nil {
		return err
	}
	if err := c.engine.SetSettings(heating.DefaultSettings()); err != nil {
		return err
	}
	log.Printf("app: settings reset to defaults")
	c.MarkDirty()
	return nil
}

// Dump captures everything that is persisted.
func (c *Controller) Dump(ctx context.Context, now time.Time) (store.Document, error) {
	sched, err := c.schedule.Snapshot(ctx)
	if err != nil {
		return store.Document{}, fmt.Errorf("schedule: %w", err)
	}
	return store.Document{
		Rooms:    c.rooms.Configs(),
		Schedule: sched,
		History:  c.history.Snapshot(),
		Settings: c.engine.Settings(),
		SavedAt:  now,
	}, nil
}

// Restore replaces the controller state with doc. Every section is validated
// before anything is applied, so a bad document leaves the controller as it
// was.
func (c *Controller) Restore(ctx context.Context, doc store.Document, now time.Time) error {
	if err := room.NewRegistry().Replace(doc.Rooms); err != nil {
		return fmt.Errorf("rooms: %w", err)
	}
	if err := history.NewAggregator(c.loc).Restore(doc.History, now); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if err := doc.Settings.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	// The schedule goes first: it is the only section that can still fail
	// (lock timeout) once validated.
	if err := c.schedule.Restore(ctx, doc.Schedule); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if err := c.rooms.Replace(doc.Rooms); err != nil {
		return fmt.Errorf("rooms: %w", err)
	}
	if err := c.history.Restore(doc.History, now); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if err := c.engine.SetSettings(doc.Settings); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

func modeNames() []string {
	out := make([]string, len(room.Modes))
	for i, m := range room.Modes {
		out[i] = string(m)
	}
	return out
}
