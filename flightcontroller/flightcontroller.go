// Package flightcontroller owns the top-level per-tick loop: pull
// available sensor samples, feed the event detector, dispatch the
// current phase's action (continuity sampling or recovery MOSFET
// activation), and forward everything to the memory manager.
package flightcontroller

import (
	"log/slog"
	"time"

	"github.com/northfield-rocketry/flightcomputer/eventdetector"
	"github.com/northfield-rocketry/flightcomputer/memory"
	"github.com/northfield-rocketry/flightcomputer/records"
	"github.com/northfield-rocketry/flightcomputer/recovery"
	"github.com/northfield-rocketry/flightcomputer/sensors"
)

// Option is a generic present-or-absent holder, replacing the per-field
// "updated" boolean flags the original firmware carried on its data
// container: presence is part of the value's type instead of a sibling
// field a caller can forget to check.
type Option[T any] struct {
	Value   T
	Present bool
}

func Some[T any](v T) Option[T] { return Option[T]{Value: v, Present: true} }

// DataContainer is one tick's worth of pulled sensor data, forwarded to
// the memory manager after the event detector and recovery dispatch
// have seen it.
type DataContainer struct {
	TimestampTicks uint32
	Inertial       Option[sensors.InertialSample]
	Barometric     Option[sensors.BarometricSample]
}

// EMatchHoldDuration is how long the activate pin is held high per the
// MOSFET activation protocol.
const EMatchHoldDuration = 50 * time.Millisecond

// Controller wires together one inertial source, one barometric source,
// the event detector, the recovery outputs, and the memory manager.
// Additional inertial sources (e.g. magnetometer) are not modeled: the
// spec's sensor-source contract only covers inertial (accel+gyro) and
// barometric streams.
type Controller struct {
	inertial   sensors.InertialSource
	barometric sensors.BarometricSource
	detector   *eventdetector.Detector
	recovery   *recovery.Controller
	mem        *memory.Manager
	logger     *slog.Logger

	ematchHold time.Duration

	lastContinuity     [2]records.ContinuityStatus
	haveLastContinuity bool

	running bool
}

// New constructs a Controller. detector should already be initialized
// with the phase recovered by mem at boot.
func New(inertial sensors.InertialSource, barometric sensors.BarometricSource, detector *eventdetector.Detector, rec *recovery.Controller, mem *memory.Manager, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		inertial:   inertial,
		barometric: barometric,
		detector:   detector,
		recovery:   rec,
		mem:        mem,
		logger:     logger,
		ematchHold: EMatchHoldDuration,
	}
}

// IsRunning reports whether the controller's tick loop is active.
func (c *Controller) IsRunning() bool { return c.running }

// Stop clears the running flag; the next Run loop iteration returns.
func (c *Controller) Stop() { c.running = false }

// Run drives the tick loop until Stop is called. Intended to run on its
// own goroutine; Tick is exposed separately for deterministic testing.
func (c *Controller) Run() {
	c.running = true
	for c.running {
		c.Tick()
	}
}

// Tick pulls one sample from each source if available, feeds the event
// detector, dispatches the current phase's action, and forwards the
// container to the memory manager.
func (c *Controller) Tick() {
	container := c.pull()

	if c.detector.Phase() == records.Launchpad && !c.detector.HasGroundReference() && container.Barometric.Present {
		b := container.Barometric.Value
		c.detector.SetGroundReference(float64(b.Pressure))
		if err := c.mem.SetGroundReference(b.Pressure, b.Temperature); err != nil {
			c.logger.Error("flightcontroller:ground-reference-failed", slog.String("err", err.Error()))
		}
	}

	sample := toDetectorSample(container)
	event, transitioned := c.detector.Update(sample)
	if transitioned {
		if err := c.mem.WriteFlightEvent(event); err != nil {
			c.logger.Error("flightcontroller:write-flight-event-failed", slog.String("err", err.Error()))
		}
		c.logger.Info("flightcontroller:phase-transition", slog.String("phase", event.Phase.String()))
	}

	c.dispatch(c.detector.Phase(), container.TimestampTicks)
	c.forward(container)
}

func (c *Controller) pull() DataContainer {
	container := DataContainer{}
	if s, ok := c.inertial.TryRead(); ok {
		container.Inertial = Some(s)
		container.TimestampTicks = s.TimestampTicks
	}
	if s, ok := c.barometric.TryRead(); ok {
		container.Barometric = Some(s)
		container.TimestampTicks = s.TimestampTicks
	}
	return container
}

func toDetectorSample(c DataContainer) eventdetector.Sample {
	s := eventdetector.Sample{TimestampTicks: c.TimestampTicks}
	if c.Inertial.Present {
		s.HaveAccel = true
		s.AccelG = c.Inertial.Value.Acc
		s.HaveGyro = true
		s.GyroDeg = c.Inertial.Value.Gyro
	}
	if c.Barometric.Present {
		s.HaveBaro = true
		s.PressurePa = c.Barometric.Value.Pressure
	}
	return s
}

// dispatch applies the per-phase action described by the transition
// table: continuity sampling for the four quiescent phases, recovery
// MOSFET activation for Apogee and MainChute.
func (c *Controller) dispatch(phase records.FlightPhase, ts uint32) {
	switch phase {
	case records.PreApogee, records.PostApogee, records.PostMain, records.Landed:
		c.sampleContinuity(ts)
	case records.Apogee:
		c.fireRecovery(recovery.Drogue)
	case records.MainChute:
		c.fireRecovery(recovery.Main)
	}
}

func (c *Controller) sampleContinuity(ts uint32) {
	var current [2]records.ContinuityStatus
	for i, ch := range [2]recovery.Channel{recovery.Drogue, recovery.Main} {
		status, err := c.recovery.Continuity(ch)
		if err != nil {
			c.logger.Error("flightcontroller:continuity-read-failed", slog.String("channel", ch.String()), slog.String("err", err.Error()))
			return
		}
		current[i] = status
	}

	if c.haveLastContinuity && current == c.lastContinuity {
		return
	}
	c.lastContinuity = current
	c.haveLastContinuity = true

	if err := c.mem.WriteContinuity(records.Continuity{TimestampTicks: ts, Status: current}); err != nil {
		c.logger.Error("flightcontroller:write-continuity-failed", slog.String("err", err.Error()))
	}
}

func (c *Controller) fireRecovery(ch recovery.Channel) {
	if err := c.recovery.Activate(ch, c.ematchHold); err != nil {
		c.logger.Error("flightcontroller:recovery-activate-failed", slog.String("channel", ch.String()), slog.String("err", err.Error()))
	}
}

// forward writes every sample present in container to its memory-manager
// sector.
func (c *Controller) forward(container DataContainer) {
	if container.Inertial.Present {
		s := container.Inertial.Value
		accel := records.Inertial{TimestampTicks: s.TimestampTicks, Data: s.Acc}
		gyro := records.Inertial{TimestampTicks: s.TimestampTicks, Data: s.Gyro}
		if err := c.mem.WriteInertial(records.Accel, accel); err != nil {
			c.logger.Error("flightcontroller:write-accel-failed", slog.String("err", err.Error()))
		}
		if err := c.mem.WriteInertial(records.Gyro, gyro); err != nil {
			c.logger.Error("flightcontroller:write-gyro-failed", slog.String("err", err.Error()))
		}
	}
	if container.Barometric.Present {
		s := container.Barometric.Value
		pressure := records.Barometric{TimestampTicks: s.TimestampTicks, Data: s.Pressure}
		temperature := records.Barometric{TimestampTicks: s.TimestampTicks, Data: s.Temperature}
		if err := c.mem.WriteBarometric(records.Pressure, pressure); err != nil {
			c.logger.Error("flightcontroller:write-pressure-failed", slog.String("err", err.Error()))
		}
		if err := c.mem.WriteBarometric(records.Temperature, temperature); err != nil {
			c.logger.Error("flightcontroller:write-temperature-failed", slog.String("err", err.Error()))
		}
	}
}
