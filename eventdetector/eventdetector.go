// Package eventdetector consumes fused inertial and barometric samples
// and classifies flight-phase transitions with hysteresis and dwell
// timers. It owns no I/O: the flight controller feeds it samples and
// acts on the transitions it reports.
package eventdetector

import (
	"math"
	"time"

	"github.com/northfield-rocketry/flightcomputer/records"
	"github.com/northfield-rocketry/flightcomputer/ring"
)

// Barometric formula constants (ICAO standard atmosphere, troposphere).
const (
	seaLevelPressurePa    = 101325.0
	seaLevelTemperatureK  = 288.15
	temperatureLapseRate  = -0.0065
	gasConstant           = 8.31432
	gravityAccel          = 9.80665
	molarMassAir          = 0.0289644
)

// altitudeWindowSize is the sliding window width for smoothed-gradient
// apogee detection.
const altitudeWindowSize = 100

// DefaultDwellDuration is how long a dwell-gated phase (Apogee,
// MainChute, Landed) must persist before the controller is allowed to
// advance, absent an override from SetDwellDuration.
const DefaultDwellDuration = time.Second

// ApogeeDetectionMode selects which of the two apogee predicates the
// detector applies.
type ApogeeDetectionMode int

const (
	// ApogeeAveraged watches for a smoothed altitude-gradient sign flip
	// from positive to negative within a plausible magnitude band.
	ApogeeAveraged ApogeeDetectionMode = iota
	// ApogeeRaw watches for near-zero net acceleration (free-fall).
	ApogeeRaw
)

const (
	launchAccelThresholdG = 6.9
	apogeeRawAccelLimitG  = 0.1

	// defaultApogeeGradientMinAbsM/MaxAbsM bound the smoothed-altitude
	// gradient magnitude apogeeAveraged accepts as a real sign flip
	// rather than sensor noise. Airframe-dependent (descent rate under
	// drogue varies with mass and drag); override with
	// SetApogeeGradientBand for a given airframe.
	defaultApogeeGradientMinAbsM = 0.2
	defaultApogeeGradientMaxAbsM = 5.0

	mainChuteToleranceM           = 25.0
	landingGyroThresholdDegPerSec = 5.0
	landingAltitudeToleranceM     = 25.0
)

// Sample bundles whatever sensor data is available on a given flight
// controller tick. Fields are only meaningful when their HaveX flag is
// set; a tick may carry inertial data, barometric data, both, or
// neither.
type Sample struct {
	TimestampTicks uint32

	HaveAccel bool
	AccelG    [3]float32

	HaveGyro bool
	GyroDeg  [3]float32

	HaveBaro  bool
	PressurePa float32
}

// Detector holds the state machine's working state: the current phase,
// the ground altitude reference, the smoothed-altitude window, and the
// dwell-timer clock.
type Detector struct {
	phase records.FlightPhase

	groundPressurePa float64
	groundAltitudeM  float64

	mainChuteTargetM float64

	mode ApogeeDetectionMode

	altitudeWindow    *ring.Ring
	haveGradientSign  bool
	lastGradientUp    bool

	lastAltitudeAboveLaunchM float64
	haveAltitude             bool

	dwellSince    time.Time
	inDwell       bool
	dwellDuration time.Duration

	apogeeGradientMinAbsM float64
	apogeeGradientMaxAbsM float64

	now func() time.Time
}

// New constructs a Detector resuming at restoredPhase (Launchpad unless a
// reboot recovered a later phase). groundPressurePa is the already-known
// ground reference; if restoredPhase is Launchpad and no reference is
// known yet, call SetGroundReference once the first barometric sample
// arrives instead of passing one here.
func New(restoredPhase records.FlightPhase, groundPressurePa float64, mainChuteTargetM float64, mode ApogeeDetectionMode) *Detector {
	d := &Detector{
		phase:                  restoredPhase,
		mainChuteTargetM:       mainChuteTargetM,
		mode:                   mode,
		altitudeWindow:         ring.New(altitudeWindowSize),
		dwellDuration:          DefaultDwellDuration,
		apogeeGradientMinAbsM:  defaultApogeeGradientMinAbsM,
		apogeeGradientMaxAbsM:  defaultApogeeGradientMaxAbsM,
		now:                    time.Now,
	}
	if groundPressurePa > 0 {
		d.SetGroundReference(groundPressurePa)
	}
	return d
}

// SetGroundReference establishes the ground pressure and derives the
// ground altitude used as the zero point for "altitude above launch."
func (d *Detector) SetGroundReference(groundPressurePa float64) {
	d.groundPressurePa = groundPressurePa
	d.groundAltitudeM = altitudeAboveSeaLevel(groundPressurePa)
}

// HasGroundReference reports whether SetGroundReference has been called.
func (d *Detector) HasGroundReference() bool { return d.groundPressurePa > 0 }

// SetDwellDuration overrides the dwell period applied to Apogee,
// MainChute and Landed. The new period also applies to a dwell already
// in progress, since each check reads the current value.
func (d *Detector) SetDwellDuration(dur time.Duration) { d.dwellDuration = dur }

// SetApogeeGradientBand overrides the smoothed-altitude gradient
// magnitude band apogeeAveraged treats as a real descent sign flip.
// Airframe-specific; tune to the rocket's expected descent rate under
// drogue.
func (d *Detector) SetApogeeGradientBand(minAbsM, maxAbsM float64) {
	d.apogeeGradientMinAbsM = minAbsM
	d.apogeeGradientMaxAbsM = maxAbsM
}

// Phase returns the detector's current flight phase.
func (d *Detector) Phase() records.FlightPhase { return d.phase }

// altitudeAboveSeaLevel applies the standard barometric formula.
func altitudeAboveSeaLevel(pressurePa float64) float64 {
	exponent := (-gasConstant * temperatureLapseRate) / (gravityAccel * molarMassAir)
	return (seaLevelTemperatureK / temperatureLapseRate) * (math.Pow(pressurePa/seaLevelPressurePa, exponent) - 1)
}

// AltitudeAboveLaunch converts a pressure reading to meters above the
// ground reference.
func (d *Detector) AltitudeAboveLaunch(pressurePa float64) float64 {
	return altitudeAboveSeaLevel(pressurePa) - d.groundAltitudeM
}

func norm3(v [3]float32) float64 {
	return math.Sqrt(float64(v[0])*float64(v[0]) + float64(v[1])*float64(v[1]) + float64(v[2])*float64(v[2]))
}

func avg(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// apogeeAveraged feeds altitude into the sliding window and reports a
// smoothed-gradient sign flip from positive to negative within the
// plausible magnitude band. It only becomes eligible once the window is
// full.
func (d *Detector) apogeeAveraged(altitudeM float64) bool {
	d.altitudeWindow.Push(altitudeM)
	if !d.altitudeWindow.Full() {
		return false
	}
	vals := d.altitudeWindow.Values()
	mid := len(vals) / 2
	delta := avg(vals[mid:]) - avg(vals[:mid])
	mag := math.Abs(delta)
	isUp := delta > 0

	// A gradient below the band's floor is noise: it neither fires nor
	// replaces the last recorded sign.
	if mag < d.apogeeGradientMinAbsM {
		return false
	}
	inBand := mag <= d.apogeeGradientMaxAbsM
	flip := d.haveGradientSign && d.lastGradientUp && !isUp && inBand

	d.haveGradientSign = true
	d.lastGradientUp = isUp
	return flip
}

// apogeeRaw reports near-zero net acceleration, i.e. free-fall.
func apogeeRaw(accelG [3]float32) bool {
	return norm3(accelG) < apogeeRawAccelLimitG
}

// enterDwell records the moment a dwell-gated phase was entered.
func (d *Detector) enterDwell() {
	d.dwellSince = d.now()
	d.inDwell = true
}

// dwellElapsed reports whether DwellDuration has passed since entering
// the current dwell-gated phase.
func (d *Detector) dwellElapsed() bool {
	return d.inDwell && d.now().Sub(d.dwellSince) >= d.dwellDuration
}

// Update feeds one controller tick's worth of sensor data to the
// detector and reports the flight event it emits, if the phase
// advanced. transitioned is false when s carries no data relevant to
// the current phase's predicate, or the predicate hasn't fired yet.
func (d *Detector) Update(s Sample) (event records.FlightEvent, transitioned bool) {
	if s.HaveBaro {
		d.lastAltitudeAboveLaunchM = d.AltitudeAboveLaunch(float64(s.PressurePa))
		d.haveAltitude = true
	}

	next, fire := d.evaluate(s)
	if !fire {
		return records.FlightEvent{}, false
	}

	d.phase = next
	if next == records.Apogee || next == records.MainChute || next == records.Landed {
		d.enterDwell()
	} else {
		d.inDwell = false
	}

	return records.FlightEvent{TimestampTicks: s.TimestampTicks, Phase: next}, true
}

// evaluate applies the predicate for the current phase and returns the
// next phase plus whether it fired, per the forward-only transition
// table. It never regresses phase.
func (d *Detector) evaluate(s Sample) (next records.FlightPhase, fire bool) {
	switch d.phase {
	case records.Launchpad:
		if s.HaveAccel && norm3(s.AccelG) > launchAccelThresholdG {
			return records.PreApogee, true
		}

	case records.PreApogee:
		if !d.haveAltitude {
			return d.phase, false
		}
		switch d.mode {
		case ApogeeRaw:
			if s.HaveAccel && apogeeRaw(s.AccelG) {
				return records.Apogee, true
			}
		default:
			if s.HaveBaro && d.apogeeAveraged(d.lastAltitudeAboveLaunchM) {
				return records.Apogee, true
			}
		}

	case records.Apogee:
		if d.dwellElapsed() {
			return records.PostApogee, true
		}

	case records.PostApogee:
		if d.haveAltitude && math.Abs(d.lastAltitudeAboveLaunchM-d.mainChuteTargetM) < mainChuteToleranceM {
			return records.MainChute, true
		}

	case records.MainChute:
		if d.dwellElapsed() {
			return records.PostMain, true
		}

	case records.PostMain:
		gyroLanded := s.HaveGyro && norm3(s.GyroDeg) < landingGyroThresholdDegPerSec
		altitudeLanded := d.haveAltitude && math.Abs(d.lastAltitudeAboveLaunchM) < landingAltitudeToleranceM
		if gyroLanded || altitudeLanded {
			return records.Landed, true
		}

	case records.Landed:
		if d.dwellElapsed() {
			return records.Exit, true
		}
	}
	return d.phase, false
}
