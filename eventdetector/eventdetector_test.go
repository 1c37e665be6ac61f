package eventdetector

import (
	"math"
	"testing"
	"time"

	"github.com/northfield-rocketry/flightcomputer/records"
)

func TestLaunchDetectionCrossesThreshold(t *testing.T) {
	d := New(records.Launchpad, seaLevelPressurePa, 381, ApogeeRaw)
	_, transitioned := d.Update(Sample{HaveAccel: true, AccelG: [3]float32{1, 0, 0}})
	if transitioned {
		t.Fatal("1g should not trigger launch detection")
	}
	ev, transitioned := d.Update(Sample{HaveAccel: true, AccelG: [3]float32{7.0, 0, 0}})
	if !transitioned || ev.Phase != records.PreApogee {
		t.Fatalf("expected transition to PreApogee, got transitioned=%v phase=%v", transitioned, ev.Phase)
	}
	if d.Phase() != records.PreApogee {
		t.Fatalf("Phase() = %v, want PreApogee", d.Phase())
	}
}

func TestApogeeRawFreeFall(t *testing.T) {
	d := New(records.PreApogee, seaLevelPressurePa, 381, ApogeeRaw)
	d.Update(Sample{HaveBaro: true, PressurePa: seaLevelPressurePa}) // establish altitude
	ev, transitioned := d.Update(Sample{HaveAccel: true, AccelG: [3]float32{0.01, 0.01, 0.01}})
	if !transitioned || ev.Phase != records.Apogee {
		t.Fatalf("expected Apogee on free-fall, got transitioned=%v phase=%v", transitioned, ev.Phase)
	}
}

func TestApogeeRawDoesNotFireUnderOneG(t *testing.T) {
	d := New(records.PreApogee, seaLevelPressurePa, 381, ApogeeRaw)
	d.Update(Sample{HaveBaro: true, PressurePa: seaLevelPressurePa})
	_, transitioned := d.Update(Sample{HaveAccel: true, AccelG: [3]float32{1, 0, 0}})
	if transitioned {
		t.Fatal("1g should not be mistaken for free-fall")
	}
}

func TestApogeeAveragedDetectsGradientSignFlip(t *testing.T) {
	d := New(records.PreApogee, seaLevelPressurePa, 381, ApogeeAveraged)

	// Climb: 100 samples of strictly increasing altitude.
	p := seaLevelPressurePa
	for i := 0; i < altitudeWindowSize; i++ {
		p -= 1 // decreasing pressure => increasing altitude
		if _, transitioned := d.Update(Sample{HaveBaro: true, PressurePa: p}); transitioned {
			t.Fatal("should not detect apogee while still climbing")
		}
	}

	// Descend: feed decreasing altitude (increasing pressure) until the
	// window's second half average drops below its first half average by
	// a plausible margin.
	var transitioned bool
	for i := 0; i < altitudeWindowSize && !transitioned; i++ {
		p += 3
		_, transitioned = d.Update(Sample{HaveBaro: true, PressurePa: p})
	}
	if !transitioned {
		t.Fatal("expected apogee detection once altitude gradient flips negative")
	}
	if d.Phase() != records.Apogee {
		t.Fatalf("Phase() = %v, want Apogee", d.Phase())
	}
}

func TestDwellGatesApogeeToPostApogee(t *testing.T) {
	d := New(records.Apogee, seaLevelPressurePa, 381, ApogeeAveraged)
	fixed := time.Now()
	d.now = func() time.Time { return fixed }
	d.enterDwell()

	if _, transitioned := d.Update(Sample{}); transitioned {
		t.Fatal("dwell should not have elapsed yet")
	}

	d.now = func() time.Time { return fixed.Add(2 * time.Second) }
	ev, transitioned := d.Update(Sample{})
	if !transitioned || ev.Phase != records.PostApogee {
		t.Fatalf("expected PostApogee after dwell elapses, got transitioned=%v phase=%v", transitioned, ev.Phase)
	}
}

func TestMainChuteAltitudeThreshold(t *testing.T) {
	d := New(records.PostApogee, seaLevelPressurePa, 381, ApogeeAveraged)
	// Altitude far above target: no transition.
	farPressurePa := float32(seaLevelPressurePa * 0.5)
	if _, transitioned := d.Update(Sample{HaveBaro: true, PressurePa: farPressurePa}); transitioned {
		t.Fatal("should not reach MainChute far from target altitude")
	}

	// Solve for the pressure that puts altitude within tolerance of 381m.
	target := altitudeAboveSeaLevel(seaLevelPressurePa) + 381
	p := seaLevelPressurePaForAltitude(target)
	ev, transitioned := d.Update(Sample{HaveBaro: true, PressurePa: float32(p)})
	if !transitioned || ev.Phase != records.MainChute {
		t.Fatalf("expected MainChute near target altitude, got transitioned=%v phase=%v", transitioned, ev.Phase)
	}
}

func TestLandingByGyroOrAltitude(t *testing.T) {
	d := New(records.PostMain, seaLevelPressurePa, 381, ApogeeAveraged)
	ev, transitioned := d.Update(Sample{HaveGyro: true, GyroDeg: [3]float32{0.1, 0.1, 0.1}, HaveBaro: true, PressurePa: seaLevelPressurePa})
	if !transitioned || ev.Phase != records.Landed {
		t.Fatalf("expected Landed on low gyro rate, got transitioned=%v phase=%v", transitioned, ev.Phase)
	}
}

func TestPhaseNeverRegresses(t *testing.T) {
	d := New(records.Apogee, seaLevelPressurePa, 381, ApogeeAveraged)
	d.Update(Sample{HaveAccel: true, AccelG: [3]float32{0, 0, 0}})
	if d.Phase().Before(records.Apogee) {
		t.Fatalf("phase regressed to %v", d.Phase())
	}
}

// seaLevelPressurePaForAltitude inverts altitudeAboveSeaLevel for tests
// that need to drive the detector to a specific altitude above sea level.
func seaLevelPressurePaForAltitude(altitudeM float64) float64 {
	exponent := (-gasConstant * temperatureLapseRate) / (gravityAccel * molarMassAir)
	base := 1 + (altitudeM*temperatureLapseRate)/seaLevelTemperatureK
	return seaLevelPressurePa * math.Pow(base, 1/exponent)
}
