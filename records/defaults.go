package records

// DefaultMemoryManagerConfiguration returns the factory write-policy and
// sector-size defaults. Sector size caps intentionally exceed what a
// single 8 MiB device can carve out; the manager clamps each sector to
// the partition actually available (see memory.Layout).
func DefaultMemoryManagerConfiguration() MemoryManagerConfiguration {
	return MemoryManagerConfiguration{
		WritePreLaunchMultiplier:  1,
		WritePreApogeeMultiplier:  1,
		WritePostApogeeMultiplier: 1,
		WriteGroundMultiplier:     4,

		WriteIntervalAccelerometer: 20,
		WriteIntervalGyroscope:     20,
		WriteIntervalMagnetometer: 50,
		WriteIntervalPressure:     20,
		WriteIntervalAltitude:     20,
		WriteIntervalTemperature:  200,
		WriteIntervalFlightState:  10,

		WriteDrogueContinuityMs: 500,
		WriteMainContinuityMs:   500,

		UserDataSectorSizes: [7]uint32{
			Gyro:              14 * 1024 * 1024,
			Accel:             14 * 1024 * 1024,
			Mag:               315 * 1024,
			Pressure:          505 * 1024,
			Temperature:       505 * 1024,
			ContinuitySector:  160 * 1024,
			FlightEventSector: 160 * 1024,
		},
	}
}

// DefaultFlightSystemConfiguration returns the factory mission thresholds.
// The e-match hold duration's default of 50ms follows this specification's
// stated default (§4.5); it diverges from a 5ms literal observed in one
// board's captured defaults, which is treated as a configuration mistake
// on that board rather than the intended value.
func DefaultFlightSystemConfiguration() FlightSystemConfiguration {
	return FlightSystemConfiguration{
		LandingRotationSpeedDegPerSec:   5,
		BackupTimeLaunchToApogeeSec:     27,
		BackupTimeApogeeToMainSec:       116,
		BackupTimeMainToGroundSec:       191,
		EMatchLineKeepActiveForMs:       50,
		LaunchAccelerationCriticalValue: 7, // integer g threshold; detector compares against 6.9g precisely
		AltitudeMainRecoveryM:           381,
		GroundPressurePa:                0,
		GroundTemperatureC:              0,
		IMUDataNeedsConversion:          0,
		PressureDataNeedsConversion:     0,
	}
}
