// Command flightcomputer is the on-board avionics entry point: it brings
// up the flash device and recovery GPIO, recovers mission state from
// flash, and runs the flight controller's tick loop until the mission
// reaches Exit.
package main

import (
	"log/slog"
	"os"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/northfield-rocketry/flightcomputer/config"
	"github.com/northfield-rocketry/flightcomputer/eventdetector"
	"github.com/northfield-rocketry/flightcomputer/flash"
	"github.com/northfield-rocketry/flightcomputer/flightcontroller"
	"github.com/northfield-rocketry/flightcomputer/memory"
	"github.com/northfield-rocketry/flightcomputer/records"
	"github.com/northfield-rocketry/flightcomputer/recovery"
	"github.com/northfield-rocketry/flightcomputer/sensors"
	"github.com/northfield-rocketry/flightcomputer/version"
)

// recoveryPinNames maps each channel's four GPIO lines to board pin
// names. Board-specific; change to match the avionics bay wiring.
var recoveryPinNames = map[recovery.Channel]struct{ Enable, Activate, Continuity, OverCurrent string }{
	recovery.Drogue: {Enable: "GPIO17", Activate: "GPIO27", Continuity: "GPIO22", OverCurrent: "GPIO23"},
	recovery.Main:   {Enable: "GPIO24", Activate: "GPIO25", Continuity: "GPIO5", OverCurrent: "GPIO6"},
}

func openRecoveryChannel(ch recovery.Channel) (recovery.ChannelPins, error) {
	names := recoveryPinNames[ch]
	enable := gpioreg.ByName(names.Enable)
	activate := gpioreg.ByName(names.Activate)
	continuity := gpioreg.ByName(names.Continuity)
	overCurrent := gpioreg.ByName(names.OverCurrent)
	if enable == nil || activate == nil || continuity == nil || overCurrent == nil {
		return recovery.ChannelPins{}, errPinNotFound(ch)
	}
	return recovery.ChannelPins{Enable: enable, Activate: activate, Continuity: continuity, OverCurrent: overCurrent}, nil
}

type errPinNotFound recovery.Channel

func (e errPinNotFound) Error() string {
	return "flightcomputer: could not resolve one or more GPIO pins for channel " + recovery.Channel(e).String()
}

// vendorSensorSources stands in for the board's inertial/barometric
// drivers. Vendor sensor register programming is outside this system's
// scope (the sample-source contract is the boundary); a real board
// brings these up from its own IMU/barometer packages and passes them
// to run instead.
func vendorSensorSources() (sensors.InertialSource, sensors.BarometricSource) {
	return sensors.NewFakeInertialSource(), sensors.NewFakeBarometricSource()
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("init:start",
		slog.String("version", version.Version),
		slog.String("sha", version.GitSHA),
		slog.String("built", version.BuildDate),
	)

	if _, err := host.Init(); err != nil {
		logger.Error("init:host-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	spiPort, err := spireg.Open("")
	if err != nil {
		logger.Error("init:spi-open-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer spiPort.Close()

	conn, err := spiPort.Connect(physic.MegaHertz*20, spi.Mode0, 8)
	if err != nil {
		logger.Error("init:spi-connect-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	csPin := gpioreg.ByName("GPIO21")
	if csPin == nil {
		logger.Error("init:cs-pin-not-found")
		os.Exit(1)
	}

	dev := flash.NewSPIDevice(conn, csPin)
	if id, ok, err := dev.CheckID(); err != nil {
		logger.Error("init:flash-id-read-failed", slog.String("err", err.Error()))
		os.Exit(1)
	} else if !ok {
		logger.Warn("init:flash-id-mismatch", slog.Any("id", id))
	}

	drogue, err := openRecoveryChannel(recovery.Drogue)
	if err != nil {
		logger.Error("init:recovery-pins-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	mainChute, err := openRecoveryChannel(recovery.Main)
	if err != nil {
		logger.Error("init:recovery-pins-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	rec := recovery.New(drogue, mainChute)

	defaultCfg := records.GlobalConfiguration{
		Memory: records.DefaultMemoryManagerConfiguration(),
		System: records.DefaultFlightSystemConfiguration(),
	}
	mem, err := memory.NewManager(dev, defaultCfg, logger, memory.Options{
		AutosaveMode:  config.MetadataAutosaveMode(),
		AutosaveTicks: config.MetadataAutosaveTicks(),
		AutosaveCount: config.MetadataAutosaveCount(),
		QueueDepth:    config.DefaultWriterQueueDepth,
	})
	if err != nil {
		logger.Error("init:memory-manager-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	mem.Start()
	defer mem.Stop()

	cfg := mem.Config()
	logger.Info("init:restored-phase", slog.String("phase", mem.RestoredPhase().String()))

	groundPressurePa := 0.0
	if mem.RestoredPhase() != records.Launchpad {
		groundPressurePa = float64(cfg.System.GroundPressurePa)
	}
	det := eventdetector.New(mem.RestoredPhase(), groundPressurePa, float64(cfg.System.AltitudeMainRecoveryM), eventdetector.ApogeeAveraged)
	det.SetDwellDuration(config.DwellDuration())

	inertialSource, barometricSource := vendorSensorSources()
	if err := inertialSource.Start(); err != nil {
		logger.Error("init:inertial-start-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer inertialSource.Stop()
	if err := barometricSource.Start(); err != nil {
		logger.Error("init:barometric-start-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer barometricSource.Stop()

	fc := flightcontroller.New(inertialSource, barometricSource, det, rec, mem, logger)

	logger.Info("init:complete")

	for det.Phase() != records.Exit {
		fc.Tick()
		time.Sleep(time.Millisecond)
	}
	logger.Info("mission:exit")
}
