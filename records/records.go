// Package records defines the packed, little-endian on-flash record
// shapes written and read by the memory manager, and their
// serialize/deserialize contract. This replaces the union-based
// reinterpretation the original firmware used for flash I/O with an
// explicit encode/decode pair per record type.
package records

import (
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
)

// defaultEncoding is the byte order for every on-flash record. The flash
// layout is defined bit-exact and little-endian; nothing on this boundary
// ever uses host-native ordering.
var defaultEncoding = binary.LittleEndian

// Signature is the 12-byte ASCII sentinel that distinguishes a valid
// configuration or metadata record from erased flash (0xFF) or
// uninitialized RAM.
var Signature = [12]byte{'6', 'e', '2', '2', '0', '1', 'a', 'c', '6', 'e', '0', 'd'}

// HasValidSignature reports whether the first 12 bytes of raw equal
// Signature.
func HasValidSignature(raw []byte) bool {
	if len(raw) < len(Signature) {
		return false
	}
	return [12]byte(raw[:12]) == Signature
}

// IMUSensorConfiguration mirrors the vendor IMU's tunable acquisition
// parameters. The register-level meaning of each byte is vendor-specific
// and out of scope; the memory manager only needs to round-trip them.
type IMUSensorConfiguration struct {
	AccelBandwidth     uint8
	AccelOutputRate    uint8
	AccelRange         uint8
	AccelPower         uint8
	GyroBandwidth      uint8
	GyroOutputRate     uint8
	GyroRange          uint8
	GyroPower          uint8
}

// PressureSensorConfiguration mirrors the vendor barometer's tunable
// acquisition parameters.
type PressureSensorConfiguration struct {
	OutputDataRate    uint8
	TempOversampling  uint8
	PressOversampling uint8
	IIRFilterCoeff    uint8
}

// MemoryManagerConfiguration is the memory-layout half of the
// configuration record: write multipliers per flight phase, write
// intervals per datum class, and the byte budget carved out for each
// user data sector.
type MemoryManagerConfiguration struct {
	WritePreLaunchMultiplier  uint8
	WritePreApogeeMultiplier  uint8
	WritePostApogeeMultiplier uint8
	WriteGroundMultiplier     uint8

	WriteIntervalAccelerometer uint16
	WriteIntervalGyroscope     uint16
	WriteIntervalMagnetometer uint16
	WriteIntervalPressure     uint16
	WriteIntervalAltitude     uint16
	WriteIntervalTemperature  uint16
	WriteIntervalFlightState  uint16

	WriteDrogueContinuityMs uint16
	WriteMainContinuityMs   uint16

	// UserDataSectorSizes is indexed by UserDataSector.
	UserDataSectorSizes [7]uint32
}

// FlightSystemConfiguration is the mission half of the configuration
// record: backup timers, thresholds, and sensor tuning.
type FlightSystemConfiguration struct {
	LandingRotationSpeedDegPerSec uint32
	BackupTimeLaunchToApogeeSec   uint32
	BackupTimeApogeeToMainSec     uint32
	BackupTimeMainToGroundSec     uint32

	EMatchLineKeepActiveForMs       uint8
	LaunchAccelerationCriticalValue uint8 // g, integer threshold
	AltitudeMainRecoveryM           uint16

	GroundPressurePa   float32
	GroundTemperatureC float32

	IMUDataNeedsConversion      uint8 // bool: 0 = already physical units
	PressureDataNeedsConversion uint8

	IMUSensorConfig      IMUSensorConfiguration
	PressureSensorConfig PressureSensorConfiguration
}

// GlobalConfiguration is the full configuration record as it appears on
// flash: a 12-byte signature followed by the memory-layout and
// flight-system halves, packed with no padding.
type GlobalConfiguration struct {
	Signature [12]byte
	Memory    MemoryManagerConfiguration
	System    FlightSystemConfiguration
}

// GlobalConfigRecordSize returns the packed byte length of a
// GlobalConfiguration record, computed once from the struct layout
// rather than hand-maintained as a magic constant.
func GlobalConfigRecordSize() int {
	raw, err := restruct.Pack(defaultEncoding, &GlobalConfiguration{})
	if err != nil {
		panic(fmt.Sprintf("records: global configuration layout does not pack: %v", err))
	}
	return len(raw)
}

// MemoryLayoutMetadataRecordSize returns the packed byte length of a
// MemoryLayoutMetadata record.
func MemoryLayoutMetadataRecordSize() int {
	raw, err := restruct.Pack(defaultEncoding, &MemoryLayoutMetadata{})
	if err != nil {
		panic(fmt.Sprintf("records: memory layout metadata layout does not pack: %v", err))
	}
	return len(raw)
}

// EncodeGlobalConfiguration packs cfg with a valid signature, little-endian.
func EncodeGlobalConfiguration(cfg GlobalConfiguration) ([]byte, error) {
	cfg.Signature = Signature
	raw, err := restruct.Pack(defaultEncoding, &cfg)
	if err != nil {
		return nil, fmt.Errorf("records: pack global configuration: %w", err)
	}
	return raw, nil
}

// DecodeGlobalConfiguration unpacks raw into a GlobalConfiguration. The
// caller is responsible for checking HasValidSignature first; this
// function does not itself reject an invalid signature, since a caller
// may want to inspect a corrupt record for diagnostics.
func DecodeGlobalConfiguration(raw []byte) (GlobalConfiguration, error) {
	var cfg GlobalConfiguration
	if err := restruct.Unpack(raw, defaultEncoding, &cfg); err != nil {
		return cfg, fmt.Errorf("records: unpack global configuration: %w", err)
	}
	return cfg, nil
}

// MemorySectorInfo describes one user data sector's placement and fill
// level.
type MemorySectorInfo struct {
	Size         uint32
	StartAddress uint32
	EndAddress   uint32
	BytesWritten uint32
}

// UserDataSectorCount is the number of distinct user data streams.
const UserDataSectorCount = 7

// MemoryLayoutMetadata is the second crash-safe record: for each user
// data sector, where it lives and how full it is.
type MemoryLayoutMetadata struct {
	Signature    [12]byte
	UserSectors  [UserDataSectorCount]MemorySectorInfo
}

// EncodeMemoryLayoutMetadata packs md with a valid signature.
func EncodeMemoryLayoutMetadata(md MemoryLayoutMetadata) ([]byte, error) {
	md.Signature = Signature
	raw, err := restruct.Pack(defaultEncoding, &md)
	if err != nil {
		return nil, fmt.Errorf("records: pack memory layout metadata: %w", err)
	}
	return raw, nil
}

// DecodeMemoryLayoutMetadata unpacks raw into a MemoryLayoutMetadata.
func DecodeMemoryLayoutMetadata(raw []byte) (MemoryLayoutMetadata, error) {
	var md MemoryLayoutMetadata
	if err := restruct.Unpack(raw, defaultEncoding, &md); err != nil {
		return md, fmt.Errorf("records: unpack memory layout metadata: %w", err)
	}
	return md, nil
}

// Inertial is one timestamped accelerometer-or-gyroscope triple, as
// stored on flash. 16 bytes; 16 fit per 256-byte page.
type Inertial struct {
	TimestampTicks uint32
	Data           [3]float32
}

const InertialRecordSize = 16

func EncodeInertial(r Inertial) ([]byte, error) {
	raw, err := restruct.Pack(defaultEncoding, &r)
	if err != nil {
		return nil, fmt.Errorf("records: pack inertial record: %w", err)
	}
	return raw, nil
}

func DecodeInertial(raw []byte) (Inertial, error) {
	var r Inertial
	if err := restruct.Unpack(raw, defaultEncoding, &r); err != nil {
		return r, fmt.Errorf("records: unpack inertial record: %w", err)
	}
	return r, nil
}

// Barometric is one timestamped pressure-or-temperature scalar. 8 bytes;
// 32 fit per 256-byte page.
type Barometric struct {
	TimestampTicks uint32
	Data           float32
}

const BarometricRecordSize = 8

func EncodeBarometric(r Barometric) ([]byte, error) {
	raw, err := restruct.Pack(defaultEncoding, &r)
	if err != nil {
		return nil, fmt.Errorf("records: pack barometric record: %w", err)
	}
	return raw, nil
}

func DecodeBarometric(raw []byte) (Barometric, error) {
	var r Barometric
	if err := restruct.Unpack(raw, defaultEncoding, &r); err != nil {
		return r, fmt.Errorf("records: unpack barometric record: %w", err)
	}
	return r, nil
}

// ContinuityStatus is the electrical state of one pyro channel.
type ContinuityStatus uint8

const (
	Open ContinuityStatus = iota
	Short
)

func (s ContinuityStatus) String() string {
	if s == Short {
		return "short"
	}
	return "open"
}

// Continuity is one record per page by design: the pad keeps the
// sector's page-granular accounting simple even though only 6 bytes
// carry information.
type Continuity struct {
	TimestampTicks uint32
	Status         [2]ContinuityStatus
	Pad            [244]byte
}

const ContinuityRecordSize = 250

func EncodeContinuity(r Continuity) ([]byte, error) {
	raw, err := restruct.Pack(defaultEncoding, &r)
	if err != nil {
		return nil, fmt.Errorf("records: pack continuity record: %w", err)
	}
	return raw, nil
}

func DecodeContinuity(raw []byte) (Continuity, error) {
	var r Continuity
	if err := restruct.Unpack(raw, defaultEncoding, &r); err != nil {
		return r, fmt.Errorf("records: unpack continuity record: %w", err)
	}
	return r, nil
}

// FlightPhase is the totally ordered, forward-only flight phase.
type FlightPhase uint8

const (
	Launchpad FlightPhase = iota
	PreApogee
	Apogee
	PostApogee
	MainChute
	PostMain
	Landed
	Exit
	flightPhaseCount
)

func (p FlightPhase) String() string {
	switch p {
	case Launchpad:
		return "launchpad"
	case PreApogee:
		return "pre_apogee"
	case Apogee:
		return "apogee"
	case PostApogee:
		return "post_apogee"
	case MainChute:
		return "main_chute"
	case PostMain:
		return "post_main"
	case Landed:
		return "landed"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// Before reports whether p precedes other in the forward-only phase
// order.
func (p FlightPhase) Before(other FlightPhase) bool { return p < other }

// FlightEvent is one record per page, mirroring Continuity's layout
// choice.
type FlightEvent struct {
	TimestampTicks uint32
	Phase          FlightPhase
	Pad            [248]byte
}

const FlightEventRecordSize = 253

func EncodeFlightEvent(r FlightEvent) ([]byte, error) {
	raw, err := restruct.Pack(defaultEncoding, &r)
	if err != nil {
		return nil, fmt.Errorf("records: pack flight event record: %w", err)
	}
	return raw, nil
}

func DecodeFlightEvent(raw []byte) (FlightEvent, error) {
	var r FlightEvent
	if err := restruct.Unpack(raw, defaultEncoding, &r); err != nil {
		return r, fmt.Errorf("records: unpack flight event record: %w", err)
	}
	return r, nil
}

// UserDataSector identifies one of the seven user data streams. Values
// are used as the index into MemoryManagerConfiguration.UserDataSectorSizes
// and MemoryLayoutMetadata.UserSectors.
type UserDataSector int

const (
	Gyro UserDataSector = iota
	Accel
	Mag
	Pressure
	Temperature
	ContinuitySector
	FlightEventSector
)

func (s UserDataSector) String() string {
	switch s {
	case Gyro:
		return "gyro"
	case Accel:
		return "accel"
	case Mag:
		return "mag"
	case Pressure:
		return "pressure"
	case Temperature:
		return "temperature"
	case ContinuitySector:
		return "continuity"
	case FlightEventSector:
		return "flight_event"
	default:
		return "unknown"
	}
}

// RecordSize returns the fixed on-flash record size for the sector's
// datum class.
func (s UserDataSector) RecordSize() int {
	switch s {
	case Gyro, Accel, Mag:
		return InertialRecordSize
	case Pressure, Temperature:
		return BarometricRecordSize
	case ContinuitySector:
		return ContinuityRecordSize
	case FlightEventSector:
		return FlightEventRecordSize
	default:
		return 0
	}
}
