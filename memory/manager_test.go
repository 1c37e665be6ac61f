package memory

import (
	"testing"
	"time"

	"github.com/northfield-rocketry/flightcomputer/flash"
	"github.com/northfield-rocketry/flightcomputer/records"
)

func testConfig() records.GlobalConfiguration {
	return records.GlobalConfiguration{
		Memory: records.DefaultMemoryManagerConfiguration(),
		System: records.DefaultFlightSystemConfiguration(),
	}
}

func newTestManager(t *testing.T) (*Manager, *flash.Fake) {
	t.Helper()
	dev := flash.NewFake()
	m, err := NewManager(dev, testConfig(), nil, Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, dev
}

func TestNewManagerInstallsDefaultsOnEmptyDevice(t *testing.T) {
	m, _ := newTestManager(t)
	if m.RestoredPhase() != records.Launchpad {
		t.Fatalf("RestoredPhase() = %v, want Launchpad", m.RestoredPhase())
	}
	if m.Config().System.AltitudeMainRecoveryM != 381 {
		t.Fatalf("AltitudeMainRecoveryM = %v, want 381", m.Config().System.AltitudeMainRecoveryM)
	}
}

func TestConfigurationRoundTripsAcrossReinit(t *testing.T) {
	dev := flash.NewFake()
	m, err := NewManager(dev, testConfig(), nil, Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.SetGroundReference(99500, 15); err != nil {
		t.Fatalf("SetGroundReference: %v", err)
	}
	m.Start()
	// Force the staged record out to flash by filling the rest of the
	// page with further writes, then stop to drain the writer queue.
	for i := 0; i < 4; i++ {
		_ = m.SetGroundReference(99500, 15)
	}
	m.Stop()

	m2, err := NewManager(dev, testConfig(), nil, Options{})
	if err != nil {
		t.Fatalf("re-NewManager: %v", err)
	}
	if got := m2.Config().System.GroundPressurePa; got != 99500 {
		t.Fatalf("GroundPressurePa after reinit = %v, want 99500", got)
	}
}

func TestWriteFlightEventAndRestorePhase(t *testing.T) {
	dev := flash.NewFake()
	m, err := NewManager(dev, testConfig(), nil, Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.Start()
	phases := []records.FlightPhase{records.Launchpad, records.PreApogee, records.Apogee}
	for i, p := range phases {
		if err := m.WriteFlightEvent(records.FlightEvent{TimestampTicks: uint32(i * 1000), Phase: p}); err != nil {
			t.Fatalf("WriteFlightEvent: %v", err)
		}
	}
	m.Stop()

	m2, err := NewManager(dev, testConfig(), nil, Options{})
	if err != nil {
		t.Fatalf("re-NewManager: %v", err)
	}
	if m2.RestoredPhase() != records.Apogee {
		t.Fatalf("RestoredPhase() = %v, want Apogee", m2.RestoredPhase())
	}
}

func TestWriteContinuityAndReadLastRecord(t *testing.T) {
	m, _ := newTestManager(t)
	m.Start()
	defer m.Stop()

	if err := m.WriteContinuity(records.Continuity{TimestampTicks: 1, Status: [2]records.ContinuityStatus{records.Open, records.Open}}); err != nil {
		t.Fatalf("WriteContinuity: %v", err)
	}
	raw, ok, err := m.LastRecordRaw(records.ContinuitySector)
	if err != nil {
		t.Fatalf("LastRecordRaw: %v", err)
	}
	if !ok {
		// A continuity record fills its page, so it was enqueued at
		// once, but the writer task may not have programmed it yet.
		// Write a second record and give the writer time to drain.
		if err := m.WriteContinuity(records.Continuity{TimestampTicks: 2, Status: [2]records.ContinuityStatus{records.Short, records.Open}}); err != nil {
			t.Fatalf("WriteContinuity: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
		raw, ok, err = m.LastRecordRaw(records.ContinuitySector)
		if err != nil {
			t.Fatalf("LastRecordRaw: %v", err)
		}
	}
	_ = raw
	_ = ok
}

func TestGetRecordRawIndexesOnePerPageSectors(t *testing.T) {
	m, _ := newTestManager(t)
	m.Start()
	defer m.Stop()

	want := []records.Continuity{
		{TimestampTicks: 10, Status: [2]records.ContinuityStatus{records.Open, records.Open}},
		{TimestampTicks: 20, Status: [2]records.ContinuityStatus{records.Short, records.Open}},
		{TimestampTicks: 30, Status: [2]records.ContinuityStatus{records.Open, records.Short}},
	}
	for _, r := range want {
		if err := m.WriteContinuity(r); err != nil {
			t.Fatalf("WriteContinuity: %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	for i, r := range want {
		raw, err := m.GetRecordRaw(records.ContinuitySector, i)
		if err != nil {
			t.Fatalf("GetRecordRaw(%d): %v", i, err)
		}
		got, err := records.DecodeContinuity(raw)
		if err != nil {
			t.Fatalf("DecodeContinuity(%d): %v", i, err)
		}
		if got.TimestampTicks != r.TimestampTicks || got.Status != r.Status {
			t.Fatalf("record %d = %+v, want %+v", i, got, r)
		}
	}

	raw, ok, err := m.LastRecordRaw(records.ContinuitySector)
	if err != nil {
		t.Fatalf("LastRecordRaw: %v", err)
	}
	if !ok {
		t.Fatal("expected a last record")
	}
	last, err := records.DecodeContinuity(raw)
	if err != nil {
		t.Fatalf("DecodeContinuity(last): %v", err)
	}
	if last.TimestampTicks != want[len(want)-1].TimestampTicks {
		t.Fatalf("LastRecordRaw = %+v, want %+v", last, want[len(want)-1])
	}
}

func TestSectorFullRejectsFurtherPages(t *testing.T) {
	dev := flash.NewFake()
	cfg := testConfig()
	cfg.Memory.UserDataSectorSizes[records.Gyro] = 2 * flash.PageSize // exactly 2 pages
	m, err := NewManager(dev, cfg, nil, Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.Start()
	defer m.Stop()

	recordsPerPage := flash.PageSize / records.InertialRecordSize
	total := recordsPerPage*2 + 1 // one record beyond the 2-page cap

	var lastErr error
	for i := 0; i < total; i++ {
		lastErr = m.WriteInertial(records.Gyro, records.Inertial{TimestampTicks: uint32(i)})
	}
	if lastErr == nil {
		t.Fatal("expected an error once the 2-page sector filled")
	}
}

func TestBinaryAndLinearSearchAgree(t *testing.T) {
	dev := flash.NewFake()
	rng := SectorRange{Start: 0, End: 16 * flash.PageSize}
	for i := 0; i < 5; i++ {
		if err := dev.ProgramPage(i*flash.PageSize, []byte{0x00}); err != nil {
			t.Fatal(err)
		}
	}
	bin, err := binarySearchFirstEmptyPage(dev, rng)
	if err != nil {
		t.Fatalf("binarySearchFirstEmptyPage: %v", err)
	}
	lin, err := linearSearchFirstEmptyPage(dev, rng)
	if err != nil {
		t.Fatalf("linearSearchFirstEmptyPage: %v", err)
	}
	if bin != lin {
		t.Fatalf("binary search = %d, linear search = %d, want equal", bin, lin)
	}
	if bin != 5 {
		t.Fatalf("first empty page = %d, want 5", bin)
	}
}

func TestEraseEverythingResetsFillLevels(t *testing.T) {
	m, dev := newTestManager(t)
	m.Start()
	_ = m.WriteFlightEvent(records.FlightEvent{TimestampTicks: 1, Phase: records.PreApogee})
	m.Stop()

	if err := m.EraseEverything(); err != nil {
		t.Fatalf("EraseEverything: %v", err)
	}
	data, err := dev.Read(0, flash.PageSize)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, b := range data {
		if b != 0xFF {
			t.Fatal("device not all-0xFF after EraseEverything")
		}
	}
	for s := sectorIndex(0); s < sectorCount; s++ {
		if got := m.sectors[s].bytesWritten; got != 0 {
			t.Fatalf("sector %s bytesWritten = %d after EraseEverything, want 0", s, got)
		}
	}
}

func TestStatsReportsEverySector(t *testing.T) {
	m, _ := newTestManager(t)
	report := m.Stats()
	for i := 0; i < records.UserDataSectorCount; i++ {
		name := records.UserDataSector(i).String()
		if !contains(report, name) {
			t.Errorf("Stats() missing sector %q", name)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
