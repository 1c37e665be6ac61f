// Package memory implements the flash-backed memory manager: partitioning
// of the NOR flash device into a configuration log, a metadata log, and
// seven user data sectors; per-sector RAM double buffering; an
// asynchronous writer task; and crash-safe resume.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/northfield-rocketry/flightcomputer/flash"
	"github.com/northfield-rocketry/flightcomputer/records"
)

// Errors returned to producers. A full sector or a full writer queue are
// both ordinary, expected conditions on a single-shot mission; the
// manager returns them to the producer without logging them itself.
var (
	ErrSectorFull    = errors.New("memory: sector is full")
	ErrQueueFull     = errors.New("memory: writer queue is full")
	ErrOutOfRange    = errors.New("memory: record index out of range")
	ErrBadRecordSize = errors.New("memory: record does not match sector's record size")
)

// sectorIndex enumerates the nine physical sectors the device is carved
// into: the two system append logs followed by the seven user data
// streams, in the same order as the original firmware's combined
// MemorySector enumeration.
type sectorIndex int

const (
	sectorGlobalConfig sectorIndex = iota
	sectorMetadata
	sectorGyro
	sectorAccel
	sectorMag
	sectorPressure
	sectorTemperature
	sectorContinuity
	sectorFlightEvent
	sectorCount
)

func (s sectorIndex) String() string {
	switch s {
	case sectorGlobalConfig:
		return "global_config"
	case sectorMetadata:
		return "metadata"
	default:
		return userSectorOf(s).String()
	}
}

// userSectorOf maps a user-data sectorIndex back to its
// records.UserDataSector. Only valid for s >= sectorGyro.
func userSectorOf(s sectorIndex) records.UserDataSector {
	return records.UserDataSector(int(s) - int(sectorGyro))
}

func sectorIndexOf(u records.UserDataSector) sectorIndex {
	return sectorIndex(int(u) + int(sectorGyro))
}

// bufferedSector is the RAM-side state for one physical sector: the
// record size it holds, its byte extent on flash, the producer-owned
// staging page, and the writer-owned fill cursor.
type bufferedSector struct {
	mu         sync.Mutex
	rng        SectorRange
	recordSize int

	writeBuf    [flash.PageSize]byte
	writeCursor int
	reserved    int // bytes reserved by enqueued-but-not-yet-flashed pages

	bytesWritten int // mutated only while holding mu; authoritative flash fill level
}

func newBufferedSector(rng SectorRange, recordSize int) *bufferedSector {
	bs := &bufferedSector{rng: rng, recordSize: recordSize}
	for i := range bs.writeBuf {
		bs.writeBuf[i] = 0xFF
	}
	return bs
}

// writeItem is the tagged variant the producer side hands to the writer
// task: which sector the page belongs to, and the page bytes themselves.
// This replaces the source's small-integer type tag plus separately
// reinterpreted payload.
type writeItem struct {
	sector sectorIndex
	page   [flash.PageSize]byte
}

// Manager is the flash-backed memory manager. Construct with NewManager;
// call Start before writing, and Stop to drain and halt the writer task.
type Manager struct {
	dev    flash.Device
	logger *slog.Logger
	layout Layout

	cfgMu sync.Mutex
	cfg   records.GlobalConfiguration

	sectors [sectorCount]*bufferedSector

	writerCh chan writeItem
	stopCh   chan struct{}
	wg       sync.WaitGroup

	autosaveMu            sync.Mutex
	autosaveMode          string
	autosaveTicks         time.Duration
	autosaveCount         int
	dataUpdatesSinceFlush int

	restoredPhase records.FlightPhase
}

// Options configures autosave policy and writer queue depth; the zero
// value selects the package defaults.
type Options struct {
	AutosaveMode  string // "data" or "time"
	AutosaveTicks time.Duration
	AutosaveCount int
	QueueDepth    int
}

func (o Options) withDefaults() Options {
	if o.AutosaveMode != "data" && o.AutosaveMode != "time" {
		o.AutosaveMode = "time"
	}
	if o.AutosaveTicks <= 0 {
		o.AutosaveTicks = 250 * time.Millisecond
	}
	if o.AutosaveCount <= 0 {
		o.AutosaveCount = 200
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 10
	}
	return o
}

// NewManager opens the device, recovers configuration and sector fill
// levels, and returns a ready-to-Start Manager. defaultCfg is installed
// and written to flash if no valid configuration record is found.
func NewManager(dev flash.Device, defaultCfg records.GlobalConfiguration, logger *slog.Logger, opts Options) (*Manager, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		dev:           dev,
		logger:        logger,
		writerCh:      make(chan writeItem, opts.QueueDepth),
		stopCh:        make(chan struct{}),
		autosaveMode:  opts.AutosaveMode,
		autosaveTicks: opts.AutosaveTicks,
		autosaveCount: opts.AutosaveCount,
	}

	globalRange := SectorRange{Start: 0, End: globalConfigSize}
	globalRecSize := records.GlobalConfigRecordSize()

	cfg, found, err := recoverGlobalConfig(dev, globalRange, globalRecSize)
	if err != nil {
		return nil, fmt.Errorf("memory: recover configuration: %w", err)
	}
	if !found {
		cfg = defaultCfg
		logger.Info("memory:config-absent", slog.String("action", "installing defaults"))
	}
	m.cfg = cfg
	m.sectors[sectorGlobalConfig] = newBufferedSector(globalRange, globalRecSize)

	m.layout = NewLayout(flash.DeviceSize, cfg.Memory)

	metaRange := SectorRange{Start: m.layout.MetadataStart, End: m.layout.MetadataEnd}
	metaRecSize := records.MemoryLayoutMetadataRecordSize()
	m.sectors[sectorMetadata] = newBufferedSector(metaRange, metaRecSize)

	for i := 0; i < records.UserDataSectorCount; i++ {
		uds := records.UserDataSector(i)
		m.sectors[sectorIndexOf(uds)] = newBufferedSector(m.layout.UserSectors[i], uds.RecordSize())
	}

	for s := sectorIndex(0); s < sectorCount; s++ {
		bs := m.sectors[s]
		written, err := binarySearchBytesWritten(dev, bs.rng)
		if err != nil {
			return nil, fmt.Errorf("memory: recover fill level for %s: %w", s, err)
		}
		bs.bytesWritten = written
		bs.reserved = written
	}

	if !found {
		if err := m.bootstrapWriteRecord(sectorGlobalConfig, mustEncodeGlobalConfig(cfg)); err != nil {
			return nil, fmt.Errorf("memory: write default configuration: %w", err)
		}
	}

	phase, err := m.recoverPhase()
	if err != nil {
		return nil, fmt.Errorf("memory: recover flight phase: %w", err)
	}
	m.restoredPhase = phase

	return m, nil
}

func mustEncodeGlobalConfig(cfg records.GlobalConfiguration) []byte {
	raw, err := records.EncodeGlobalConfiguration(cfg)
	if err != nil {
		panic(err) // cfg is a fixed-layout struct; encoding cannot fail
	}
	return raw
}

// bootstrapWriteRecord writes raw directly to the next page of sector s,
// bypassing the writer queue. Used only during init, before the writer
// task is running, to install default records.
func (m *Manager) bootstrapWriteRecord(s sectorIndex, raw []byte) error {
	bs := m.sectors[s]
	bs.mu.Lock()
	defer bs.mu.Unlock()
	page := make([]byte, flash.PageSize)
	for i := range page {
		page[i] = 0xFF
	}
	copy(page, raw)
	addr := bs.rng.Start + bs.bytesWritten
	if err := m.dev.ProgramPage(addr, page); err != nil {
		return err
	}
	bs.bytesWritten += flash.PageSize
	bs.reserved = bs.bytesWritten
	return nil
}

// recoverPhase reads the last flight-event record, if any, and returns
// its phase. A mission that has never written an event resumes at
// Launchpad.
func (m *Manager) recoverPhase() (records.FlightPhase, error) {
	bs := m.sectors[sectorFlightEvent]
	raw, found, err := readLastRecord(m.dev, bs.rng, bs.bytesWritten, bs.recordSize)
	if err != nil {
		return records.Launchpad, err
	}
	if !found {
		return records.Launchpad, nil
	}
	ev, err := records.DecodeFlightEvent(raw)
	if err != nil {
		return records.Launchpad, err
	}
	return ev.Phase, nil
}

// RestoredPhase returns the flight phase recovered at init from the last
// flight-event record on flash, or Launchpad if none exists.
func (m *Manager) RestoredPhase() records.FlightPhase {
	return m.restoredPhase
}

// Config returns a copy of the currently adopted configuration.
func (m *Manager) Config() records.GlobalConfiguration {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	return m.cfg
}

// SetGroundReference persists the pad-measured ground pressure and
// temperature into the configuration and appends a new configuration
// record reflecting it. Mirrors the original firmware's
// wait-for-first-sample boot sequence (§4.4's ground-pressure
// initialization).
func (m *Manager) SetGroundReference(pressurePa, temperatureC float32) error {
	m.cfgMu.Lock()
	m.cfg.System.GroundPressurePa = pressurePa
	m.cfg.System.GroundTemperatureC = temperatureC
	cfg := m.cfg
	m.cfgMu.Unlock()

	raw, err := records.EncodeGlobalConfiguration(cfg)
	if err != nil {
		return fmt.Errorf("memory: encode updated configuration: %w", err)
	}
	return m.appendRecord(sectorGlobalConfig, raw)
}

// Start launches the writer task and, if the autosave policy is
// time-based, the periodic metadata flush ticker.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.runWriter()
	if m.autosaveMode == "time" {
		m.wg.Add(1)
		go m.runAutosaveTicker()
	}
}

// Stop signals the writer task (and autosave ticker, if running) to
// drain and exit, and waits for them to finish.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) runWriter() {
	defer m.wg.Done()
	for {
		select {
		case item := <-m.writerCh:
			m.flushItem(item)
		case <-m.stopCh:
			// Drain whatever is already queued before exiting; this
			// task is the sole consumer, so no new arrivals race us.
			for {
				select {
				case item := <-m.writerCh:
					m.flushItem(item)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) flushItem(item writeItem) {
	bs := m.sectors[item.sector]
	bs.mu.Lock()
	addr := bs.rng.Start + bs.bytesWritten
	err := m.dev.ProgramPage(addr, item.page[:])
	if err != nil {
		bs.reserved -= flash.PageSize
		bs.mu.Unlock()
		m.logger.Error("memory:program-failed",
			slog.String("sector", item.sector.String()),
			slog.Int("addr", addr),
			slog.String("err", err.Error()),
		)
		return
	}
	bs.bytesWritten += flash.PageSize
	bs.mu.Unlock()

	if item.sector != sectorMetadata {
		m.onDataPageDrained()
	}
}

func (m *Manager) onDataPageDrained() {
	m.autosaveMu.Lock()
	m.dataUpdatesSinceFlush++
	due := m.autosaveMode == "data" && m.dataUpdatesSinceFlush >= m.autosaveCount
	if due {
		m.dataUpdatesSinceFlush = 0
	}
	m.autosaveMu.Unlock()
	if due {
		if err := m.flushMetadata(); err != nil {
			m.logger.Error("memory:metadata-flush-failed", slog.String("err", err.Error()))
		}
	}
}

func (m *Manager) runAutosaveTicker() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.autosaveTicks)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.flushMetadata(); err != nil {
				m.logger.Error("memory:metadata-flush-failed", slog.String("err", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// flushMetadata snapshots every user sector's fill level and appends it
// to the metadata region through appendRecord, which stages it in RAM
// and enqueues the page to the writer once no further record fits.
func (m *Manager) flushMetadata() error {
	var md records.MemoryLayoutMetadata
	for i := 0; i < records.UserDataSectorCount; i++ {
		bs := m.sectors[sectorIndexOf(records.UserDataSector(i))]
		bs.mu.Lock()
		md.UserSectors[i] = records.MemorySectorInfo{
			Size:         uint32(bs.rng.Size()),
			StartAddress: uint32(bs.rng.Start),
			EndAddress:   uint32(bs.rng.End),
			BytesWritten: uint32(bs.bytesWritten),
		}
		bs.mu.Unlock()
	}
	raw, err := records.EncodeMemoryLayoutMetadata(md)
	if err != nil {
		return err
	}
	return m.appendRecord(sectorMetadata, raw)
}

// appendRecord is the generic producer path shared by every sector kind:
// stage raw into the sector's RAM page, swapping and enqueueing the page
// to the writer task as soon as the cursor reaches the largest whole
// record boundary less than or equal to the page size (i.e. as soon as
// no further record of this size would fit). For a sector whose record
// size only allows one record per page (Continuity, FlightEvent), this
// flushes every record immediately.
func (m *Manager) appendRecord(s sectorIndex, raw []byte) error {
	bs := m.sectors[s]
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if len(raw) != bs.recordSize {
		return fmt.Errorf("%w: sector %s wants %d bytes, got %d", ErrBadRecordSize, s, bs.recordSize, len(raw))
	}
	if bs.writeCursor == 0 && bs.reserved >= bs.rng.Size() {
		return fmt.Errorf("%w: sector %s", ErrSectorFull, s)
	}

	if bs.writeCursor+len(raw) > flash.PageSize {
		if err := m.enqueuePageLocked(s, bs); err != nil {
			return err
		}
	}
	copy(bs.writeBuf[bs.writeCursor:], raw)
	bs.writeCursor += len(raw)

	if bs.writeCursor+bs.recordSize > flash.PageSize {
		if err := m.enqueuePageLocked(s, bs); err != nil {
			return err
		}
	}
	return nil
}

// enqueuePageLocked hands the sector's current staging page to the
// writer task and resets it to empty. Caller holds bs.mu.
func (m *Manager) enqueuePageLocked(s sectorIndex, bs *bufferedSector) error {
	if bs.reserved+flash.PageSize > bs.rng.Size() {
		return fmt.Errorf("%w: sector %s", ErrSectorFull, s)
	}

	item := writeItem{sector: s}
	copy(item.page[:], bs.writeBuf[:])

	select {
	case m.writerCh <- item:
	default:
		return fmt.Errorf("%w: sector %s", ErrQueueFull, s)
	}

	bs.reserved += flash.PageSize
	bs.writeCursor = 0
	for i := range bs.writeBuf {
		bs.writeBuf[i] = 0xFF
	}
	return nil
}

// WriteInertial appends an inertial record to one of Gyro, Accel, or Mag.
func (m *Manager) WriteInertial(sector records.UserDataSector, r records.Inertial) error {
	raw, err := records.EncodeInertial(r)
	if err != nil {
		return err
	}
	return m.appendRecord(sectorIndexOf(sector), raw)
}

// WriteBarometric appends a barometric record to Pressure or Temperature.
func (m *Manager) WriteBarometric(sector records.UserDataSector, r records.Barometric) error {
	raw, err := records.EncodeBarometric(r)
	if err != nil {
		return err
	}
	return m.appendRecord(sectorIndexOf(sector), raw)
}

// WriteContinuity appends a continuity-change record.
func (m *Manager) WriteContinuity(r records.Continuity) error {
	raw, err := records.EncodeContinuity(r)
	if err != nil {
		return err
	}
	return m.appendRecord(sectorIndexOf(records.ContinuitySector), raw)
}

// WriteFlightEvent appends a flight-phase transition record.
func (m *Manager) WriteFlightEvent(r records.FlightEvent) error {
	raw, err := records.EncodeFlightEvent(r)
	if err != nil {
		return err
	}
	return m.appendRecord(sectorIndexOf(records.FlightEventSector), raw)
}

// GetRecordRaw returns the raw bytes of record index i within sector,
// reading directly from flash. Index 0 is the oldest record. Records
// are page-aligned, not densely packed across pages: each page holds
// recordsPerPage = PageSize/recordSize whole records (one for
// Continuity and FlightEvent), with the remainder of the page left as
// the 0xFF trailer appendRecord writes.
// Record i therefore lives at page i/recordsPerPage, offset
// (i%recordsPerPage)*recordSize within that page.
func (m *Manager) GetRecordRaw(sector records.UserDataSector, i int) ([]byte, error) {
	bs := m.sectors[sectorIndexOf(sector)]
	bs.mu.Lock()
	bytesWritten := bs.bytesWritten
	recordSize := bs.recordSize
	rng := bs.rng
	bs.mu.Unlock()

	recordsPerPage := flash.PageSize / recordSize
	if recordsPerPage == 0 {
		recordsPerPage = 1
	}
	page := i / recordsPerPage
	inPage := (i % recordsPerPage) * recordSize
	byteOffset := page*flash.PageSize + inPage
	if byteOffset+recordSize > bytesWritten {
		return nil, fmt.Errorf("%w: index %d in sector %s", ErrOutOfRange, i, sector)
	}

	raw, err := m.dev.Read(rng.Start+byteOffset, recordSize)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// LastRecordRaw returns the most recently written record in sector, or
// ok=false if the sector is empty.
func (m *Manager) LastRecordRaw(sector records.UserDataSector) (raw []byte, ok bool, err error) {
	bs := m.sectors[sectorIndexOf(sector)]
	bs.mu.Lock()
	bytesWritten := bs.bytesWritten
	recordSize := bs.recordSize
	bs.mu.Unlock()

	if bytesWritten < recordSize {
		return nil, false, nil
	}
	recordsPerPage := flash.PageSize / recordSize
	if recordsPerPage == 0 {
		recordsPerPage = 1
	}
	pagesWritten := bytesWritten / flash.PageSize
	lastPageRecords := (bytesWritten % flash.PageSize) / recordSize
	count := pagesWritten*recordsPerPage + lastPageRecords
	if count == 0 {
		return nil, false, nil
	}
	raw, err = m.GetRecordRaw(sector, count-1)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Stats returns a human-readable report of every user sector's fill
// level, mirroring the original firmware's memory_manager_get_stats.
func (m *Manager) Stats() string {
	out := "memory sector stats:\n"
	for i := 0; i < records.UserDataSectorCount; i++ {
		uds := records.UserDataSector(i)
		bs := m.sectors[sectorIndexOf(uds)]
		bs.mu.Lock()
		written := bs.bytesWritten
		size := bs.rng.Size()
		bs.mu.Unlock()
		out += fmt.Sprintf("  %-12s %s / %s written (%s - %s)\n",
			uds.String(),
			humanize.Bytes(uint64(written)),
			humanize.Bytes(uint64(size)),
			humanize.Comma(int64(bs.rng.Start)),
			humanize.Comma(int64(bs.rng.End)),
		)
	}
	return out
}

// EraseConfiguration erases the 4 KiB global configuration subsector and
// resets its in-RAM fill tracking.
func (m *Manager) EraseConfiguration() error {
	bs := m.sectors[sectorGlobalConfig]
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if err := m.dev.EraseSubsector(bs.rng.Start); err != nil {
		return err
	}
	bs.bytesWritten = 0
	bs.reserved = 0
	bs.writeCursor = 0
	for i := range bs.writeBuf {
		bs.writeBuf[i] = 0xFF
	}
	return nil
}

// EraseEverything erases the whole device and resets all in-RAM fill
// tracking. The writer task must be stopped first.
func (m *Manager) EraseEverything() error {
	if err := m.dev.EraseDevice(); err != nil {
		return err
	}
	for s := sectorIndex(0); s < sectorCount; s++ {
		bs := m.sectors[s]
		bs.mu.Lock()
		bs.bytesWritten = 0
		bs.reserved = 0
		bs.writeCursor = 0
		for i := range bs.writeBuf {
			bs.writeBuf[i] = 0xFF
		}
		bs.mu.Unlock()
	}
	return nil
}
