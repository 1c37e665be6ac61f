// Package flash implements the page-program / sector-erase contract for the
// on-board 8 MiB SPI NOR flash device.
package flash

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Device geometry, fixed at compile time for the part this firmware targets.
const (
	PageSize      = 256
	SubsectorSize = 4 * 1024
	SectorSize    = 64 * 1024
	DeviceSize    = 8 * 1024 * 1024
)

// Sentinel errors returned by Device operations. Callers distinguish
// these with errors.Is; a plain busy condition is retried internally and
// never reaches the caller.
var (
	ErrInvalidRange = errors.New("flash: address or length out of device range")
	ErrDeviceError  = errors.New("flash: device reported a program or erase error")
)

// Device is the contract the memory manager drives. Implementations poll
// the underlying part's write-in-progress bit internally; callers never
// see a transient busy condition.
type Device interface {
	Read(addr, n int) ([]byte, error)
	ProgramPage(addr int, data []byte) error
	EraseSubsector(addr int) error
	EraseSector(addr int) error
	EraseDevice() error
	ScanFirstEmpty() (int, error)
}

// JEDEC-style command bytes, per the part's instruction set.
const (
	cmdPowerUp            = 0xAB
	cmdPowerDown          = 0xB9
	cmdReadID             = 0x9F
	cmdRead               = 0x03
	cmdWriteEnable        = 0x06
	cmdPageProgram        = 0x02
	cmdErase4KB           = 0x20
	cmdErase64KB          = 0xD8
	cmdEraseChip          = 0xC7
	cmdReadStatusRegister = 0x05
)

// Identification bytes this firmware expects from the part's ReadID
// response. These do not match any published Cypress S25FL064 part
// number; the check is kept as recorded on the board under test.
var expectedID = [3]byte{0x01, 0x02, 0x16}

// SPIDevice drives a SPI NOR flash part over a periph.io spi.Conn with a
// dedicated chip-select pin.
type SPIDevice struct {
	conn spi.Conn
	cs   gpio.PinIO
}

// NewSPIDevice wraps an already-configured SPI connection and chip-select
// pin. The caller owns bus/pin configuration (out of scope here).
func NewSPIDevice(conn spi.Conn, cs gpio.PinIO) *SPIDevice {
	return &SPIDevice{conn: conn, cs: cs}
}

// tx wraps a SPI transaction with chip-select assertion, mirroring the
// part's requirement that CS stay low for the duration of the command.
func (d *SPIDevice) tx(buf []byte) (err error) {
	if err = d.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := d.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	return d.conn.Tx(buf, buf)
}

// CheckID reads the part's JEDEC ID and reports whether it matches the
// identification bytes this firmware expects.
func (d *SPIDevice) CheckID() (id [3]byte, ok bool, err error) {
	buf := make([]byte, 4)
	buf[0] = cmdReadID
	if err = d.tx(buf); err != nil {
		return
	}
	id = [3]byte(buf[1:])
	return id, id == expectedID, nil
}

func (d *SPIDevice) checkRange(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > DeviceSize {
		return fmt.Errorf("%w: addr=0x%06X n=%d", ErrInvalidRange, addr, n)
	}
	return nil
}

// Read performs an arbitrary-length, arbitrary-alignment read.
func (d *SPIDevice) Read(addr, n int) ([]byte, error) {
	if err := d.checkRange(addr, n); err != nil {
		return nil, err
	}
	const (
		maxTx    = 65536
		cmdBytes = 4
		maxData  = maxTx - cmdBytes
	)
	out := make([]byte, n)
	off := 0
	for remaining := n; remaining > 0; {
		chunk := remaining
		if chunk > maxData {
			chunk = maxData
		}
		buf := make([]byte, cmdBytes+chunk)
		buf[0] = cmdRead
		buf[1] = byte(addr >> 16)
		buf[2] = byte(addr >> 8)
		buf[3] = byte(addr)
		if err := d.tx(buf); err != nil {
			return nil, err
		}
		copy(out[off:], buf[cmdBytes:])
		addr += chunk
		off += chunk
		remaining -= chunk
	}
	return out, nil
}

func (d *SPIDevice) writeEnable() error {
	return d.tx([]byte{cmdWriteEnable})
}

// ProgramPage writes up to PageSize bytes at addr. The target region must
// already be erased; the device only clears bits (1 -> 0) on a program.
func (d *SPIDevice) ProgramPage(addr int, data []byte) error {
	if len(data) > PageSize {
		return fmt.Errorf("%w: program length %d exceeds page size", ErrInvalidRange, len(data))
	}
	if err := d.checkRange(addr, len(data)); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	buf := make([]byte, 4+len(data))
	buf[0] = cmdPageProgram
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	copy(buf[4:], data)
	if err := d.tx(buf); err != nil {
		return err
	}
	return d.busyWait(100*time.Microsecond, 5*time.Millisecond)
}

// EraseSubsector erases the 4 KiB subsector containing addr.
func (d *SPIDevice) EraseSubsector(addr int) error {
	if err := d.checkRange(addr, 1); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	buf := []byte{cmdErase4KB, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	if err := d.tx(buf); err != nil {
		return err
	}
	return d.busyWait(1*time.Millisecond, 400*time.Millisecond)
}

// EraseSector erases the 64 KiB sector containing addr.
func (d *SPIDevice) EraseSector(addr int) error {
	if err := d.checkRange(addr, 1); err != nil {
		return err
	}
	if err := d.writeEnable(); err != nil {
		return err
	}
	buf := []byte{cmdErase64KB, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	if err := d.tx(buf); err != nil {
		return err
	}
	return d.busyWait(10*time.Millisecond, 3*time.Second)
}

// EraseDevice bulk-erases the entire part.
func (d *SPIDevice) EraseDevice() error {
	if err := d.writeEnable(); err != nil {
		return err
	}
	if err := d.tx([]byte{cmdEraseChip}); err != nil {
		return err
	}
	return d.busyWait(500*time.Millisecond, 2*time.Minute)
}

// ScanFirstEmpty returns the lowest address whose PageSize-byte page is
// entirely 0xFF, by a linear page walk. The memory manager does not call
// this on its hot path (it binary searches within a known sector instead)
// but the device contract exposes it for whole-device inspection.
func (d *SPIDevice) ScanFirstEmpty() (int, error) {
	for addr := 0; addr < DeviceSize; addr += PageSize {
		page, err := d.Read(addr, PageSize)
		if err != nil {
			return 0, err
		}
		if pageIsEmpty(page) {
			return addr, nil
		}
	}
	return DeviceSize, nil
}

func pageIsEmpty(page []byte) bool {
	for _, b := range page {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// busyWait polls the status register until the write-in-progress bit
// clears or timeout elapses.
func (d *SPIDevice) busyWait(interval, timeout time.Duration) error {
	if sr, err := d.readStatusRegister(); err == nil && !sr.Busy() {
		return nil
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		<-ticker.C
		sr, err := d.readStatusRegister()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: busy-wait timed out after %s", ErrDeviceError, timeout)
		}
	}
}

func (d *SPIDevice) readStatusRegister() (StatusRegister, error) {
	buf := []byte{cmdReadStatusRegister, 0}
	if err := d.tx(buf); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}
