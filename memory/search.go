package memory

import (
	"github.com/northfield-rocketry/flightcomputer/flash"
	"github.com/northfield-rocketry/flightcomputer/records"
)

func pageIsEmpty(page []byte) bool {
	for _, b := range page {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// pageCount returns how many PageSize pages fit in rng.
func pageCount(rng SectorRange) int {
	return rng.Size() / flash.PageSize
}

// binarySearchFirstEmptyPage returns the index (0-based, within rng) of
// the first page that reads as entirely 0xFF, by binary search over the
// monotone predicate "page is empty." If every page holds data, it
// returns pageCount(rng).
func binarySearchFirstEmptyPage(dev flash.Device, rng SectorRange) (int, error) {
	lo, hi := 0, pageCount(rng)
	for lo < hi {
		mid := lo + (hi-lo)/2
		page, err := dev.Read(rng.Start+mid*flash.PageSize, flash.PageSize)
		if err != nil {
			return 0, err
		}
		if pageIsEmpty(page) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// linearSearchFirstEmptyPage is the O(n) validation counterpart to
// binarySearchFirstEmptyPage, retained so tests can assert the two
// agree on every sector state (§8's round-trip property) without being
// used on any production path.
func linearSearchFirstEmptyPage(dev flash.Device, rng SectorRange) (int, error) {
	n := pageCount(rng)
	for i := 0; i < n; i++ {
		page, err := dev.Read(rng.Start+i*flash.PageSize, flash.PageSize)
		if err != nil {
			return 0, err
		}
		if pageIsEmpty(page) {
			return i, nil
		}
	}
	return n, nil
}

// binarySearchBytesWritten returns the sector's fill level in bytes,
// always a multiple of flash.PageSize, derived from the first-empty-page
// search.
func binarySearchBytesWritten(dev flash.Device, rng SectorRange) (int, error) {
	firstEmpty, err := binarySearchFirstEmptyPage(dev, rng)
	if err != nil {
		return 0, err
	}
	return firstEmpty * flash.PageSize, nil
}

// readLastRecord returns the last (highest-offset) record in a sector
// whose fill level is bytesWritten, or ok=false if the sector is empty.
// A written page need not be full (bootstrapWriteRecord writes a page
// holding a single record), so the final written page is scanned from
// its last record-sized slot backwards and the first slot that is not
// all-0xFF is returned.
func readLastRecord(dev flash.Device, rng SectorRange, bytesWritten, recordSize int) (raw []byte, ok bool, err error) {
	if bytesWritten < recordSize {
		return nil, false, nil
	}
	lastPageStart := ((bytesWritten - 1) / flash.PageSize) * flash.PageSize
	page, err := dev.Read(rng.Start+lastPageStart, flash.PageSize)
	if err != nil {
		return nil, false, err
	}
	recordsPerPage := flash.PageSize / recordSize
	for i := recordsPerPage - 1; i >= 0; i-- {
		chunk := page[i*recordSize : (i+1)*recordSize]
		if !pageIsEmpty(chunk) {
			return chunk, true, nil
		}
	}
	return nil, false, nil
}

// recoverGlobalConfig locates and decodes the last valid configuration
// record in the fixed 4 KiB global configuration region.
func recoverGlobalConfig(dev flash.Device, rng SectorRange, recordSize int) (records.GlobalConfiguration, bool, error) {
	written, err := binarySearchBytesWritten(dev, rng)
	if err != nil {
		return records.GlobalConfiguration{}, false, err
	}
	raw, ok, err := readLastRecord(dev, rng, written, recordSize)
	if err != nil {
		return records.GlobalConfiguration{}, false, err
	}
	if !ok || !records.HasValidSignature(raw) {
		return records.GlobalConfiguration{}, false, nil
	}
	cfg, err := records.DecodeGlobalConfiguration(raw)
	if err != nil {
		return records.GlobalConfiguration{}, false, err
	}
	return cfg, true, nil
}
