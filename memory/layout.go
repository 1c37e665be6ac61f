package memory

import (
	"github.com/northfield-rocketry/flightcomputer/flash"
	"github.com/northfield-rocketry/flightcomputer/records"
)

// Layout is the fixed partitioning of the device: a global configuration
// append log, a metadata append log, and the user data region carved into
// seven sectors in records.UserDataSector order.
type Layout struct {
	GlobalConfigStart, GlobalConfigEnd int
	MetadataStart, MetadataEnd         int
	UserSectors                        [records.UserDataSectorCount]SectorRange
}

// SectorRange is one user data sector's byte extent, [Start, End).
type SectorRange struct {
	Start, End int
}

func (s SectorRange) Size() int { return s.End - s.Start }

const (
	globalConfigSize = flash.SubsectorSize // 4 KiB
	metadataSize     = 2 * 1024 * 1024     // 2 MiB
)

// NewLayout computes the fixed partition layout for deviceSize bytes,
// clamping the policy-configured per-sector caps to whatever space
// actually remains after the system regions. Sector sizes exceeding the
// device (the configuration's caps are deliberately generous policy
// knobs, not device-sized) are clamped in declaration order: earlier
// sectors get their full configured budget first, later ones take
// whatever remains, rounded down to a whole page.
func NewLayout(deviceSize int, cfg records.MemoryManagerConfiguration) Layout {
	var l Layout
	l.GlobalConfigStart = 0
	l.GlobalConfigEnd = globalConfigSize
	l.MetadataStart = l.GlobalConfigEnd
	l.MetadataEnd = l.MetadataStart + metadataSize

	cursor := l.MetadataEnd
	remaining := deviceSize - cursor
	for i := 0; i < records.UserDataSectorCount; i++ {
		want := int(cfg.UserDataSectorSizes[i])
		want -= want % flash.PageSize
		if want > remaining {
			want = remaining - remaining%flash.PageSize
		}
		if want < 0 {
			want = 0
		}
		l.UserSectors[i] = SectorRange{Start: cursor, End: cursor + want}
		cursor += want
		remaining -= want
	}
	return l
}
