package ramblk

import "math"

const (
	SectorShift = 9
	SectorSize  = 1 << SectorShift

	PageShift = 12
	PageSize  = 1 << PageShift

	pageSectorsShift = PageShift - SectorShift
	PageSectors      = 1 << pageSectorsShift
)

const (
	defaultDeviceCount   = 16
	defaultDeviceSizeKiB = 4096
	defaultMaxPart       = 1
	defaultChunkPages    = 64

	// MinorBits is the width of the minor number space devices are numbered in.
	MinorBits    = 20
	diskMaxParts = 256

	freeBatch = 16

	// MaxCapacity is the largest device capacity in sectors whose byte size fits an int64.
	MaxCapacity = math.MaxInt64 >> SectorShift
)

// sectorToPage returns the page holding sector.
func sectorToPage(sector uint64) uint64 {
	return sector >> pageSectorsShift
}

// sectorOffset returns the byte offset of sector inside its page.
func sectorOffset(sector uint64) int {
	return int(sector&(PageSectors-1)) << SectorShift
}

func isSectorAligned(n int64) bool {
	return n&(SectorSize-1) == 0
}
