package ramblk

import (
	"fmt"
	"io"
)

var (
	_ io.ReaderAt = (*Device)(nil)
	_ io.WriterAt = (*Device)(nil)
)

type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Bio is a block I/O request. Segments are serviced back to back starting at
// Sector; every segment must be a whole number of sectors long.
type Bio struct {
	Op       Op
	Sector   uint64
	Segments [][]byte
}

// NewBio builds a bio over a single contiguous buffer.
func NewBio(op Op, sector uint64, buf []byte) *Bio {
	return &Bio{
		Op:       op,
		Sector:   sector,
		Segments: [][]byte{buf},
	}
}

// Len returns the total number of bytes the bio covers.
func (b *Bio) Len() uint64 {
	var n uint64
	for _, seg := range b.Segments {
		n += uint64(len(seg))
	}
	return n
}

func (b *Bio) EndSector() uint64 {
	return b.Sector + b.Len()>>SectorShift
}

// SubmitBio services bio against the device. Nothing is touched when the bio
// is misaligned or reaches past the capacity. A write that runs out of pages
// fails as a whole, segments before the failing one stay written.
func (d *Device) SubmitBio(bio *Bio) error {
	if d.dead.Load() {
		return fmt.Errorf("%w : %s", ErrDeviceDestroyed, d.name)
	}
	for i, seg := range bio.Segments {
		if !isSectorAligned(int64(len(seg))) {
			d.stat.unaligned.Add(1)
			d.warnUnaligned.Do(func() {
				d.logger.Warn("unaligned bio segment", "op", bio.Op, "sector", bio.Sector, "segment", i, "len", len(seg))
			})
			return fmt.Errorf("%w : segment %d length %d is not a multiple of %d", ErrUnaligned, i, len(seg), SectorSize)
		}
	}
	end := bio.EndSector()
	if end > d.capacity || end < bio.Sector {
		d.stat.outOfRange.Add(1)
		return fmt.Errorf("%w : sectors [%d, %d) on %s of %d sectors", ErrOutOfRange, bio.Sector, end, d.name, d.capacity)
	}
	switch bio.Op {
	case OpRead:
		d.stat.readBios.Add(1)
		d.stat.readBytes.Add(bio.Len())
	case OpWrite:
		d.stat.writeBios.Add(1)
		d.stat.writeBytes.Add(bio.Len())
	default:
		return fmt.Errorf("unknown bio op : %s", bio.Op)
	}
	sector := bio.Sector
	for _, seg := range bio.Segments {
		if err := d.doSegment(bio.Op, sector, seg); err != nil {
			return err
		}
		sector += uint64(len(seg)) >> SectorShift
	}
	return nil
}

func (d *Device) doSegment(op Op, sector uint64, buf []byte) error {
	if op == OpWrite {
		if err := d.copyToSetup(sector, len(buf)); err != nil {
			d.logger.Warn("write failed to allocate page", "sector", sector, "len", len(buf), "err", err)
			return err
		}
		d.copyTo(buf, sector)
		return nil
	}
	d.copyFrom(buf, sector)
	return nil
}

// copyToSetup makes sure every page covering n bytes from sector exists, so
// the copy that follows cannot fail halfway through a segment.
func (d *Device) copyToSetup(sector uint64, n int) error {
	for n > 0 {
		off := sectorOffset(sector)
		step := min(n, PageSize-off)
		if _, err := d.store.insertIfAbsent(sectorToPage(sector)); err != nil {
			return fmt.Errorf("%s sector %d : %w", d.name, sector, err)
		}
		sector += uint64(step) >> SectorShift
		n -= step
	}
	return nil
}

func (d *Device) copyTo(src []byte, sector uint64) {
	for len(src) > 0 {
		off := sectorOffset(sector)
		step := min(len(src), PageSize-off)
		p := d.store.lookup(sectorToPage(sector))
		if p == nil {
			panic(fmt.Sprintf("%s : page for sector %d vanished after setup", d.name, sector))
		}
		copy(p.buf[off:off+step], src[:step])
		src = src[step:]
		sector += uint64(step) >> SectorShift
	}
}

// copyFrom fills dst from the device, holes read as zero.
func (d *Device) copyFrom(dst []byte, sector uint64) {
	for len(dst) > 0 {
		off := sectorOffset(sector)
		step := min(len(dst), PageSize-off)
		if p := d.store.lookup(sectorToPage(sector)); p != nil {
			d.stat.pageHit.Add(1)
			copy(dst[:step], p.buf[off:off+step])
		} else {
			d.stat.pageHole.Add(1)
			clear(dst[:step])
		}
		dst = dst[step:]
		sector += uint64(step) >> SectorShift
	}
}

func (d *Device) ReadSectors(sector uint64, buf []byte) error {
	return d.SubmitBio(NewBio(OpRead, sector, buf))
}

func (d *Device) WriteSectors(sector uint64, buf []byte) error {
	return d.SubmitBio(NewBio(OpWrite, sector, buf))
}

// ReadPage reads one page worth of data starting at sector.
func (d *Device) ReadPage(sector uint64, buf []byte) error {
	if len(buf) != PageSize {
		d.stat.unaligned.Add(1)
		return fmt.Errorf("%w : page buffer of %d bytes", ErrUnaligned, len(buf))
	}
	return d.ReadSectors(sector, buf)
}

// WritePage writes one page worth of data starting at sector.
func (d *Device) WritePage(sector uint64, buf []byte) error {
	if len(buf) != PageSize {
		d.stat.unaligned.Add(1)
		return fmt.Errorf("%w : page buffer of %d bytes", ErrUnaligned, len(buf))
	}
	return d.WriteSectors(sector, buf)
}

// ReadAt implements io.ReaderAt, off and len(p) must be sector aligned.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if err := d.checkOffset(off); err != nil {
		return 0, err
	}
	if err := d.ReadSectors(uint64(off)>>SectorShift, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAt implements io.WriterAt, off and len(p) must be sector aligned.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if err := d.checkOffset(off); err != nil {
		return 0, err
	}
	if err := d.WriteSectors(uint64(off)>>SectorShift, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *Device) checkOffset(off int64) error {
	if off < 0 {
		return fmt.Errorf("%w : negative offset %d", ErrOutOfRange, off)
	}
	if !isSectorAligned(off) {
		d.stat.unaligned.Add(1)
		return fmt.Errorf("%w : offset %d is not a multiple of %d", ErrUnaligned, off, SectorSize)
	}
	return nil
}
