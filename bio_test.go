package ramblk

import (
	"bytes"
	"github.com/stretchr/testify/require"
	"github.com/zbh255/gocode/random"
	"golang.org/x/sync/errgroup"
	"testing"
)

func newTestDevice(t *testing.T, capacity uint64, maxPages uint64) *Device {
	r := newTestRegistry(t, Config{
		DeviceCount: -1,
		MaxPages:    maxPages,
		ChunkPages:  4,
	})
	d, err := r.CreateDevice(0, capacity)
	require.NoError(t, err)
	return d
}

func randomSectors(n int) []byte {
	b := make([]byte, n*SectorSize)
	for i := range b {
		b[i] = byte(random.FastRandN(255)) + 1
	}
	return b
}

func TestSparseRead(t *testing.T) {
	d := newTestDevice(t, 2048, 0)
	buf := fill(int(d.Size()), 0xcc)
	require.NoError(t, d.ReadSectors(0, buf))
	require.True(t, bytesIsZero(buf))
	require.Zero(t, d.PageCount())
	require.Equal(t, uint64(2048/PageSectors), d.Stat().PageHole)
}

func TestRoundTrip(t *testing.T) {
	d := newTestDevice(t, 4096, 0)
	cases := []struct {
		name    string
		sector  uint64
		sectors int
	}{
		{"OneSector", 0, 1},
		{"PageAligned", 8, 8},
		{"InsidePage", 17, 3},
		{"CrossPage", 30, 4},
		{"UnalignedMultiPage", 45, 37},
		{"AlignedMultiPage", 256, 64},
		{"TailOfDevice", 4096 - 13, 13},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data := randomSectors(c.sectors)
			require.NoError(t, d.WriteSectors(c.sector, data))
			got := make([]byte, len(data))
			require.NoError(t, d.ReadSectors(c.sector, got))
			require.Equal(t, data, got)
		})
	}
	// written ranges must not leak into their neighbours
	hole := make([]byte, 10*SectorSize)
	require.NoError(t, d.ReadSectors(3000, hole))
	require.True(t, bytesIsZero(hole))
}

func TestCrossPageScenario(t *testing.T) {
	d := newTestDevice(t, 16, 0)
	require.NoError(t, d.WriteSectors(4, fill(4096, 0xab)))
	require.Equal(t, uint64(2), d.PageCount())

	buf := make([]byte, 8192)
	require.NoError(t, d.ReadSectors(0, buf))
	require.True(t, bytesIsZero(buf[:2048]))
	require.Equal(t, fill(4096, 0xab), buf[2048:6144])
	require.True(t, bytesIsZero(buf[6144:]))
}

func TestCapacityBoundary(t *testing.T) {
	d := newTestDevice(t, 16, 0)
	require.NoError(t, d.WriteSectors(8, fill(8*SectorSize, 1)))
	pages := d.PageCount()

	err := d.WriteSectors(9, fill(8*SectorSize, 2))
	require.ErrorIs(t, err, ErrOutOfRange)
	err = d.ReadSectors(9, make([]byte, 8*SectorSize))
	require.ErrorIs(t, err, ErrOutOfRange)
	err = d.WriteSectors(16, fill(SectorSize, 2))
	require.ErrorIs(t, err, ErrOutOfRange)
	err = d.WriteSectors(^uint64(0)-1, fill(4*SectorSize, 2))
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, pages, d.PageCount())
	require.Equal(t, uint64(4), d.Stat().OutOfRange)

	buf := make([]byte, 8*SectorSize)
	require.NoError(t, d.ReadSectors(8, buf))
	require.Equal(t, fill(8*SectorSize, 1), buf)
}

func TestUnaligned(t *testing.T) {
	d := newTestDevice(t, 64, 0)
	err := d.WriteSectors(0, make([]byte, 100))
	require.ErrorIs(t, err, ErrUnaligned)

	bio := &Bio{
		Op:       OpWrite,
		Sector:   0,
		Segments: [][]byte{fill(SectorSize, 1), fill(SectorSize+1, 2)},
	}
	require.ErrorIs(t, d.SubmitBio(bio), ErrUnaligned)
	require.Zero(t, d.PageCount())

	_, err = d.WriteAt(fill(SectorSize, 1), 100)
	require.ErrorIs(t, err, ErrUnaligned)
	_, err = d.ReadAt(make([]byte, SectorSize), -SectorSize)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.ErrorIs(t, d.ReadPage(0, make([]byte, SectorSize)), ErrUnaligned)
	require.ErrorIs(t, d.WritePage(0, make([]byte, PageSize+SectorSize)), ErrUnaligned)
	require.Zero(t, d.PageCount())
	require.Equal(t, uint64(5), d.Stat().Unaligned)
}

func TestMultiSegmentBio(t *testing.T) {
	d := newTestDevice(t, 256, 0)
	segs := [][]byte{randomSectors(3), randomSectors(8), randomSectors(1), randomSectors(13)}
	require.NoError(t, d.SubmitBio(&Bio{Op: OpWrite, Sector: 6, Segments: segs}))

	want := bytes.Join(segs, nil)
	got := make([]byte, len(want))
	require.NoError(t, d.ReadSectors(6, got))
	require.Equal(t, want, got)

	// read back into differently shaped segments
	out := [][]byte{make([]byte, 5*SectorSize), make([]byte, 20*SectorSize)}
	require.NoError(t, d.SubmitBio(&Bio{Op: OpRead, Sector: 6, Segments: out}))
	require.Equal(t, want, bytes.Join(out, nil))

	st := d.Stat()
	require.Equal(t, uint64(1), st.WriteBios)
	require.Equal(t, uint64(2), st.ReadBios)
	require.Equal(t, uint64(len(want)), st.WriteBytes)
}

func TestWriteNoSpace(t *testing.T) {
	d := newTestDevice(t, 64, 2)
	first := fill(PageSize, 0x11)
	bio := &Bio{
		Op:       OpWrite,
		Sector:   0,
		Segments: [][]byte{first, fill(2*PageSize, 0x22)},
	}
	require.ErrorIs(t, d.SubmitBio(bio), ErrNoSpace)
	// no rollback, the first segment stays written
	got := make([]byte, 3*PageSize)
	require.NoError(t, d.ReadSectors(0, got))
	require.Equal(t, first, got[:PageSize])
	require.True(t, bytesIsZero(got[PageSize:]))
	require.Equal(t, uint64(2), d.PageCount())
	require.Equal(t, uint64(1), d.Stat().AllocFail)

	// pages that already exist can still be written
	require.NoError(t, d.WriteSectors(PageSectors, fill(PageSize, 0x33)))
}

func TestPageIO(t *testing.T) {
	d := newTestDevice(t, 64, 0)
	data := randomSectors(PageSectors)
	require.NoError(t, d.WritePage(16, data))
	got := make([]byte, PageSize)
	require.NoError(t, d.ReadPage(16, got))
	require.Equal(t, data, got)
	require.Equal(t, uint64(1), d.PageCount())
}

func TestReaderWriterAt(t *testing.T) {
	d := newTestDevice(t, 64, 0)
	data := randomSectors(5)
	n, err := d.WriteAt(data, 3*SectorSize)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	got := make([]byte, len(data))
	n, err = d.ReadAt(got, 3*SectorSize)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)

	n, err = d.WriteAt(data, d.Size())
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Zero(t, n)
}

func TestConcurrentWriters(t *testing.T) {
	const (
		workers = 8
		span    = 120
	)
	d := newTestDevice(t, workers*128, 0)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			start := uint64(w*128 + 3)
			for s := uint64(0); s < span; s += 4 {
				if err := d.WriteSectors(start+s, fill(4*SectorSize, byte(w+1))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	for w := 0; w < workers; w++ {
		got := make([]byte, span*SectorSize)
		require.NoError(t, d.ReadSectors(uint64(w*128+3), got))
		require.Equal(t, fill(span*SectorSize, byte(w+1)), got)
	}
}

func TestDestroyedDevice(t *testing.T) {
	d := newTestDevice(t, 64, 0)
	require.NoError(t, d.WriteSectors(0, fill(SectorSize, 1)))
	require.NoError(t, d.destroy())
	require.ErrorIs(t, d.ReadSectors(0, make([]byte, SectorSize)), ErrDeviceDestroyed)
	require.Zero(t, d.PageCount())
	require.NoError(t, d.destroy())
}
