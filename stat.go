package ramblk

import "sync/atomic"

type ExportStat struct {
	ReadBios    uint64
	WriteBios   uint64
	ReadBytes   uint64
	WriteBytes  uint64
	PageHit     uint64
	PageHole    uint64
	PageAlloc   uint64
	InsertRace  uint64
	AllocFail   uint64
	OutOfRange  uint64
	Unaligned   uint64
	Pages       uint64
	MappedBytes uint64
}

func (e *ExportStat) add(o ExportStat) {
	e.ReadBios += o.ReadBios
	e.WriteBios += o.WriteBios
	e.ReadBytes += o.ReadBytes
	e.WriteBytes += o.WriteBytes
	e.PageHit += o.PageHit
	e.PageHole += o.PageHole
	e.PageAlloc += o.PageAlloc
	e.InsertRace += o.InsertRace
	e.AllocFail += o.AllocFail
	e.OutOfRange += o.OutOfRange
	e.Unaligned += o.Unaligned
	e.Pages += o.Pages
	e.MappedBytes += o.MappedBytes
}

type iStat struct {
	readBios   atomic.Uint64
	writeBios  atomic.Uint64
	readBytes  atomic.Uint64
	writeBytes atomic.Uint64
	pageHit    atomic.Uint64
	pageHole   atomic.Uint64
	pageAlloc  atomic.Uint64
	insertRace atomic.Uint64
	allocFail  atomic.Uint64
	outOfRange atomic.Uint64
	unaligned  atomic.Uint64
}

func (s *iStat) export() ExportStat {
	return ExportStat{
		ReadBios:   s.readBios.Load(),
		WriteBios:  s.writeBios.Load(),
		ReadBytes:  s.readBytes.Load(),
		WriteBytes: s.writeBytes.Load(),
		PageHit:    s.pageHit.Load(),
		PageHole:   s.pageHole.Load(),
		PageAlloc:  s.pageAlloc.Load(),
		InsertRace: s.insertRace.Load(),
		AllocFail:  s.allocFail.Load(),
		OutOfRange: s.outOfRange.Load(),
		Unaligned:  s.unaligned.Load(),
	}
}
