package ramblk

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Device is one sparse RAM disk. It owns its page store and the arena
// backing it, both are freed together when the device is destroyed.
type Device struct {
	id            int
	name          string
	firstMinor    int
	capacity      uint64
	store         *pageStore
	stat          *iStat
	logger        *slog.Logger
	dead          atomic.Bool
	warnUnaligned sync.Once
}

func newDevice(id int, capacity uint64, cfg *Config, budget *pageBudget) *Device {
	stat := new(iStat)
	name := fmt.Sprintf("ram%d", id)
	return &Device{
		id:         id,
		name:       name,
		firstMinor: id * cfg.MaxPart,
		capacity:   capacity,
		store:      newPageStore(newPageArena(cfg.ChunkPages, budget), stat),
		stat:       stat,
		logger:     cfg.Logger.With("device", name),
	}
}

func (d *Device) ID() int {
	return d.id
}

func (d *Device) Name() string {
	return d.name
}

// Capacity returns the device size in sectors.
func (d *Device) Capacity() uint64 {
	return d.capacity
}

// Size returns the device size in bytes.
func (d *Device) Size() int64 {
	return int64(d.capacity) << SectorShift
}

func (d *Device) FirstMinor() int {
	return d.firstMinor
}

// PageCount returns how many pages have been materialized by writes.
func (d *Device) PageCount() uint64 {
	return d.store.pageCount()
}

func (d *Device) Stat() ExportStat {
	s := d.stat.export()
	s.Pages = d.store.pageCount()
	s.MappedBytes = d.store.arena.mappedBytes()
	return s
}

// destroy frees every page. No I/O may be in flight on the device.
func (d *Device) destroy() error {
	if d.dead.Swap(true) {
		return nil
	}
	pages := d.store.pageCount()
	err := d.store.removeAll()
	d.logger.Debug("device destroyed", "pages", pages)
	return err
}
