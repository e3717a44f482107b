package ramblk

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry owns the live devices. Both the devices created up front and
// the ones instantiated on first access go through initOneLocked, so one id
// never maps to two devices.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	budget  *pageBudget
	logger  *slog.Logger
	devices map[int]*list.Element
	// creation order, teardown walks it front to back
	order  *list.List
	closed bool
}

func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.With("component", "ramblk")
	r := &Registry{
		cfg:     cfg,
		budget:  newPageBudget(cfg.MaxPages),
		logger:  cfg.Logger,
		devices: make(map[int]*list.Element, cfg.DeviceCount),
		order:   list.New(),
	}
	for i := 0; i < cfg.DeviceCount; i++ {
		if _, _, err := r.LookupOrCreate(i); err != nil {
			r.logger.Error("module not loaded", "err", err)
			if closeErr := r.Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
			return nil, fmt.Errorf("create %d devices : %w", cfg.DeviceCount, err)
		}
	}
	r.logger.Info("module loaded",
		"devices", cfg.DeviceCount,
		"size_kib", cfg.DeviceSizeKiB,
		"max_part", cfg.MaxPart,
		"max_pages", cfg.MaxPages)
	return r, nil
}

// Config returns the normalized configuration the registry runs with.
func (r *Registry) Config() Config {
	return r.cfg
}

func (r *Registry) initOneLocked(id int, capacity uint64) (d *Device, isNew bool, err error) {
	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	if id < 0 || id >= r.cfg.maxDevices() {
		return nil, false, fmt.Errorf("%w : %d not in [0, %d)", ErrInvalidDeviceID, id, r.cfg.maxDevices())
	}
	if e, ok := r.devices[id]; ok {
		return e.Value.(*Device), false, nil
	}
	if capacity == 0 {
		return nil, false, fmt.Errorf("device %d : capacity must not be zero", id)
	}
	if capacity > MaxCapacity {
		return nil, false, fmt.Errorf("device %d : capacity %d exceeds %d sectors", id, capacity, uint64(MaxCapacity))
	}
	d = newDevice(id, capacity, &r.cfg, r.budget)
	r.devices[id] = r.order.PushBack(d)
	r.logger.Debug("device created", "device", d.name, "sectors", capacity)
	return d, true, nil
}

// CreateDevice creates device id with the given capacity in sectors. An
// existing device is returned as is, its capacity is not changed.
func (r *Registry) CreateDevice(id int, capacity uint64) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, _, err := r.initOneLocked(id, capacity)
	return d, err
}

// LookupOrCreate returns device id, creating it with the default capacity
// when it does not exist yet. isNew is true for the call that created it.
func (r *Registry) LookupOrCreate(id int) (d *Device, isNew bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initOneLocked(id, r.cfg.capacity())
}

func (r *Registry) Lookup(id int) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	e, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w : %d", ErrDeviceNotFound, id)
	}
	return e.Value.(*Device), nil
}

// Probe resolves a minor number to its device, instantiating it on demand.
// A freshly created device has no partition table worth scanning, isNew
// tells the caller to skip the rescan.
func (r *Registry) Probe(minor int) (d *Device, isNew bool, err error) {
	if minor < 0 {
		return nil, false, fmt.Errorf("%w : minor %d", ErrInvalidDeviceID, minor)
	}
	return r.LookupOrCreate(minor / r.cfg.MaxPart)
}

// Submit services bio on device id, creating the device on first access.
func (r *Registry) Submit(id int, bio *Bio) error {
	d, _, err := r.LookupOrCreate(id)
	if err != nil {
		return err
	}
	return d.SubmitBio(bio)
}

// Destroy removes device id and frees its pages. The caller guarantees no
// I/O is in flight on it.
func (r *Registry) Destroy(id int) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	e, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w : %d", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	r.order.Remove(e)
	r.mu.Unlock()
	return e.Value.(*Device).destroy()
}

// List returns the live devices in creation order.
func (r *Registry) List() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*Device, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		res = append(res, e.Value.(*Device))
	}
	return res
}

func (r *Registry) Stat() ExportStat {
	var s ExportStat
	for _, d := range r.List() {
		s.add(d.Stat())
	}
	return s
}

// Close destroys every device in creation order.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	r.closed = true
	devices := make([]*Device, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		devices = append(devices, e.Value.(*Device))
	}
	r.order.Init()
	clear(r.devices)
	r.mu.Unlock()

	var errs []error
	for _, d := range devices {
		if err := d.destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy %s : %w", d.name, err))
		}
	}
	r.logger.Info("module unloaded", "devices", len(devices))
	return errors.Join(errs...)
}
