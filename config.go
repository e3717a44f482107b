package ramblk

import (
	"fmt"
	"log/slog"
	"math/bits"
	"strconv"
	"strings"
)

const ramdiskSizeOption = "ramdisk_size="

type Config struct {
	// DeviceCount is the number of devices created by NewRegistry.
	// Zero selects the default, a negative value creates none.
	DeviceCount int
	// DeviceSizeKiB is the size of every device created without an explicit capacity.
	DeviceSizeKiB uint64
	// MaxPart is the number of minors reserved per device.
	MaxPart int
	// MaxPages bounds the pages allocated across all devices, 0 means unbounded.
	MaxPages uint64
	// ChunkPages is how many pages the arena maps at once.
	ChunkPages int
	Logger     *slog.Logger
}

func (c *Config) normalize() error {
	if c.DeviceCount == 0 {
		c.DeviceCount = defaultDeviceCount
	} else if c.DeviceCount < 0 {
		c.DeviceCount = 0
	}
	if c.DeviceSizeKiB == 0 {
		c.DeviceSizeKiB = defaultDeviceSizeKiB
	}
	if c.DeviceSizeKiB > MaxCapacity/2 {
		return fmt.Errorf("device size too large : %d KiB", c.DeviceSizeKiB)
	}
	if c.ChunkPages <= 0 {
		c.ChunkPages = defaultChunkPages
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxPart < 0 {
		return fmt.Errorf("max part must not be negative : %d", c.MaxPart)
	}
	if c.MaxPart == 0 {
		c.MaxPart = defaultMaxPart
	}
	// same dev_t must never be produced for two partitions
	if (1<<MinorBits)%c.MaxPart != 0 {
		c.MaxPart = 1 << bits.Len(uint(c.MaxPart))
	}
	if c.MaxPart > diskMaxParts {
		c.Logger.Info("max part is too large, reset",
			"max_part", c.MaxPart, "limit", diskMaxParts)
		c.MaxPart = diskMaxParts
	}
	return nil
}

// capacity returns the default device capacity in sectors.
func (c *Config) capacity() uint64 {
	return c.DeviceSizeKiB * 2
}

// maxDevices is the number of device ids the minor space can address.
func (c *Config) maxDevices() int {
	return (1 << MinorBits) / c.MaxPart
}

// ParseRamdiskSize parses the value of a ramdisk_size boot option, in KiB.
// The base is taken from the prefix: 0x for hex, 0 for octal, decimal otherwise.
func ParseRamdiskSize(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ramdisk size %q : %w", s, err)
	}
	return v, nil
}

// ApplyBootOption sets DeviceSizeKiB from a "ramdisk_size=<KiB>" option.
// It reports false when opt is some other option.
func (c *Config) ApplyBootOption(opt string) (bool, error) {
	v, ok := strings.CutPrefix(opt, ramdiskSizeOption)
	if !ok {
		return false, nil
	}
	size, err := ParseRamdiskSize(v)
	if err != nil {
		return true, err
	}
	c.DeviceSizeKiB = size
	return true, nil
}
