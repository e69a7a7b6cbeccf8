// Package config describes the emulated machine the kernel boots on and the
// tunables of the bring-up sequence. Descriptions are stored as TOML.
package config

import (
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gokern/kernel/cpu"
	"gokern/kernel/hal/bootinfo"
	"gokern/kernel/mm"
	"gokern/kernel/mm/physmem"
)

// Heap allocator strategies.
const (
	AllocatorBump     = "bump"
	AllocatorFreeList = "freelist"
)

// Firmware memory region types.
const (
	RegionUsable   = "usable"
	RegionReserved = "reserved"
)

const hugePageSize = 2 * mm.Mb

// Region is a physical memory range reported by the firmware.
type Region struct {
	Start uint64 `toml:"start"`
	End   uint64 `toml:"end"`
	Type  string `toml:"type"`
}

// Kernel describes where the bootloader places the kernel.
type Kernel struct {
	// Base is the virtual address of the kernel image.
	Base uint64 `toml:"base"`

	// Size is the size of the kernel image.
	Size uint64 `toml:"size"`

	// StackBase is the virtual address of the guard page below the kernel
	// stack.
	StackBase uint64 `toml:"stack_base"`

	// StackSize is the size of the kernel stack.
	StackSize uint64 `toml:"stack_size"`
}

// Heap configures the kernel heap.
type Heap struct {
	Start     uint64 `toml:"start"`
	Size      uint64 `toml:"size"`
	Allocator string `toml:"allocator"`
}

// Timer configures the interval timer used by the run command.
type Timer struct {
	// IntervalMS is the tick period in milliseconds.
	IntervalMS uint64 `toml:"interval_ms"`

	// Ticks is the number of timer interrupts serviced before the run
	// command stops.
	Ticks uint64 `toml:"ticks"`
}

// Config is a machine description.
type Config struct {
	// PhysicalMemoryOffset is the virtual address at which the bootloader
	// maps all of physical memory.
	PhysicalMemoryOffset uint64 `toml:"physical_memory_offset"`

	// BootloaderSize is the size of the bootloader image left in RAM.
	BootloaderSize uint64 `toml:"bootloader_size"`

	// LogLevel is the kernel log level.
	LogLevel string `toml:"log_level"`

	Memory []Region `toml:"memory"`
	Kernel Kernel   `toml:"kernel"`
	Heap   Heap     `toml:"heap"`
	Timer  Timer    `toml:"timer"`
}

// Default returns the description of a PC with 8MiB of RAM laid out the way
// QEMU reports it.
func Default() *Config {
	return &Config{
		PhysicalMemoryOffset: 0x100000000000,
		BootloaderSize:       uint64(16 * mm.Kb),
		LogLevel:             "info",
		Memory: []Region{
			{Start: 0x0, End: 0x9f000, Type: RegionUsable},
			{Start: 0x9f000, End: 0x100000, Type: RegionReserved},
			{Start: 0x100000, End: 0x800000, Type: RegionUsable},
		},
		Kernel: Kernel{
			Base:      0x200000,
			Size:      uint64(64 * mm.Kb),
			StackBase: 0x20000000000,
			StackSize: uint64(80 * mm.Kb),
		},
		Heap: Heap{
			Start:     0x4444_4444_0000,
			Size:      uint64(100 * mm.Kb),
			Allocator: AllocatorFreeList,
		},
		Timer: Timer{
			IntervalMS: 10,
			Ticks:      10,
		},
	}
}

// Load reads a machine description from path. Settings missing from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "decode config file %q", path)
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %q", path)
	}
	return c, nil
}

// Decode parses a machine description from a TOML document.
func Decode(data string) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(data, c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func pageAligned(v uint64) bool {
	return v&uint64(mm.PageSize-1) == 0
}

// canonical reports whether bits 48-63 of v are copies of bit 47.
func canonical(v uint64) bool {
	top := v >> 47
	return top == 0 || top == 0x1ffff
}

// Validate checks the description for consistency.
func (c *Config) Validate() error {
	if !canonical(c.PhysicalMemoryOffset) || c.PhysicalMemoryOffset%uint64(hugePageSize) != 0 {
		return errors.Errorf("physical memory offset %#x must be canonical and 2MiB aligned", c.PhysicalMemoryOffset)
	}

	if len(c.Memory) == 0 {
		return errors.New("no memory regions defined")
	}

	regions := append([]Region(nil), c.Memory...)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })
	for i, r := range regions {
		switch {
		case r.Type != RegionUsable && r.Type != RegionReserved:
			return errors.Errorf("memory region [%#x - %#x]: unknown type %q", r.Start, r.End, r.Type)
		case r.Start >= r.End:
			return errors.Errorf("memory region [%#x - %#x]: start must be below end", r.Start, r.End)
		case !pageAligned(r.Start) || !pageAligned(r.End):
			return errors.Errorf("memory region [%#x - %#x]: not page aligned", r.Start, r.End)
		case i > 0 && r.Start < regions[i-1].End:
			return errors.Errorf("memory region [%#x - %#x] overlaps [%#x - %#x]", r.Start, r.End, regions[i-1].Start, regions[i-1].End)
		}
	}

	switch {
	case c.Kernel.Size == 0 || c.Kernel.StackSize == 0:
		return errors.New("kernel image and stack sizes must be non-zero")
	case !canonical(c.Kernel.Base) || !pageAligned(c.Kernel.Base):
		return errors.Errorf("kernel base %#x must be canonical and page aligned", c.Kernel.Base)
	case !canonical(c.Kernel.StackBase) || !pageAligned(c.Kernel.StackBase):
		return errors.Errorf("kernel stack base %#x must be canonical and page aligned", c.Kernel.StackBase)
	}

	switch {
	case c.Heap.Size == 0:
		return errors.New("heap size must be non-zero")
	case !canonical(c.Heap.Start) || !pageAligned(c.Heap.Start):
		return errors.Errorf("heap start %#x must be canonical and page aligned", c.Heap.Start)
	case c.Heap.Allocator != AllocatorBump && c.Heap.Allocator != AllocatorFreeList:
		return errors.Errorf("unknown heap allocator %q", c.Heap.Allocator)
	}

	if c.Timer.IntervalMS == 0 {
		return errors.New("timer interval must be non-zero")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log level")
	}

	return nil
}

// RAMSize returns the amount of RAM needed to back every region.
func (c *Config) RAMSize() mm.Size {
	var end uint64
	for _, r := range c.Memory {
		if r.End > end {
			end = r.End
		}
	}
	return mm.Size(end)
}

// Regions converts the memory description to boot memory map regions.
func (c *Config) Regions() []bootinfo.MemoryRegion {
	regions := make([]bootinfo.MemoryRegion, 0, len(c.Memory))
	for _, r := range c.Memory {
		typ := bootinfo.MemReserved
		if r.Type == RegionUsable {
			typ = bootinfo.MemUsable
		}
		regions = append(regions, bootinfo.MemoryRegion{
			Start: mm.PhysAddr(r.Start),
			End:   mm.PhysAddr(r.End),
			Type:  typ,
		})
	}
	return regions
}

// Loader returns a bootloader that loads the kernel described by c into
// arena and activates it on cpu.
func (c *Config) Loader(cpu *cpu.CPU, arena *physmem.Arena) *bootinfo.Loader {
	return &bootinfo.Loader{
		CPU:                  cpu,
		Arena:                arena,
		Firmware:             c.Regions(),
		PhysicalMemoryOffset: mm.VirtAddr(c.PhysicalMemoryOffset),
		BootloaderSize:       mm.Size(c.BootloaderSize),
		KernelBase:           mm.VirtAddr(c.Kernel.Base),
		KernelSize:           mm.Size(c.Kernel.Size),
		KernelStackBase:      mm.VirtAddr(c.Kernel.StackBase),
		KernelStackSize:      mm.Size(c.Kernel.StackSize),
	}
}
