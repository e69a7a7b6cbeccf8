package main

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"gokern/kernel/config"
	"gokern/kernel/hal/bootinfo"
	"gokern/kernel/hal/emu"
	"gokern/kernel/kfmt"
	"gokern/kernel/kmain"
	"gokern/kernel/mm"
)

// session is a booted machine.
type session struct {
	cfg     *config.Config
	machine *emu.Machine
	info    *bootinfo.BootInfo
	kernel  *kmain.Kernel
}

// boot powers on the machine described by cfg, runs the bootloader and
// brings up the kernel. Console output is sent to out.
func boot(cfg *config.Config, out io.Writer) (*session, error) {
	if err := kfmt.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, errors.Wrap(err, "set log level")
	}
	kfmt.SetOutputSink(out)

	m, kerr := emu.NewMachine(cfg.RAMSize())
	if kerr != nil {
		return nil, errors.Wrap(kerr, "power on machine")
	}
	m.Timer = emu.NewTimer(m.PIC, time.Duration(cfg.Timer.IntervalMS)*time.Millisecond)

	s := &session{cfg: cfg, machine: m}
	if s.info, kerr = cfg.Loader(m.CPU, m.RAM).Load(); kerr != nil {
		s.Close()
		return nil, errors.Wrap(kerr, "load kernel")
	}

	s.kernel = kmain.New(m, kmain.HeapOptions{
		Start:    mm.VirtAddr(cfg.Heap.Start),
		Size:     mm.Size(cfg.Heap.Size),
		Strategy: cfg.Heap.Allocator,
	})
	if kerr = s.kernel.Boot(s.info); kerr != nil {
		s.Close()
		return nil, errors.Wrapf(kerr, "boot kernel (reached stage %s)", s.kernel.Stage())
	}

	return s, nil
}

// Close powers off the machine and detaches the console.
func (s *session) Close() {
	kfmt.SetOutputSink(nil)
	s.machine.Close()
}
