package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"

	"gokern/kernel/config"
	"gokern/kernel/kfmt"
)

// MemMap implements subcommands.Command for the "memmap" command.
type MemMap struct{}

// Name implements subcommands.Command.Name.
func (*MemMap) Name() string {
	return "memmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MemMap) Synopsis() string {
	return "print the boot memory map"
}

// Usage implements subcommands.Command.Usage.
func (*MemMap) Usage() string {
	return `memmap - boot the kernel and print the memory map handed over by the bootloader.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*MemMap) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (m *MemMap) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return status(m.run(args[0].(*config.Config), os.Stdout))
}

func (*MemMap) run(cfg *config.Config, out io.Writer) error {
	s, err := boot(cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	s.kernel.Frames().PrintMemoryMap(kfmt.Console())
	kfmt.Printf("heap frames allocated: %d\n", s.kernel.Frames().AllocCount())
	return nil
}
