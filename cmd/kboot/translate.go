package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"gokern/kernel/config"
	"gokern/kernel/kfmt"
	"gokern/kernel/mm"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses using the active page table"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate <addr>... - boot the kernel and print the physical address and
memory region each virtual address maps to.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return status(t.run(args[0].(*config.Config), f.Args(), os.Stdout))
}

func (*Translate) run(cfg *config.Config, addrs []string, out io.Writer) error {
	virtAddrs := make([]mm.VirtAddr, 0, len(addrs))
	for _, arg := range addrs {
		val, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return errors.Wrapf(err, "parse address %q", arg)
		}

		virt, kerr := mm.NewVirtAddr(val)
		if kerr != nil {
			return errors.Wrapf(kerr, "address %s", arg)
		}
		virtAddrs = append(virtAddrs, virt)
	}

	s, err := boot(cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, virt := range virtAddrs {
		phys, ok, kerr := s.kernel.Mapper().Translate(virt)
		switch {
		case kerr != nil:
			kfmt.Printf("0x%016x -> error: %s\n", uint64(virt), kerr.Message)
		case !ok:
			kfmt.Printf("0x%016x -> not mapped\n", uint64(virt))
		default:
			region := "unknown"
			if r, found := s.info.MemoryMap.RegionAt(phys); found {
				region = r.Type.String()
			}
			kfmt.Printf("0x%016x -> 0x%010x (%s)\n", uint64(virt), uint64(phys), region)
		}
	}
	return nil
}
