package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"gokern/kernel/config"
	"gokern/kernel/kfmt"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	selfTest bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and exercise the heap"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot the emulated machine and print the kernel console.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.selfTest, "selftest", true, "allocate a boxed value, a vector and a reference counted value once the heap is up.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return status(b.run(args[0].(*config.Config), os.Stdout))
}

func (b *Boot) run(cfg *config.Config, out io.Writer) error {
	s, err := boot(cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	if b.selfTest {
		if kerr := s.kernel.HeapSelfTest(); kerr != nil {
			return errors.Wrap(kerr, "heap self test")
		}
	}

	kfmt.Printf("kernel reached stage %s\n", s.kernel.Stage())
	return nil
}
