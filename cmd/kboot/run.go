package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"gokern/kernel/config"
	"gokern/kernel/kfmt"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	ticks    uint64
	keys     string
	keyDelay time.Duration
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the kernel and service timer and keyboard interrupts"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - boot the kernel, start the interval timer and the keyboard and
service interrupts until the tick budget is spent.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&r.ticks, "ticks", 0, "number of timer interrupts to service. Overrides the configured tick count if non-zero.")
	f.StringVar(&r.keys, "keys", "", "comma separated scancodes to type on the keyboard, e.g. 0x1e,0x9e.")
	f.DurationVar(&r.keyDelay, "key-delay", time.Millisecond, "delay between key presses.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	return status(r.run(ctx, args[0].(*config.Config), os.Stdout))
}

// parseScancodes parses a comma separated list of scancodes.
func parseScancodes(list string) ([]uint8, error) {
	if list == "" {
		return nil, nil
	}

	var codes []uint8
	for _, field := range strings.Split(list, ",") {
		code, err := strconv.ParseUint(strings.TrimSpace(field), 0, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "parse scancode %q", field)
		}
		codes = append(codes, uint8(code))
	}
	return codes, nil
}

func (r *Run) run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	codes, err := parseScancodes(r.keys)
	if err != nil {
		return err
	}

	ticks := cfg.Timer.Ticks
	if r.ticks != 0 {
		ticks = r.ticks
	}

	s, err := boot(cfg, out)
	if err != nil {
		return err
	}
	defer s.Close()

	handlers := s.kernel.Handlers()
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return s.machine.Timer.Run(ctx)
	})
	g.Go(func() error {
		return s.machine.Keyboard.Type(ctx, codes, r.keyDelay)
	})
	g.Go(func() error {
		defer cancel()
		if err := s.kernel.Idle(ctx, func() bool { return handlers.Ticks() >= ticks }); err != nil {
			return errors.Wrap(err, "kernel idle loop")
		}
		return nil
	})

	if err = g.Wait(); err != nil {
		return err
	}

	kfmt.Printf("serviced %d timer interrupts\n", handlers.Ticks())

	queue := handlers.Scancodes()
	kfmt.Printf("received %d scancodes (%d dropped):", queue.Len(), queue.Dropped())
	for code, ok := queue.Pop(); ok; code, ok = queue.Pop() {
		kfmt.Printf(" 0x%02x", code)
	}
	kfmt.Printf("\n")
	return nil
}
