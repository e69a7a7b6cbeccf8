// Binary kboot boots the kernel on an emulated PC and reports what it did.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"gokern/kernel/config"
)

var configPath = flag.String("config", "", "path to a TOML machine description. The built-in 8MiB PC is used if empty.")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Boot), "")
	subcommands.Register(new(Translate), "")
	subcommands.Register(new(MemMap), "")
	subcommands.Register(new(Run), "")

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kboot: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	os.Exit(int(subcommands.Execute(context.Background(), cfg)))
}

// loadConfig returns the machine description stored at path or the default
// description if path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// status reports err on stderr and maps it to an exit status.
func status(err error) subcommands.ExitStatus {
	if err != nil {
		fmt.Fprintf(os.Stderr, "kboot: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
