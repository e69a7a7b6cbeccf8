package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gokern/kernel/config"
	"gokern/kernel/kmain"
)

func TestLoadConfigDefault(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Fatalf("expected the default config (-want +got):\n%s", diff)
	}
}

func TestBootCommand(t *testing.T) {
	specs := []struct {
		allocator string
		selfTest  bool
		expOut    []string
	}{
		{config.AllocatorFreeList, true, []string{"heap_value at 0x444444440000", "reference count is 1 now", "kernel reached stage ready"}},
		{config.AllocatorBump, true, []string{"current reference count is 2", "kernel reached stage ready"}},
		{config.AllocatorBump, false, []string{"kernel reached stage ready"}},
	}

	for specIndex, spec := range specs {
		cfg := config.Default()
		cfg.Heap.Allocator = spec.allocator

		var out bytes.Buffer
		if err := (&Boot{selfTest: spec.selfTest}).run(cfg, &out); err != nil {
			t.Errorf("[spec %d] %v", specIndex, err)
			continue
		}

		for _, exp := range spec.expOut {
			if !strings.Contains(out.String(), exp) {
				t.Errorf("[spec %d] expected output to contain %q; got:\n%s", specIndex, exp, out.String())
			}
		}

		if !spec.selfTest && strings.Contains(out.String(), "heap_value") {
			t.Errorf("[spec %d] expected the self test to be skipped", specIndex)
		}
	}
}

func TestBootCommandHeapDoesNotFit(t *testing.T) {
	cfg := config.Default()
	cfg.Heap.Size = 16 << 20

	var out bytes.Buffer
	err := (&Boot{}).run(cfg, &out)
	if err == nil || !strings.Contains(err.Error(), "boot kernel") || !strings.Contains(err.Error(), kmain.StageInterruptsEnabled.String()) {
		t.Fatalf("expected a boot error at stage %s; got %v", kmain.StageInterruptsEnabled, err)
	}
}

func TestTranslateCommand(t *testing.T) {
	cfg := config.Default()

	var out bytes.Buffer
	addrs := []string{"0x200000", "0x444444440000", "0x1000", "0x100000000000"}
	if err := (&Translate{}).run(cfg, addrs, &out); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(out.String(), "\n")
	find := func(prefix string) string {
		for _, line := range lines {
			if strings.HasPrefix(line, prefix) {
				return line
			}
		}
		return ""
	}

	specs := []struct {
		prefix string
		exp    string
	}{
		{"0x0000000000200000 ->", "(kernel)"},
		{"0x0000444444440000 ->", "(usable)"},
		{"0x0000000000001000 ->", "not mapped"},
		{"0x0000100000000000 ->", "huge pages are not supported"},
	}

	for specIndex, spec := range specs {
		if line := find(spec.prefix); !strings.HasSuffix(line, spec.exp) {
			t.Errorf("[spec %d] expected a line starting with %q and ending with %q; got output:\n%s", specIndex, spec.prefix, spec.exp, out.String())
		}
	}
}

func TestTranslateCommandBadAddress(t *testing.T) {
	for specIndex, addr := range []string{"heap", "0x1000000000000000"} {
		var out bytes.Buffer
		if err := (&Translate{}).run(config.Default(), []string{addr}, &out); err == nil {
			t.Errorf("[spec %d] expected an error for address %q", specIndex, addr)
		}
	}
}

func TestMemMapCommand(t *testing.T) {
	var out bytes.Buffer
	if err := (&MemMap{}).run(config.Default(), &out); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []string{"system memory map", "type: kernel stack", "type: page table", "heap frames allocated: 28"} {
		if !strings.Contains(out.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, out.String())
		}
	}
}

func TestParseScancodes(t *testing.T) {
	specs := []struct {
		in     string
		exp    []uint8
		expErr bool
	}{
		{"", nil, false},
		{"0x1e", []uint8{0x1e}, false},
		{"0x1e, 0x9e,30", []uint8{0x1e, 0x9e, 30}, false},
		{"0x100", nil, true},
		{"a", nil, true},
	}

	for specIndex, spec := range specs {
		got, err := parseScancodes(spec.in)
		if spec.expErr {
			if err == nil {
				t.Errorf("[spec %d] expected an error", specIndex)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if diff := cmp.Diff(spec.exp, got); diff != "" {
			t.Errorf("[spec %d] unexpected scancodes (-want +got):\n%s", specIndex, diff)
		}
	}
}

func TestRunCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Timer.IntervalMS = 1

	r := &Run{ticks: 3, keys: "0x1e,0x9e"}
	var out bytes.Buffer
	if err := r.run(context.Background(), cfg, &out); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out.String(), "serviced 3 timer interrupts") {
		t.Fatalf("expected 3 serviced ticks; got:\n%s", out.String())
	}
}

func TestRunCommandCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := (&Run{ticks: 1000}).run(ctx, config.Default(), &out)
	if err == nil || !strings.Contains(err.Error(), "kernel idle loop") {
		t.Fatalf("expected the idle loop to be interrupted; got %v", err)
	}
}
