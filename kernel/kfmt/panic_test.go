package kfmt

import (
	"bytes"
	"errors"
	"testing"

	"gokern/kernel"
)

func TestPanic(t *testing.T) {
	defer func(origHaltFn func()) {
		cpuHaltFn = origHaltFn
		SetOutputSink(nil)
	}(cpuHaltFn)

	var cpuHaltCalled bool
	SetHaltFn(func() {
		cpuHaltCalled = true
	})

	specs := []struct {
		descr string
		err   interface{}
		exp   string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "test", Message: "panic test"},
			"\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		SetOutputSink(&buf)
		cpuHaltCalled = false

		Panic(spec.err)

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] %s: expected to get:\n%q\ngot:\n%q", specIndex, spec.descr, spec.exp, got)
		}

		if !cpuHaltCalled {
			t.Errorf("[spec %d] %s: expected the CPU to be halted", specIndex, spec.descr)
		}
	}
}
