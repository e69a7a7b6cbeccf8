// Package kfmt implements the kernel's console output layer: formatted
// printing to a replaceable output sink, an early ring buffer that captures
// output produced before a sink is attached, the kernel panic path and the
// structured kernel logger.
package kfmt

import (
	"fmt"
	"io"

	"gokern/kernel/sync"
)

var (
	// sinkLock serializes writes to the output sink. Device goroutines and
	// the kernel goroutine may print concurrently.
	sinkLock sync.Spinlock

	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is an io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	sinkLock.Acquire()
	defer sinkLock.Release()

	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	sinkLock.Acquire()
	defer sinkLock.Release()
	return outputSink
}

// Console returns a writer that behaves like Printf: output goes to the
// active sink or to the early print buffer.
func Console() io.Writer {
	return consoleWriter{}
}

// Printf formats according to a format specifier and writes to the active
// output sink. If no sink is attached, the output is buffered into a ring
// buffer and replayed when SetOutputSink is called.
func Printf(format string, args ...interface{}) {
	Fprintf(consoleWriter{}, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. Write errors are ignored; there is nowhere to
// report them.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// consoleWriter routes writes to the active output sink or, if no sink is
// attached, to the early print buffer.
type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	sinkLock.Acquire()
	defer sinkLock.Release()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}
