package kfmt

import (
	"fmt"
	"io"
	gosync "sync"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before the
	// console is initialized.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// sinkMu serializes writes to the shared sink; kernel threads log
	// concurrently.
	sinkMu gosync.Mutex
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the default target for calls to Printf. When no sink
// has been installed, the early ring buffer is returned.
func GetOutputSink() io.Writer {
	return sinkWriter{}
}

// Printf formats according to a format specifier and writes to the active
// output sink. The supported verbs are the ones of the fmt package.
//
// If no sink is available, the output is buffered into a ring-buffer and will
// be flushed to the sink installed by the next call to SetOutputSink.
func Printf(format string, args ...interface{}) {
	Fprintf(GetOutputSink(), format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. A nil writer routes the output to the active sink.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = GetOutputSink()
	}
	_, _ = fmt.Fprintf(w, format, args...)
}

// sinkWriter forwards writes to whatever sink is active at write time.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}
