// Package console provides the console output device.
package console

import (
	"io"
	"os"

	"github.com/stylemate/CS330-project3-1/device"
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// Device is implemented by console output drivers.
type Device interface {
	device.Driver
	io.Writer

	// BytesWritten returns the number of bytes sent to the console.
	BytesWritten() uint64
}

// Console forwards output to a host writer. Each Write call reaches the
// host writer as a single uninterrupted chunk so output from concurrent
// processes never interleaves within one buffer.
type Console struct {
	lock sync.Spinlock

	w       io.Writer
	written uint64
}

// New returns a console that writes to w.
func New(w io.Writer) *Console {
	return &Console{w: w}
}

// DriverName returns the name of this driver.
func (*Console) DriverName() string {
	return "console"
}

// DriverVersion returns the version of this driver.
func (*Console) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (*Console) DriverInit(_ io.Writer) *kernel.Error {
	return nil
}

// Write sends p to the host writer. It always reports len(p) bytes written;
// host write failures are dropped like output to a disconnected display.
func (c *Console) Write(p []byte) (int, error) {
	c.lock.Acquire()
	defer c.lock.Release()

	_, _ = c.w.Write(p)
	c.written += uint64(len(p))
	return len(p), nil
}

// BytesWritten returns the number of bytes sent to the console.
func (c *Console) BytesWritten() uint64 {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.written
}

var stdout io.Writer = os.Stdout

func probeForHostConsole() device.Driver {
	return New(stdout)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForHostConsole,
	})
}
