// Package input provides the raw input byte source.
package input

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/stylemate/CS330-project3-1/device"
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/sync"
)

// Device is implemented by input drivers.
type Device interface {
	device.Driver

	// Getc blocks until a byte is available and returns it. The second
	// return value is false once the source is exhausted.
	Getc() (byte, bool)
}

// Keyboard delivers bytes from a host reader.
type Keyboard struct {
	lock sync.Spinlock
	r    *bufio.Reader
}

// New returns an input device reading from r.
func New(r io.Reader) *Keyboard {
	return &Keyboard{r: bufio.NewReader(r)}
}

// NewBuffered returns an input device that yields data and then reports
// exhaustion.
func NewBuffered(data []byte) *Keyboard {
	return New(bytes.NewReader(data))
}

// DriverName returns the name of this driver.
func (*Keyboard) DriverName() string {
	return "input"
}

// DriverVersion returns the version of this driver.
func (*Keyboard) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit initializes this driver.
func (*Keyboard) DriverInit(_ io.Writer) *kernel.Error {
	return nil
}

// Getc returns the next input byte.
func (k *Keyboard) Getc() (byte, bool) {
	k.lock.Acquire()
	defer k.lock.Release()

	b, err := k.r.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

var stdin io.Reader = os.Stdin

func probeForHostInput() device.Driver {
	return New(stdin)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForHostInput,
	})
}
