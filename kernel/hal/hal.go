// Package hal detects the devices of the simulated machine and keeps track
// of the active console, input and swap drivers.
package hal

import (
	"bytes"
	"io"
	"sort"

	"github.com/stylemate/CS330-project3-1/device"
	"github.com/stylemate/CS330-project3-1/device/block"
	"github.com/stylemate/CS330-project3-1/device/console"
	"github.com/stylemate/CS330-project3-1/device/input"
	"github.com/stylemate/CS330-project3-1/kernel/cmdline"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole console.Device
	activeInput   input.Device
	swapDisk      block.Device

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer
)

// ActiveConsole returns the currently active console.
func ActiveConsole() console.Device {
	return devices.activeConsole
}

// ActiveInput returns the currently active input device.
func ActiveInput() input.Device {
	return devices.activeInput
}

// SwapDisk returns the block device used for swapping or nil if none was
// detected.
func SwapDisk() block.Device {
	return devices.swapDisk
}

// ActiveDrivers returns the list of successfully initialized drivers.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Sort(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(info, drv)
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first console, input and swap device
// found become the active ones.
func onDriverInit(_ *device.DriverInfo, drv device.Driver) {
	switch drvImpl := drv.(type) {
	case console.Device:
		if devices.activeConsole != nil {
			return
		}
		devices.activeConsole = drvImpl
		onConsoleInit(drvImpl)
	case input.Device:
		if devices.activeInput == nil {
			devices.activeInput = drvImpl
		}
	case block.Device:
		if devices.swapDisk == nil && drvImpl.DriverName() == block.SwapDiskName {
			devices.swapDisk = drvImpl
		}
	}
}

// onConsoleInit redirects the kernel log to the newly activated console
// unless the quiet flag was passed on the boot command line.
func onConsoleInit(cons console.Device) {
	if cmdline.BootCmdLine().Bool("quiet") {
		kfmt.SetOutputSink(io.Discard)
		return
	}

	kfmt.SetOutputSink(cons)
}
