package block

import (
	"github.com/stylemate/CS330-project3-1/device"
	"github.com/stylemate/CS330-project3-1/kernel/cmdline"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
)

const (
	// SwapDiskName is the driver name of the swap device.
	SwapDiskName = "swap"

	defaultSwapSlots = 256
)

// probeForSwapDisk returns the swap device described by the boot command
// line: swapslots sets the capacity in pages and swap selects a host file
// (an in-memory disk is used otherwise).
func probeForSwapDisk() device.Driver {
	args := cmdline.BootCmdLine()

	slots := args.Uint("swapslots", defaultSwapSlots)
	if slots == 0 {
		return nil
	}

	sectors := slots * uint32(mm.PageSize/SectorSize)
	if path := args.String("swap", ""); path != "" {
		return NewFileDisk(SwapDiskName, path, sectors)
	}
	return NewMemDisk(SwapDiskName, sectors)
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderStorage,
		Probe: probeForSwapDisk,
	})
}
