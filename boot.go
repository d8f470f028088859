package main

import (
	"os"

	"github.com/stylemate/CS330-project3-1/kernel/kmain"
)

// main boots the kernel. The arguments form the boot command line:
// key=value kernel options, then "--" and the command line of the initial
// program.
//
// main is not expected to return. The kernel powers off once the initial
// program exits.
func main() {
	kmain.Kmain(os.Args[1:])
}
