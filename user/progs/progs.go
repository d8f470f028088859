// Package progs contains the sample user programs installed at boot.
package progs

import (
	"strconv"
	"strings"

	"github.com/stylemate/CS330-project3-1/kernel/cpu"
	"github.com/stylemate/CS330-project3-1/kernel/loader"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/user"
)

// chunkSize is the size of the stack buffers used to copy file data.
const chunkSize = 512

// memhogPages is the size of the memhog data segment in pages.
const memhogPages = 64

var memhogTag = []byte("memhog data page")

// All lists every program installed at boot.
var All = []loader.Program{
	{Name: "echo", Main: echo},
	{Name: "cat", Main: cat},
	{Name: "cp", Main: cp},
	{Name: "memhog", Main: memhog, Data: memhogTag, BSS: memhogPages*uint32(mm.PageSize) - uint32(len(memhogTag))},
}

// echo prints its arguments.
func echo(ctx *cpu.Context, args []string) int32 {
	user.Puts(ctx, strings.Join(args[1:], " ")+"\n")
	return 0
}

// cat prints the contents of the named files.
func cat(ctx *cpu.Context, args []string) int32 {
	for _, name := range args[1:] {
		fd := user.Open(ctx, name)
		if fd < 0 {
			user.Puts(ctx, "cat: "+name+": cannot open\n")
			return 1
		}

		for {
			data, n := user.ReadBytes(ctx, fd, chunkSize)
			if n <= 0 {
				break
			}
			user.WriteBytes(ctx, user.Stdout, data)
		}
		user.Close(ctx, fd)
	}
	return 0
}

// cp copies a file to a new file of the same size.
func cp(ctx *cpu.Context, args []string) int32 {
	if len(args) != 3 {
		user.Puts(ctx, "usage: cp src dst\n")
		return 1
	}

	src := user.Open(ctx, args[1])
	if src < 0 {
		user.Puts(ctx, "cp: "+args[1]+": cannot open\n")
		return 1
	}

	var dst int32 = -1
	if user.Create(ctx, args[2], uint32(user.Filesize(ctx, src))) {
		dst = user.Open(ctx, args[2])
	}
	if dst < 0 {
		user.Puts(ctx, "cp: "+args[2]+": cannot create\n")
		user.Close(ctx, src)
		return 1
	}

	status := copyData(ctx, src, dst)
	user.Close(ctx, src)
	user.Close(ctx, dst)
	return status
}

func copyData(ctx *cpu.Context, src, dst int32) int32 {
	for {
		data, n := user.ReadBytes(ctx, src, chunkSize)
		if n <= 0 {
			return 0
		}
		if user.WriteBytes(ctx, dst, data) != n {
			user.Puts(ctx, "cp: short write\n")
			return 1
		}
	}
}

// memhog dirties the pages of its data segment and of a large stack
// buffer, then checks that every page kept its contents. Run with fewer
// user frames than pages it forces pages through swap. An optional
// argument limits the number of data pages used.
func memhog(ctx *cpu.Context, args []string) int32 {
	pages := memhogPages
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 && n < memhogPages {
			pages = n
		}
	}

	tag := make([]byte, len(memhogTag))
	ctx.Load(loader.DataBase, tag)
	if string(tag) != string(memhogTag) {
		user.Puts(ctx, "memhog: bad initial data\n")
		return 1
	}

	data := func(i int) uintptr { return loader.DataBase + uintptr(i)*mm.PageSize + mm.PageSize/2 }

	sp := ctx.SP()
	stack := ctx.Reserve(uintptr(pages) * mm.PageSize)
	defer ctx.SetSP(sp)
	stackWord := func(i int) uintptr { return stack + uintptr(i)*mm.PageSize }

	for i := 0; i < pages; i++ {
		ctx.StoreWord(data(i), uint32(i)*7+1)
		ctx.StoreWord(stackWord(i), uint32(i)*11+3)
	}

	for i := 0; i < pages; i++ {
		if ctx.LoadWord(data(i)) != uint32(i)*7+1 || ctx.LoadWord(stackWord(i)) != uint32(i)*11+3 {
			user.Puts(ctx, "memhog: page "+strconv.Itoa(i)+" lost its contents\n")
			return 1
		}
	}

	ctx.Load(loader.DataBase, tag)
	if string(tag) != string(memhogTag) {
		user.Puts(ctx, "memhog: initial data lost\n")
		return 1
	}

	user.Puts(ctx, "memhog: "+strconv.Itoa(pages)+" pages ok\n")
	return 0
}
