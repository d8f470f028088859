package kmain

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"

	"github.com/stylemate/CS330-project3-1/device/block"
	"github.com/stylemate/CS330-project3-1/device/input"
	"github.com/stylemate/CS330-project3-1/kernel/cmdline"
	"github.com/stylemate/CS330-project3-1/kernel/cpu"
	"github.com/stylemate/CS330-project3-1/kernel/gate"
	"github.com/stylemate/CS330-project3-1/kernel/kfmt"
	"github.com/stylemate/CS330-project3-1/kernel/loader"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/pmm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/uvm"
	"github.com/stylemate/CS330-project3-1/user"
)

type syncBuffer struct {
	mu  gosync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testKernel struct {
	*Kernel
	console *syncBuffer
}

func newTestKernel(t *testing.T, userFrames, swapSlots uint32, stdin string) *testKernel {
	dev := block.NewMemDisk(block.SwapDiskName, swapSlots*uint32(mm.PageSize/block.SectorSize))
	if err := dev.DriverInit(new(bytes.Buffer)); err != nil {
		t.Fatal(err)
	}

	console := new(syncBuffer)
	k, err := New(Config{KernelFrames: 16, UserFrames: userFrames}, Devices{
		Console:  console,
		Input:    input.NewBuffered([]byte(stdin)),
		SwapDisk: dev,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testKernel{Kernel: k, console: console}
}

func (k *testKernel) expectConsole(t *testing.T, exp string) {
	t.Helper()
	if got := k.console.String(); got != exp {
		t.Fatalf("expected console output %q; got %q", exp, got)
	}
}

func (k *testKernel) expectReleased(t *testing.T) {
	t.Helper()
	if k.Procs.Count() != 1 || k.Frames.Len() != 0 {
		t.Fatal("expected every process and frame to be released")
	}
	if k.Phys.FreeCount(pmm.KernelPool) != k.Phys.PoolSize(pmm.KernelPool) || k.Phys.FreeCount(pmm.UserPool) != k.Phys.PoolSize(pmm.UserPool) {
		t.Fatal("expected every physical frame to be free")
	}
	if k.Swap.FreeCount() != k.Swap.SlotCount() {
		t.Fatal("expected every swap slot to be free")
	}
}

func mockLog(t *testing.T) (*syncBuffer, func()) {
	orig := logWriter
	buf := new(syncBuffer)
	logWriter = buf
	return buf, func() { logWriter = orig }
}

func TestRunEcho(t *testing.T) {
	k := newTestKernel(t, 8, 16, "")

	if got := k.Run("echo hello   world"); got != 0 {
		t.Fatalf("expected exit status 0; got %d", got)
	}
	k.expectConsole(t, "hello world\necho: exit(0)\n")
	k.expectReleased(t)
}

func TestRunMissingProgram(t *testing.T) {
	k := newTestKernel(t, 8, 16, "")

	if got := k.Run("nosuch arg"); got != -1 {
		t.Fatalf("expected exit status -1; got %d", got)
	}
	if got := k.Run(""); got != -1 {
		t.Fatalf("expected exit status -1; got %d", got)
	}
	k.expectConsole(t, "nosuch: exit(-1)\n")
	k.expectReleased(t)
}

func TestCatAndCp(t *testing.T) {
	k := newTestKernel(t, 8, 16, "")
	k.FS.Add("a.txt", []byte("line one\nline two\n"))

	specs := []struct {
		cmd       string
		expStatus int32
	}{
		{"cp a.txt b.txt", 0},
		{"cat b.txt", 0},
		{"cp a.txt b.txt", 1},
		{"cp a.txt", 1},
		{"cat nope", 1},
	}

	for _, spec := range specs {
		if got := k.Run(spec.cmd); got != spec.expStatus {
			t.Fatalf("[%s] expected exit status %d; got %d", spec.cmd, spec.expStatus, got)
		}
	}

	k.expectConsole(t, "cp: exit(0)\n"+
		"line one\nline two\ncat: exit(0)\n"+
		"cp: b.txt: cannot create\ncp: exit(1)\n"+
		"usage: cp src dst\ncp: exit(1)\n"+
		"cat: nope: cannot open\ncat: exit(1)\n")
	k.expectReleased(t)
}

func TestMemhogEviction(t *testing.T) {
	k := newTestKernel(t, 8, 128, "")

	if got := k.Run("memhog 24"); got != 0 {
		t.Fatalf("expected exit status 0; got %d (console: %q)", got, k.console.String())
	}
	k.expectConsole(t, "memhog: 24 pages ok\nmemhog: exit(0)\n")

	stats := k.Frames.Stats()
	if stats.Evictions == 0 || stats.SwapOuts == 0 {
		t.Fatalf("expected pages to be evicted to swap; got %+v", stats)
	}
	k.expectReleased(t)
}

func TestMemhogSwapExhausted(t *testing.T) {
	k := newTestKernel(t, 4, 2, "")
	_, restore := mockLog(t)
	defer restore()

	if got := k.Run("memhog 24"); got != -1 {
		t.Fatalf("expected exit status -1; got %d", got)
	}
	k.expectConsole(t, "memhog: exit(-1)\n")
	k.expectReleased(t)
}

func TestUserLibrary(t *testing.T) {
	k := newTestKernel(t, 8, 16, "typed")
	k.Loader.Install(loader.Program{
		Name: "ulib",
		Main: func(ctx *cpu.Context, _ []string) int32 {
			if !user.Create(ctx, "notes", 8) || user.Create(ctx, "notes", 8) {
				return 1
			}
			fd := user.Open(ctx, "notes")
			if fd < 2 {
				return 2
			}
			if user.WriteBytes(ctx, fd, []byte("abcdefghij")) != 8 {
				return 3
			}
			if user.Tell(ctx, fd) != 8 || user.Filesize(ctx, fd) != 8 {
				return 4
			}

			user.Seek(ctx, fd, 2)
			if data, n := user.ReadBytes(ctx, fd, 3); n != 3 || string(data) != "cde" {
				return 5
			}
			user.Close(ctx, fd)
			if user.Filesize(ctx, fd) != -1 {
				return 6
			}

			pid := user.Exec(ctx, "echo from child")
			if pid < 0 || user.Wait(ctx, pid) != 0 || user.Wait(ctx, pid) != -1 {
				return 7
			}
			if user.Exec(ctx, "nosuch") != -1 {
				return 8
			}
			if !user.Remove(ctx, "notes") || user.Open(ctx, "notes") != -1 {
				return 9
			}

			if data, n := user.ReadBytes(ctx, user.Stdin, 16); n != 5 || string(data) != "typed" {
				return 10
			}
			return 0
		},
	})

	if got := k.Run("ulib"); got != 0 {
		t.Fatalf("expected exit status 0; got %d", got)
	}
	k.expectConsole(t, "from child\necho: exit(0)\nnosuch: exit(-1)\nulib: exit(0)\n")
	k.expectReleased(t)
}

func TestHalt(t *testing.T) {
	defer func(orig func()) { haltFn = orig }(haltFn)
	var halted bool
	haltFn = func() { halted = true }

	log, restore := mockLog(t)
	defer restore()

	k := newTestKernel(t, 8, 16, "")
	k.Loader.Install(loader.Program{
		Name: "poweroff",
		Main: func(ctx *cpu.Context, _ []string) int32 {
			user.Halt(ctx)
			return 0
		},
	})

	if got := k.Run("poweroff"); got != 0 || !halted {
		t.Fatalf("expected halt to be requested; status %d", got)
	}
	if !strings.Contains(log.String(), "powering off") || !strings.Contains(log.String(), "frames in use") {
		t.Fatalf("unexpected log output %q", log.String())
	}
}

func TestUnrecoverableFaults(t *testing.T) {
	specs := []struct {
		name   string
		main   loader.Main
		expLog string
	}{
		{
			"segv",
			func(ctx *cpu.Context, _ []string) int32 {
				ctx.StoreWord(0x1000, 1)
				return 0
			},
			"access outside of user space",
		},
		{
			"scribble",
			func(ctx *cpu.Context, _ []string) int32 {
				ctx.LoadWord(loader.TextBase)
				ctx.StoreWord(loader.TextBase, 1)
				return 0
			},
			"write to read-only page",
		},
		{
			"wild",
			func(ctx *cpu.Context, _ []string) int32 {
				ctx.LoadWord(loader.DataBase + 64*mm.PageSize)
				return 0
			},
			"invalid user memory access",
		},
		{
			"gpf",
			func(ctx *cpu.Context, _ []string) int32 {
				ctx.Trap(gate.GPFException)
				return 0
			},
			"general protection fault",
		},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			log, restore := mockLog(t)
			defer restore()

			k := newTestKernel(t, 8, 16, "")
			k.Loader.Install(loader.Program{Name: spec.name, Main: spec.main})

			if got := k.Run(spec.name); got != -1 {
				t.Fatalf("expected exit status -1; got %d", got)
			}
			k.expectConsole(t, spec.name+": exit(-1)\n")
			k.expectReleased(t)

			for _, exp := range []string{spec.expLog, "Registers:", "RAX = "} {
				if !strings.Contains(log.String(), exp) {
					t.Fatalf("expected log output to contain %q; got %q", exp, log.String())
				}
			}
		})
	}
}

func TestTrapOutsideProcess(t *testing.T) {
	defer func(orig func(interface{})) { panicFn = orig }(panicFn)
	var panicked []interface{}
	panicFn = func(e interface{}) { panicked = append(panicked, e) }

	_, restore := mockLog(t)
	defer restore()

	k := newTestKernel(t, 8, 16, "")
	k.pageFaultHandler(&gate.Registers{})
	k.generalProtectionFaultHandler(&gate.Registers{})

	if len(panicked) != 2 || panicked[0] != errUnknownTrapSource || panicked[1] != errUnknownTrapSource {
		t.Fatalf("unexpected panics %v", panicked)
	}
}

func TestImportDir(t *testing.T) {
	_, restore := mockLog(t)
	defer restore()

	dir := t.TempDir()
	for name, data := range map[string]string{
		"notes.txt":                   "some notes",
		"a-name-that-is-too-long.txt": "x",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0700); err != nil {
		t.Fatal(err)
	}

	dev := block.NewMemDisk(block.SwapDiskName, 64)
	_ = dev.DriverInit(io.Discard)
	k, err := New(Config{KernelFrames: 16, UserFrames: 8, FSDir: dir}, Devices{SwapDisk: dev})
	if err != nil {
		t.Fatal(err)
	}

	f := k.FS.Open("notes.txt")
	if f == nil || f.Length() != int32(len("some notes")) {
		t.Fatal("expected notes.txt to be imported")
	}
	if k.FS.Open("subdir") != nil {
		t.Fatal("expected directories to be skipped")
	}
	if k.FS.Open("echo") == nil {
		t.Fatal("expected the sample programs to be installed")
	}

	if got := k.ImportDir(filepath.Join(dir, "missing")); got != 0 {
		t.Fatalf("expected nothing to be imported; got %d", got)
	}
}

func TestConfigFrom(t *testing.T) {
	specs := []struct {
		cmdline string
		exp     Config
	}{
		{
			"",
			Config{KernelFrames: DefaultKernelFrames, UserFrames: DefaultUserFrames, MaxStack: uint32(uvm.DefaultMaxStack)},
		},
		{
			"frames=32 kframes=8 stack=1m fsdir=/tmp/files -- echo hi",
			Config{KernelFrames: 8, UserFrames: 32, MaxStack: 1 << 20, FSDir: "/tmp/files"},
		},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if got := ConfigFrom(cmdline.ParseString(spec.cmdline)); got != spec.exp {
				t.Fatalf("expected config %+v; got %+v", spec.exp, got)
			}
		})
	}
}

func TestKmain(t *testing.T) {
	defer func(orig func()) { haltFn = orig }(haltFn)
	var halted bool
	haltFn = func() { halted = true }

	defer func() {
		kfmt.SetOutputSink(nil)
		cmdline.SetBootCmdLine(nil)
	}()

	Kmain([]string{"quiet", "frames=16", "swapslots=16", "--", "echo", "booted"})
	if !halted {
		t.Fatal("expected Kmain to power off")
	}
}
