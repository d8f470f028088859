package proc

import (
	"bytes"
	"strings"
	gosync "sync"
	"testing"

	"github.com/stylemate/CS330-project3-1/device/block"
	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/cpu"
	"github.com/stylemate/CS330-project3-1/kernel/fs"
	"github.com/stylemate/CS330-project3-1/kernel/fs/memfs"
	"github.com/stylemate/CS330-project3-1/kernel/gate"
	"github.com/stylemate/CS330-project3-1/kernel/mm/frame"
	"github.com/stylemate/CS330-project3-1/kernel/mm/pmm"
	"github.com/stylemate/CS330-project3-1/kernel/mm/swap"
	"github.com/stylemate/CS330-project3-1/kernel/mm/uvm"
)

var errNoProgram = &kernel.Error{Module: "test", Message: "no such program"}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
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

type program func(m *Manager, p *Process, args []string)

type testLoader struct {
	m     *Manager
	progs map[string]program
}

func (l *testLoader) Load(p *Process, cmdline string) (Entry, *kernel.Error) {
	args := strings.Fields(cmdline)
	prog, ok := l.progs[args[0]]
	if !ok {
		return nil, errNoProgram
	}

	if _, err := p.AS.DeclareStack(); err != nil {
		return nil, err
	}

	return func(*cpu.Context) { prog(l.m, p, args) }, nil
}

type testKernel struct {
	m       *Manager
	loader  *testLoader
	phys    *pmm.BitmapAllocator
	console *syncBuffer
}

func newTestKernel(t *testing.T, progs map[string]program) *testKernel {
	phys, err := pmm.NewBitmapAllocator(16, 16)
	if err != nil {
		t.Fatal(err)
	}

	dev := block.NewMemDisk("swap", 64)
	_ = dev.DriverInit(new(bytes.Buffer))
	space := swap.New(dev)

	k := &testKernel{
		loader:  &testLoader{progs: progs},
		phys:    phys,
		console: new(syncBuffer),
	}
	k.m = NewManager(Config{
		Loader: k.loader,
		Memory: uvm.Config{
			Phys:   phys,
			Frames: frame.New(phys, space),
			Swap:   space,
			FSLock: new(fs.Lock),
		},
		Traps:   new(gate.Table),
		Console: k.console,
	})
	k.loader.m = k.m
	return k
}

func TestFileTable(t *testing.T) {
	m := memfs.New()
	m.Add("f", []byte("x"))

	tbl := NewFileTable()
	seen := make(map[FD]bool)
	for i := 0; i < 5; i++ {
		fd := tbl.Add(m.Open("f"))
		if fd < 2 || seen[fd] {
			t.Fatalf("unexpected descriptor %d", fd)
		}
		seen[fd] = true

		// Closed descriptors are never handed out again.
		tbl.Remove(fd)
	}

	if tbl.Get(StdinFD) != nil || tbl.Get(StdoutFD) != nil || tbl.Get(100) != nil {
		t.Fatal("expected reserved and unknown descriptors to be absent")
	}
	if tbl.Remove(100) != nil {
		t.Fatal("expected removing an unknown descriptor to return nil")
	}

	exe := m.Open("f")
	exe.DenyWrite()
	tbl.Add(exe)
	if tbl.Len() != 1 {
		t.Fatalf("expected one open descriptor; got %d", tbl.Len())
	}

	tbl.CloseAll(new(fs.Lock))
	if tbl.Len() != 0 {
		t.Fatal("expected every descriptor to be closed")
	}
	if got := m.Open("f").Write([]byte("y")); got != 1 {
		t.Fatal("expected closing the descriptor to re-enable writes")
	}
}

func TestChildRecord(t *testing.T) {
	rec := newChildRecord(5)

	if rec.ExitStatus() != KilledStatus || rec.LoadStatus() != LoadPending {
		t.Fatal("unexpected initial record state")
	}
	if rec.setLoadStatus(LoadPending) {
		t.Fatal("expected setting the pending status to be rejected")
	}
	if !rec.setLoadStatus(LoadSuccess) || rec.setLoadStatus(LoadFailure) {
		t.Fatal("expected the load status to change exactly once")
	}
	if !rec.setExitStatus(3) || rec.setExitStatus(4) {
		t.Fatal("expected the exit status to change exactly once")
	}

	// Repeated waits observe the same state.
	for i := 0; i < 2; i++ {
		if rec.waitLoaded() != LoadSuccess {
			t.Fatal("expected waitLoaded to report success")
		}
	}
	if LoadFailure.String() != "failure" || LoadPending.String() != "pending" || LoadSuccess.String() != "success" {
		t.Fatal("unexpected LoadStatus strings")
	}
}

func TestExecWait(t *testing.T) {
	k := newTestKernel(t, map[string]program{
		"child": func(m *Manager, p *Process, args []string) {
			m.Exit(p, int32(len(args)))
		},
	})
	initProc := k.m.Init()

	pid := k.m.Exec(initProc, "child a b")
	if pid == InvalidPID {
		t.Fatal("expected exec to succeed")
	}
	if initProc.Child(pid) == nil {
		t.Fatal("expected parent to hold a child record")
	}

	if got := k.m.Wait(initProc, pid); got != 3 {
		t.Fatalf("expected exit status 3; got %d", got)
	}
	if got := k.m.Wait(initProc, pid); got != KilledStatus {
		t.Fatalf("expected second wait to fail; got %d", got)
	}

	if exp := "child: exit(3)\n"; k.console.String() != exp {
		t.Fatalf("expected console output %q; got %q", exp, k.console.String())
	}
	if k.m.Count() != 1 {
		t.Fatal("expected only init to remain")
	}
	if k.phys.FreeCount(pmm.UserPool) != 16 || k.phys.FreeCount(pmm.KernelPool) != 16 {
		t.Fatal("expected the child's memory to be released")
	}
}

func TestWaitNonChild(t *testing.T) {
	var (
		release    = make(chan struct{})
		sleeperPID PID
	)
	k := newTestKernel(t, map[string]program{
		"sleeper": func(m *Manager, p *Process, _ []string) {
			<-release
			m.Exit(p, 0)
		},
		"waiter": func(m *Manager, p *Process, _ []string) {
			// The sleeper is a sibling, not a child.
			m.Exit(p, m.Wait(p, sleeperPID))
		},
	})
	initProc := k.m.Init()

	sleeper := k.m.Exec(initProc, "sleeper")
	sleeperPID = sleeper
	waiter := k.m.Exec(initProc, "waiter")

	if got := k.m.Wait(initProc, waiter); got != KilledStatus {
		t.Fatalf("expected wait on a non-child to return -1; got %d", got)
	}
	if got := k.m.Wait(initProc, 12345); got != KilledStatus {
		t.Fatalf("expected wait on an unknown pid to return -1; got %d", got)
	}

	close(release)
	if got := k.m.Wait(initProc, sleeper); got != 0 {
		t.Fatalf("expected sleeper status 0; got %d", got)
	}
}

func TestExecLoadFailure(t *testing.T) {
	k := newTestKernel(t, nil)
	initProc := k.m.Init()

	for i := 0; i < 2; i++ {
		if pid := k.m.Exec(initProc, "no-such-file arg"); pid != InvalidPID {
			t.Fatalf("expected exec to fail; got pid %d", pid)
		}
		if initProc.ChildCount() != 0 {
			t.Fatal("expected no child record to remain")
		}
	}

	if pid := k.m.Exec(initProc, "   "); pid != InvalidPID {
		t.Fatal("expected exec of an empty command line to fail")
	}

	// The exit message is printed before exec returns.
	if exp := "no-such-file: exit(-1)\nno-such-file: exit(-1)\n"; k.console.String() != exp {
		t.Fatalf("expected console output %q; got %q", exp, k.console.String())
	}
}

func TestOrphanStatusIsDropped(t *testing.T) {
	var (
		childRec *ChildRecord
		parentUp = make(chan struct{})
		release  = make(chan struct{})
		done     = make(chan struct{})
	)

	k := newTestKernel(t, map[string]program{
		"parent": func(m *Manager, p *Process, _ []string) {
			pid := m.Exec(p, "orphan")
			childRec = p.Child(pid)
			close(parentUp)
			m.Exit(p, 1)
		},
		"orphan": func(m *Manager, p *Process, _ []string) {
			<-release
			defer close(done)
			m.Exit(p, 42)
		},
	})
	initProc := k.m.Init()

	pid := k.m.Exec(initProc, "parent")
	<-parentUp
	if got := k.m.Wait(initProc, pid); got != 1 {
		t.Fatalf("expected parent status 1; got %d", got)
	}

	close(release)
	<-done

	if childRec == nil {
		t.Fatal("expected parent to have seen its child record")
	}
	if got := childRec.ExitStatus(); got != KilledStatus {
		t.Fatalf("expected orphan status not to be published; got %d", got)
	}
	if !strings.Contains(k.console.String(), "orphan: exit(42)\n") {
		t.Fatalf("expected orphan exit to be reported; got %q", k.console.String())
	}
}

func TestProgramWithoutExit(t *testing.T) {
	k := newTestKernel(t, map[string]program{
		"falloff-with-long-name": func(*Manager, *Process, []string) {},
	})

	pid := k.m.Exec(k.m.Init(), "falloff-with-long-name")
	if got := k.m.Wait(k.m.Init(), pid); got != KilledStatus {
		t.Fatalf("expected status -1; got %d", got)
	}
	if exp := "falloff-with-lo: exit(-1)\n"; k.console.String() != exp {
		t.Fatalf("expected %q; got %q", exp, k.console.String())
	}
}

func TestExecutableReleasedAtExit(t *testing.T) {
	m := memfs.New()
	m.Add("prog", []byte("code"))

	k := newTestKernel(t, map[string]program{
		"prog": func(mgr *Manager, p *Process, _ []string) {
			mgr.FSLock().Do(func() { p.SetExecutable(m.Open("prog")) })
			if m.Open("prog").Write([]byte("x")) != 0 {
				mgr.Exit(p, 1)
			}
			mgr.Exit(p, 0)
		},
	})

	pid := k.m.Exec(k.m.Init(), "prog")
	if got := k.m.Wait(k.m.Init(), pid); got != 0 {
		t.Fatal("expected the running executable to be write protected")
	}
	if m.Open("prog").Write([]byte("x")) != 1 {
		t.Fatal("expected the executable to be writable after exit")
	}
}

func TestProcessFor(t *testing.T) {
	found := make(chan bool, 1)
	k := newTestKernel(t, nil)
	k.loader.progs = map[string]program{
		"p": func(m *Manager, p *Process, _ []string) {
			found <- m.ProcessFor(&p.CPU.Regs) == p && m.IsAlive(p.ID)
			m.Exit(p, 0)
		},
	}

	pid := k.m.Exec(k.m.Init(), "p")
	k.m.Wait(k.m.Init(), pid)
	if !<-found {
		t.Fatal("expected the process to be found by its trap frame")
	}
	if k.m.Lookup(pid) != nil {
		t.Fatal("expected terminated process to be gone")
	}

	var regs gate.Registers
	if k.m.ProcessFor(&regs) != nil {
		t.Fatal("expected unknown trap frame to map to no process")
	}
}
