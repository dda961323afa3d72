package sim

// Runtime is the deterministic simulation kernel: one shared random stream,
// one virtual clock, one cooperative executor, one simulated network, and
// one disk registry, all derived from a single seed. Runtimes are explicit
// values owned by the caller; the package keeps no global kernel.
//
// Determinism contract: the same seed and the same operation sequence yield
// bit-identical scheduling, random draws, and simulated timings across
// independent runs.
type Runtime struct {
	rand  *RandomHandle
	clock *VirtualClock
	exec  *Executor
	net   *NetworkRuntime
	fs    *FileSystemRuntime
}

// NewRuntime builds a kernel for seed with the default fault profile.
func NewRuntime(seed int64) *Runtime {
	return NewRuntimeWithProfile(seed, DefaultFaultProfile())
}

// NewRuntimeWithProfile builds a kernel whose disk and network latency and
// loss injection follow profile. All injected faults draw from the seed's
// shared stream.
func NewRuntimeWithProfile(seed int64, profile FaultProfile) *Runtime {
	rand := NewRandomHandle(seed)
	clock := &VirtualClock{}
	exec := NewExecutor(rand, clock)
	fp := &profile
	return &Runtime{
		rand:  rand,
		clock: clock,
		exec:  exec,
		net:   newNetworkRuntime(rand, exec, fp),
		fs:    newFileSystemRuntime(rand, exec, fp),
	}
}

// Handle returns the kernel-wide capability bundle.
func (r *Runtime) Handle() Handle {
	return Handle{
		Rand: r.rand,
		Time: r.exec.TimeHandle(),
		Task: TaskHandle{exec: r.exec},
		Net:  r.net,
		FS:   r.fs,
	}
}

// LocalHandle returns a capability bundle pinned to addr.
func (r *Runtime) LocalHandle(addr Addr) LocalHandle {
	return r.Handle().LocalHandle(addr)
}

// BlockOn is the single blocking entry point: it installs the kernel's
// handle as the ambient context, runs the scheduler until fn's task
// completes, and returns its result. The root task runs under a reserved
// driver address that Kill cannot target. The previous context is restored
// on every exit path. Virtual time and any still-parked tasks carry over
// to the next BlockOn call on the same runtime; a run that returns
// ErrStalled leaves those tasks' goroutines parked until a later BlockOn
// wakes or kills them, or the runtime is dropped.
func (r *Runtime) BlockOn(fn func() error) error {
	restore := enterContext(r.Handle())
	defer restore()
	root := r.exec.Spawn(rootAddr, fn)
	return r.exec.run(root)
}

// Handle is a clonable capability bundle over every subsystem of one
// runtime. Copies alias the same kernel state.
type Handle struct {
	Rand *RandomHandle
	Time TimeHandle
	Task TaskHandle
	Net  *NetworkRuntime
	FS   *FileSystemRuntime
}

// Kill drops all outstanding tasks owned by addr (a simulated crash). The
// node's disk survives; use FS.PowerFail to model storage loss.
func (h Handle) Kill(addr Addr) {
	h.Task.Kill(addr)
}

// LocalHandle pins every sub-handle to addr.
func (h Handle) LocalHandle(addr Addr) LocalHandle {
	return LocalHandle{
		Addr: addr,
		Rand: h.Rand,
		Time: h.Time,
		Task: h.Task.Local(addr),
		Net:  h.Net.Handle(addr),
		FS:   h.FS.Handle(addr),
	}
}

// LocalHandle is a capability bundle pinned to one node address: its task,
// mailbox, and disk sub-handles all refer to that node's slice of the
// kernel.
type LocalHandle struct {
	Addr Addr
	Rand *RandomHandle
	Time TimeHandle
	Task TaskLocalHandle
	Net  *Endpoint
	FS   *FileSystem
}

// Spawn hands fn to the scheduler for cooperative execution on this node.
func (l LocalHandle) Spawn(fn func() error) *Task {
	return l.Task.Spawn(fn)
}

// TaskHandle spawns and kills tasks on any node.
type TaskHandle struct {
	exec *Executor
}

// Spawn queues fn for execution on addr's node.
func (h TaskHandle) Spawn(addr Addr, fn func() error) *Task {
	return h.exec.Spawn(addr, fn)
}

// Kill drops all outstanding tasks owned by addr.
func (h TaskHandle) Kill(addr Addr) {
	h.exec.Kill(addr)
}

// Local returns a task handle pinned to addr.
func (h TaskHandle) Local(addr Addr) TaskLocalHandle {
	return TaskLocalHandle{exec: h.exec, addr: addr}
}

// TaskLocalHandle spawns tasks on one fixed node.
type TaskLocalHandle struct {
	exec *Executor
	addr Addr
}

// Spawn queues fn for execution on the pinned node.
func (h TaskLocalHandle) Spawn(fn func() error) *Task {
	return h.exec.Spawn(h.addr, fn)
}
