package sim

import (
	"container/heap"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Addr identifies a simulated node. It is the unit of task ownership,
// crash granularity, and per-node disk and mailbox isolation.
type Addr string

// rootAddr owns the driver task spawned by Runtime.BlockOn. The address is
// reserved: Kill ignores it, so no crash can cancel the run's root.
const rootAddr Addr = "madsim/driver"

// event is one scheduled wakeup in virtual time. Ties break by sequence
// number, so the interleaving is a pure function of the seed and the
// operation sequence. An event either wakes a task or fires a callback
// (message delivery); exactly one of task/fire is set.
type event struct {
	at   time.Duration
	seq  uint64
	task *Task
	fire func()
}

// eventQueue implements heap.Interface ordered by (at, seq).
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type eventQueue []*event

func (eq eventQueue) Len() int { return len(eq) }
func (eq eventQueue) Less(i, j int) bool {
	if eq[i].at != eq[j].at {
		return eq[i].at < eq[j].at
	}
	return eq[i].seq < eq[j].seq
}
func (eq eventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *eventQueue) Push(x any) {
	*eq = append(*eq, x.(*event))
}

func (eq *eventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	*eq = old[0 : n-1]
	return item
}

type taskState int

const (
	taskNew     taskState = iota // spawned, goroutine not started
	taskRunning                  // holds the run token
	taskParked                   // suspended, waiting for a wake event
	taskDone                     // finished or cancelled
)

// Task is a joinable unit of work pinned to a node address. A task runs on
// its own goroutine but never in parallel with another task: the executor
// hands a single run token between the event loop and the resumed task, so
// execution is a deterministic interleaving of cooperative steps.
type Task struct {
	id   uint64
	addr Addr
	exec *Executor
	fn   func() error

	wake chan struct{}

	// The fields below are guarded by exec.mu.
	state   taskState
	killed  bool
	err     error
	waiters []*Task
}

// Addr returns the node address that owns the task.
func (t *Task) Addr() Addr {
	return t.addr
}

// Err returns the task's result. It is only meaningful once Join returned
// or the task is otherwise known to be done.
func (t *Task) Err() error {
	t.exec.mu.Lock()
	defer t.exec.mu.Unlock()
	return t.err
}

// Executor is the cooperative scheduler driving all simulated nodes. All
// runnable work lives in a single event heap keyed by virtual time; popping
// an event advances the clock and resumes one task until it suspends again.
// There is no hardware parallelism: determinism follows from the heap order
// and from every injected delay coming out of the shared RandomHandle.
type Executor struct {
	clock *VirtualClock
	rand  *RandomHandle

	mu      sync.Mutex
	queue   eventQueue
	seq     uint64
	nextID  uint64
	tasks   map[uint64]*Task
	current *Task

	// ready is signalled by the running task when it parks or finishes,
	// returning the run token to the event loop.
	ready chan struct{}
}

// NewExecutor creates an idle scheduler over the shared clock and stream.
func NewExecutor(rand *RandomHandle, clock *VirtualClock) *Executor {
	return &Executor{
		clock: clock,
		rand:  rand,
		tasks: make(map[uint64]*Task),
		ready: make(chan struct{}),
	}
}

// TimeHandle returns the time authority bound to this executor.
func (e *Executor) TimeHandle() TimeHandle {
	return TimeHandle{clock: e.clock, exec: e}
}

// Spawn queues fn for cooperative execution on addr's node. The task is
// admitted at the current virtual time; it does not run until the event
// loop reaches it.
func (e *Executor) Spawn(addr Addr, fn func() error) *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	t := &Task{
		id:   e.nextID,
		addr: addr,
		exec: e,
		fn:   fn,
		wake: make(chan struct{}),
	}
	e.tasks[t.id] = t
	e.schedule(t, e.clock.Elapsed())
	logrus.Debugf("task(%d@%s): spawned at %v", t.id, addr, e.clock.Elapsed())
	return t
}

// Kill drops every outstanding task owned by addr, simulating a node crash.
// A queued task never starts; a parked one is cancelled when next scheduled.
// The currently running task (a self-kill) is cancelled at its next
// suspension point, so a write already inside an inode's exclusive section
// completes and no torn write is ever observable. The driver's reserved
// address cannot be killed.
func (e *Executor) Kill(addr Addr) {
	if addr == rootAddr {
		logrus.Warnf("kill(%s): address is reserved for the driver, ignored", addr)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Elapsed()
	var victims []*Task
	for _, t := range e.tasks {
		if t.addr == addr && t.state != taskDone && !t.killed {
			victims = append(victims, t)
		}
	}
	// Map iteration order is randomized; admission order keeps the wake
	// sequence, and with it the whole trace, deterministic.
	sort.Slice(victims, func(i, j int) bool { return victims[i].id < victims[j].id })
	for _, t := range victims {
		t.killed = true
		if t.state == taskParked {
			// Joiners and receivers have no pending event of their own.
			e.schedule(t, now)
		}
		logrus.Debugf("task(%d@%s): killed at %v", t.id, addr, now)
	}
}

// Join blocks until the task completes and returns its error; a killed task
// reports ErrKilled. Inside the scheduler it suspends the calling task;
// outside, an unfinished task cannot be waited for and Join returns
// ErrNoContext.
func (t *Task) Join() error {
	e := t.exec
	e.mu.Lock()
	if t.state == taskDone {
		err := t.err
		e.mu.Unlock()
		return err
	}
	cur := e.current
	if cur == nil {
		e.mu.Unlock()
		return ErrNoContext
	}
	t.waiters = append(t.waiters, cur)
	e.mu.Unlock()
	cur.pause()
	return t.Err()
}

// schedule enqueues a wake event for t. Caller holds e.mu.
func (e *Executor) schedule(t *Task, at time.Duration) {
	e.seq++
	heap.Push(&e.queue, &event{at: at, seq: e.seq, task: t})
}

// ScheduleFunc runs fn on the event loop after d of virtual time. Used for
// work that is not a task in its own right, such as message delivery.
func (e *Executor) ScheduleFunc(d time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	heap.Push(&e.queue, &event{at: e.clock.Elapsed() + d, seq: e.seq, fire: fn})
}

// sleep suspends the current task for d of virtual time. Outside the
// scheduler there is no task to suspend and sleep returns immediately.
func (e *Executor) sleep(d time.Duration) {
	e.mu.Lock()
	t := e.current
	if t == nil {
		e.mu.Unlock()
		return
	}
	e.schedule(t, e.clock.Elapsed()+d)
	e.mu.Unlock()
	t.pause()
}

// currentTask returns the task holding the run token, or nil when called
// from outside the scheduler.
func (e *Executor) currentTask() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// run pops events until root completes. It returns root's error, or
// ErrStalled if the queue drains while root is still suspended.
func (e *Executor) run(root *Task) error {
	for {
		e.mu.Lock()
		if root.state == taskDone {
			err := root.err
			e.mu.Unlock()
			return err
		}
		if e.queue.Len() == 0 {
			e.mu.Unlock()
			return ErrStalled
		}
		ev := heap.Pop(&e.queue).(*event)
		if ev.task != nil && ev.task.state == taskDone {
			// Stale wake: the task was cancelled or finished after this
			// event was queued.
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()

		e.clock.advance(ev.at)
		if ev.fire != nil {
			ev.fire()
			continue
		}
		e.resume(ev.task)
	}
}

// resume hands the run token to t and blocks until t parks or finishes.
func (e *Executor) resume(t *Task) {
	e.mu.Lock()
	start := t.state == taskNew
	t.state = taskRunning
	e.current = t
	e.mu.Unlock()

	if start {
		go t.main()
	} else {
		t.wake <- struct{}{}
	}
	<-e.ready

	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
}

// main is the body of the task goroutine. Its defer is the single place a
// task gives the run token back for the last time.
func (t *Task) main() {
	defer func() {
		t.exec.finish(t)
		t.exec.ready <- struct{}{}
	}()
	t.exec.mu.Lock()
	killed := t.killed
	t.exec.mu.Unlock()
	if killed {
		t.err = ErrKilled
		return
	}
	t.err = t.fn()
}

// pause parks the task and returns the run token to the event loop. A task
// already killed (a self-kill of its own address) is cancelled here, before
// it parks: suspension points like Recv and Join queue no wake event of
// their own, so parking a dead task would stall the run. Either way the
// task never re-enters user code after a kill: Goexit unwinds it, running
// deferred cleanup, and main's defer releases the token.
func (t *Task) pause() {
	e := t.exec
	e.mu.Lock()
	if t.killed {
		e.mu.Unlock()
		t.err = ErrKilled
		runtime.Goexit()
	}
	t.state = taskParked
	e.mu.Unlock()

	e.ready <- struct{}{}
	<-t.wake

	e.mu.Lock()
	killed := t.killed
	e.mu.Unlock()
	if killed {
		t.err = ErrKilled
		runtime.Goexit()
	}
}

// finish marks t done and readmits its joiners.
func (e *Executor) finish(t *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.state = taskDone
	now := e.clock.Elapsed()
	for _, w := range t.waiters {
		e.schedule(w, now)
	}
	t.waiters = nil
	delete(e.tasks, t.id)
	logrus.Debugf("task(%d@%s): done at %v (err=%v)", t.id, t.addr, now, t.err)
}

// wakeTask readmits a parked task at the current time. Wakes may be
// spurious; a task parked on a condition re-checks it after resuming.
func (e *Executor) wakeTask(t *Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.state != taskParked {
		return
	}
	e.schedule(t, e.clock.Elapsed())
}
