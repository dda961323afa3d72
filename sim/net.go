package sim

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Message is a datagram between two simulated nodes.
type Message struct {
	From    Addr
	To      Addr
	Payload []byte
}

// NetworkRuntime is the simulated transport: per-address mailboxes with
// seeded delivery latency and loss. Like the disk registry, endpoints are
// created lazily and lookup-or-insert is atomic.
type NetworkRuntime struct {
	mu        sync.Mutex
	endpoints map[Addr]*Endpoint

	rand   *RandomHandle
	exec   *Executor
	faults *FaultProfile
}

func newNetworkRuntime(rand *RandomHandle, exec *Executor, faults *FaultProfile) *NetworkRuntime {
	return &NetworkRuntime{
		endpoints: make(map[Addr]*Endpoint),
		rand:      rand,
		exec:      exec,
		faults:    faults,
	}
}

// Handle returns the endpoint bound to addr, creating it on first access.
func (n *NetworkRuntime) Handle(addr Addr) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[addr]
	if !ok {
		ep = &Endpoint{addr: addr, net: n}
		n.endpoints[addr] = ep
	}
	return ep
}

// Endpoint is one node's mailbox.
type Endpoint struct {
	addr Addr
	net  *NetworkRuntime

	mu      sync.Mutex
	inbox   []Message
	waiters []*Task
}

// Addr returns the endpoint's node address.
func (ep *Endpoint) Addr() Addr {
	return ep.addr
}

// Send queues payload for delivery to dst after a latency drawn from the
// shared stream. Datagram semantics: a message dropped by the fault profile
// is consumed silently, and Send never blocks.
func (ep *Endpoint) Send(dst Addr, payload []byte) {
	n := ep.net
	if n.faults.NetDropRate > 0 && n.rand.Float64() < n.faults.NetDropRate {
		logrus.Debugf("net(%s): dropped message to %s (%d bytes)", ep.addr, dst, len(payload))
		return
	}
	msg := Message{
		From:    ep.addr,
		To:      dst,
		Payload: append([]byte(nil), payload...),
	}
	delay := n.rand.DurationIn(n.faults.NetDelayMin, n.faults.NetDelayMax)
	target := n.Handle(dst)
	n.exec.ScheduleFunc(delay, func() { target.deliver(msg) })
	logrus.Tracef("net(%s): send %d bytes to %s, delivery in %v", ep.addr, len(payload), dst, delay)
}

// Recv returns the next message addressed to this endpoint, suspending the
// calling task until one arrives. Outside the scheduler there is no task to
// suspend and Recv fails with ErrNoContext.
func (ep *Endpoint) Recv() (Message, error) {
	for {
		ep.mu.Lock()
		if len(ep.inbox) > 0 {
			msg := ep.inbox[0]
			ep.inbox = ep.inbox[1:]
			ep.mu.Unlock()
			logrus.Tracef("net(%s): recv %d bytes from %s", ep.addr, len(msg.Payload), msg.From)
			return msg, nil
		}
		cur := ep.net.exec.currentTask()
		if cur == nil {
			ep.mu.Unlock()
			return Message{}, fmt.Errorf("recv on %s: %w", ep.addr, ErrNoContext)
		}
		ep.waiters = append(ep.waiters, cur)
		ep.mu.Unlock()
		// Wakes may be spurious when several receivers race for one
		// message; the loop re-checks the inbox.
		cur.pause()
	}
}

// deliver runs on the event loop at the message's arrival time.
func (ep *Endpoint) deliver(msg Message) {
	ep.mu.Lock()
	ep.inbox = append(ep.inbox, msg)
	waiters := ep.waiters
	ep.waiters = nil
	ep.mu.Unlock()
	for _, w := range waiters {
		ep.net.exec.wakeTask(w)
	}
}
