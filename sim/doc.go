// Package sim is a deterministic simulation kernel for testing distributed
// systems: multiple simulated nodes addressed by network address, with
// seeded randomness, a virtual clock, cooperative task scheduling, a
// simulated network, and per-node virtual disks. A fixed seed fixes the
// entire execution trace (scheduling order, injected latency, message
// loss, and file contents), so fault-injection runs reproduce exactly.
//
// # Reading Guide
//
// Start with these three files to understand the kernel:
//   - runtime.go: Runtime construction and the Handle/LocalHandle capability bundles
//   - executor.go: the event loop, cooperative tasks, spawn/join/kill
//   - fs.go + inode.go: the per-node virtual disk and file semantics
//
// # Architecture
//
// A Runtime owns one RandomHandle (the single shared draw stream), one
// VirtualClock, one Executor, one NetworkRuntime, and one
// FileSystemRuntime. Runtime.BlockOn is the sole blocking entry point: it
// installs the ambient context (see Current) and runs the scheduler until
// the driven work completes. Nodes are obtained as LocalHandles; each pins
// its task, mailbox, and disk sub-handles to one address.
//
// Nondeterminism is injected, never ambient: all delays and drops come from
// the FaultProfile evaluated against the shared random stream, and tasks
// run one at a time in event-heap order, with no hardware parallelism.
package sim
