package sim

import "errors"

// Sentinel errors returned by the kernel. Callers match them with errors.Is;
// operations wrap them with path/address context.
var (
	// ErrNotFound is returned by FileSystem.Open when no inode exists at the path.
	ErrNotFound = errors.New("file not found")

	// ErrPermission is returned when writing through a read-only File.
	ErrPermission = errors.New("file is read-only")

	// ErrClosed is returned by any operation on a closed File.
	ErrClosed = errors.New("file already closed")

	// ErrNoContext is returned by Current (and by blocking operations that
	// need a running task) outside of a BlockOn call.
	ErrNoContext = errors.New("no simulation context")

	// ErrKilled is the result of a task cancelled by Kill.
	ErrKilled = errors.New("task killed")

	// ErrStalled is returned by BlockOn when no runnable task remains but
	// the driven work has not completed, e.g. a Recv with no matching Send.
	// Tasks still parked when the run stalls keep their goroutines until a
	// later BlockOn wakes or kills them.
	ErrStalled = errors.New("simulation stalled: no runnable tasks")
)
