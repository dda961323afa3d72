package sim

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileSystemRuntime is the disk registry: it maps node addresses to their
// virtual disks, creating each disk lazily on first access. Lookup-or-insert
// is atomic under one mutex, so concurrent first accesses for the same
// address never create duplicate disks; once resolved, operations on
// different disks proceed independently.
type FileSystemRuntime struct {
	mu    sync.Mutex
	disks map[Addr]*FileSystem

	rand   *RandomHandle
	exec   *Executor
	faults *FaultProfile
}

func newFileSystemRuntime(rand *RandomHandle, exec *Executor, faults *FaultProfile) *FileSystemRuntime {
	return &FileSystemRuntime{
		disks:  make(map[Addr]*FileSystem),
		rand:   rand,
		exec:   exec,
		faults: faults,
	}
}

// Handle returns the disk bound to addr, creating an empty one on first
// access. Disks live for the runtime's lifetime.
func (r *FileSystemRuntime) Handle(addr Addr) *FileSystem {
	r.mu.Lock()
	defer r.mu.Unlock()
	disk, ok := r.disks[addr]
	if !ok {
		disk = newFileSystem(addr, r)
		r.disks[addr] = disk
	}
	return disk
}

// PowerFail simulates a power failure on addr's node: every byte written
// to its disk after the owning inode's last Sync is discarded; synced
// content survives. An address with no disk yet has nothing to lose.
func (r *FileSystemRuntime) PowerFail(addr Addr) {
	r.mu.Lock()
	disk, ok := r.disks[addr]
	r.mu.Unlock()
	if !ok {
		return
	}
	disk.powerFail()
}

// opDelay injects the profile's disk latency before an operation resolves.
// Outside the scheduler there is no task to suspend, so direct calls from
// test or setup code complete immediately.
func (r *FileSystemRuntime) opDelay() {
	if r.faults.DiskDelayMax <= 0 {
		return
	}
	if r.exec.currentTask() == nil {
		return
	}
	d := r.rand.DurationIn(r.faults.DiskDelayMin, r.faults.DiskDelayMax)
	r.exec.sleep(d)
}

// FileSystem is one node's virtual disk: a path-to-inode map. The map is
// guarded for lookup and insert only; content mutation is delegated to each
// inode's own lock, so distinct paths never contend.
type FileSystem struct {
	addr Addr
	rt   *FileSystemRuntime

	mu     sync.Mutex
	inodes map[string]*inode
}

func newFileSystem(addr Addr, rt *FileSystemRuntime) *FileSystem {
	logrus.Tracef("fs(%s): new disk", addr)
	return &FileSystem{
		addr:   addr,
		rt:     rt,
		inodes: make(map[string]*inode),
	}
}

// Addr returns the node address the disk belongs to.
func (fs *FileSystem) Addr() Addr {
	return fs.addr
}

// Open returns a read-only handle to the file at path, or ErrNotFound if
// no file exists there.
func (fs *FileSystem) Open(path string) (*File, error) {
	logrus.Tracef("fs(%s): open %q", fs.addr, path)
	fs.mu.Lock()
	ino, ok := fs.inodes[path]
	fs.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("open %q: %w", path, ErrNotFound)
	}
	return &File{ino: ino, rt: fs.rt, writable: false}, nil
}

// Create returns a read-write handle to the file at path, creating an
// empty file on first use. An existing file is not truncated; two creates
// for the same path resolve to the same inode.
func (fs *FileSystem) Create(path string) (*File, error) {
	logrus.Tracef("fs(%s): create %q", fs.addr, path)
	fs.mu.Lock()
	ino, ok := fs.inodes[path]
	if !ok {
		ino = &inode{path: path}
		fs.inodes[path] = ino
	}
	fs.mu.Unlock()
	return &File{ino: ino, rt: fs.rt, writable: true}, nil
}

func (fs *FileSystem) powerFail() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, ino := range fs.inodes {
		ino.revertToDurable()
	}
	logrus.Debugf("fs(%s): power failure, %d inodes reverted to durable content", fs.addr, len(fs.inodes))
}
