package sim

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// inode is a simulated file's content, independent of any open handle. Its
// RWMutex gives single-writer/multiple-reader access per file: reads may
// overlap, a write excludes everything else on the same inode, and distinct
// inodes never contend. The lock is held only across the in-memory copy;
// injected latency is served before acquiring it, so a task suspended by
// fault injection never blocks another file's progress.
//
// durable is the power-failure watermark: the number of leading bytes
// guaranteed to survive PowerFail. Sync advances it to the current length;
// truncation pulls it back.
type inode struct {
	path string

	mu      sync.RWMutex
	data    []byte
	durable int
}

func (ino *inode) revertToDurable() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if len(ino.data) > ino.durable {
		ino.data = ino.data[:ino.durable]
	}
}

// File is a capability over one inode with a permission fixed at
// open/create time. Multiple handles, possibly with different permissions,
// may reference the same inode; closing a handle never affects the inode.
type File struct {
	ino      *inode
	rt       *FileSystemRuntime
	writable bool
	closed   bool
}

// ReadAt copies up to len(buf) bytes starting at offset into buf and
// returns the count copied: min(len(buf), content length - offset), or 0
// with no error when offset is at or past the end of the file. The unused
// tail of buf is left untouched.
func (f *File) ReadAt(buf []byte, offset int64) (int, error) {
	logrus.Tracef("file(%q): read_at offset=%d len=%d", f.ino.path, offset, len(buf))
	if f.closed {
		return 0, fmt.Errorf("read %q: %w", f.ino.path, ErrClosed)
	}
	if offset < 0 {
		return 0, fmt.Errorf("read %q: negative offset %d", f.ino.path, offset)
	}
	f.rt.opDelay()
	f.ino.mu.RLock()
	defer f.ino.mu.RUnlock()
	if offset >= int64(len(f.ino.data)) {
		return 0, nil
	}
	return copy(buf, f.ino.data[offset:]), nil
}

// WriteAllAt writes all of p at offset, overwriting existing bytes and
// growing the file past its end. A write starting beyond the current length
// zero-fills the gap first. Fails with ErrPermission, mutating nothing, on
// a read-only handle.
func (f *File) WriteAllAt(p []byte, offset int64) error {
	logrus.Tracef("file(%q): write_all_at offset=%d len=%d", f.ino.path, offset, len(p))
	if f.closed {
		return fmt.Errorf("write %q: %w", f.ino.path, ErrClosed)
	}
	if !f.writable {
		return fmt.Errorf("write %q: %w", f.ino.path, ErrPermission)
	}
	if offset < 0 {
		return fmt.Errorf("write %q: negative offset %d", f.ino.path, offset)
	}
	f.rt.opDelay()
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	data := f.ino.data
	if gap := int(offset) - len(data); gap > 0 {
		data = append(data, make([]byte, gap)...)
	}
	n := copy(data[offset:], p)
	if n < len(p) {
		data = append(data, p[n:]...)
	}
	f.ino.data = data
	return nil
}

// SetLen truncates or zero-extends the file to exactly size bytes.
// Truncation also pulls the durable watermark back, since discarded bytes
// can no longer survive a power failure.
func (f *File) SetLen(size int64) error {
	logrus.Tracef("file(%q): set_len %d", f.ino.path, size)
	if f.closed {
		return fmt.Errorf("set_len %q: %w", f.ino.path, ErrClosed)
	}
	if !f.writable {
		return fmt.Errorf("set_len %q: %w", f.ino.path, ErrPermission)
	}
	if size < 0 {
		return fmt.Errorf("set_len %q: negative size %d", f.ino.path, size)
	}
	f.rt.opDelay()
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	switch n := int(size); {
	case n <= len(f.ino.data):
		f.ino.data = f.ino.data[:n]
		if f.ino.durable > n {
			f.ino.durable = n
		}
	default:
		f.ino.data = append(f.ino.data, make([]byte, n-len(f.ino.data))...)
	}
	return nil
}

// Sync marks the file's current content durable: bytes written before a
// Sync survive a PowerFail on the owning node.
func (f *File) Sync() error {
	logrus.Tracef("file(%q): sync", f.ino.path)
	if f.closed {
		return fmt.Errorf("sync %q: %w", f.ino.path, ErrClosed)
	}
	f.rt.opDelay()
	f.ino.mu.Lock()
	defer f.ino.mu.Unlock()
	f.ino.durable = len(f.ino.data)
	return nil
}

// Len returns the file's current size in bytes.
func (f *File) Len() (int64, error) {
	if f.closed {
		return 0, fmt.Errorf("len %q: %w", f.ino.path, ErrClosed)
	}
	f.ino.mu.RLock()
	defer f.ino.mu.RUnlock()
	return int64(len(f.ino.data)), nil
}

// Close releases the handle. The inode's content and lifetime are
// unaffected; further operations on the handle return ErrClosed.
func (f *File) Close() error {
	if f.closed {
		return fmt.Errorf("close %q: %w", f.ino.path, ErrClosed)
	}
	f.closed = true
	return nil
}
