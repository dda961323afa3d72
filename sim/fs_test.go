package sim

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDisk returns a fresh disk with no injected latency.
func testDisk(t *testing.T) *FileSystem {
	t.Helper()
	rt := NewRuntimeWithProfile(1, noDelays())
	return rt.Handle().FS.Handle("10.0.0.1:1")
}

func TestOpen_BeforeCreate_NotFound(t *testing.T) {
	disk := testDisk(t)
	_, err := disk.Open("file")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateWriteRead(t *testing.T) {
	disk := testDisk(t)

	file, err := disk.Create("file")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("hello"), 0))

	buf := make([]byte, 10)
	n, err := file.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("llo"), buf[:n])
}

func TestReadAt_DoesNotZeroFillTail(t *testing.T) {
	disk := testDisk(t)
	file, err := disk.Create("file")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("ab"), 0))

	buf := []byte{9, 9, 9, 9}
	n, err := file.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{'a', 'b', 9, 9}, buf)
}

func TestReadAt_PastEnd_ReturnsZeroNoError(t *testing.T) {
	disk := testDisk(t)
	file, err := disk.Create("file")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("abc"), 0))

	n, err := file.ReadAt(make([]byte, 4), 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = file.ReadAt(make([]byte, 4), 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWriteAllAt_ReadOnlyHandle_PermissionDenied(t *testing.T) {
	disk := testDisk(t)
	rw, err := disk.Create("file")
	require.NoError(t, err)
	require.NoError(t, rw.WriteAllAt([]byte("hello"), 0))

	ro, err := disk.Open("file")
	require.NoError(t, err)
	assert.ErrorIs(t, ro.WriteAllAt([]byte("gg"), 0), ErrPermission)

	// Content is untouched by the failed write.
	buf := make([]byte, 5)
	n, err := ro.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf[:n])
}

func TestWriteAllAt_OverwriteAndExtend(t *testing.T) {
	disk := testDisk(t)
	file, err := disk.Create("file")
	require.NoError(t, err)

	require.NoError(t, file.WriteAllAt([]byte("hello"), 0))
	require.NoError(t, file.WriteAllAt([]byte("p me!"), 3))

	buf := make([]byte, 16)
	n, err := file.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("help me!"), buf[:n])
}

func TestWriteAllAt_GapIsZeroFilled(t *testing.T) {
	disk := testDisk(t)
	file, err := disk.Create("file")
	require.NoError(t, err)

	require.NoError(t, file.WriteAllAt([]byte("abc"), 0))
	require.NoError(t, file.WriteAllAt([]byte("xy"), 6))

	buf := make([]byte, 16)
	n, err := file.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0, 0, 'x', 'y'}, buf[:n])
}

func TestSetLen_TruncateAndZeroExtend(t *testing.T) {
	disk := testDisk(t)
	file, err := disk.Create("file")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("hello"), 0))

	require.NoError(t, file.SetLen(2))
	size, err := file.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	require.NoError(t, file.SetLen(4))
	buf := make([]byte, 8)
	n, err := file.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{'h', 'e', 0, 0}, buf[:n])
}

func TestSetLen_ReadOnlyHandle_PermissionDenied(t *testing.T) {
	disk := testDisk(t)
	_, err := disk.Create("file")
	require.NoError(t, err)
	ro, err := disk.Open("file")
	require.NoError(t, err)
	assert.ErrorIs(t, ro.SetLen(10), ErrPermission)
}

func TestCreate_Idempotent_SharedInode(t *testing.T) {
	disk := testDisk(t)

	a, err := disk.Create("file")
	require.NoError(t, err)
	require.NoError(t, a.WriteAllAt([]byte("hello"), 0))

	// A second create neither truncates nor forks the file.
	b, err := disk.Create("file")
	require.NoError(t, err)
	size, err := b.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	// Writes through either handle are visible to both.
	require.NoError(t, b.WriteAllAt([]byte("H"), 0))
	buf := make([]byte, 5)
	n, err := a.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello"), buf[:n])
}

func TestCreate_ConcurrentTasks_NoDuplicateInode(t *testing.T) {
	rt := NewRuntimeWithProfile(7, noDelays())
	h := rt.Handle()
	disk := h.FS.Handle("10.0.0.1:1")
	err := rt.BlockOn(func() error {
		writer := func(payload string, offset int64) func() error {
			return func() error {
				f, err := disk.Create("shared")
				if err != nil {
					return err
				}
				return f.WriteAllAt([]byte(payload), offset)
			}
		}
		t1 := h.Task.Spawn("10.0.0.1:1", writer("aa", 0))
		t2 := h.Task.Spawn("10.0.0.2:1", writer("bb", 2))
		if err := t1.Join(); err != nil {
			return err
		}
		return t2.Join()
	})
	require.NoError(t, err)

	f, err := disk.Open("shared")
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("aabb"), buf[:n])
}

func TestRegistry_SameAddressSameDisk(t *testing.T) {
	rt := NewRuntimeWithProfile(1, noDelays())
	fs := rt.Handle().FS
	assert.Same(t, fs.Handle("10.0.0.1:1"), fs.Handle("10.0.0.1:1"))
}

func TestRegistry_DisksAreIsolated(t *testing.T) {
	rt := NewRuntimeWithProfile(1, noDelays())
	fs := rt.Handle().FS

	a := fs.Handle("10.0.0.1:1")
	b := fs.Handle("10.0.0.2:1")
	assert.NotSame(t, a, b)

	_, err := a.Create("file")
	require.NoError(t, err)
	_, err = b.Open("file")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClose_FurtherOpsFail(t *testing.T) {
	disk := testDisk(t)
	file, err := disk.Create("file")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("x"), 0))
	require.NoError(t, file.Close())

	_, err = file.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, file.WriteAllAt([]byte("y"), 0), ErrClosed)
	assert.ErrorIs(t, file.SetLen(0), ErrClosed)
	assert.ErrorIs(t, file.Sync(), ErrClosed)
	assert.ErrorIs(t, file.Close(), ErrClosed)

	// Closing one handle never affects the inode or other handles.
	other, err := disk.Open("file")
	require.NoError(t, err)
	n, err := other.ReadAt(make([]byte, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPowerFail_DiscardsUnsyncedWrites(t *testing.T) {
	rt := NewRuntimeWithProfile(1, noDelays())
	fs := rt.Handle().FS
	disk := fs.Handle("10.0.0.1:1")

	file, err := disk.Create("wal")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("durable"), 0))
	require.NoError(t, file.Sync())
	require.NoError(t, file.WriteAllAt([]byte(" and lost"), 7))

	fs.PowerFail("10.0.0.1:1")

	buf := make([]byte, 32)
	n, err := file.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), buf[:n])
}

func TestPowerFail_NothingSynced_EmptyFile(t *testing.T) {
	rt := NewRuntimeWithProfile(1, noDelays())
	fs := rt.Handle().FS
	file, err := fs.Handle("10.0.0.1:1").Create("wal")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("volatile"), 0))

	fs.PowerFail("10.0.0.1:1")

	size, err := file.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestPowerFail_OtherDisksKeepData(t *testing.T) {
	rt := NewRuntimeWithProfile(1, noDelays())
	fs := rt.Handle().FS
	file, err := fs.Handle("10.0.0.2:1").Create("f")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("safe"), 0))

	fs.PowerFail("10.0.0.1:1")

	size, err := file.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestPowerFail_TruncateLowersWatermark(t *testing.T) {
	rt := NewRuntimeWithProfile(1, noDelays())
	fs := rt.Handle().FS
	file, err := fs.Handle("10.0.0.1:1").Create("f")
	require.NoError(t, err)
	require.NoError(t, file.WriteAllAt([]byte("abcdef"), 0))
	require.NoError(t, file.Sync())
	require.NoError(t, file.SetLen(2))
	require.NoError(t, file.WriteAllAt([]byte("XYZ"), 2))

	fs.PowerFail("10.0.0.1:1")

	buf := make([]byte, 8)
	n, err := file.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), buf[:n], "bytes discarded by truncation must not resurrect")
}

// fixedDiskDelay gives every disk operation exactly d of latency, keeping
// kill-timing tests independent of the random stream.
func fixedDiskDelay(d time.Duration) FaultProfile {
	return FaultProfile{DiskDelayMin: d, DiskDelayMax: d}
}

func TestKill_InFlightWrite_NeverTorn(t *testing.T) {
	rt := NewRuntimeWithProfile(1, fixedDiskDelay(time.Millisecond))
	h := rt.Handle()
	disk := h.FS.Handle("10.0.0.1:1")
	file, err := disk.Create("file")
	require.NoError(t, err)

	err = rt.BlockOn(func() error {
		writer := h.Task.Spawn("10.0.0.1:1", func() error {
			return file.WriteAllAt([]byte("0123456789"), 0)
		})
		// The write is still serving its injected latency when the node dies.
		h.Time.Sleep(500 * time.Microsecond)
		h.Kill("10.0.0.1:1")
		assert.ErrorIs(t, writer.Join(), ErrKilled)
		return nil
	})
	require.NoError(t, err)

	// The killed write is entirely unobserved.
	size, err := file.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestKill_CompletedWrite_FullyApplied(t *testing.T) {
	rt := NewRuntimeWithProfile(1, fixedDiskDelay(time.Millisecond))
	h := rt.Handle()
	disk := h.FS.Handle("10.0.0.1:1")
	file, err := disk.Create("file")
	require.NoError(t, err)

	err = rt.BlockOn(func() error {
		writer := h.Task.Spawn("10.0.0.1:1", func() error {
			if err := file.WriteAllAt([]byte("0123456789"), 0); err != nil {
				return err
			}
			h.Time.Sleep(time.Hour)
			return nil
		})
		// Past the write's latency: the mutation has landed even though the
		// task itself dies later.
		h.Time.Sleep(2 * time.Millisecond)
		h.Kill("10.0.0.1:1")
		assert.ErrorIs(t, writer.Join(), ErrKilled)
		return nil
	})
	require.NoError(t, err)

	size, err := file.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

// fsTrace drives a fixed filesystem workload under the default fault
// profile and digests everything an observer could see: read results,
// error outcomes, and timings.
func fsTrace(seed int64) string {
	rt := NewRuntime(seed)
	h := rt.Handle()
	disk := h.FS.Handle("10.0.0.1:1")
	var trace string
	_ = rt.BlockOn(func() error {
		task := h.Task.Spawn("10.0.0.1:1", func() error {
			if _, err := disk.Open("missing"); err != nil {
				trace += fmt.Sprintf("open:%v@%v|", err, h.Time.Elapsed())
			}
			f, err := disk.Create("file")
			if err != nil {
				return err
			}
			for i := 0; i < 4; i++ {
				if err := f.WriteAllAt([]byte(fmt.Sprintf("chunk-%d", i)), int64(i*7)); err != nil {
					return err
				}
			}
			buf := make([]byte, 64)
			n, err := f.ReadAt(buf, 0)
			if err != nil {
				return err
			}
			trace += fmt.Sprintf("read:%q@%v", buf[:n], h.Time.Elapsed())
			return nil
		})
		return task.Join()
	})
	return trace
}

func TestDeterminism_FileSystem_SameSeedSameTrace(t *testing.T) {
	assert.Equal(t, fsTrace(42), fsTrace(42))
}

func TestDeterminism_FileSystem_DifferentSeedDifferentTiming(t *testing.T) {
	assert.NotEqual(t, fsTrace(1), fsTrace(2))
}
