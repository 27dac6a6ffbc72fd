package shmqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/coremesh/coremesh/internal/corerr"
)

// Role distinguishes the process that allocates and sizes the ring
// (Creator) from one that maps an already-existing ring (Attacher).
type Role int

const (
	Attacher Role = iota
	Creator
)

// Ring is the shared-memory counterpart of queue.SPSC: fixed slot size,
// fixed capacity, one creator process and one or more attacher processes,
// but strictly one producer and one consumer at the protocol level.
type Ring struct {
	name        string
	root        string
	role        Role
	slotSize    uint32
	poolSize    uint64
	mask        uint64
	useMask     bool
	file        *os.File
	mem         []byte
	createdByUs bool

	// Stats counters are process-local: the shared header carries only
	// head/tail, so each side observes its own drops and watermark.
	dropped  atomic.Uint64
	maxDepth atomic.Uint64
}

// Stats mirrors queue.Stats for the shared-memory variant. Enqueued and
// Dequeued come from the shared header and are therefore ring-global;
// Dropped and MaxDepth are observed by this process only.
type Stats struct {
	Enqueued   uint64
	Dequeued   uint64
	Dropped    uint64
	QueueDepth uint64
	MaxDepth   uint64
}

// Options configures Init.
type Options struct {
	Name             string // must start with '/'
	Capacity         uint64
	SlotSize         uint32
	ForcePowerOfTwo  bool
	Creator          bool
	AttachOnExists   bool   // if true, a Creator falls back to Attach on EEXIST instead of failing
	SharedMemoryRoot string // overrides /dev/shm, primarily for tests
}

func shmPath(root, name string) (string, error) {
	if !strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("shmqueue: name %q must begin with '/'", name)
	}
	if root == "" {
		root = "/dev/shm"
	}
	return filepath.Join(root, strings.TrimPrefix(name, "/")), nil
}

// Init either creates a new shared-memory object (Creator) or attaches to
// an existing one (Attacher). On failure the ring is
// left unusable and any partially-opened file descriptor is closed.
func Init(opts Options) (*Ring, error) {
	if opts.SlotSize == 0 {
		return nil, corerr.New(corerr.IllegalArgument, "shmqueue.Init", fmt.Errorf("slot size must be > 0"))
	}
	if opts.Capacity == 0 || opts.Capacity > maxCapacity {
		return nil, corerr.New(corerr.IllegalArgument, "shmqueue.Init", fmt.Errorf("bad capacity %d", opts.Capacity))
	}
	isPow2 := opts.Capacity&(opts.Capacity-1) == 0
	if opts.ForcePowerOfTwo && !isPow2 {
		return nil, corerr.New(corerr.IllegalArgument, "shmqueue.Init", fmt.Errorf("capacity %d is not a power of two", opts.Capacity))
	}

	path, err := shmPath(opts.SharedMemoryRoot, opts.Name)
	if err != nil {
		return nil, corerr.New(corerr.IllegalArgument, "shmqueue.Init", err)
	}

	size := int64(headerSize) + int64(opts.Capacity)*int64(opts.SlotSize)

	if opts.Creator {
		return createRing(path, opts, isPow2, size)
	}
	return attachRing(path, opts, size)
}

func createRing(path string, opts Options, isPow2 bool, size int64) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			if opts.AttachOnExists {
				return attachRing(path, opts, size)
			}
			return nil, corerr.New(corerr.SystemCallFailed, "shmqueue.Init",
				fmt.Errorf("shared memory object %q already exists", opts.Name))
		}
		return nil, corerr.New(corerr.SystemCallFailed, "shmqueue.Init", err)
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, corerr.New(corerr.SystemCallFailed, "shmqueue.Init", err)
	}

	mem, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, corerr.New(corerr.SystemCallFailed, "shmqueue.Init", err)
	}

	r := &Ring{
		name:        opts.Name,
		root:        opts.SharedMemoryRoot,
		role:        Creator,
		slotSize:    opts.SlotSize,
		poolSize:    opts.Capacity,
		useMask:     isPow2,
		file:        f,
		mem:         mem,
		createdByUs: true,
	}
	if isPow2 {
		r.mask = opts.Capacity - 1
	}
	useMask := uint64(0)
	if isPow2 {
		useMask = 1
	}
	writeStaticHeader(mem, QueueHeader{PoolSize: opts.Capacity, UseMask: useMask, PoolSizeMask: r.mask})
	return r, nil
}

func attachRing(path string, opts Options, size int64) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, corerr.New(corerr.SystemCallFailed, "shmqueue.Init", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, corerr.New(corerr.SystemCallFailed, "shmqueue.Init", err)
	}

	mem, err := syscall.Mmap(int(f.Fd()), 0, int(info.Size()), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, corerr.New(corerr.SystemCallFailed, "shmqueue.Init", err)
	}

	hdr := readHeader(mem)
	if hdr.PoolSize != opts.Capacity {
		_ = syscall.Munmap(mem)
		_ = f.Close()
		return nil, corerr.New(corerr.IllegalArgument, "shmqueue.Init",
			fmt.Errorf("attach capacity mismatch: header has %d, requested %d", hdr.PoolSize, opts.Capacity))
	}
	_ = size // mapped size already validated by comparing header.PoolSize above

	return &Ring{
		name:     opts.Name,
		root:     opts.SharedMemoryRoot,
		role:     Attacher,
		slotSize: opts.SlotSize,
		poolSize: hdr.PoolSize,
		mask:     hdr.PoolSizeMask,
		useMask:  hdr.UseMask != 0,
		file:     f,
		mem:      mem,
	}, nil
}

func (r *Ring) index(i uint64) uint64 {
	if r.useMask {
		return i & r.mask
	}
	return i % r.poolSize
}

func (r *Ring) slotOffset(i uint64) int {
	return headerSize + int(r.index(i))*int(r.slotSize)
}

// Enqueue copies data (which must fit within slotSize) into the next slot.
// It returns false iff the ring is full.
func (r *Ring) Enqueue(data []byte) bool {
	if len(data) > int(r.slotSize) {
		return false
	}
	tail := atomicLoadU64(r.mem, tailOffset)
	head := atomicLoadU64(r.mem, headOffset)
	if tail-head >= r.poolSize {
		r.dropped.Add(1)
		return false
	}
	off := r.slotOffset(tail)
	copy(r.mem[off:off+int(r.slotSize)], data)
	atomicStoreU64(r.mem, tailOffset, tail+1)
	if depth := tail + 1 - head; depth > r.maxDepth.Load() {
		r.maxDepth.Store(depth)
	}
	return true
}

// Dequeue copies the head slot into out (truncating/zero-padding to
// slotSize) and returns the number of meaningful bytes copied plus false
// iff the ring is empty.
func (r *Ring) Dequeue(out []byte) (int, bool) {
	head := atomicLoadU64(r.mem, headOffset)
	tail := atomicLoadU64(r.mem, tailOffset)
	if head >= tail {
		return 0, false
	}
	off := r.slotOffset(head)
	n := copy(out, r.mem[off:off+int(r.slotSize)])
	atomicStoreU64(r.mem, headOffset, head+1)
	return n, true
}

// Size returns min(tail-head, poolSize).
func (r *Ring) Size() uint64 {
	tail := atomicLoadU64(r.mem, tailOffset)
	head := atomicLoadU64(r.mem, headOffset)
	sz := tail - head
	if sz > r.poolSize {
		return r.poolSize
	}
	return sz
}

// Role reports whether this process created or attached to the ring.
func (r *Ring) Role() Role { return r.role }

// Stats returns the ring's observability counters; see the Stats type for
// which fields are ring-global versus process-local.
func (r *Ring) Stats() Stats {
	tail := atomicLoadU64(r.mem, tailOffset)
	head := atomicLoadU64(r.mem, headOffset)
	depth := tail - head
	if depth > r.poolSize {
		depth = r.poolSize
	}
	return Stats{
		Enqueued:   tail,
		Dequeued:   head,
		Dropped:    r.dropped.Load(),
		QueueDepth: depth,
		MaxDepth:   r.maxDepth.Load(),
	}
}

// Close unmaps the region, closes the descriptor, and, for the creator
// only, unlinks the backing name so subsequent attach attempts fail.
func (r *Ring) Close() error {
	var firstErr error
	if r.mem != nil {
		if err := syscall.Munmap(r.mem); err != nil {
			firstErr = err
		}
		r.mem = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.createdByUs {
		path, err := shmPath(r.root, r.name)
		if err == nil {
			_ = os.Remove(path)
		}
	}
	return firstErr
}

const maxCapacity = uint64(1)<<63 - 1
