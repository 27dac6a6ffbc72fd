// Package shmqueue implements the shared-memory SPSC ring: the same
// bounded single-producer/single-consumer semantics as package queue, but
// backed by a POSIX shared-memory object so that two separate processes,
// not just two goroutines, can be producer and consumer.
//
// Slots are raw fixed-size byte buffers rather than a generic T: a
// shared-memory segment has no notion of a Go type, so the ring only ever
// copies trivially-copyable bytes in and out. Pointers, references, and
// heap-owning handles must never be placed in a slot.
package shmqueue

import (
	"sync/atomic"
	"unsafe"
)

// headerSize is sizeof(QueueHeader) on the wire: poolSize, useMask,
// poolSizeMask, head, tail: five 8-byte-aligned uint64 fields (40 bytes),
// with the first slot starting right after them.
const headerSize = 5 * 8

// QueueHeader is laid out first in the mapped region, immediately
// followed by poolSize slots of slotSize bytes each.
type QueueHeader struct {
	PoolSize     uint64
	UseMask      uint64 // 0/1, stored as uint64 to keep the header 8-byte aligned throughout
	PoolSizeMask uint64
	Head         uint64
	Tail         uint64
}

// readHeader and writeStaticHeader use the host's native byte order, via
// the same unsafe.Pointer-cast-to-*uint64 trick atomicLoadU64/
// atomicStoreU64 use below, rather than a fixed wire endianness: a
// creator/attacher pair only ever shares memory within one host, so there
// is no cross-host byte-order concern to guard against.
func readHeader(mem []byte) QueueHeader {
	return QueueHeader{
		PoolSize:     nativeLoadU64(mem, 0),
		UseMask:      nativeLoadU64(mem, 8),
		PoolSizeMask: nativeLoadU64(mem, 16),
		Head:         nativeLoadU64(mem, 24),
		Tail:         nativeLoadU64(mem, 32),
	}
}

func writeStaticHeader(mem []byte, h QueueHeader) {
	nativeStoreU64(mem, 0, h.PoolSize)
	nativeStoreU64(mem, 8, h.UseMask)
	nativeStoreU64(mem, 16, h.PoolSizeMask)
	atomicStoreU64(mem, 24, 0)
	atomicStoreU64(mem, 32, 0)
}

func nativeLoadU64(mem []byte, offset int) uint64 {
	return *(*uint64)(unsafe.Pointer(&mem[offset]))
}

func nativeStoreU64(mem []byte, offset int, v uint64) {
	*(*uint64)(unsafe.Pointer(&mem[offset])) = v
}

func atomicLoadU64(mem []byte, offset int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&mem[offset])))
}

func atomicStoreU64(mem []byte, offset int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&mem[offset])), v)
}

const (
	headOffset = 24
	tailOffset = 32
)
