package alloc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Flags controls optional allocation behavior.
type Flags uint32

const (
	FlagZeroed Flags = 1 << iota
)

// Request is one allocation request.
type Request struct {
	Size  uint32
	Owner string
	Flags Flags
}

// Arena is coremesh's byte-arena allocator, the service modules reach
// through their core proxy. It routes allocations of 256B or less to a slab
// allocator and everything else to a buddy allocator, operating on a
// caller-supplied byte slice.
type Arena struct {
	buf []byte

	slab  *slabAllocator
	buddy *buddyAllocator

	totalAllocated atomic.Uint64
	totalFreed     atomic.Uint64
	allocCount     atomic.Uint64
	freeCount      atomic.Uint64

	mu sync.RWMutex

	slabStart, slabEnd, buddyStart, buddyEnd uint32
}

// New builds an Arena over buf, splitting it between a small-object slab
// region and a large-block buddy region. slabSize and buddySize must sum
// to no more than len(buf).
func New(buf []byte, slabSize, buddySize uint32) (*Arena, error) {
	if uint64(slabSize)+uint64(buddySize) > uint64(len(buf)) {
		return nil, fmt.Errorf("alloc: slab+buddy size exceeds arena capacity")
	}
	a := &Arena{
		buf:        buf,
		slab:       newSlabAllocator(buf, 0, slabSize),
		buddy:      newBuddyAllocator(buf, slabSize, buddySize),
		slabStart:  0,
		slabEnd:    slabSize,
		buddyStart: slabSize,
		buddyEnd:   slabSize + buddySize,
	}
	return a, nil
}

// Allocate routes req to the slab or buddy sub-allocator by size and
// returns the byte offset into the arena.
func (a *Arena) Allocate(req Request) (uint32, error) {
	var offset uint32
	var err error

	if req.Size <= 256 {
		offset, err = a.slab.Allocate(req.Size)
	} else if req.Size < minBuddySize {
		offset, err = a.buddy.Allocate(minBuddySize)
	} else {
		offset, err = a.buddy.Allocate(req.Size)
	}
	if err != nil {
		return 0, err
	}

	if req.Flags&FlagZeroed != 0 {
		a.zero(offset, req.Size)
	}

	a.totalAllocated.Add(uint64(req.Size))
	a.allocCount.Add(1)
	return offset, nil
}

// Free releases the block at offset, dispatching to whichever
// sub-allocator owns that region.
func (a *Arena) Free(offset uint32) error {
	var err error
	switch {
	case offset >= a.slabStart && offset < a.slabEnd:
		err = a.slab.Free(offset)
	case offset >= a.buddyStart && offset < a.buddyEnd:
		err = a.buddy.Free(offset)
	default:
		return fmt.Errorf("alloc: offset %d outside arena", offset)
	}
	if err == nil {
		a.freeCount.Add(1)
	}
	return err
}

// Bytes returns the raw byte slice at [offset, offset+size), for callers
// that need to read or write the allocated region directly.
func (a *Arena) Bytes(offset, size uint32) []byte {
	return a.buf[offset : offset+size]
}

func (a *Arena) zero(offset, size uint32) {
	for i := uint32(0); i < size; i++ {
		a.buf[offset+i] = 0
	}
}

// Stats is the Arena's observability snapshot.
type Stats struct {
	TotalAllocated       uint64
	TotalFreed           uint64
	AllocCount           uint64
	FreeCount            uint64
	SlabStats            []SlabStats
	BuddyStats           BuddyStats
	OverallFragmentation float32
}

func (a *Arena) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	slabStats := a.slab.GetStats()
	buddyStats := a.buddy.GetStats()

	totalAllocated := uint64(0)
	for _, s := range slabStats {
		totalAllocated += uint64(s.Allocated) * uint64(s.ObjectSize)
	}
	totalAllocated += uint64(buddyStats.Allocated)

	totalCapacity := uint64(a.slabEnd-a.slabStart) + uint64(a.buddyEnd-a.buddyStart)
	fragmentation := float32(0)
	if totalCapacity > 0 {
		utilization := float32(totalAllocated) / float32(totalCapacity)
		fragmentation = (1 - utilization) * 100
	}

	return Stats{
		TotalAllocated:       a.totalAllocated.Load(),
		TotalFreed:           a.totalFreed.Load(),
		AllocCount:           a.allocCount.Load(),
		FreeCount:            a.freeCount.Load(),
		SlabStats:            slabStats,
		BuddyStats:           buddyStats,
		OverallFragmentation: fragmentation,
	}
}

// FreeCache releases empty slab pages back to the arena, useful under
// memory pressure; returns the number of bytes freed.
func (a *Arena) FreeCache() uint32 {
	return a.slab.FreeEmptySlabs()
}
