package alloc

import (
	"fmt"
	"sync"
)

// slabAllocator handles small, fixed-size-class allocations (8B-256B)
// inside a caller-provided byte arena, using a bitmap-tracked free list per
// size class.
const slabPageSize = 4096

const (
	sizeClass8 = iota
	sizeClass16
	sizeClass24
	sizeClass32
	sizeClass48
	sizeClass64
	sizeClass96
	sizeClass128
	sizeClass192
	sizeClass256
)

var sizeClassSizes = [10]uint32{8, 16, 24, 32, 48, 64, 96, 128, 192, 256}

type slabAllocator struct {
	arena      []byte
	baseOffset uint32
	totalSize  uint32

	caches [10]*slabCache

	mu sync.RWMutex
}

type slabCache struct {
	objectSize uint32
	slabs      []*slabPage

	allocated uint32
	capacity  uint32

	mu sync.Mutex
}

type slabPage struct {
	offset     uint32
	freeCount  uint16
	totalCount uint16
	bitmap     uint64
}

func newSlabAllocator(arena []byte, baseOffset, totalSize uint32) *slabAllocator {
	sa := &slabAllocator{arena: arena, baseOffset: baseOffset, totalSize: totalSize}
	for i := 0; i < 10; i++ {
		sa.caches[i] = &slabCache{objectSize: sizeClassSizes[i], slabs: make([]*slabPage, 0, 16)}
	}
	return sa
}

func (sa *slabAllocator) Allocate(size uint32) (uint32, error) {
	if size > 256 {
		return 0, fmt.Errorf("alloc: size %d too large for slab allocator", size)
	}
	cache := sa.caches[sa.getSizeClass(size)]
	return cache.allocate(sa)
}

func (sa *slabAllocator) Free(offset uint32) error {
	slab, cache := sa.findSlab(offset)
	if slab == nil {
		return fmt.Errorf("alloc: invalid slab offset %d", offset)
	}
	return cache.free(slab, offset)
}

func (sa *slabAllocator) getSizeClass(size uint32) int {
	for i, classSize := range sizeClassSizes {
		if size <= classSize {
			return i
		}
	}
	return sizeClass256
}

func (sa *slabAllocator) findSlab(offset uint32) (*slabPage, *slabCache) {
	for _, cache := range sa.caches {
		cache.mu.Lock()
		for _, slab := range cache.slabs {
			if offset >= slab.offset && offset < slab.offset+slabPageSize {
				cache.mu.Unlock()
				return slab, cache
			}
		}
		cache.mu.Unlock()
	}
	return nil, nil
}

func (sc *slabCache) allocate(sa *slabAllocator) (uint32, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for _, slab := range sc.slabs {
		if slab.freeCount > 0 {
			return sc.allocateFromSlab(slab)
		}
	}

	slab, err := sc.allocateNewSlab(sa)
	if err != nil {
		return 0, err
	}
	return sc.allocateFromSlab(slab)
}

func (sc *slabCache) allocateFromSlab(slab *slabPage) (uint32, error) {
	for i := uint16(0); i < slab.totalCount; i++ {
		if (slab.bitmap & (1 << i)) != 0 {
			slab.bitmap &^= 1 << i
			slab.freeCount--
			sc.allocated++
			return slab.offset + uint32(i)*sc.objectSize, nil
		}
	}
	return 0, fmt.Errorf("alloc: slab has no free objects")
}

func (sc *slabCache) allocateNewSlab(sa *slabAllocator) (*slabPage, error) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	totalSlabSize := uint32(len(sc.slabs)) * slabPageSize
	if totalSlabSize >= sa.totalSize {
		return nil, fmt.Errorf("alloc: slab allocator out of memory")
	}

	slabOffset := sa.baseOffset + totalSlabSize
	objectsPerPage := uint16(slabPageSize / sc.objectSize)
	// The bitmap tracks one bit per object, so a page never holds more
	// than 64 objects regardless of class size.
	if objectsPerPage > 64 {
		objectsPerPage = 64
	}

	bitmap := ^uint64(0)
	if objectsPerPage < 64 {
		bitmap = (uint64(1) << objectsPerPage) - 1
	}
	slab := &slabPage{
		offset:     slabOffset,
		freeCount:  objectsPerPage,
		totalCount: objectsPerPage,
		bitmap:     bitmap,
	}
	sc.slabs = append(sc.slabs, slab)
	sc.capacity += uint32(objectsPerPage)
	return slab, nil
}

func (sc *slabCache) free(slab *slabPage, offset uint32) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	relativeOffset := offset - slab.offset
	if relativeOffset%sc.objectSize != 0 {
		return fmt.Errorf("alloc: invalid offset alignment")
	}
	objectIndex := uint16(relativeOffset / sc.objectSize)
	if objectIndex >= slab.totalCount {
		return fmt.Errorf("alloc: object index out of range")
	}
	if (slab.bitmap & (1 << objectIndex)) != 0 {
		return fmt.Errorf("alloc: double free detected at offset %d", offset)
	}
	slab.bitmap |= 1 << objectIndex
	slab.freeCount++
	sc.allocated--
	return nil
}

// SlabStats reports per-size-class utilization.
type SlabStats struct {
	SizeClass   int
	ObjectSize  uint32
	Allocated   uint32
	Capacity    uint32
	SlabCount   int
	Utilization float32
}

func (sa *slabAllocator) GetStats() []SlabStats {
	stats := make([]SlabStats, 10)
	for i, cache := range sa.caches {
		cache.mu.Lock()
		utilization := float32(0)
		if cache.capacity > 0 {
			utilization = float32(cache.allocated) / float32(cache.capacity) * 100
		}
		stats[i] = SlabStats{
			SizeClass:   i,
			ObjectSize:  cache.objectSize,
			Allocated:   cache.allocated,
			Capacity:    cache.capacity,
			SlabCount:   len(cache.slabs),
			Utilization: utilization,
		}
		cache.mu.Unlock()
	}
	return stats
}

// FreeEmptySlabs releases fully-empty slab pages back to the arena,
// returning the number of bytes freed.
func (sa *slabAllocator) FreeEmptySlabs() uint32 {
	freed := uint32(0)
	for _, cache := range sa.caches {
		cache.mu.Lock()
		kept := make([]*slabPage, 0, len(cache.slabs))
		for _, slab := range cache.slabs {
			if slab.freeCount < slab.totalCount {
				kept = append(kept, slab)
			} else {
				freed += slabPageSize
				cache.capacity -= uint32(slab.totalCount)
			}
		}
		cache.slabs = kept
		cache.mu.Unlock()
	}
	return freed
}
