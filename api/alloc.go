package api

import "unsafe"

// SystemAllocator capability consumed by the allocator core. All OS
// interaction happens through this interface, pages are always
// Pagesize bytes and Pagesize aligned.
type SystemAllocator interface {
	// Allocpages return npages * Pagesize bytes of zero-filled
	// memory aligned to Pagesize. Panics with ErrorOutofMemory
	// when the OS refuses.
	Allocpages(npages int64) unsafe.Pointer

	// Freepages unmap npages starting at ptr.
	Freepages(ptr unsafe.Pointer, npages int64)

	// Decommit hint the OS that the range is not needed. Virtual
	// range remains valid and refaults zero-filled.
	Decommit(ptr unsafe.Pointer, nbytes int64)

	// Physicalmemory total system RAM in bytes, used only at init.
	Physicalmemory() int64
}

// Mallocer interface into the three tier cache hierarchy.
type Mallocer interface {
	// Alloc a chunk of size bytes. Allocated memory is always
	// 64-bit aligned. Size 0 returns nil.
	Alloc(size int64) unsafe.Pointer

	// Free chunk, size recovered via the reverse page map.
	Free(ptr unsafe.Pointer)

	// Freesized free chunk of known size, skips the reverse map
	// on the small path.
	Freesized(ptr unsafe.Pointer, size int64)

	// Realloc grow or shrink chunk whose original size is known.
	Realloc(ptr unsafe.Pointer, oldsize, newsize int64) unsafe.Pointer

	// Reallocunsized like Realloc when the original size is not
	// known, costs a reverse map lookup.
	Reallocunsized(ptr unsafe.Pointer, newsize int64) unsafe.Pointer

	// Info of memory accounting, in pages fetched from OS, hot
	// free pages, cold free pages and live span records.
	Info() (mapped, hot, cold, spans int64)

	// Release metadata pools and resources held by the allocator.
	Release()
}
