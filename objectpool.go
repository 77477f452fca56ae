package kzalloc

import "unsafe"

import "github.com/Exfdr/KzAlloc/api"

// Metadata records (spans, radix nodes, thread caches) must never be
// allocated through the allocator they bootstrap. objpool carves
// fixed-size records out of 128KB system blocks by bump pointer and
// recycles them through a LIFO free list. Blocks are chained through
// their first word so release can walk them back to the OS.
const poolblocksize = int64(128 * 1024)

type objpool[T any] struct {
	spin     spinlock
	sys      api.SystemAllocator
	recsize  int64
	memory   unsafe.Pointer // bump cursor into current block
	left     int64          // bytes left in current block
	freelist unsafe.Pointer
	blocks   unsafe.Pointer // head of block chain
	nrecords int64          // records handed out, never returned
}

func newobjpool[T any](sys api.SystemAllocator) *objpool[T] {
	var zero T
	recsize := (int64(unsafe.Sizeof(zero)) + Alignment - 1) &^ (Alignment - 1)
	if recsize < int64(unsafe.Sizeof(unsafe.Pointer(nil))) {
		panicerr("objpool record size %v below pointer width", recsize)
	}
	return &objpool[T]{sys: sys, recsize: recsize}
}

func (pool *objpool[T]) alloc() *T {
	pool.spin.lock()
	if ptr := pool.freelist; ptr != nil {
		pool.freelist = nextobj(ptr)
		pool.spin.unlock()
		obj := (*T)(ptr)
		var zero T
		*obj = zero
		return obj
	}
	if pool.left < pool.recsize {
		// current block exhausted, whatever is left is wasted
		block := pool.sys.Allocpages(poolblocksize >> Pageshift)
		setnextobj(block, pool.blocks)
		pool.blocks = block
		wordsize := int64(unsafe.Sizeof(unsafe.Pointer(nil)))
		pool.memory = unsafe.Add(block, wordsize)
		pool.left = poolblocksize - wordsize
	}
	ptr := pool.memory
	pool.memory = unsafe.Add(pool.memory, pool.recsize)
	pool.left -= pool.recsize
	pool.nrecords++
	pool.spin.unlock()
	return (*T)(ptr) // block memory is zero-filled by the OS
}

func (pool *objpool[T]) free(obj *T) {
	if obj == nil {
		return
	}
	pool.spin.lock()
	setnextobj(unsafe.Pointer(obj), pool.freelist)
	pool.freelist = unsafe.Pointer(obj)
	pool.nrecords--
	pool.spin.unlock()
}

// release all blocks back to the OS. Records handed out from this
// pool are dangling after release.
func (pool *objpool[T]) release() {
	pool.spin.lock()
	block := pool.blocks
	for block != nil {
		next := nextobj(block)
		pool.sys.Freepages(block, poolblocksize>>Pageshift)
		block = next
	}
	pool.blocks, pool.memory, pool.freelist = nil, nil, nil
	pool.left, pool.nrecords = 0, 0
	pool.spin.unlock()
}
