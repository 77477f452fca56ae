//go:build !386 && !arm && !mips && !mipsle

package kzalloc

import "sync"
import "sync/atomic"
import "unsafe"

import "github.com/Exfdr/KzAlloc/api"

// Reverse map from page id to owning span, a three level radix tree
// on 64-bit targets: root 12 bits, internal 12 bits, leaf 11 bits,
// covering the 35-bit page-id space of 48-bit virtual addresses.
//
// Reads are lock free, slots are naturally aligned single words.
// Only node growth takes the grow mutex, published with release
// semantics so a reader can never observe an uninitialized node
// through its parent pointer.
const mapbitsroot = 12
const mapbitsmid = 12
const mapbitsleaf = 11

const maplenroot = 1 << mapbitsroot
const maplenmid = 1 << mapbitsmid
const maplenleaf = 1 << mapbitsleaf

type pagemapleaf struct {
	spans [maplenleaf]unsafe.Pointer // *span
}

type pagemapmid struct {
	leafs [maplenmid]unsafe.Pointer // *pagemapleaf
}

type pagemap struct {
	grow sync.Mutex
	sys  api.SystemAllocator
	root [maplenroot]unsafe.Pointer // *pagemapmid
}

func newpagemap(sys api.SystemAllocator) *pagemap {
	return &pagemap{sys: sys}
}

func (pm *pagemap) get(id int64) *span {
	iroot := uint64(id) >> (mapbitsmid + mapbitsleaf)
	if iroot >= maplenroot {
		return nil
	}
	mid := (*pagemapmid)(atomic.LoadPointer(&pm.root[iroot]))
	if mid == nil {
		return nil
	}
	imid := (id >> mapbitsleaf) & (maplenmid - 1)
	leaf := (*pagemapleaf)(atomic.LoadPointer(&mid.leafs[imid]))
	if leaf == nil {
		return nil
	}
	ileaf := id & (maplenleaf - 1)
	return (*span)(atomic.LoadPointer(&leaf.spans[ileaf]))
}

func (pm *pagemap) set(id int64, sp *span) {
	iroot := uint64(id) >> (mapbitsmid + mapbitsleaf)
	if iroot >= maplenroot {
		panicerr("page id %v outside mapped address space", id)
	}
	mid := pm.ensuremid(iroot)
	imid := (id >> mapbitsleaf) & (maplenmid - 1)
	leaf := pm.ensureleaf(mid, imid)
	ileaf := id & (maplenleaf - 1)
	atomic.StorePointer(&leaf.spans[ileaf], unsafe.Pointer(sp))
}

// Double-checked growth, nodes come from the system allocator and
// arrive zero-filled from the OS.
func (pm *pagemap) ensuremid(iroot uint64) *pagemapmid {
	if mid := atomic.LoadPointer(&pm.root[iroot]); mid != nil {
		return (*pagemapmid)(mid)
	}
	pm.grow.Lock()
	defer pm.grow.Unlock()
	if mid := atomic.LoadPointer(&pm.root[iroot]); mid != nil {
		return (*pagemapmid)(mid)
	}
	mid := pm.allocnode(int64(unsafe.Sizeof(pagemapmid{})))
	atomic.StorePointer(&pm.root[iroot], mid)
	return (*pagemapmid)(mid)
}

func (pm *pagemap) ensureleaf(mid *pagemapmid, imid int64) *pagemapleaf {
	if leaf := atomic.LoadPointer(&mid.leafs[imid]); leaf != nil {
		return (*pagemapleaf)(leaf)
	}
	pm.grow.Lock()
	defer pm.grow.Unlock()
	if leaf := atomic.LoadPointer(&mid.leafs[imid]); leaf != nil {
		return (*pagemapleaf)(leaf)
	}
	leaf := pm.allocnode(int64(unsafe.Sizeof(pagemapleaf{})))
	atomic.StorePointer(&mid.leafs[imid], leaf)
	return (*pagemapleaf)(leaf)
}

func (pm *pagemap) allocnode(size int64) unsafe.Pointer {
	return pm.sys.Allocpages((size + Pagesize - 1) >> Pageshift)
}
