//go:build 386 || arm || mips || mipsle

package kzalloc

import "sync"
import "sync/atomic"
import "unsafe"

import "github.com/Exfdr/KzAlloc/api"

// Two level radix tree on 32-bit targets: root 5 bits, leaf 14 bits,
// covering the 19-bit page-id space of 32-bit virtual addresses.
const mapbitsroot = 5
const mapbitsleaf = 14

const maplenroot = 1 << mapbitsroot
const maplenleaf = 1 << mapbitsleaf

type pagemapleaf struct {
	spans [maplenleaf]unsafe.Pointer // *span
}

type pagemap struct {
	grow sync.Mutex
	sys  api.SystemAllocator
	root [maplenroot]unsafe.Pointer // *pagemapleaf
}

func newpagemap(sys api.SystemAllocator) *pagemap {
	return &pagemap{sys: sys}
}

func (pm *pagemap) get(id int64) *span {
	iroot := uint64(id) >> mapbitsleaf
	if iroot >= maplenroot {
		return nil
	}
	leaf := (*pagemapleaf)(atomic.LoadPointer(&pm.root[iroot]))
	if leaf == nil {
		return nil
	}
	ileaf := id & (maplenleaf - 1)
	return (*span)(atomic.LoadPointer(&leaf.spans[ileaf]))
}

func (pm *pagemap) set(id int64, sp *span) {
	iroot := uint64(id) >> mapbitsleaf
	if iroot >= maplenroot {
		panicerr("page id %v outside mapped address space", id)
	}
	leaf := pm.ensureleaf(iroot)
	ileaf := id & (maplenleaf - 1)
	atomic.StorePointer(&leaf.spans[ileaf], unsafe.Pointer(sp))
}

func (pm *pagemap) ensureleaf(iroot uint64) *pagemapleaf {
	if leaf := atomic.LoadPointer(&pm.root[iroot]); leaf != nil {
		return (*pagemapleaf)(leaf)
	}
	pm.grow.Lock()
	defer pm.grow.Unlock()
	if leaf := atomic.LoadPointer(&pm.root[iroot]); leaf != nil {
		return (*pagemapleaf)(leaf)
	}
	size := int64(unsafe.Sizeof(pagemapleaf{}))
	leaf := pm.sys.Allocpages((size + Pagesize - 1) >> Pageshift)
	atomic.StorePointer(&pm.root[iroot], leaf)
	return (*pagemapleaf)(leaf)
}
