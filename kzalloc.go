package kzalloc

import "runtime"
import "sync"
import "sync/atomic"
import "unsafe"

import s "github.com/bnclabs/gosettings"
import humanize "github.com/dustin/go-humanize"

import "github.com/Exfdr/KzAlloc/api"
import "github.com/Exfdr/KzAlloc/osmem"

// Allocator process-wide three tier allocator. Requests up to
// Maxbytes run threadcache -> centralcache -> pageheap, larger
// requests go straight to the page heap.
type Allocator struct {
	rotor uint64 // 64-bit aligned, handle counter

	setts   s.Settings
	sys     api.SystemAllocator
	pmap    *pagemap
	heap    *pageheap
	central *centralcache
	tcpool  *objpool[threadcache]
	handles sync.Pool
}

// New allocator on the operating system's memory.
func New(setts s.Settings) *Allocator {
	return NewWith(osmem.New(), setts)
}

// NewWith allocator over a caller supplied system allocator.
func NewWith(sys api.SystemAllocator, setts s.Settings) *Allocator {
	initsizeclasses()
	setts = Defaultsettings().Mixin(setts)

	pmap := newpagemap(sys)
	heap := newpageheap(sys, pmap, setts)
	kz := &Allocator{
		setts:   setts,
		sys:     sys,
		pmap:    pmap,
		heap:    heap,
		central: newcentralcache(sys, heap, pmap),
	}
	kz.tcpool = newobjpool[threadcache](sys)
	kz.handles.New = func() interface{} {
		return kz.newhandle()
	}
	infof(
		"kzalloc boots with %v classes upto %v\n",
		Maxclasses, humanize.Bytes(uint64(Maxbytes)))
	return kz
}

//---- operations

// Alloc implement api.Mallocer{} interface.
func (kz *Allocator) Alloc(size int64) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	if size > Maxbytes {
		return kz.alloclarge(size)
	}
	handle := kz.gethandle()
	ptr := handle.tc.alloc(size)
	kz.puthandle(handle)
	return ptr
}

// Free implement api.Mallocer{} interface.
func (kz *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	sp := kz.pmap.get(pageof(ptr))
	if sp == nil {
		panic(api.ErrorInvalidPointer)
	}
	if sp.objsize > Maxbytes {
		kz.heap.releasespan(sp)
		return
	}
	kz.freesmall(ptr, sp.objsize)
}

// Freesized implement api.Mallocer{} interface. Skips the reverse
// map lookup on the small path.
func (kz *Allocator) Freesized(ptr unsafe.Pointer, size int64) {
	if ptr == nil {
		return
	}
	if size > Maxbytes {
		kz.Free(ptr)
		return
	}
	kz.freesmall(ptr, size)
}

// Realloc implement api.Mallocer{} interface. Chunks staying within
// the same size class are reused in place, shrinks are lazy.
func (kz *Allocator) Realloc(
	ptr unsafe.Pointer, oldsize, newsize int64) unsafe.Pointer {

	if ptr == nil {
		return kz.Alloc(newsize)
	}
	if newsize <= 0 {
		kz.Freesized(ptr, oldsize)
		return nil
	}
	oldaligned, newaligned := roundup(oldsize), roundup(newsize)
	if newaligned <= oldaligned {
		return ptr
	}
	newptr := kz.Alloc(newsize)
	ln := oldsize
	if newsize < ln {
		ln = newsize
	}
	memcpy(newptr, ptr, ln)
	kz.Freesized(ptr, oldsize)
	return newptr
}

// Reallocunsized implement api.Mallocer{} interface. Recovers the
// old size from the reverse map.
func (kz *Allocator) Reallocunsized(
	ptr unsafe.Pointer, newsize int64) unsafe.Pointer {

	if ptr == nil {
		return kz.Alloc(newsize)
	}
	sp := kz.pmap.get(pageof(ptr))
	if sp == nil {
		panic(api.ErrorInvalidPointer)
	}
	return kz.Realloc(ptr, sp.objsize, newsize)
}

//---- statistics and maintenance

// Info implement api.Mallocer{} interface.
func (kz *Allocator) Info() (mapped, hot, cold, spans int64) {
	return kz.heap.info()
}

// Logstatistics current accounting through the log gate.
func (kz *Allocator) Logstatistics() {
	mapped, hot, cold, spans := kz.Info()
	infof(
		"kzalloc mapped:%v hot:%v cold:%v spans:%v\n",
		humanize.Bytes(uint64(mapped<<Pageshift)),
		humanize.Bytes(uint64(hot<<Pageshift)),
		humanize.Bytes(uint64(cold<<Pageshift)), spans)
}

// Release implement api.Mallocer{} interface. Gives metadata pools
// back to the OS. User pages and radix nodes stay mapped until the
// process exits, outstanding chunks are dangling after Release.
func (kz *Allocator) Release() {
	kz.heap.release()
	kz.central.sopool.release()
	kz.tcpool.release()
	infof("kzalloc released\n")
}

//---- per-caller cache handles

// tchandle pins a threadcache record for the duration of one
// facade call, a sync.Pool keeps handles per-P so the hot path is
// contention free. When the runtime drops a pooled handle its
// finalizer drains the cache back to the central tier.
type tchandle struct {
	tc *threadcache
}

func (kz *Allocator) newhandle() *tchandle {
	tc := kz.tcpool.alloc()
	seq := atomic.AddUint64(&kz.rotor, 1)
	tc.init(kz.central, seq*0x9e3779b97f4a7c15)
	handle := &tchandle{tc: tc}
	runtime.SetFinalizer(handle, func(h *tchandle) {
		h.tc.flush()
		kz.tcpool.free(h.tc)
	})
	return handle
}

func (kz *Allocator) gethandle() *tchandle {
	return kz.handles.Get().(*tchandle)
}

func (kz *Allocator) puthandle(handle *tchandle) {
	kz.handles.Put(handle)
}

func (kz *Allocator) freesmall(ptr unsafe.Pointer, size int64) {
	handle := kz.gethandle()
	handle.tc.free(ptr, size)
	kz.puthandle(handle)
}

func (kz *Allocator) alloclarge(size int64) unsafe.Pointer {
	aligned := pageroundup(size)
	handle := kz.gethandle()
	sp := kz.heap.newspan(aligned>>Pageshift, handle.tc.shard)
	kz.puthandle(handle)
	sp.objsize = aligned
	return addrofpage(sp.pageid)
}

//---- process wide default

var defaultonce sync.Once
var defaultkz *Allocator

// Default process-wide allocator, created on first use.
func Default() *Allocator {
	defaultonce.Do(func() {
		defaultkz = New(Defaultsettings())
	})
	return defaultkz
}

// Alloc from the process-wide allocator.
func Alloc(size int64) unsafe.Pointer {
	return Default().Alloc(size)
}

// Free to the process-wide allocator.
func Free(ptr unsafe.Pointer) {
	Default().Free(ptr)
}

// Freesized to the process-wide allocator.
func Freesized(ptr unsafe.Pointer, size int64) {
	Default().Freesized(ptr, size)
}

// Realloc on the process-wide allocator.
func Realloc(ptr unsafe.Pointer, oldsize, newsize int64) unsafe.Pointer {
	return Default().Realloc(ptr, oldsize, newsize)
}

// Reallocunsized on the process-wide allocator.
func Reallocunsized(ptr unsafe.Pointer, newsize int64) unsafe.Pointer {
	return Default().Reallocunsized(ptr, newsize)
}

var _ api.Mallocer = (*Allocator)(nil)
