package osmem

import "os"
import "unsafe"

import "golang.org/x/sys/unix"

import "github.com/Exfdr/KzAlloc/api"
import "github.com/cloudfoundry/gosigar"

// Sysmem stateless system allocator over mmap/munmap/madvise.
type Sysmem struct{}

// New system allocator.
func New() *Sysmem {
	return &Sysmem{}
}

// Allocpages implement api.SystemAllocator{} interface.
func (sys *Sysmem) Allocpages(npages int64) unsafe.Pointer {
	size := npages << api.Pageshift
	if size >= api.Hugepagethreshold {
		if ptr, err := mmaphuge(size); err == nil {
			return ptr
		}
	}
	if int64(os.Getpagesize()) >= api.Pagesize {
		ptr, err := mmapanon(size)
		if err != nil {
			panic(api.ErrorOutofMemory)
		}
		return ptr
	}
	// OS page smaller than Pagesize, over-map one extra page and
	// trim head and tail back so the range is Pagesize aligned.
	raw, err := mmapanon(size + api.Pagesize)
	if err != nil {
		panic(api.ErrorOutofMemory)
	}
	addr := uintptr(raw)
	aligned := (addr + uintptr(api.Pagesize-1)) &^ uintptr(api.Pagesize-1)
	if head := aligned - addr; head > 0 {
		unix.MunmapPtr(raw, head)
	}
	end := addr + uintptr(size+api.Pagesize)
	if tail := end - (aligned + uintptr(size)); tail > 0 {
		unix.MunmapPtr(unsafe.Add(raw, int(aligned-addr)+int(size)), tail)
	}
	return unsafe.Add(raw, int(aligned-addr))
}

// Freepages implement api.SystemAllocator{} interface.
func (sys *Sysmem) Freepages(ptr unsafe.Pointer, npages int64) {
	if ptr == nil {
		return
	}
	unix.MunmapPtr(ptr, uintptr(npages<<api.Pageshift))
}

// Decommit implement api.SystemAllocator{} interface.
func (sys *Sysmem) Decommit(ptr unsafe.Pointer, nbytes int64) {
	if ptr == nil || nbytes <= 0 {
		return
	}
	unix.Madvise(unsafe.Slice((*byte)(ptr), nbytes), decommitadvice)
}

// Physicalmemory implement api.SystemAllocator{} interface.
func (sys *Sysmem) Physicalmemory() int64 {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil || mem.Total == 0 {
		return 8 * 1024 * 1024 * 1024 // assume 8GB
	}
	return int64(mem.Total)
}

func mmapanon(size int64) (unsafe.Pointer, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	return unix.MmapPtr(-1, 0, nil, uintptr(size), prot, flags)
}
