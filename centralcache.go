package kzalloc

import "unsafe"

import "golang.org/x/sys/cpu"

import "github.com/Exfdr/KzAlloc/api"

// centralcache brokers object runs between thread caches and the
// page heap. One bucket per size class, each under its own spin
// lock and padded apart so neighbouring locks never share a cache
// line.
type centralbucket struct {
	spin  spinlock
	spans spanlist
	_     cpu.CacheLinePad
}

type centralcache struct {
	heap    *pageheap
	pmap    *pagemap
	sopool  *objpool[span] // bucket sentinels
	buckets [Maxclasses]centralbucket
}

func newcentralcache(
	sys api.SystemAllocator, heap *pageheap, pmap *pagemap) *centralcache {

	cc := &centralcache{heap: heap, pmap: pmap}
	cc.sopool = newobjpool[span](sys)
	for i := range cc.buckets {
		cc.buckets[i].spans.init(cc.sopool)
	}
	return cc
}

// fetchrange hand out up to n linked objects of class. Returns the
// head and tail of the run and how many objects it carries, at
// least 1. hint routes page-heap traffic to the caller's shard.
func (cc *centralcache) fetchrange(
	class int, n int64, hint uint64) (unsafe.Pointer, unsafe.Pointer, int64) {

	bucket := &cc.buckets[class]
	bucket.spin.lock()

	sp := cc.getspan(bucket, class, hint)
	head := sp.freelist
	tail := head
	count := int64(1)
	for count < n && nextobj(tail) != nil {
		tail = nextobj(tail)
		count++
	}
	sp.freelist = nextobj(tail)
	setnextobj(tail, nil)
	sp.usecount += count

	bucket.spin.unlock()
	return head, tail, count
}

// getspan first span in the bucket with free objects, provisioning
// a fresh one from the page heap when the bucket runs dry. The
// bucket lock is dropped across the page-heap call.
func (cc *centralcache) getspan(
	bucket *centralbucket, class int, hint uint64) *span {

	for it := bucket.spans.begin(); it != bucket.spans.end(); it = it.next {
		if it.freelist != nil {
			return it
		}
	}

	bucket.spin.unlock()
	aligned := classsize(class)
	sp := cc.heap.newspan(pageneed(aligned), hint)
	cc.slice(sp, aligned)
	bucket.spin.lock()
	bucket.spans.pushfront(sp)
	return sp
}

// slice carve the span into aligned-size objects, linking each to
// the next through its first word. Every page is registered in the
// reverse map so deallocation can find the span by address.
func (cc *centralcache) slice(sp *span, aligned int64) {
	start := addrofpage(sp.pageid)
	nbytes := sp.npages << Pageshift

	sp.objsize = aligned
	sp.freelist = start
	cursor := start
	for off := aligned; off+aligned <= nbytes; off += aligned {
		next := unsafe.Add(start, off)
		setnextobj(cursor, next)
		cursor = next
	}
	setnextobj(cursor, nil)

	for i := int64(0); i < sp.npages; i++ {
		cc.pmap.set(sp.pageid+i, sp)
	}
}

// releaselist walk a singly linked run of objects, returning each
// to its owning span. A span whose last object comes home drains
// back to the page heap, with the bucket lock dropped around the
// call per the lock hierarchy.
func (cc *centralcache) releaselist(head unsafe.Pointer, class int) {
	bucket := &cc.buckets[class]
	bucket.spin.lock()

	ptr := head
	for ptr != nil {
		next := nextobj(ptr)
		sp := cc.pmap.get(pageof(ptr))
		if sp == nil {
			panic(api.ErrorInvalidPointer)
		}
		setnextobj(ptr, sp.freelist)
		sp.freelist = ptr
		sp.usecount--

		if sp.usecount == 0 {
			bucket.spans.erase(sp)
			sp.freelist = nil
			bucket.spin.unlock()
			cc.heap.releasespan(sp)
			bucket.spin.lock()
		}
		ptr = next
	}
	bucket.spin.unlock()
}
