package kzalloc

import "unsafe"

// freelist singly linked list of free objects for one size class,
// with tail and length so range splices are O(1). slowstart doubles
// on every refill until it saturates at slowstartmax.
type freelist struct {
	head         unsafe.Pointer
	tail         unsafe.Pointer
	size         int64
	slowstart    int64
	slowstartmax int64
}

func (list *freelist) push(obj unsafe.Pointer) {
	setnextobj(obj, list.head)
	list.head = obj
	if list.tail == nil {
		list.tail = obj
	}
	list.size++
}

func (list *freelist) pop() unsafe.Pointer {
	obj := list.head
	list.head = nextobj(obj)
	if list.head == nil {
		list.tail = nil
	}
	list.size--
	return obj
}

// pushrange splice [head..tail] of n objects onto the front.
func (list *freelist) pushrange(head, tail unsafe.Pointer, n int64) {
	setnextobj(tail, list.head)
	list.head = head
	if list.tail == nil {
		list.tail = tail
	}
	list.size += n
}

// poprange detach the first n objects, n <= size.
func (list *freelist) poprange(n int64) (unsafe.Pointer, unsafe.Pointer) {
	head := list.head
	tail := head
	for i := int64(1); i < n; i++ {
		tail = nextobj(tail)
	}
	list.head = nextobj(tail)
	setnextobj(tail, nil)
	if list.head == nil {
		list.tail = nil
	}
	list.size -= n
	return head, tail
}

// threadcache per-caller front end, one freelist per size class.
// Not thread safe, a cache is owned by exactly one caller at a
// time. Records come from an object pool so creating a cache never
// re-enters the allocator.
type threadcache struct {
	freelists [Maxclasses]freelist
	shard     uint64 // page-heap routing hint, fixed at creation
	cc        *centralcache
}

func (tc *threadcache) init(cc *centralcache, shard uint64) {
	tc.cc, tc.shard = cc, shard
	for i := range tc.freelists {
		tc.freelists[i].slowstart = 1
		tc.freelists[i].slowstartmax = nummovesize(i)
	}
}

func (tc *threadcache) alloc(size int64) unsafe.Pointer {
	class := classof(size)
	list := &tc.freelists[class]
	if list.size > 0 {
		return list.pop()
	}
	return tc.fetch(class)
}

// fetch refill from the central cache. Batch sizes walk 1, 2, 4, ..
// up to nummovesize(class) so a burst-then-idle caller never hoards
// a full batch ceiling worth of objects.
func (tc *threadcache) fetch(class int) unsafe.Pointer {
	list := &tc.freelists[class]
	batch := list.slowstart
	if next := batch << 1; next <= list.slowstartmax {
		list.slowstart = next
	} else {
		list.slowstart = list.slowstartmax
	}

	head, tail, got := tc.cc.fetchrange(class, batch, tc.shard)
	if got > 1 {
		list.pushrange(nextobj(head), tail, got-1)
	}
	return head
}

func (tc *threadcache) free(ptr unsafe.Pointer, size int64) {
	class := classof(size)
	list := &tc.freelists[class]
	list.push(ptr)
	if list.size >= list.slowstart+list.slowstartmax {
		tc.listtoolong(list, class)
	}
}

// listtoolong return the slowstartmax objects at the head of the
// list, the most recently freed, to the central cache. The older
// objects behind them stay local.
func (tc *threadcache) listtoolong(list *freelist, class int) {
	head, _ := list.poprange(list.slowstartmax)
	tc.cc.releaselist(head, class)
}

// flush drain every class back to the central cache, called before
// the cache record is recycled.
func (tc *threadcache) flush() {
	for class := range tc.freelists {
		list := &tc.freelists[class]
		if list.size > 0 {
			head, _ := list.poprange(list.size)
			tc.cc.releaselist(head, class)
		}
	}
}
