package kzalloc

import "unsafe"

// span describe a contiguous run of pages. Records live in per-shard
// object pools, never on the Go heap, and double as intrusive ring
// nodes. A span is a member of at most one list at a time.
type span struct {
	prev *span
	next *span

	pageid int64 // first page of the run
	npages int64

	objsize  int64          // sliced object size, 0 if unsliced
	usecount int64          // objects handed out from freelist
	freelist unsafe.Pointer // free objects within this span

	isuse   bool  // held by centralcache or handed to the user
	iscold  bool  // physical pages decommitted, range still mapped
	shardid uint8 // owning page-heap shard, never changes
}

// remove unlink from whichever ring the span is on.
func (sp *span) remove() {
	sp.prev.next = sp.next
	sp.next.prev = sp.prev
	sp.prev, sp.next = nil, nil
}

// spanlist circular doubly-linked ring with a sentinel drawn from a
// span pool so list setup never touches the Go heap.
type spanlist struct {
	head *span
}

func (list *spanlist) init(pool *objpool[span]) {
	sentinel := pool.alloc()
	sentinel.prev, sentinel.next = sentinel, sentinel
	list.head = sentinel
}

func (list *spanlist) empty() bool {
	return list.head.next == list.head
}

func (list *spanlist) begin() *span {
	return list.head.next
}

func (list *spanlist) end() *span {
	return list.head
}

func (list *spanlist) pushfront(sp *span) {
	at := list.head.next
	sp.prev, sp.next = list.head, at
	list.head.next = sp
	at.prev = sp
}

// popfront return the first span, nil when the ring is empty.
func (list *spanlist) popfront() *span {
	front := list.head.next
	if front == list.head {
		return nil
	}
	front.remove()
	return front
}

func (list *spanlist) erase(sp *span) {
	if sp == list.head {
		panicerr("erase on spanlist sentinel")
	}
	sp.remove()
}
