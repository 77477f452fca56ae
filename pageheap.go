package kzalloc

import "sort"
import "sync"

import s "github.com/bnclabs/gosettings"
import humanize "github.com/dustin/go-humanize"

import "github.com/Exfdr/KzAlloc/api"

// pageheap owns every page range fetched from the OS, sharded so
// unrelated callers rarely contend on the same mutex. A span is
// pinned to the shard that created it for its entire lifetime and
// coalescing never crosses shard boundaries.
type pageheap struct {
	shards    []pageshard
	shardmask uint64
	sys       api.SystemAllocator
	pmap      *pagemap
}

func newpageheap(
	sys api.SystemAllocator, pmap *pagemap, setts s.Settings) *pageheap {

	nshards := shardcount(setts)
	if nshards > 256 { // shard ids are a byte wide
		nshards = 256
	}
	threshold := shardthreshold(sys, setts, nshards)
	heap := &pageheap{
		shards:    make([]pageshard, nshards),
		shardmask: uint64(nshards - 1),
		sys:       sys,
		pmap:      pmap,
	}
	for i := range heap.shards {
		heap.shards[i].init(uint8(i), threshold, sys, pmap)
	}
	infof(
		"pageheap boots %v shards, watermark %v per shard\n",
		nshards, humanize.Bytes(uint64(threshold<<Pageshift)))
	return heap
}

func (heap *pageheap) shardfor(hint uint64) *pageshard {
	return &heap.shards[hint&heap.shardmask]
}

// newspan a span of k pages from the shard selected by hint.
func (heap *pageheap) newspan(k int64, hint uint64) *span {
	return heap.shardfor(hint).newspan(k)
}

// releasespan return a span to its originating shard.
func (heap *pageheap) releasespan(sp *span) {
	if sp == nil {
		return
	}
	heap.shards[sp.shardid].releasespan(sp)
}

func (heap *pageheap) info() (mapped, hot, cold, spans int64) {
	for i := range heap.shards {
		m, h, c, sp := heap.shards[i].info()
		mapped, hot, cold, spans = mapped+m, hot+h, cold+c, spans+sp
	}
	return
}

func (heap *pageheap) release() {
	for i := range heap.shards {
		heap.shards[i].spanpool.release()
	}
}

// pageshard independently locked partition of the page heap. Spans
// of 1..Npages-1 pages sit in arrays indexed by page count, larger
// spans in ordered maps keyed by page count. Hot structures hold
// committed memory, cold structures hold decommitted ranges whose
// virtual addresses remain reserved.
type pageshard struct {
	mtx       sync.Mutex
	shardid   uint8
	threshold int64
	sys       api.SystemAllocator
	pmap      *pagemap
	spanpool  *objpool[span]

	hotsmall  [Npages]spanlist
	hotlarge  largemap
	coldsmall [Npages]spanlist
	coldlarge largemap

	freehot  int64 // pages across all hot free spans
	freecold int64 // pages across all cold free spans
	mapped   int64 // pages ever fetched from the OS
}

func (shard *pageshard) init(
	id uint8, threshold int64, sys api.SystemAllocator, pmap *pagemap) {

	shard.shardid, shard.threshold = id, threshold
	shard.sys, shard.pmap = sys, pmap
	shard.spanpool = newobjpool[span](sys)
	for i := range shard.hotsmall {
		shard.hotsmall[i].init(shard.spanpool)
		shard.coldsmall[i].init(shard.spanpool)
	}
	shard.hotlarge.init(shard.spanpool)
	shard.coldlarge.init(shard.spanpool)
}

// newspan acquire a span of exactly k pages. Priority: hot exact,
// hot split, hot large, then the cold equivalents, then the OS.
// Requests below Npages that reach the OS wholesale an Npages-1
// block, stock it and retry.
func (shard *pageshard) newspan(k int64) *span {
	if k <= 0 {
		panicerr("newspan with %v pages", k)
	}
	shard.mtx.Lock()
	defer shard.mtx.Unlock()

	for {
		if k < Npages {
			if !shard.hotsmall[k].empty() {
				return shard.carve(shard.hotsmall[k].popfront(), k, false)
			}
			for i := k + 1; i < Npages; i++ {
				if !shard.hotsmall[i].empty() {
					return shard.carve(shard.hotsmall[i].popfront(), k, false)
				}
			}
		}
		if key, list, ok := shard.hotlarge.lowerbound(k); ok {
			if sp := shard.carvelarge(key, list, k, false); sp != nil {
				return sp
			}
			continue // ghost entry erased, retry
		}
		if k < Npages {
			if !shard.coldsmall[k].empty() {
				return shard.carve(shard.coldsmall[k].popfront(), k, true)
			}
			for i := k + 1; i < Npages; i++ {
				if !shard.coldsmall[i].empty() {
					return shard.carve(shard.coldsmall[i].popfront(), k, true)
				}
			}
		}
		if key, list, ok := shard.coldlarge.lowerbound(k); ok {
			if sp := shard.carvelarge(key, list, k, true); sp != nil {
				return sp
			}
			continue
		}

		if k >= Npages {
			ptr := shard.sys.Allocpages(k)
			shard.mapped += k
			sp := shard.makespan(pageof(ptr), k)
			return shard.issue(sp)
		}
		ptr := shard.sys.Allocpages(Npages - 1)
		shard.mapped += Npages - 1
		sp := shard.makespan(pageof(ptr), Npages-1)
		shard.pmap.set(sp.pageid, sp)
		shard.pmap.set(sp.pageid+sp.npages-1, sp)
		shard.hotsmall[Npages-1].pushfront(sp)
		shard.freehot += Npages - 1
	}
}

// carvelarge pop from an ordered-map list, erasing ghost entries
// left behind by coalescing. Returns nil after a ghost erase so the
// caller retries the whole priority chain.
func (shard *pageshard) carvelarge(
	key int64, list *spanlist, k int64, iscold bool) *span {

	sp := list.popfront()
	if sp == nil {
		if iscold {
			shard.coldlarge.erase(key)
		} else {
			shard.hotlarge.erase(key)
		}
		return nil
	}
	return shard.carve(sp, k, iscold)
}

// carve split sp down to k pages and issue the low half.
func (shard *pageshard) carve(sp *span, k int64, iscold bool) *span {
	if iscold {
		shard.freecold -= sp.npages
	} else {
		shard.freehot -= sp.npages
	}
	if sp.npages > k {
		// low half is issued, the remainder keeps the source's
		// temperature and goes back to the matching structure
		rest := shard.makespan(sp.pageid+k, sp.npages-k)
		rest.iscold = iscold
		sp.npages = k
		shard.stash(rest)
		shard.pmap.set(rest.pageid, rest)
		shard.pmap.set(rest.pageid+rest.npages-1, rest)
	}
	return shard.issue(sp)
}

func (shard *pageshard) makespan(pageid, npages int64) *span {
	sp := shard.spanpool.alloc()
	sp.pageid, sp.npages = pageid, npages
	sp.shardid = shard.shardid
	return sp
}

// issue hand a span out of the heap. A cold span is reissued
// without an explicit commit, physical memory demand-faults on
// first write. objsize is cleared so a freshly coalesced span can
// never be misrouted through a stale class size.
func (shard *pageshard) issue(sp *span) *span {
	sp.isuse, sp.iscold = true, false
	sp.objsize, sp.usecount, sp.freelist = 0, 0, nil
	shard.pmap.set(sp.pageid, sp)
	shard.pmap.set(sp.pageid+sp.npages-1, sp)
	return sp
}

func (shard *pageshard) stash(sp *span) {
	if sp.iscold {
		shard.freecold += sp.npages
		if sp.npages < Npages {
			shard.coldsmall[sp.npages].pushfront(sp)
		} else {
			shard.coldlarge.getmake(sp.npages).pushfront(sp)
		}
		return
	}
	shard.freehot += sp.npages
	if sp.npages < Npages {
		shard.hotsmall[sp.npages].pushfront(sp)
	} else {
		shard.hotlarge.getmake(sp.npages).pushfront(sp)
	}
}

// releasespan take back a span whose pages are no longer in use,
// coalescing with free neighbours on either side. Only neighbours
// owned by this shard are merged.
func (shard *pageshard) releasespan(sp *span) {
	shard.mtx.Lock()
	defer shard.mtx.Unlock()

	for {
		left := shard.pmap.get(sp.pageid - 1)
		if left == nil || left.isuse || left.shardid != shard.shardid {
			break
		}
		left.remove()
		if left.iscold {
			shard.freecold -= left.npages
		} else {
			shard.freehot -= left.npages
		}
		sp.pageid = left.pageid
		sp.npages += left.npages
		shard.spanpool.free(left)
	}
	for {
		right := shard.pmap.get(sp.pageid + sp.npages)
		if right == nil || right.isuse || right.shardid != shard.shardid {
			break
		}
		right.remove()
		if right.iscold {
			shard.freecold -= right.npages
		} else {
			shard.freehot -= right.npages
		}
		sp.npages += right.npages
		shard.spanpool.free(right)
	}

	// the merged span may swallow cold ranges, it still re-enters
	// as hot; reclaim will cool it again if it idles past the
	// watermark. Free spans map only their edges.
	sp.isuse, sp.iscold = false, false
	sp.objsize, sp.usecount, sp.freelist = 0, 0, nil
	shard.pmap.set(sp.pageid, sp)
	shard.pmap.set(sp.pageid+sp.npages-1, sp)
	shard.stash(sp)

	if shard.freehot > shard.threshold {
		shard.reclaim()
	}
}

// reclaim decommit hot free spans until the watermark is satisfied,
// largest spans first so small presumably-hot spans survive.
func (shard *pageshard) reclaim() {
	for shard.freehot > shard.threshold {
		key, list, ok := shard.hotlarge.maxkey()
		if !ok {
			break
		}
		if list.empty() {
			shard.hotlarge.erase(key)
			continue
		}
		shard.tocold(list.popfront())
	}
	if shard.freehot <= shard.threshold {
		return
	}
	for i := Npages - 1; i >= 1; i-- {
		list := &shard.hotsmall[i]
		for shard.freehot > shard.threshold && !list.empty() {
			shard.tocold(list.popfront())
		}
		if shard.freehot <= shard.threshold {
			break
		}
	}
}

// tocold decommit the span's physical pages. Page-map entries stay
// intact so neighbours still find this span while coalescing.
func (shard *pageshard) tocold(sp *span) {
	shard.freehot -= sp.npages
	shard.freecold += sp.npages
	sp.iscold = true
	shard.sys.Decommit(addrofpage(sp.pageid), sp.npages<<Pageshift)
	if sp.npages < Npages {
		shard.coldsmall[sp.npages].pushfront(sp)
	} else {
		shard.coldlarge.getmake(sp.npages).pushfront(sp)
	}
	debugf("shard %v cooled %v pages\n", shard.shardid, sp.npages)
}

func (shard *pageshard) info() (mapped, hot, cold, spans int64) {
	shard.mtx.Lock()
	defer shard.mtx.Unlock()
	return shard.mapped, shard.freehot, shard.freecold, shard.spanpool.nrecords
}

// largemap ordered map from page count to span ring, for spans of
// Npages pages and above. Ordering lives in a sorted key slice so
// lowerbound is a binary search, same shape the arena keeps its
// slab sizes in.
type largemap struct {
	pool  *objpool[span]
	keys  []int64
	lists map[int64]*spanlist
}

func (m *largemap) init(pool *objpool[span]) {
	m.pool = pool
	m.lists = make(map[int64]*spanlist)
}

func (m *largemap) getmake(n int64) *spanlist {
	if list, ok := m.lists[n]; ok {
		return list
	}
	list := &spanlist{}
	list.init(m.pool)
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= n })
	m.keys = append(m.keys, 0)
	copy(m.keys[i+1:], m.keys[i:])
	m.keys[i] = n
	m.lists[n] = list
	return list
}

// lowerbound smallest key >= k.
func (m *largemap) lowerbound(k int64) (int64, *spanlist, bool) {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= k })
	if i == len(m.keys) {
		return 0, nil, false
	}
	return m.keys[i], m.lists[m.keys[i]], true
}

func (m *largemap) maxkey() (int64, *spanlist, bool) {
	if len(m.keys) == 0 {
		return 0, nil, false
	}
	key := m.keys[len(m.keys)-1]
	return key, m.lists[key], true
}

func (m *largemap) erase(n int64) {
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= n })
	if i == len(m.keys) || m.keys[i] != n {
		return
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	if list, ok := m.lists[n]; ok {
		m.pool.free(list.head) // recycle the sentinel
		delete(m.lists, n)
	}
}
