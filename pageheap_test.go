package kzalloc

import "math/rand"
import "testing"

func newtestheap(
	npages, shards, threshold int64) (*testsys, *pagemap, *pageheap) {

	ts := newtestsys(npages)
	pmap := newpagemap(ts)
	setts := Defaultsettings().Mixin(testsettings(shards, threshold))
	return ts, pmap, newpageheap(ts, pmap, setts)
}

func TestHeapnewspan(t *testing.T) {
	_, pmap, heap := newtestheap(4096, 1, 1<<20)

	sp := heap.newspan(4, 0)
	if sp == nil {
		t.Fatalf("unable to allocate span")
	} else if sp.npages != 4 {
		t.Errorf("expected %v, got %v", 4, sp.npages)
	} else if !sp.isuse || sp.iscold {
		t.Errorf("unexpected state %+v", sp)
	} else if sp.objsize != 0 {
		t.Errorf("expected unsliced span, got %v", sp.objsize)
	}
	if x := pmap.get(sp.pageid); x != sp {
		t.Errorf("first page not registered")
	} else if y := pmap.get(sp.pageid + sp.npages - 1); y != sp {
		t.Errorf("last page not registered")
	}

	// remainder of the wholesale block is stocked hot
	shard := heap.shardfor(0)
	if x := shard.freehot; x != Npages-1-4 {
		t.Errorf("expected %v, got %v", Npages-1-4, x)
	}

	// split low half first: the next span continues upward
	next := heap.newspan(4, 0)
	if next.pageid != sp.pageid+4 {
		t.Errorf("expected %v, got %v", sp.pageid+4, next.pageid)
	}
}

func TestHeapexactreuse(t *testing.T) {
	_, _, heap := newtestheap(4096, 1, 1<<20)
	sp := heap.newspan(8, 0)
	pageid := sp.pageid
	heap.releasespan(sp)
	// released span coalesces with the wholesale remainder
	again := heap.newspan(8, 0)
	if again.pageid != pageid {
		t.Errorf("expected %v, got %v", pageid, again.pageid)
	}
}

func TestHeaplargedirect(t *testing.T) {
	_, pmap, heap := newtestheap(4096, 1, 1<<20)
	sp := heap.newspan(200, 0)
	if sp.npages != 200 {
		t.Errorf("expected %v, got %v", 200, sp.npages)
	}
	if x := pmap.get(sp.pageid); x != sp {
		t.Errorf("first page not registered")
	} else if y := pmap.get(sp.pageid + 199); y != sp {
		t.Errorf("last page not registered")
	}
	heap.releasespan(sp)
	shard := heap.shardfor(0)
	if x := shard.freehot; x != 200 {
		t.Errorf("expected %v, got %v", 200, x)
	}
	if _, _, ok := shard.hotlarge.lowerbound(200); !ok {
		t.Errorf("expected span in hotlarge")
	}
}

func TestHeapcoalescereclaim(t *testing.T) {
	ts, _, heap := newtestheap(4096, 1, 100)
	shard := heap.shardfor(0)

	// reserve one contiguous 192-page run, then cool it
	run := heap.newspan(192, 0)
	heap.releasespan(run)
	if x := shard.freehot; x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	} else if y := shard.freecold; y != 192 {
		t.Errorf("expected %v, got %v", 192, y)
	} else if z := ts.decommits; z != 1 {
		t.Errorf("expected %v, got %v", 1, z)
	}

	// carve three consecutive 64-page spans out of the cold run
	a := heap.newspan(64, 0)
	b := heap.newspan(64, 0)
	c := heap.newspan(64, 0)
	if b.pageid != a.pageid+64 || c.pageid != b.pageid+64 {
		t.Fatalf("expected consecutive spans %v %v %v",
			a.pageid, b.pageid, c.pageid)
	}
	if x := shard.freecold; x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}

	heap.releasespan(b)
	if x := shard.freehot; x != 64 {
		t.Errorf("expected %v, got %v", 64, x)
	}

	// A merges with B, 128 pages breach the watermark and cool
	heap.releasespan(a)
	if x := shard.freehot; x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	} else if y := shard.freecold; y != 128 {
		t.Errorf("expected %v, got %v", 128, y)
	}

	// C merges with the cold 128-page neighbour into 192 pages,
	// breaches again and the whole run ends cold
	heap.releasespan(c)
	if x := shard.freehot; x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	} else if y := shard.freecold; y != 192 {
		t.Errorf("expected %v, got %v", 192, y)
	}
	if key, list, ok := shard.coldlarge.lowerbound(192); !ok || key != 192 {
		t.Errorf("expected cold 192-page span, got %v %v", key, ok)
	} else if list.empty() {
		t.Errorf("expected non-empty cold list")
	}

	// no pages leaked
	if x := shard.mapped; x != shard.freehot+shard.freecold {
		t.Errorf("expected %v, got %v", shard.mapped, shard.freehot+shard.freecold)
	}
}

func TestHeapghostentries(t *testing.T) {
	_, _, heap := newtestheap(4096, 1, 1<<20)
	shard := heap.shardfor(0)

	// carve both spans out of one reserved run so they are adjacent,
	// separate OS fetches are not (page-map nodes land in between)
	run := heap.newspan(300, 0)
	heap.releasespan(run)
	left := heap.newspan(150, 0)
	right := heap.newspan(150, 0)
	if right.pageid != left.pageid+150 {
		t.Fatalf("expected adjacent spans")
	}
	heap.releasespan(left) // hotlarge[150]
	heap.releasespan(right) // merges into 300, hotlarge[150] now a ghost
	if key, list, ok := shard.hotlarge.lowerbound(150); !ok || key != 150 {
		t.Fatalf("expected ghost entry at 150, got %v %v", key, ok)
	} else if !list.empty() {
		t.Fatalf("expected ghost list to be empty")
	}

	// the probe must erase the ghost and serve from the 300 entry
	sp := heap.newspan(150, 0)
	if sp.npages != 150 {
		t.Errorf("expected %v, got %v", 150, sp.npages)
	}
	if _, _, ok := shard.hotlarge.lowerbound(301); ok {
		t.Errorf("expected no entries above 300")
	}
	// the 150 entry was erased by the probe and re-created for the
	// split remainder, which must be live
	if key, list, ok := shard.hotlarge.lowerbound(1); !ok || key != 150 {
		t.Errorf("expected remainder at 150, got %v %v", key, ok)
	} else if list.empty() {
		t.Errorf("expected live remainder, found another ghost")
	}
}

func TestHeapshardsticky(t *testing.T) {
	_, _, heap := newtestheap(8192, 4, 1<<20)
	for hint := uint64(0); hint < 4; hint++ {
		sp := heap.newspan(4, hint)
		if x := sp.shardid; x != uint8(hint) {
			t.Errorf("expected shard %v, got %v", hint, x)
		}
		heap.releasespan(sp)
	}
	// spans from different shards never coalesce even when the
	// regions happen to be adjacent
	for i := range heap.shards {
		shard := &heap.shards[i]
		if x := shard.freehot; x != Npages-1 {
			t.Errorf("shard %v expected %v, got %v", i, Npages-1, x)
		}
	}
}

func TestHeaprandomized(t *testing.T) {
	_, pmap, heap := newtestheap(262144, 1, 1<<20)
	shard := heap.shardfor(0)
	rnd := rand.New(rand.NewSource(42))

	live := make([]*span, 0, 128)
	for i := 0; i < 1500; i++ {
		if len(live) > 0 && rnd.Intn(2) == 0 {
			at := rnd.Intn(len(live))
			heap.releasespan(live[at])
			live = append(live[:at], live[at+1:]...)
			continue
		}
		k := int64(1 + rnd.Intn(200))
		live = append(live, heap.newspan(k, 0))
	}
	for _, sp := range live {
		heap.releasespan(sp)
	}

	// no two adjacent free spans within the shard survive
	checked := int64(0)
	for i := int64(1); i < Npages; i++ {
		for it := shard.hotsmall[i].begin(); it != shard.hotsmall[i].end(); it = it.next {
			checkneighbours(t, pmap, it)
			checked++
		}
	}
	for _, key := range shard.hotlarge.keys {
		list := shard.hotlarge.lists[key]
		for it := list.begin(); it != list.end(); it = it.next {
			checkneighbours(t, pmap, it)
			checked++
		}
	}
	if checked == 0 {
		t.Errorf("expected free spans after churn")
	}
	if x := shard.mapped; x != shard.freehot+shard.freecold {
		t.Errorf("leaked pages, mapped %v free %v",
			shard.mapped, shard.freehot+shard.freecold)
	}
}

func checkneighbours(t *testing.T, pmap *pagemap, sp *span) {
	t.Helper()
	if left := pmap.get(sp.pageid - 1); left != nil {
		if !left.isuse && left.shardid == sp.shardid {
			t.Errorf("span %v has free left neighbour %v",
				sp.pageid, left.pageid)
		}
	}
	if right := pmap.get(sp.pageid + sp.npages); right != nil {
		if !right.isuse && right.shardid == sp.shardid {
			t.Errorf("span %v has free right neighbour %v",
				sp.pageid, right.pageid)
		}
	}
}
