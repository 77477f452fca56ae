package kzalloc

import "sync/atomic"
import "unsafe"

import "github.com/Exfdr/KzAlloc/api"
import "github.com/Exfdr/KzAlloc/osmem"

// testsys carves sequential page runs out of one reserved region so
// tests see deterministic adjacency and can account every page.
type testsys struct {
	cursor    int64 // byte offset into region
	decommits int64
	frees     int64
	region    unsafe.Pointer
	capacity  int64
}

func newtestsys(npages int64) *testsys {
	sys := osmem.New()
	return &testsys{
		region:   sys.Allocpages(npages),
		capacity: npages << Pageshift,
	}
}

func (ts *testsys) Allocpages(npages int64) unsafe.Pointer {
	nbytes := npages << Pageshift
	off := atomic.AddInt64(&ts.cursor, nbytes) - nbytes
	if off+nbytes > ts.capacity {
		panic(api.ErrorOutofMemory)
	}
	return unsafe.Add(ts.region, off)
}

func (ts *testsys) Freepages(ptr unsafe.Pointer, npages int64) {
	atomic.AddInt64(&ts.frees, 1)
}

func (ts *testsys) Decommit(ptr unsafe.Pointer, nbytes int64) {
	atomic.AddInt64(&ts.decommits, 1)
}

func (ts *testsys) Physicalmemory() int64 {
	return 8 * 1024 * 1024 * 1024
}

func testsettings(shards, threshold int64) map[string]interface{} {
	return map[string]interface{}{
		"shard.count":           shards,
		"shard.threshold.pages": threshold,
	}
}
