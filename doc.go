// Package kzalloc supplies a general purpose concurrent memory
// allocator built as a three tier cache hierarchy:
//
// threadcache:
//
// Per-caller front end of per-size-class free lists with a slow-start
// batch policy. Lock free, a cache is owned by one caller at a time.
//
// centralcache:
//
// Per-size-class buckets of partially sliced spans, each bucket under
// its own spin lock. Brokers object runs between thread caches and
// the page heap.
//
// pageheap:
//
// Sharded owner of page ranges. Coalesces adjacent free spans within
// a shard, keeps hot (committed) and cold (decommitted) free lists
// and gives physical memory back to the OS past a per-shard
// watermark.
//
// Memory handed out by this package lives outside the Go heap and is
// never scanned by the garbage collector. Chunks are always 64-bit
// aligned. Allocation sizes up to Maxbytes are rounded to one of 264
// size classes, larger requests are page aligned and served straight
// from the page heap.
package kzalloc
