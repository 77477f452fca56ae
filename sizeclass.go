package kzalloc

import "sync"

// Size classes follow fixed alignment tiers, chosen to keep internal
// fragmentation low for the hot small sizes:
//
//	[1, 128]     8B steps   (16 classes)
//	(128, 1K]    16B steps  (56 classes)
//	(1K, 8K]     128B steps (56 classes)
//	(8K, 64K]    512B steps (112 classes)
//	(64K, 256K]  8KB steps  (24 classes)
//
// Both tables are filled by a single forward pass over [1, Maxbytes]
// so the hot path is a plain array lookup.
var sizetoclass [Maxbytes + 1]uint16
var classtosize [Maxclasses]int64

var sizeonce sync.Once

func initsizeclasses() {
	sizeonce.Do(func() {
		index, blocksize := 0, int64(8)
		for size := int64(1); size <= Maxbytes; size++ {
			if size > blocksize {
				index++
				blocksize = nextblocksize(blocksize)
			}
			sizetoclass[size] = uint16(index)
			if index < Maxclasses {
				classtosize[index] = blocksize
			}
		}
		sizetoclass[0] = 0
	})
}

func nextblocksize(blocksize int64) int64 {
	switch {
	case blocksize < 128:
		return blocksize + 8
	case blocksize < 1024:
		return blocksize + 16
	case blocksize < 8*1024:
		return blocksize + 128
	case blocksize < 64*1024:
		return blocksize + 512
	}
	return blocksize + 8*1024
}

// classof size class index for a request of size bytes.
func classof(size int64) int {
	if size > Maxbytes {
		panicerr("classof size %v exceeds %v", size, Maxbytes)
	}
	return int(sizetoclass[size])
}

// classsize aligned allocation size of class.
func classsize(class int) int64 {
	return classtosize[class]
}

// roundup size to its class size, page aligned above Maxbytes.
func roundup(size int64) int64 {
	if size > Maxbytes {
		return pageroundup(size)
	}
	return classtosize[classof(size)]
}

// nummovesize slow-start ceiling for class, how many objects a
// thread cache may move per batch once fully warmed up.
func nummovesize(class int) int64 {
	num := Maxbytes / classtosize[class]
	if num < 2 {
		num = 2
	} else if num > 32768 {
		num = 32768
	}
	return num
}

// pageneed pages to provision when slicing a fresh span for class
// objects of aligned size.
func pageneed(aligned int64) int64 {
	batch := Maxbytes / aligned
	if batch < 1 {
		batch = 1
	} else if batch > 512 {
		batch = 512
	}
	npages := (batch * aligned) >> Pageshift
	if npages == 0 {
		npages = 1
	}
	return npages
}
