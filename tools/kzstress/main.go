package main

import "flag"
import "fmt"
import "math/rand"
import "strconv"
import "strings"
import "sync"
import "time"
import "unsafe"

import hm "github.com/dustin/go-humanize"

import kz "github.com/Exfdr/KzAlloc"

var options struct {
	routines int
	n        int
	sizes    [2]int // min-size, max-size
	keep     int    // live objects per routine
	log      string
}

func argParse() {
	var sizes string

	flag.IntVar(&options.routines, "routines", 4,
		"number of concurrent routines hammering the allocator")
	flag.IntVar(&options.n, "n", 1000000,
		"number of alloc/free operations per routine")
	flag.StringVar(&sizes, "sizes", "",
		"minsize,maxsize - allocate between [minsize,maxsize)")
	flag.IntVar(&options.keep, "keep", 512,
		"live objects kept per routine")
	flag.StringVar(&options.log, "log", "",
		"enable logging for components")
	flag.Parse()

	options.sizes = [2]int{8, 1024}
	if sizes != "" {
		for i, s := range strings.Split(sizes, ",") {
			ln, _ := strconv.Atoi(s)
			options.sizes[i] = ln
		}
	}
	if options.log != "" {
		kz.LogComponents(options.log)
	}
}

func main() {
	argParse()

	mallocer := kz.New(kz.Defaultsettings())
	now := time.Now()

	var wg sync.WaitGroup
	for r := 0; r < options.routines; r++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			stress(mallocer, seed)
		}(int64(r))
	}
	wg.Wait()

	took := time.Since(now)
	total := int64(options.routines) * int64(options.n)
	rate := float64(total) / took.Seconds()
	fmt.Printf("%v operations in %v, %v ops/sec\n",
		total, took, hm.Comma(int64(rate)))

	mapped, hot, cold, spans := mallocer.Info()
	fmt.Printf("mapped: %v\n", hm.Bytes(uint64(mapped*int64(kz.Pagesize))))
	fmt.Printf("hot:    %v\n", hm.Bytes(uint64(hot*int64(kz.Pagesize))))
	fmt.Printf("cold:   %v\n", hm.Bytes(uint64(cold*int64(kz.Pagesize))))
	fmt.Printf("spans:  %v\n", spans)
}

// each routine keeps a ring of live objects, replacing a random
// victim on every iteration so frees interleave with allocations
// at every size class.
func stress(mallocer *kz.Allocator, seed int64) {
	rnd := rand.New(rand.NewSource(seed))
	minsz, maxsz := options.sizes[0], options.sizes[1]

	type chunk struct {
		ptr  unsafe.Pointer
		size int64
	}
	ring := make([]chunk, options.keep)
	for i := 0; i < options.n; i++ {
		at := rnd.Intn(len(ring))
		if ring[at].ptr != nil {
			mallocer.Freesized(ring[at].ptr, ring[at].size)
		}
		size := int64(minsz + rnd.Intn(maxsz-minsz))
		ptr := mallocer.Alloc(size)
		block := unsafe.Slice((*byte)(ptr), size)
		block[0] = byte(i)
		ring[at] = chunk{ptr: ptr, size: size}
	}
	for _, ck := range ring {
		if ck.ptr != nil {
			mallocer.Freesized(ck.ptr, ck.size)
		}
	}
}
