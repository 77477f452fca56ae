package kzalloc

import "math/rand"
import "sync"
import "testing"
import "unsafe"

func TestAllocalignment(t *testing.T) {
	kz := Default()
	for size := int64(1); size <= 4096; size++ {
		ptr := kz.Alloc(size)
		if ptr == nil {
			t.Fatalf("size %v allocation failed", size)
		} else if x := uintptr(ptr) & 7; x != 0 {
			t.Fatalf("size %v pointer %p misaligned", size, ptr)
		}
		kz.Freesized(ptr, size)
	}
}

func TestAlloczero(t *testing.T) {
	kz := Default()
	if ptr := kz.Alloc(0); ptr != nil {
		t.Errorf("expected nil, got %p", ptr)
	}
	kz.Free(nil)            // no-op
	kz.Freesized(nil, 1024) // no-op
}

func TestAllochuge(t *testing.T) {
	kz := Default()
	size := int64(1 << 20)
	ptr := kz.Alloc(size)
	if ptr == nil {
		t.Fatalf("huge allocation failed")
	} else if uintptr(ptr)&uintptr(Pagesize-1) != 0 {
		t.Fatalf("huge allocation not page aligned %p", ptr)
	}
	block := unsafe.Slice((*byte)(ptr), size)
	block[0], block[size-1] = 'A', 'Z'
	if block[0] != 'A' || block[size-1] != 'Z' {
		t.Errorf("huge block not writable")
	}

	sp := kz.pmap.get(pageof(ptr))
	if sp == nil {
		t.Fatalf("huge block not in reverse map")
	} else if sp.objsize != size {
		t.Errorf("expected %v, got %v", size, sp.objsize)
	}
	kz.Free(ptr)
}

func TestAllocreversemap(t *testing.T) {
	kz := Default()
	for _, size := range []int64{1, 13, 100, 1024, 9000, Maxbytes} {
		ptr := kz.Alloc(size)
		sp := kz.pmap.get(pageof(ptr))
		if sp == nil {
			t.Fatalf("size %v pointer unmapped", size)
		} else if sp.objsize < size {
			t.Errorf("size %v mapped objsize %v", size, sp.objsize)
		} else if x := roundup(size); sp.objsize != x {
			t.Errorf("expected %v, got %v", x, sp.objsize)
		}
		kz.Free(ptr) // unsized path exercises the reverse lookup
	}
}

func TestCrossroutinefree(t *testing.T) {
	kz := Default()
	pointers := make(chan unsafe.Pointer, 1024)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() { // producer
		defer wg.Done()
		rnd := rand.New(rand.NewSource(7))
		for i := 0; i < 100000; i++ {
			size := int64(1 + rnd.Intn(1024))
			ptr := kz.Alloc(size)
			block := unsafe.Slice((*byte)(ptr), size)
			block[0] = byte(i)
			pointers <- ptr
		}
		close(pointers)
	}()
	go func() { // consumer
		defer wg.Done()
		for ptr := range pointers {
			kz.Free(ptr)
		}
	}()
	wg.Wait()

	mapped, hot, cold, _ := kz.Info()
	if hot+cold > mapped {
		t.Errorf("accounting broke, mapped %v hot %v cold %v",
			mapped, hot, cold)
	}
}

func TestContentionstorm(t *testing.T) {
	kz := Default()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen := make(map[unsafe.Pointer]bool, 10000)
			for i := 0; i < 10000; i++ {
				ptr := kz.Alloc(8)
				if seen[ptr] {
					t.Errorf("pointer %p handed out twice", ptr)
					return
				}
				seen[ptr] = true
			}
			for ptr := range seen {
				kz.Freesized(ptr, 8)
			}
		}()
	}
	wg.Wait()
}

func TestRealloc(t *testing.T) {
	kz := Default()

	// nil pointer behaves like Alloc
	ptr := kz.Realloc(nil, 0, 100)
	if ptr == nil {
		t.Fatalf("realloc from nil failed")
	}
	// same class stays in place
	if x := kz.Realloc(ptr, 100, 104); x != ptr {
		t.Errorf("expected in-place, got %p", x)
	}
	// shrink is lazy
	if x := kz.Realloc(ptr, 104, 10); x != ptr {
		t.Errorf("expected lazy shrink, got %p", x)
	}
	// grow copies content
	block := unsafe.Slice((*byte)(ptr), 104)
	for i := range block {
		block[i] = byte(i)
	}
	grown := kz.Realloc(ptr, 104, 4096)
	if grown == ptr {
		t.Errorf("expected relocation")
	}
	gblock := unsafe.Slice((*byte)(grown), 104)
	for i := range gblock {
		if gblock[i] != byte(i) {
			t.Fatalf("byte %v lost in relocation", i)
		}
	}
	// size zero frees
	if x := kz.Realloc(grown, 4096, 0); x != nil {
		t.Errorf("expected nil, got %p", x)
	}
}

func TestReallocunsized(t *testing.T) {
	kz := Default()
	ptr := kz.Alloc(100)
	if x := kz.Reallocunsized(ptr, 104); x != ptr {
		t.Errorf("expected in-place, got %p", x)
	}
	grown := kz.Reallocunsized(ptr, 64*1024)
	if grown == ptr {
		t.Errorf("expected relocation")
	}
	kz.Freesized(grown, 64*1024)

	if x := kz.Reallocunsized(nil, 64); x == nil {
		t.Errorf("expected allocation from nil")
	} else {
		kz.Freesized(x, 64)
	}
}

func TestDefaultsettings(t *testing.T) {
	setts := Defaultsettings()
	if x := setts.Int64("shard.count"); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}
	if x := setts.Int64("shard.threshold.pages"); x != 0 {
		t.Errorf("expected %v, got %v", 0, x)
	}
}
