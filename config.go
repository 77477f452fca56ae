package kzalloc

import "os"
import "strconv"
import "runtime"

import s "github.com/bnclabs/gosettings"

import "github.com/Exfdr/KzAlloc/api"

// Pageshift page size is 1 << Pageshift (8KB).
const Pageshift = api.Pageshift

// Pagesize unit of OS interaction.
const Pagesize = api.Pagesize

// Maxbytes largest request served by the size-class tiers, larger
// requests go straight to the page heap.
const Maxbytes = int64(256 * 1024)

// Maxclasses number of size classes between 1 byte and Maxbytes.
const Maxclasses = 264

// Npages spans of 1..Npages-1 pages live in per-count arrays,
// larger spans in ordered maps.
const Npages = int64(128)

// Alignment chunks are always multiples of 8 bytes.
const Alignment = int64(8)

// Kzalloc configurable parameters and default settings.
//
// "shard.count" (int64, default: 0)
//		Number of page-heap shards, rounded up to a power of 2.
//		0 picks a value from the core count: cores*4 when the
//		machine has 32 or more cores, else cores*2.
//
// "shard.threshold.pages" (int64, default: 0)
//		Per-shard hot-page watermark above which free spans are
//		decommitted. 0 computes min(RAM/4, 4GB) spread over the
//		shards, floored at 4096 pages. The environment variable
//		KZALLOC_SHARD_THRESHOLD_PAGES overrides both.
func Defaultsettings() s.Settings {
	return s.Settings{
		"shard.count":           int64(0),
		"shard.threshold.pages": int64(0),
	}
}

func shardcount(setts s.Settings) int64 {
	target := setts.Int64("shard.count")
	if target <= 0 {
		cores := int64(runtime.NumCPU())
		if cores <= 0 {
			cores = 8
		}
		if cores >= 32 {
			target = cores * 4
		} else {
			target = cores * 2
		}
	}
	count := int64(1)
	for count < target {
		count <<= 1
	}
	return count
}

func shardthreshold(
	sys api.SystemAllocator, setts s.Settings, nshards int64) int64 {

	if env := os.Getenv("KZALLOC_SHARD_THRESHOLD_PAGES"); env != "" {
		if val, err := strconv.ParseInt(env, 10, 64); err == nil && val > 0 {
			return val
		}
	}
	if val := setts.Int64("shard.threshold.pages"); val > 0 {
		return val
	}
	maxcache := sys.Physicalmemory() / 4
	if hardlimit := int64(4 * 1024 * 1024 * 1024); maxcache > hardlimit {
		maxcache = hardlimit
	}
	threshold := (maxcache >> Pageshift) / nshards
	if threshold < 4096 {
		threshold = 4096
	}
	return threshold
}
