package osmem

import "unsafe"

import "golang.org/x/sys/unix"

const decommitadvice = unix.MADV_DONTNEED

func mmaphuge(size int64) (unsafe.Pointer, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS |
		unix.MAP_HUGETLB | unix.MAP_POPULATE
	return unix.MmapPtr(-1, 0, nil, uintptr(size), prot, flags)
}
