package osmem

import "errors"
import "unsafe"

import "golang.org/x/sys/unix"

const decommitadvice = unix.MADV_FREE

var errnohuge = errors.New("osmem.nohugepages")

// Darwin has no MAP_HUGETLB, superpages are best handled by the
// kernel. Always report failure so the caller maps normal pages.
func mmaphuge(size int64) (unsafe.Pointer, error) {
	return nil, errnohuge
}
