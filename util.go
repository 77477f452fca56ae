package kzalloc

import "fmt"
import "unsafe"

// nextobj read the link stored in the first word of a free object.
func nextobj(obj unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(obj)
}

// setnextobj overwrite the first word of a free object with link.
func setnextobj(obj, link unsafe.Pointer) {
	*(*unsafe.Pointer)(obj) = link
}

// pageroundup round size up to a multiple of Pagesize.
func pageroundup(size int64) int64 {
	return (size + Pagesize - 1) &^ (Pagesize - 1)
}

// addrofpage first byte of page id.
func addrofpage(pageid int64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(pageid) << Pageshift)
}

// pageof page id owning the address.
func pageof(ptr unsafe.Pointer) int64 {
	return int64(uintptr(ptr) >> Pageshift)
}

// memcpy copy ln bytes between memory blocks obtained outside the
// golang runtime.
func memcpy(dst, src unsafe.Pointer, ln int64) int {
	dstnd := unsafe.Slice((*byte)(dst), ln)
	srcnd := unsafe.Slice((*byte)(src), ln)
	return copy(dstnd, srcnd)
}

func panicerr(fmsg string, args ...interface{}) {
	panic(fmt.Errorf(fmsg, args...))
}
