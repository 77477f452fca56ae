package api

import "errors"

// ErrorOutofMemory OS refused to map more memory. Raised as panic
// from allocation paths, callers of Alloc/Realloc should treat it
// as fatal or recover at a suitable boundary.
var ErrorOutofMemory = errors.New("kzalloc.outofmemory")

// ErrorInvalidPointer deallocated address has no page-map entry.
var ErrorInvalidPointer = errors.New("kzalloc.invalidpointer")
