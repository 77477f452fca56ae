package api

// Pageshift page size is fixed at compile time as 1 << Pageshift.
const Pageshift = 13

// Pagesize unit of OS interaction, 8KB.
const Pagesize = int64(1) << Pageshift

// Hugepagethreshold requests of this size and above may be served
// with huge pages by the system allocator.
const Hugepagethreshold = int64(2 * 1024 * 1024)
