// Package osmem implement api.SystemAllocator on raw anonymous
// mappings. Requests at or above api.Hugepagethreshold first try
// huge pages and silently fall back to normal pages. Returned
// ranges are always aligned to api.Pagesize even when the OS page
// is smaller, extra head and tail pages are trimmed back to the OS.
package osmem
