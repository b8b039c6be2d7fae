/*
Package cache stores expiring metadata for one mounted volume.

Entries are addressed by a Key of Kind and normalized path, so attribute,
directory and disk-info values of the same path never collide:

	KindAttr      path -> *remote.Attributes
	KindDir       path -> *DirListing (write time at fill + entries)
	KindDiskInfo  ""   -> DiskInfo

A directory listing is only valid while the directory's current write time
equals the snapshot time; GetFreshDir enforces that. Mutations call
Invalidate on the path and InvalidateParent so the next lookup goes remote.

The cache is bounded by MaxEntries with least-recently-used eviction, and a
background loop purges expired entries every CleanupInterval.
*/
package cache
