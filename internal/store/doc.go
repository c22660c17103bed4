// Package store keeps published artifact trees keyed by fingerprint under a
// cache root.
//
// Layout:
//
//	{Root}/
//	  {fingerprint}/
//	    .artifactcache-entry.cbor   manifest: file list, sizes, digests
//	    ...artifact files...
//	  .tmp-{fingerprint}-*/          publication in flight
//	  .work-*/                       computation in flight
//
// An entry exists if and only if its fingerprint directory exists. That
// directory only ever appears through a single os.Rename of a fully written
// temporary sibling, so readers never observe a partial entry. Entries are
// never modified after publication.
//
// Any number of processes may publish the same fingerprint concurrently
// without locks. Each writes its own temporary directory; the first rename
// wins and the others discard their copy and report success. This relies on
// computations being deterministic, so every candidate tree is equivalent.
//
// Damage to a visible entry is reported as ErrCacheCorrupt and never
// downgraded to a cache miss.
package store
