// Package xdbf implements the XDBF (Xbox Dashboard Block File) fixed-file
// block allocator: a best-fit allocator over a single file's data region,
// tracked by an entry table (what's allocated) and a free-space table (what
// isn't), with no directory structure of its own: callers address sections
// by a (namespace, id) pair rather than a path.
package xdbf

// Namespace groups related sections the same way a FATX directory groups
// related dirents, but as a flat tag rather than a tree: achievements,
// images, and strings for one title typically live in the same XDBF file,
// distinguished only by namespace.
type Namespace uint16

const (
	NamespaceAchievement Namespace = 1
	NamespaceImage       Namespace = 2
	NamespaceSetting     Namespace = 3
	NamespaceTitle       Namespace = 10
	NamespaceString      Namespace = 11
	NamespaceAvatarAward Namespace = 12
)

// HeaderSize is the fixed size, in bytes, of the XDBF file header.
const HeaderSize = 24

// EntryTableRowSize and FreeTableRowSize are the fixed sizes, in bytes, of
// one entry-table row (namespace/id/offset/length) and one free-table row
// (offset/length).
const EntryTableRowSize = 18
const FreeTableRowSize = 8

// fileMagic is the 4-byte "XDBF" signature at the start of every file.
const fileMagic uint32 = 0x58444246

// fileVersion is the only version this package writes; Read accepts any
// version but Save always normalizes back to this one.
const fileVersion uint32 = 1
