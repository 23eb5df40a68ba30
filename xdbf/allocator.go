package xdbf

import (
	"encoding/binary"
	"io"
	"log"
	"sort"

	"github.com/noxer/bytewriter"

	"github.com/tucana-systems/fatx360/errors"
	"github.com/tucana-systems/fatx360/iostream"
)

// discardLogger is the default Logger: every call site below is nil-safe,
// but giving Logger a real (if silent) value means callers never need a nil
// check of their own.
var discardLogger = log.New(io.Discard, "", 0)

// Allocator is an open XDBF file: its entry table, free-space table, and the
// Device I/O stream backing its data region.
type Allocator struct {
	stream iostream.Stream

	entryTableMax int
	freeTableMax  int

	entries []AllocatedSection
	free    []FreeSection

	dataStart int64

	// Logger records non-fatal anomalies: an allocation that no free span
	// could satisfy until ExpandFileSize grew the file, for instance. Unset means
	// discard; callers can assign a real *log.Logger after Read or New
	// returns.
	Logger *log.Logger
}

func (a *Allocator) logger() *log.Logger {
	if a.Logger == nil {
		return discardLogger
	}
	return a.Logger
}

// Read parses an XDBF file's header, entry table, and free-space table from
// stream. It does not read the data region itself; section data is fetched
// on demand via ReadSection.
func Read(stream iostream.Stream) (*Allocator, error) {
	header := make([]byte, HeaderSize)
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}
	if _, err := io.ReadFull(stream, header); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}

	magic := be32(header[0:4])
	if magic != fileMagic {
		return nil, errors.InvalidXDBF
	}

	entryTableMax := int(be32(header[8:12]))
	entryCount := int(be32(header[12:16]))
	freeTableMax := int(be32(header[16:20]))
	freeCount := int(be32(header[20:24]))

	a := &Allocator{
		stream:        stream,
		entryTableMax: entryTableMax,
		freeTableMax:  freeTableMax,
	}

	entryTableBytes := entryTableMax * EntryTableRowSize
	entryBuf := make([]byte, entryTableBytes)
	if _, err := io.ReadFull(stream, entryBuf); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}

	for i := 0; i < entryCount; i++ {
		row := entryBuf[i*EntryTableRowSize : (i+1)*EntryTableRowSize]
		a.entries = append(a.entries, AllocatedSection{
			Namespace: Namespace(binary.BigEndian.Uint16(row[0:2])),
			ID:        binary.BigEndian.Uint64(row[2:10]),
			Offset:    binary.BigEndian.Uint32(row[10:14]),
			Length:    binary.BigEndian.Uint32(row[14:18]),
		})
	}

	freeTableBytes := freeTableMax * FreeTableRowSize
	freeBuf := make([]byte, freeTableBytes)
	if _, err := io.ReadFull(stream, freeBuf); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}

	for i := 0; i < freeCount; i++ {
		row := freeBuf[i*FreeTableRowSize : (i+1)*FreeTableRowSize]
		a.free = append(a.free, FreeSection{
			Offset: binary.BigEndian.Uint32(row[0:4]),
			Length: binary.BigEndian.Uint32(row[4:8]),
		})
	}

	a.dataStart = int64(HeaderSize + entryTableBytes + freeTableBytes)
	return a, nil
}

// New creates a fresh, empty XDBF allocator over stream with room for
// entryTableMax entries and freeTableMax free-space rows. dataLength is the
// initial size of the data region, all of which starts out as one free
// span.
func New(stream iostream.Stream, entryTableMax, freeTableMax int, dataLength uint32) (*Allocator, error) {
	a := &Allocator{
		stream:        stream,
		entryTableMax: entryTableMax,
		freeTableMax:  freeTableMax,
		dataStart:     int64(HeaderSize + entryTableMax*EntryTableRowSize + freeTableMax*FreeTableRowSize),
	}
	if dataLength > 0 {
		a.free = append(a.free, FreeSection{Offset: 0, Length: dataLength})
	}
	return a, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Save writes the header, entry table, and free-space table back to the
// underlying stream. It does not touch section data.
func (a *Allocator) Save() error {
	if len(a.entries) > a.entryTableMax {
		return errors.NoFreeSlots.WithMessage("entry count exceeds table capacity")
	}
	if len(a.free) > a.freeTableMax {
		return errors.NoFreeSlots.WithMessage("free span count exceeds table capacity")
	}

	totalSize := a.dataStart
	buf := make([]byte, totalSize)
	writer := bytewriter.New(buf)

	header := []interface{}{
		fileMagic,
		fileVersion,
		uint32(a.entryTableMax),
		uint32(len(a.entries)),
		uint32(a.freeTableMax),
		uint32(len(a.free)),
	}
	for _, field := range header {
		if err := binary.Write(writer, binary.BigEndian, field); err != nil {
			return errors.IOFailed.WrapError(err)
		}
	}

	sortedEntries := append([]AllocatedSection(nil), a.entries...)
	sort.Slice(sortedEntries, func(i, j int) bool {
		if sortedEntries[i].Namespace != sortedEntries[j].Namespace {
			return sortedEntries[i].Namespace < sortedEntries[j].Namespace
		}
		return sortedEntries[i].ID < sortedEntries[j].ID
	})

	for _, e := range sortedEntries {
		row := []interface{}{uint16(e.Namespace), e.ID, e.Offset, e.Length}
		for _, field := range row {
			if err := binary.Write(writer, binary.BigEndian, field); err != nil {
				return errors.IOFailed.WrapError(err)
			}
		}
	}
	// Pad unused entry slots with zero rows.
	if _, err := writer.Write(make([]byte, (a.entryTableMax-len(a.entries))*EntryTableRowSize)); err != nil {
		return errors.IOFailed.WrapError(err)
	}

	sortedFree := append([]FreeSection(nil), a.free...)
	sort.Slice(sortedFree, func(i, j int) bool { return sortedFree[i].Offset < sortedFree[j].Offset })

	for _, f := range sortedFree {
		row := []interface{}{f.Offset, f.Length}
		for _, field := range row {
			if err := binary.Write(writer, binary.BigEndian, field); err != nil {
				return errors.IOFailed.WrapError(err)
			}
		}
	}
	if _, err := writer.Write(make([]byte, (a.freeTableMax-len(a.free))*FreeTableRowSize)); err != nil {
		return errors.IOFailed.WrapError(err)
	}

	if _, err := a.stream.Seek(0, io.SeekStart); err != nil {
		return errors.IOFailed.WrapError(err)
	}
	if _, err := a.stream.Write(buf); err != nil {
		return errors.IOFailed.WrapError(err)
	}
	if err := a.stream.Flush(); err != nil {
		return errors.IOFailed.WrapError(err)
	}
	return nil
}

func (a *Allocator) findEntry(namespace Namespace, id uint64) (int, bool) {
	for i, e := range a.entries {
		if e.Namespace == namespace && e.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Entries returns every allocated section currently tracked, across all
// namespaces. The returned slice is a copy; mutating it has no effect on the
// allocator.
func (a *Allocator) Entries() []AllocatedSection {
	result := make([]AllocatedSection, len(a.entries))
	copy(result, a.entries)
	return result
}

// EntriesInNamespace returns the allocated sections belonging to one
// namespace, in no particular order.
func (a *Allocator) EntriesInNamespace(namespace Namespace) []AllocatedSection {
	var result []AllocatedSection
	for _, e := range a.entries {
		if e.Namespace == namespace {
			result = append(result, e)
		}
	}
	return result
}

// Allocate reserves length bytes for (namespace, id) using a best-fit search
// over the free-space table: an exact-size span wins outright, otherwise the
// lowest-offset span that's still big enough does. If nothing fits, Allocate
// makes exactly one call to ExpandFileSize to grow the file's data region
// before giving up with NoSpace.
func (a *Allocator) Allocate(namespace Namespace, id uint64, length uint32) (AllocatedSection, error) {
	if _, exists := a.findEntry(namespace, id); exists {
		return AllocatedSection{}, errors.AlreadyExists
	}
	if len(a.entries) >= a.entryTableMax {
		return AllocatedSection{}, errors.NoFreeSlots.WithMessage("entry table is full")
	}

	section, err := a.allocateFromFreeList(namespace, id, length)
	if err == nil {
		return section, nil
	}

	a.logger().Printf("xdbf: no free span fits %d bytes, expanding file before retry", length)
	if err := a.ExpandFileSize(length); err != nil {
		return AllocatedSection{}, err
	}
	return a.allocateFromFreeList(namespace, id, length)
}

func (a *Allocator) allocateFromFreeList(namespace Namespace, id uint64, length uint32) (AllocatedSection, error) {
	bestIndex := -1
	for i, f := range a.free {
		if f.Length < length {
			continue
		}
		if f.Length == length {
			bestIndex = i
			break
		}
		if bestIndex == -1 || f.Offset < a.free[bestIndex].Offset {
			bestIndex = i
		}
	}
	if bestIndex == -1 {
		return AllocatedSection{}, errors.NoSpace
	}

	chosen := a.free[bestIndex]
	section := AllocatedSection{Namespace: namespace, ID: id, Offset: chosen.Offset, Length: length}

	remaining := chosen.Length - length
	if remaining == 0 {
		a.free = append(a.free[:bestIndex], a.free[bestIndex+1:]...)
	} else {
		a.free[bestIndex] = FreeSection{Offset: chosen.Offset + length, Length: remaining}
	}

	if len(a.free) > a.freeTableMax {
		return AllocatedSection{}, errors.NoFreeSlots.WithMessage("free table is full after split")
	}

	a.entries = append(a.entries, section)
	return section, nil
}

// Free releases the section belonging to (namespace, id), coalescing it
// with any adjacent free spans so ClearAllFreeData and later Allocate calls
// see the largest possible contiguous regions.
func (a *Allocator) Free(namespace Namespace, id uint64) error {
	index, ok := a.findEntry(namespace, id)
	if !ok {
		return errors.NotFound
	}

	entry := a.entries[index]
	a.entries = append(a.entries[:index], a.entries[index+1:]...)

	a.free = append(a.free, FreeSection{Offset: entry.Offset, Length: entry.Length})
	a.coalesceFree()
	return nil
}

func (a *Allocator) coalesceFree() {
	if len(a.free) < 2 {
		return
	}
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].Offset < a.free[j].Offset })

	merged := a.free[:1]
	for _, f := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.Offset+last.Length == f.Offset {
			last.Length += f.Length
		} else {
			merged = append(merged, f)
		}
	}
	a.free = merged
}

// ExpandFileSize grows the file's total data capacity by amount bytes: the
// highest-offset region in the data area is extended in place if it's
// already a free span, or a new free span is appended right after it
// otherwise. Either way the backing stream is lengthened if it is shorter
// than dataStart plus the new capacity; the capacity itself is the end of the
// highest-offset entry or free span, not the stream's length. This is
// the one operation that makes more room exist; Allocate calls it as a
// one-shot fallback when no existing free span fits.
func (a *Allocator) ExpandFileSize(amount uint32) error {
	if amount == 0 {
		return nil
	}

	capacity := a.currentDataCapacity()

	grew := false
	for i, f := range a.free {
		if f.Offset+f.Length == capacity {
			a.free[i].Length += amount
			grew = true
			break
		}
	}
	if !grew {
		if len(a.free) >= a.freeTableMax {
			return errors.NoFreeSlots.WithMessage("free table is full, cannot expand file size")
		}
		a.free = append(a.free, FreeSection{Offset: capacity, Length: amount})
	}

	newStreamLength := a.dataStart + int64(capacity) + int64(amount)
	currentLength, err := a.stream.Len()
	if err != nil {
		return errors.IOFailed.WrapError(err)
	}
	if newStreamLength > currentLength {
		if err := a.stream.Truncate(newStreamLength); err != nil {
			return errors.IOFailed.WrapError(err)
		}
	}
	return nil
}

// ReadSection reads the live data belonging to (namespace, id).
func (a *Allocator) ReadSection(namespace Namespace, id uint64) ([]byte, error) {
	index, ok := a.findEntry(namespace, id)
	if !ok {
		return nil, errors.NotFound
	}
	entry := a.entries[index]

	buf := make([]byte, entry.Length)
	if _, err := a.stream.Seek(a.dataStart+int64(entry.Offset), io.SeekStart); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}
	if _, err := io.ReadFull(a.stream, buf); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}
	return buf, nil
}

func (a *Allocator) writeData(offset uint32, data []byte) error {
	if _, err := a.stream.Seek(a.dataStart+int64(offset), io.SeekStart); err != nil {
		return errors.IOFailed.WrapError(err)
	}
	if _, err := a.stream.Write(data); err != nil {
		return errors.IOFailed.WrapError(err)
	}
	return nil
}

// UpdateSection overwrites the data belonging to (namespace, id). If data is
// longer than the section's current capacity, the existing section is freed
// and reallocated at whatever offset Allocate finds for the new length
// (triggering its own ExpandFileSize fallback if nothing else fits), since
// UpdateSection replaces a section's content outright rather than
// preserving any of what was there before. If that reallocation fails,
// Rebuild compacts the data region once and the allocation is retried; a
// second failure returns NoSpace.
func (a *Allocator) UpdateSection(namespace Namespace, id uint64, data []byte) error {
	index, ok := a.findEntry(namespace, id)
	if !ok {
		return errors.NotFound
	}
	entry := a.entries[index]

	if uint32(len(data)) > entry.Length {
		if err := a.Free(namespace, id); err != nil {
			return err
		}
		grown, err := a.Allocate(namespace, id, uint32(len(data)))
		if err != nil {
			if rebuildErr := a.Rebuild(); rebuildErr != nil {
				return rebuildErr
			}
			grown, err = a.Allocate(namespace, id, uint32(len(data)))
			if err != nil {
				return errors.NoSpace.WrapError(err)
			}
		}
		entry = grown
	}

	index, _ = a.findEntry(namespace, id)
	a.entries[index].Length = uint32(len(data))
	return a.writeData(entry.Offset, data)
}

// Rebuild compacts the data region by walking every allocated section in
// offset order and packing them contiguously from the start, replacing
// whatever fragmented free list existed with a single trailing free span.
// This is the only defragmentation this package performs; it never runs
// implicitly except as UpdateSection's one-shot retry.
func (a *Allocator) Rebuild() error {
	sorted := append([]AllocatedSection(nil), a.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var totalLength uint32
	for _, e := range sorted {
		totalLength += e.Length
	}

	var cursor uint32
	newEntries := make([]AllocatedSection, 0, len(sorted))
	for _, e := range sorted {
		if e.Offset != cursor {
			data, err := a.readRaw(e.Offset, e.Length)
			if err != nil {
				return err
			}
			if err := a.writeData(cursor, data); err != nil {
				return err
			}
		}
		newEntries = append(newEntries, AllocatedSection{
			Namespace: e.Namespace, ID: e.ID, Offset: cursor, Length: e.Length,
		})
		cursor += e.Length
	}

	a.entries = newEntries

	dataCapacity := a.currentDataCapacity()
	a.free = nil
	if dataCapacity > cursor {
		a.free = append(a.free, FreeSection{Offset: cursor, Length: dataCapacity - cursor})
	}
	return nil
}

func (a *Allocator) currentDataCapacity() uint32 {
	var max uint32
	for _, e := range a.entries {
		if end := e.Offset + e.Length; end > max {
			max = end
		}
	}
	for _, f := range a.free {
		if end := f.Offset + f.Length; end > max {
			max = end
		}
	}
	return max
}

func (a *Allocator) readRaw(offset, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := a.stream.Seek(a.dataStart+int64(offset), io.SeekStart); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}
	if _, err := io.ReadFull(a.stream, buf); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}
	return buf, nil
}

// ClearAllFreeData overwrites every byte belonging to a free span with
// zeroes, so stale data isn't visible if the underlying storage is ever
// inspected directly or a new allocation doesn't get a chance to fully
// overwrite what was there before it.
func (a *Allocator) ClearAllFreeData() error {
	zero := make([]byte, 4096)
	for _, f := range a.free {
		remaining := f.Length
		offset := f.Offset
		for remaining > 0 {
			chunk := uint32(len(zero))
			if chunk > remaining {
				chunk = remaining
			}
			if err := a.writeData(offset, zero[:chunk]); err != nil {
				return err
			}
			offset += chunk
			remaining -= chunk
		}
	}
	return nil
}
