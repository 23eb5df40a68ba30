package fatx

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"log"

	"github.com/hashicorp/go-multierror"

	"github.com/tucana-systems/fatx360/errors"
	"github.com/tucana-systems/fatx360/iostream"
)

// devkitMarker is the value found at device offset 0, read little-endian,
// that distinguishes a devkit hard drive from a retail one once the magic at
// offset 0x80000 has already confirmed FATX. It's the one field in the probe
// that reads little-endian rather than big; see Probe.
const devkitMarker = 0x020000

// devkitTableSectorSize is the sector size the devkit dynamic partition
// table's index/count pairs are expressed in.
const devkitTableSectorSize = 0x200

// driveSizeQuirkTotal/driveSizeQuirkOverride implement spec §4.5's 20 GB
// drive quirk: a device of exactly this size gets its last partition's size
// overridden rather than computed, a known firmware oddity rather than
// anything derivable from the rest of the layout math.
const driveSizeQuirkTotal = 0x04AB440C00
const driveSizeQuirkOverride = 0x377FFC000

// discardLogger is the default Logger: every call site below is nil-safe,
// but giving Logger a real (if silent) value means callers never need a nil
// check of their own.
var discardLogger = log.New(io.Discard, "", 0)

// Device is a probed Xbox 360 storage device: a Device I/O stream plus the
// fixed partition layout that applies to its DeviceKind.
type Device struct {
	stream   iostream.Stream
	Kind     DeviceKind
	total    int64
	readOnly bool

	// Logger records non-fatal anomalies such as a layout entry that turned
	// out not to be FATX-formatted. Unset means discard; a caller can
	// assign a real *log.Logger after NewDevice returns.
	Logger *log.Logger
}

// NewDevice wraps stream as a Device of the given kind. total is the
// device's total addressable size in bytes (the whole chained-stream length
// for a multi-chunk USB volume, not any one chunk's size). Use this when the
// device kind is already known; use OpenDevice to probe it from stream.
func NewDevice(stream iostream.Stream, kind DeviceKind, readOnly bool) (*Device, error) {
	total, err := stream.Len()
	if err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}
	return &Device{stream: stream, Kind: kind, total: total, readOnly: readOnly}, nil
}

// OpenDevice wraps stream as a Device, probing its DeviceKind per spec §4.5
// rather than requiring the caller to already know it.
func OpenDevice(stream iostream.Stream, readOnly bool) (*Device, error) {
	kind, err := Probe(stream)
	if err != nil {
		return nil, err
	}
	return NewDevice(stream, kind, readOnly)
}

// Probe inspects stream's leading bytes to determine which of the fixed
// partition layouts (§4.5) applies, without assuming the caller already
// knows the device's kind:
//
//  1. Read the big-endian u32 at offset 0. If it's the FATX magic, a second
//     magic at 0x7FF000 means MemoryCard; otherwise USBStick.
//  2. Otherwise, check for the FATX magic at 0x80000 (a hard drive's first
//     partition). If found, re-read offset 0 as a little-endian u32: the
//     devkit marker means HardDriveDevkit, anything else HardDrive.
//  3. Otherwise Unknown.
func Probe(stream iostream.Stream) (DeviceKind, error) {
	magicAt := func(offset int64) (uint32, bool) {
		buf := make([]byte, 4)
		if _, err := stream.Seek(offset, io.SeekStart); err != nil {
			return 0, false
		}
		if _, err := io.ReadFull(stream, buf); err != nil {
			return 0, false
		}
		return binary.BigEndian.Uint32(buf), true
	}

	if magic, ok := magicAt(0); ok && magic == partitionMagic {
		if magic2, ok := magicAt(0x7FF000); ok && magic2 == partitionMagic {
			return DeviceKindMemoryCard, nil
		}
		return DeviceKindUSBStick, nil
	}

	if magic, ok := magicAt(0x80000); ok && magic == partitionMagic {
		markerBuf := make([]byte, 4)
		if _, err := stream.Seek(0, io.SeekStart); err != nil {
			return DeviceKindUnknown, errors.IOFailed.WrapError(err)
		}
		if _, err := io.ReadFull(stream, markerBuf); err != nil {
			return DeviceKindUnknown, errors.IOFailed.WrapError(err)
		}
		if binary.LittleEndian.Uint32(markerBuf) == devkitMarker {
			return DeviceKindHardDriveDevkit, nil
		}
		return DeviceKindHardDrive, nil
	}

	return DeviceKindUnknown, nil
}

func (d *Device) logger() *log.Logger {
	if d.Logger == nil {
		return discardLogger
	}
	return d.Logger
}

// OpenedPartition pairs a successfully opened partition with the layout
// entry it came from.
type OpenedPartition struct {
	Layout    PartitionLayout
	Partition *Partition
}

// OpenPartitions opens every partition in the device's fixed layout. A
// partition whose header simply doesn't carry the FATX magic (NotFATX) is
// silently skipped: an unformatted or reserved region is expected, not an
// error, and spec §7 only surfaces NotFATX to a caller that asks to open
// that one partition directly. Any other failure (a read error, a truncated
// image) is collected via go-multierror so a caller learns about every
// partition that failed for a real reason, not just the first.
func (d *Device) OpenPartitions() ([]OpenedPartition, error) {
	layouts, err := d.resolveLayouts()
	if err != nil {
		return nil, err
	}

	var opened []OpenedPartition
	var problems *multierror.Error

	for _, layout := range layouts {
		size := layout.ResolvedSize(d.total)
		if size <= 0 {
			continue
		}

		sub := io.NewSectionReader(asReaderAt{d.stream}, layout.Offset, size)
		partitionStream := &sectionStream{reader: sub, stream: d.stream, offset: layout.Offset, size: size}

		partition, err := Open(partitionStream, size, d.partitionKind(), d.readOnly)
		if err != nil {
			if stderrors.Is(err, errors.NotFATX) {
				d.logger().Printf("fatx: partition %q at offset %d is not FATX-formatted, skipping", layout.Name, layout.Offset)
				continue
			}
			problems = multierror.Append(problems, err)
			continue
		}

		opened = append(opened, OpenedPartition{Layout: layout, Partition: partition})
	}

	return opened, problems.ErrorOrNil()
}

// OpenPartitionAt opens the single partition named name in the device's
// layout, surfacing NotFATX directly rather than silently skipping it, since
// a caller naming one specific partition wants to know if it isn't FATX.
func (d *Device) OpenPartitionAt(name string) (*Partition, error) {
	layouts, err := d.resolveLayouts()
	if err != nil {
		return nil, err
	}

	for _, layout := range layouts {
		if layout.Name != name {
			continue
		}
		size := layout.ResolvedSize(d.total)
		sub := io.NewSectionReader(asReaderAt{d.stream}, layout.Offset, size)
		partitionStream := &sectionStream{reader: sub, stream: d.stream, offset: layout.Offset, size: size}
		return Open(partitionStream, size, d.partitionKind(), d.readOnly)
	}

	return nil, errors.NotFound.WithMessage("no partition named " + name + " in this device's layout")
}

// partitionKind reports which Open variant applies to every partition on
// this device: only a USBStick device carries the USB layout quirks (§3
// "Partition types"); every other kind is Regular.
func (d *Device) partitionKind() PartitionKind {
	if d.Kind == DeviceKindUSBStick {
		return PartitionUSB
	}
	return PartitionRegular
}

// resolveLayouts returns this device's partition layout: the fixed table for
// its kind, plus, for a devkit hard drive, the dynamic partition table read
// live from the device itself, plus the 20 GB drive-size quirk override.
func (d *Device) resolveLayouts() ([]PartitionLayout, error) {
	layouts, err := LayoutForDeviceKind(d.Kind)
	if err != nil {
		return nil, err
	}

	if d.Kind == DeviceKindHardDriveDevkit {
		dynamic, err := readDevkitDynamicPartitions(d.stream, len(layouts))
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, dynamic...)
	}

	if d.total == driveSizeQuirkTotal && len(layouts) > 0 {
		layouts[len(layouts)-1].SizeBytes = driveSizeQuirkOverride
	}

	return layouts, nil
}

// readDevkitDynamicPartitions reads the devkit hard drive's variable-count
// partition table: pairs of big-endian u32 sector-index/sector-count at
// device offset 8, terminated by a zero index. startIndex continues the
// partition_index numbering after the fixed Dump/Windows/System entries.
func readDevkitDynamicPartitions(stream iostream.Stream, startIndex int) ([]PartitionLayout, error) {
	if _, err := stream.Seek(8, io.SeekStart); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}

	var layouts []PartitionLayout
	buf := make([]byte, 8)
	for i := startIndex; ; i++ {
		if _, err := io.ReadFull(stream, buf); err != nil {
			return nil, errors.IOFailed.WrapError(err)
		}

		sectorIndex := binary.BigEndian.Uint32(buf[0:4])
		sectorCount := binary.BigEndian.Uint32(buf[4:8])
		if sectorIndex == 0 {
			break
		}

		layouts = append(layouts, PartitionLayout{
			DeviceKind: string(DeviceKindHardDriveDevkit),
			Name:       fmt.Sprintf("Data%d", i-startIndex),
			Index:      i,
			Offset:     int64(sectorIndex) * devkitTableSectorSize,
			SizeBytes:  int64(sectorCount) * devkitTableSectorSize,
		})
	}

	return layouts, nil
}

// asReaderAt adapts an iostream.Stream (seek+read) to io.ReaderAt by
// serializing access through Seek+Read. Device I/O in this module is
// single-threaded (see spec §5), so this is safe without extra locking.
type asReaderAt struct {
	stream iostream.Stream
}

func (r asReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := r.stream.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(r.stream, p)
}

// sectionStream presents one offset+size window of a larger Device I/O
// stream as its own self-contained Stream, the same role ClusterStream's
// BlockStream windowing plays, but expressed directly at the byte level
// since a FATX partition isn't a uniform block/cluster abstraction until
// Partition.Open parses its own header and chain map.
type sectionStream struct {
	reader *io.SectionReader
	stream iostream.Stream
	offset int64
	size   int64
}

func (s *sectionStream) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *sectionStream) Seek(offset int64, whence int) (int64, error) {
	return s.reader.Seek(offset, whence)
}

func (s *sectionStream) Write(p []byte) (int, error) {
	pos, err := s.reader.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if pos+int64(len(p)) > s.size {
		return 0, errors.ArgumentOutOfRange.WithMessage("write past end of partition window")
	}
	if _, err := s.stream.Seek(s.offset+pos, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := s.stream.Write(p)
	if _, seekErr := s.reader.Seek(pos+int64(n), io.SeekStart); seekErr != nil && err == nil {
		err = seekErr
	}
	return n, err
}

func (s *sectionStream) Close() error { return nil }
func (s *sectionStream) Flush() error { return s.stream.Flush() }
func (s *sectionStream) Truncate(int64) error {
	return errors.UnsupportedMode.WithMessage("a partition window within a device cannot change size")
}
func (s *sectionStream) Len() (int64, error) { return s.size, nil }
