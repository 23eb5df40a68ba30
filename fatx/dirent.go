package fatx

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/noxer/bytewriter"

	"github.com/tucana-systems/fatx360/errors"
)

// Attribute bits stored in a dirent's single attribute byte.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrDirectory = 0x10
	AttrArchive   = 0x20
)

// Name-length byte sentinel values. A normal dirent's NameLength is the
// number of significant bytes in Name (1-42); the two sentinels below mark
// special slot states instead of a length.
const (
	// nameLengthDeleted marks a dirent as soft-deleted. The slot's Name field
	// still holds the original bytes, undisturbed, so UndeleteDirent can
	// recover them; per spec the only way to recover a name's real length is
	// to scan for the first 0x00 or 0xff byte in the preserved name bytes.
	nameLengthDeleted byte = 0xe5

	// nameLengthEnd marks the first never-used slot in a directory cluster;
	// ReadDirectory stops walking as soon as it sees this value rather than
	// scanning every remaining slot. A name-length byte of 0x00 is treated
	// identically: a zero-filled cluster and an 0xFF-filled one both mean
	// "empty slot, end of directory".
	nameLengthEnd byte = 0xff
)

// isEndOfDirectorySentinel reports whether b is either byte value that marks
// an unused, never-written dirent slot.
func isEndOfDirectorySentinel(b byte) bool {
	return b == nameLengthEnd || b == 0x00
}

// Dirent is the decoded, in-memory form of one 64-byte FATX directory entry.
type Dirent struct {
	Name         string
	Attributes   uint8
	FirstCluster ClusterID
	FileSize     uint32
	Created      time.Time
	LastModified time.Time
	LastAccessed time.Time

	// deleted tracks on-disk state that Name alone can't represent: a
	// soft-deleted slot keeps Name but reports IsDeleted.
	deleted bool
}

// IsDeleted reports whether this slot has been soft-deleted. A soft-deleted
// dirent is skipped by ReadDirectory and DirentGet, but can be restored with
// UndeleteDirent as long as nothing has overwritten the slot since.
func (d *Dirent) IsDeleted() bool {
	return d.deleted
}

// IsDirectory reports whether this dirent names a directory rather than a
// regular file.
func (d *Dirent) IsDirectory() bool {
	return d.Attributes&AttrDirectory != 0
}

// packDate encodes a time.Time's date component the way FATX stores it: bits
// 0-4 day, 5-8 month, 9-15 year offset from 1980.
func packDate(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	return uint16(t.Day()&0x1f) | uint16(t.Month()&0x0f)<<5 | uint16(year&0x7f)<<9
}

// packTime encodes a time.Time's time-of-day component: bits 0-4 seconds/2,
// 5-10 minutes, 11-15 hours.
func packTime(t time.Time) uint16 {
	if t.IsZero() {
		return 0
	}
	return uint16(t.Second()/2&0x1f) | uint16(t.Minute()&0x3f)<<5 | uint16(t.Hour()&0x1f)<<11
}

func unpackDateTime(date, clock uint16) time.Time {
	if date == 0 && clock == 0 {
		return time.Time{}
	}
	day := int(date & 0x1f)
	month := time.Month((date >> 5) & 0x0f)
	year := 1980 + int((date>>9)&0x7f)

	second := int(clock&0x1f) * 2
	minute := int((clock >> 5) & 0x3f)
	hour := int((clock >> 11) & 0x1f)

	return time.Date(year, month, day, hour, minute, second, 0, time.UTC)
}

// forbiddenNameChars mirrors the control and reserved characters a FATX
// volume name cannot contain, the way a real Xbox 360 title would reject a
// save name with a path separator or device-reserved character in it.
const forbiddenNameChars = "\"*+,/:;<=>?\\|"

// ValidateName checks a proposed dirent name against spec §4.3's rules:
// non-empty, no more than MaxNameLength bytes, and free of characters that
// would be ambiguous in the on-disk fixed-width name field.
func ValidateName(name string) error {
	if len(name) == 0 {
		return errors.InvalidName.WithMessage("name is empty")
	}
	if len(name) > MaxNameLength {
		return errors.InvalidName.WithMessage("name exceeds 42 bytes")
	}
	if name == "." || name == ".." {
		return errors.InvalidName.WithMessage("name cannot be . or ..")
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return errors.InvalidName.WithMessage("name contains a forbidden character")
	}
	for _, b := range []byte(name) {
		if b < 0x20 {
			return errors.InvalidName.WithMessage("name contains a control character")
		}
	}
	return nil
}

// decodeDirent parses one 64-byte slot. ok is false if the slot marks the
// end of the directory (nameLengthEnd) and should stop the walk entirely,
// as opposed to being merely deleted, which still returns a populated Dirent
// with IsDeleted() true.
func decodeDirent(raw []byte) (dirent Dirent, ok bool, err error) {
	if len(raw) != DirentSize {
		return Dirent{}, false, errors.UnexpectedEOF.WithMessage("dirent slot is not 64 bytes")
	}

	nameLength := raw[0]
	if isEndOfDirectorySentinel(nameLength) {
		return Dirent{}, false, nil
	}

	deleted := nameLength == nameLengthDeleted

	nameBytes := raw[2 : 2+MaxNameLength]
	var effectiveLength int
	if deleted {
		// The real length was overwritten; recover it by scanning for the
		// first terminator byte, as described for the undelete path.
		effectiveLength = len(nameBytes)
		for i, b := range nameBytes {
			if b == 0x00 || b == 0xff {
				effectiveLength = i
				break
			}
		}
	} else {
		effectiveLength = int(nameLength)
		if effectiveLength > MaxNameLength {
			return Dirent{}, false, errors.UnexpectedEOF.WithMessage("dirent name length exceeds field width")
		}
	}

	name := string(nameBytes[:effectiveLength])
	attributes := raw[1]
	firstCluster := be32(raw[44:48])
	fileSize := binary.BigEndian.Uint32(raw[48:52])
	createdDate := binary.BigEndian.Uint16(raw[52:54])
	createdTime := binary.BigEndian.Uint16(raw[54:56])
	modifiedDate := binary.BigEndian.Uint16(raw[56:58])
	modifiedTime := binary.BigEndian.Uint16(raw[58:60])
	accessedDate := binary.BigEndian.Uint16(raw[60:62])
	accessedTime := binary.BigEndian.Uint16(raw[62:64])

	d := Dirent{
		Name:         name,
		Attributes:   attributes,
		FirstCluster: ClusterID(firstCluster),
		FileSize:     fileSize,
		Created:      unpackDateTime(createdDate, createdTime),
		LastModified: unpackDateTime(modifiedDate, modifiedTime),
		LastAccessed: unpackDateTime(accessedDate, accessedTime),
		deleted:      deleted,
	}
	return d, true, nil
}

// encodeDirent serializes a dirent back into its 64-byte on-disk slot using
// bytewriter.New over a preallocated buffer, the same "write into a
// preallocated slice with binary.Write" pattern format.go uses for unixv1
// on-disk structures.
func encodeDirent(d *Dirent) ([]byte, error) {
	if err := ValidateName(d.Name); err != nil {
		return nil, err
	}

	buf := make([]byte, DirentSize)
	writer := bytewriter.New(buf)

	nameLength := byte(len(d.Name))
	if d.deleted {
		nameLength = nameLengthDeleted
	}

	if err := writer.WriteByte(nameLength); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}
	if err := writer.WriteByte(d.Attributes); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}

	nameField := make([]byte, MaxNameLength)
	for i := range nameField {
		nameField[i] = 0xff
	}
	copy(nameField, d.Name)
	if _, err := writer.Write(nameField); err != nil {
		return nil, errors.IOFailed.WrapError(err)
	}

	fields := []interface{}{
		uint32(d.FirstCluster),
		d.FileSize,
		packDate(d.Created),
		packTime(d.Created),
		packDate(d.LastModified),
		packTime(d.LastModified),
		packDate(d.LastAccessed),
		packTime(d.LastAccessed),
	}
	for _, f := range fields {
		if err := binary.Write(writer, binary.BigEndian, f); err != nil {
			return nil, errors.IOFailed.WrapError(err)
		}
	}

	return buf, nil
}
