// Package chainedstream implements a single virtual seekable stream spanning
// several underlying Device I/O streams laid end to end. Xbox 360 USB sticks
// split a single logical volume across a run of same-sized chunk files (FAT32
// on USB media tops out at 4 GiB per file); this package is what lets
// fatx.Device address such a volume as one contiguous byte range.
package chainedstream

import (
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tucana-systems/fatx360/errors"
	"github.com/tucana-systems/fatx360/iostream"
)

// segment is one sub-stream plus the cumulative offset at which it starts in
// the virtual address space.
type segment struct {
	stream iostream.Stream
	start  int64 // inclusive offset of this segment's first byte
	length int64 // length of this specific segment
}

// Stream is a read/write/seek view over a fixed, ordered list of underlying
// streams, addressed as if they were one contiguous stream. It does not
// support SetLength: the segment boundaries are fixed at construction time,
// the same way a chain of USB chunk files has a size decided when the volume
// was formatted.
type Stream struct {
	mu       sync.Mutex
	segments []segment
	total    int64
	pos      int64
}

// New builds a Stream over streams in order. Every stream's length is queried
// once at construction time and is assumed fixed for the Stream's lifetime.
func New(streams []iostream.Stream) (*Stream, error) {
	if len(streams) == 0 {
		return nil, errors.ArgumentOutOfRange.WithMessage("chained stream needs at least one segment")
	}

	segments := make([]segment, len(streams))
	var total int64
	for i, s := range streams {
		length, err := s.Len()
		if err != nil {
			return nil, errors.IOFailed.WrapError(err)
		}
		segments[i] = segment{stream: s, start: total, length: length}
		total += length
	}

	return &Stream{segments: segments, total: total}, nil
}

// locate returns the index of the segment containing byte offset pos, and
// the offset within that segment. pos == total is a valid "at EOF" position
// and resolves to the last segment's length (one past its last valid byte).
// This is a binary search over cumulative segment start offsets rather than
// a linear scan, since a USB volume commonly has a dozen-plus 4 GiB chunks
// and every Read/Write call would otherwise pay for a linear walk.
func (s *Stream) locate(pos int64) (int, int64) {
	index := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].start+s.segments[i].length > pos
	})
	if index == len(s.segments) {
		index = len(s.segments) - 1
	}
	return index, pos - s.segments[index].start
}

func (s *Stream) Len() (int64, error) {
	return s.total, nil
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = s.total + offset
	default:
		return 0, errors.ArgumentOutOfRange.WithMessage("unknown whence value")
	}

	if target < 0 || target > s.total {
		return 0, errors.ArgumentOutOfRange.WithMessage("seek target outside chained stream bounds")
	}

	s.pos = target
	return s.pos, nil
}

// Read fills p from the virtual stream, crossing segment boundaries
// transparently. It returns io.EOF only once the chain's total length is
// exhausted, never at an internal segment boundary.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= s.total {
		return 0, io.EOF
	}

	var read int
	for read < len(p) && s.pos < s.total {
		index, offset := s.locate(s.pos)
		seg := s.segments[index]

		if _, err := seg.stream.Seek(offset, io.SeekStart); err != nil {
			return read, errors.IOFailed.WrapError(err)
		}

		remainingInSegment := seg.length - offset
		want := int64(len(p) - read)
		if want > remainingInSegment {
			want = remainingInSegment
		}

		n, err := seg.stream.Read(p[read : int64(read)+want])
		read += n
		s.pos += int64(n)

		if err != nil && err != io.EOF {
			return read, errors.IOFailed.WrapError(err)
		}
		if n == 0 {
			break
		}
	}

	return read, nil
}

// Write spreads p across however many segments it spans, starting at the
// current position.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos+int64(len(p)) > s.total {
		return 0, errors.ArgumentOutOfRange.WithMessage("write would extend past chained stream's fixed length")
	}

	var written int
	for written < len(p) {
		index, offset := s.locate(s.pos)
		seg := s.segments[index]

		if _, err := seg.stream.Seek(offset, io.SeekStart); err != nil {
			return written, errors.IOFailed.WrapError(err)
		}

		remainingInSegment := seg.length - offset
		want := int64(len(p) - written)
		if want > remainingInSegment {
			want = remainingInSegment
		}

		n, err := seg.stream.Write(p[written : int64(written)+want])
		written += n
		s.pos += int64(n)

		if err != nil {
			return written, errors.IOFailed.WrapError(err)
		}
		if int64(n) < want {
			break
		}
	}

	return written, nil
}

// SetLength/Truncate is unsupported: segment boundaries are fixed once the
// Stream is built.
func (s *Stream) Truncate(int64) error {
	return errors.UnsupportedMode.WithMessage("chained stream length is fixed at construction")
}

// Flush flushes every segment, collecting every failure rather than
// stopping at the first one, so a caller investigating a corrupted multi-file
// volume learns about every chunk that failed to sync, not just the first.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, seg := range s.segments {
		if err := seg.stream.Flush(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes every segment, aggregating errors the same way Flush does.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *multierror.Error
	for _, seg := range s.segments {
		if err := seg.stream.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
