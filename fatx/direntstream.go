package fatx

import (
	"io"

	"github.com/tucana-systems/fatx360/errors"
)

// OpenMode names how DirentStream should reconcile a requested name against
// whatever is (or isn't) already in the parent directory, mirroring the
// explicit enumeration of file stream open modes named in spec §4.4 rather
// than the bitmask-of-POSIX-flags style api.go's MountFlags uses for mount
// options.
type OpenMode int

const (
	// OpenExisting opens name; fails with NotFound if it doesn't exist.
	OpenExisting OpenMode = iota
	// CreateAlways creates name, truncating it first if it already exists.
	CreateAlways
	// OpenOrCreate opens name if it exists, creates it otherwise.
	OpenOrCreate
	// OpenAppend opens name (creating it if missing) with the position
	// initially at end-of-file.
	OpenAppend
	// OpenTruncate opens an existing name and immediately truncates it to
	// zero length.
	OpenTruncate
	// CreateNew creates name, failing with AlreadyExists if it's already
	// present.
	CreateNew
)

// DirentStream is a seekable, growable view over one file dirent's data,
// addressed cluster by cluster through its parent Partition. It implements
// the Device I/O Stream interface so higher-level code can treat an open
// FATX file exactly like any other iostream.Stream.
type DirentStream struct {
	partition     *Partition
	parentCluster ClusterID
	name          string
	dirent        Dirent
	pos           int64
	readOnly      bool
	closed        bool
}

// OpenDirentStream opens name inside the directory rooted at parentCluster
// according to mode.
func OpenDirentStream(p *Partition, parentCluster ClusterID, name string, mode OpenMode, readOnly bool) (*DirentStream, error) {
	existing, lookupErr := p.DirentGet(parentCluster, name)

	switch mode {
	case OpenExisting:
		if lookupErr != nil {
			return nil, lookupErr
		}
	case CreateAlways:
		if lookupErr == nil {
			if err := truncateDirent(p, parentCluster, &existing); err != nil {
				return nil, err
			}
		} else {
			created, err := p.CreateDirent(parentCluster, name, false)
			if err != nil {
				return nil, err
			}
			existing = created
		}
	case OpenOrCreate:
		if lookupErr != nil {
			created, err := p.CreateDirent(parentCluster, name, false)
			if err != nil {
				return nil, err
			}
			existing = created
		}
	case OpenAppend:
		if lookupErr != nil {
			created, err := p.CreateDirent(parentCluster, name, false)
			if err != nil {
				return nil, err
			}
			existing = created
		}
	case OpenTruncate:
		if lookupErr != nil {
			return nil, lookupErr
		}
		if err := truncateDirent(p, parentCluster, &existing); err != nil {
			return nil, err
		}
	case CreateNew:
		if lookupErr == nil {
			return nil, errors.AlreadyExists.WithMessage(name)
		}
		created, err := p.CreateDirent(parentCluster, name, false)
		if err != nil {
			return nil, err
		}
		existing = created
	default:
		return nil, errors.UnsupportedMode.WithMessage("unrecognized open mode")
	}

	if existing.IsDirectory() {
		return nil, errors.UnsupportedMode.WithMessage("cannot open a directory as a file stream")
	}

	stream := &DirentStream{
		partition:     p,
		parentCluster: parentCluster,
		name:          name,
		dirent:        existing,
		readOnly:      readOnly,
	}

	if mode == OpenAppend {
		stream.pos = int64(existing.FileSize)
	}

	return stream, nil
}

func truncateDirent(p *Partition, parentCluster ClusterID, dirent *Dirent) error {
	if dirent.FirstCluster != ClusterFree {
		if err := p.FreeChain(dirent.FirstCluster); err != nil {
			return err
		}
	}
	dirent.FirstCluster = ClusterFree
	dirent.FileSize = 0
	return p.UpdateDirent(parentCluster, dirent.Name, func(d *Dirent) {
		d.FirstCluster = ClusterFree
		d.FileSize = 0
	})
}

// Len returns the file's current logical length in bytes.
func (s *DirentStream) Len() (int64, error) {
	return int64(s.dirent.FileSize), nil
}

func (s *DirentStream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = int64(s.dirent.FileSize) + offset
	default:
		return 0, errors.ArgumentOutOfRange.WithMessage("unknown whence value")
	}
	if target < 0 {
		return 0, errors.ArgumentOutOfRange.WithMessage("negative seek position")
	}
	clusters, err := s.chainClusters()
	if err != nil {
		return 0, err
	}
	if target > int64(len(clusters))*s.partition.BytesPerCluster() {
		return 0, errors.PositionPastAllocation
	}
	s.pos = target
	return s.pos, nil
}

// chainClusters returns the ordered list of clusters currently backing this
// file, which may be longer than strictly needed for FileSize if SetLength
// shrank the file without freeing the tail (it doesn't: see SetLength).
func (s *DirentStream) chainClusters() ([]ClusterID, error) {
	if s.dirent.FirstCluster == ClusterFree {
		return nil, nil
	}
	return s.partition.ReadChain(s.dirent.FirstCluster)
}

func (s *DirentStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.UnsupportedMode.WithMessage("stream is closed")
	}
	if s.pos >= int64(s.dirent.FileSize) {
		return 0, io.EOF
	}

	clusters, err := s.chainClusters()
	if err != nil {
		return 0, err
	}

	bytesPerCluster := s.partition.BytesPerCluster()
	maxReadable := int64(s.dirent.FileSize) - s.pos
	toRead := int64(len(p))
	if toRead > maxReadable {
		toRead = maxReadable
	}

	var read int64
	for read < toRead {
		absolute := s.pos + read
		clusterIndex := int(absolute / bytesPerCluster)
		offsetInCluster := absolute % bytesPerCluster

		if clusterIndex >= len(clusters) {
			return int(read), errors.PositionPastAllocation
		}

		data, err := s.partition.ReadCluster(clusters[clusterIndex])
		if err != nil {
			return int(read), err
		}

		n := int64(copy(p[read:toRead], data[offsetInCluster:]))
		read += n
		if n == 0 {
			break
		}
	}

	s.pos += read
	if read < int64(len(p)) && s.pos >= int64(s.dirent.FileSize) {
		return int(read), io.EOF
	}
	return int(read), nil
}

func (s *DirentStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.UnsupportedMode.WithMessage("stream is closed")
	}
	if s.readOnly {
		return 0, errors.ReadOnlyViolation
	}
	if len(p) == 0 {
		return 0, nil
	}

	bytesPerCluster := s.partition.BytesPerCluster()
	endPos := s.pos + int64(len(p))

	if err := s.growTo(endPos); err != nil {
		return 0, err
	}

	clusters, err := s.chainClusters()
	if err != nil {
		return 0, err
	}

	var written int64
	for written < int64(len(p)) {
		absolute := s.pos + written
		clusterIndex := int(absolute / bytesPerCluster)
		offsetInCluster := absolute % bytesPerCluster

		data, err := s.partition.ReadCluster(clusters[clusterIndex])
		if err != nil {
			return int(written), err
		}

		n := int64(copy(data[offsetInCluster:], p[written:]))
		if err := s.partition.WriteCluster(clusters[clusterIndex], data); err != nil {
			return int(written), err
		}
		written += n
	}

	s.pos += written
	if uint32(endPos) > s.dirent.FileSize {
		s.dirent.FileSize = uint32(endPos)
	}

	if err := s.syncMetadata(); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// growTo ensures the file's cluster chain extends far enough to cover byte
// offset targetLen, allocating additional clusters and linking them onto
// the chain as needed.
func (s *DirentStream) growTo(targetLen int64) error {
	bytesPerCluster := s.partition.BytesPerCluster()
	neededClusters := 0
	if targetLen > 0 {
		neededClusters = int((targetLen + bytesPerCluster - 1) / bytesPerCluster)
	}

	clusters, err := s.chainClusters()
	if err != nil {
		return err
	}

	if len(clusters) >= neededClusters {
		return nil
	}

	if s.dirent.FirstCluster == ClusterFree {
		first, err := s.partition.AllocateCluster()
		if err != nil {
			return err
		}
		s.dirent.FirstCluster = first
		clusters = []ClusterID{first}
	}

	for len(clusters) < neededClusters {
		next, err := s.partition.AllocateCluster()
		if err != nil {
			return err
		}
		if err := s.partition.LinkCluster(clusters[len(clusters)-1], next); err != nil {
			return err
		}
		clusters = append(clusters, next)
	}

	return s.syncMetadata()
}

// SetLength grows or shrinks the file to exactly size bytes, freeing
// clusters past the new end when shrinking.
func (s *DirentStream) SetLength(size int64) error {
	if s.readOnly {
		return errors.ReadOnlyViolation
	}
	if size < 0 {
		return errors.ArgumentOutOfRange
	}

	bytesPerCluster := s.partition.BytesPerCluster()
	clusters, err := s.chainClusters()
	if err != nil {
		return err
	}

	neededClusters := 0
	if size > 0 {
		neededClusters = int((size + bytesPerCluster - 1) / bytesPerCluster)
	}

	if neededClusters < len(clusters) {
		if neededClusters == 0 {
			if err := s.partition.FreeChain(s.dirent.FirstCluster); err != nil {
				return err
			}
			s.dirent.FirstCluster = ClusterFree
		} else {
			tailStart := clusters[neededClusters]
			if err := s.partition.LinkCluster(clusters[neededClusters-1], s.partition.chain.endOfChainMarker()); err != nil {
				return err
			}
			if err := s.partition.FreeChain(tailStart); err != nil {
				return err
			}
		}
	} else if neededClusters > len(clusters) {
		if err := s.growTo(size); err != nil {
			return err
		}
	}

	s.dirent.FileSize = uint32(size)
	if s.pos > size {
		s.pos = size
	}
	return s.syncMetadata()
}

// Truncate implements iostream.Truncator.
func (s *DirentStream) Truncate(size int64) error {
	return s.SetLength(size)
}

func (s *DirentStream) syncMetadata() error {
	dirent := s.dirent
	return s.partition.UpdateDirent(s.parentCluster, s.name, func(d *Dirent) {
		d.FirstCluster = dirent.FirstCluster
		d.FileSize = dirent.FileSize
	})
}

// Flush is a no-op beyond what Write/SetLength already committed; FATX has
// no separate write-back cache layer at the dirent-stream level.
func (s *DirentStream) Flush() error {
	return nil
}

func (s *DirentStream) Close() error {
	s.closed = true
	return nil
}
