package errors

// Kind is a string-backed sentinel error. Comparing an error against one of
// the package-level Kind constants with errors.Is works even after the error
// has been wrapped with WithMessage or WrapError: wrappedError.Unwrap
// eventually bottoms out at the originating Kind, and a WrapError result also
// matches the Kind it was called on through wrappedError.Is.
type Kind string

func (k Kind) Error() string {
	return string(k)
}

func (k Kind) WithMessage(message string) DriverError {
	return wrappedError{
		message: k.Error() + ": " + message,
		cause:   k,
	}
}

func (k Kind) WrapError(err error) DriverError {
	return wrappedError{
		message: k.Error() + ": " + err.Error(),
		cause:   err,
		also:    k,
	}
}

// The error kinds named in spec §7, one sentinel per row of the table.
const (
	// NotFATX is returned when a partition's magic number doesn't read back
	// as 0x58544146 ("FATX"). The partition is dropped from the device's
	// partition list, not surfaced to callers that merely enumerate
	// partitions, but returned directly to callers that ask to read one
	// specific partition by index/offset.
	NotFATX = Kind("not a FATX partition")

	// InvalidName is returned when a dirent name is empty, longer than 42
	// bytes, or contains one of the forbidden characters.
	InvalidName = Kind("invalid directory entry name")

	// BadCluster is returned when a cluster index is used outside
	// [1, clusterCount] in a read, write, or chain-map operation.
	BadCluster = Kind("cluster index out of range")

	// BadChain is returned when a chain walk does not reach an end-of-chain
	// marker within the partition's cluster count, i.e. the chain map holds a
	// cycle. No walk here takes a caller-specified step count, so a chain
	// that ends early is not reported with this kind.
	BadChain = Kind("cluster chain ended prematurely")

	// NoSpace is returned when there aren't enough free clusters to satisfy
	// a growth request, or an XDBF allocation still fails after a rebuild.
	NoSpace = Kind("not enough free space")

	// NoFreeSlots is returned when an XDBF allocator's entryMax or freeMax
	// is exhausted and no more table slots are available.
	NoFreeSlots = Kind("no free table slots")

	// AlreadyExists is returned by CreateNew when the target dirent is
	// already present.
	AlreadyExists = Kind("already exists")

	// NotFound is returned when a lookup (Open, DirentGet, a missing XDBF
	// section) fails and the caller required success.
	NotFound = Kind("not found")

	// ReadOnlyViolation is returned when a write is attempted through a
	// read-only facade.
	ReadOnlyViolation = Kind("read-only violation")

	// InvalidXDBF is returned when an XDBF file's magic doesn't match.
	InvalidXDBF = Kind("not a valid XDBF file")

	// UnsupportedMode is returned for an unrecognized file stream open mode,
	// or for operations a stream kind does not support (SetLength on a
	// chained stream).
	UnsupportedMode = Kind("unsupported mode")

	// IOFailed wraps a lower-level I/O error from the backing stream that
	// this module cannot attribute to a more specific kind above.
	IOFailed = Kind("I/O failed")

	// ArgumentOutOfRange is returned for malformed offsets, counts, or seek
	// targets that never correspond to valid on-disk addresses.
	ArgumentOutOfRange = Kind("argument out of range")

	// PositionPastAllocation is returned by DirentStream.Seek when the
	// target position lands beyond the dirent's currently allocated chain.
	PositionPastAllocation = Kind("seek position past allocated clusters")

	// UnexpectedEOF is returned when a read or decode operation runs out of
	// bytes before a fixed-size structure is fully populated.
	UnexpectedEOF = Kind("unexpected end of file or stream")
)
