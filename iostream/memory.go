package iostream

import (
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// MemoryStream is an in-RAM Device I/O stream backed by a plain []byte. It's
// the backing store used by every test fixture in this module (see
// fatxtest.LoadImage).
//
// bytesextra.NewReadWriteSeeker gives us the read/write/seek mechanics over
// the slice; MemoryStream adds the length-changing and flush semantics the
// Device I/O interface requires on top, since the wrapped ReadWriteSeeker is
// fixed-size once constructed.
type MemoryStream struct {
	data   []byte
	inner  io.ReadWriteSeeker
	closed bool
}

// NewMemoryStream creates a MemoryStream over a copy of initial. Passing nil
// or an empty slice creates a zero-length stream.
func NewMemoryStream(initial []byte) *MemoryStream {
	data := make([]byte, len(initial))
	copy(data, initial)

	return &MemoryStream{
		data:  data,
		inner: bytesextra.NewReadWriteSeeker(data),
	}
}

func (m *MemoryStream) Read(p []byte) (int, error) {
	return m.inner.Read(p)
}

func (m *MemoryStream) Write(p []byte) (int, error) {
	return m.inner.Write(p)
}

func (m *MemoryStream) Seek(offset int64, whence int) (int64, error) {
	return m.inner.Seek(offset, whence)
}

func (m *MemoryStream) Len() (int64, error) {
	return int64(len(m.data)), nil
}

// Flush is a no-op; MemoryStream never buffers writes beyond the slice
// itself.
func (m *MemoryStream) Flush() error {
	return nil
}

func (m *MemoryStream) Close() error {
	m.closed = true
	return nil
}

// Truncate changes the length of the stream. Growing pads with null bytes;
// shrinking discards the tail. The current position is preserved unless it
// now lands past the new end, in which case it's clamped like os.File does.
func (m *MemoryStream) Truncate(size int64) error {
	if size < 0 {
		return io.ErrShortBuffer
	}

	currentPos, err := m.inner.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	newData := make([]byte, size)
	copy(newData, m.data)

	m.data = newData
	m.inner = bytesextra.NewReadWriteSeeker(m.data)

	if currentPos > size {
		currentPos = size
	}
	_, err = m.inner.Seek(currentPos, io.SeekStart)
	return err
}

// Bytes returns the live backing slice. Callers must not retain it across a
// Truncate call, since Truncate replaces the slice.
func (m *MemoryStream) Bytes() []byte {
	return m.data
}
