package iostream

import (
	"os"
)

// FileStream wraps an *os.File as a Stream, the Device I/O interface backing
// used when a caller points this module at a real disk image or device node
// instead of an in-memory buffer.
type FileStream struct {
	file *os.File
}

// NewFileStream wraps an already-open file. The caller retains ownership of
// opening it with the right flags (O_RDWR, O_CREATE, ...); FileStream only
// adds Len/Flush semantics on top.
func NewFileStream(file *os.File) *FileStream {
	return &FileStream{file: file}
}

func (f *FileStream) Read(p []byte) (int, error)                { return f.file.Read(p) }
func (f *FileStream) Write(p []byte) (int, error)                { return f.file.Write(p) }
func (f *FileStream) Seek(offset int64, whence int) (int64, error) { return f.file.Seek(offset, whence) }
func (f *FileStream) Close() error                               { return f.file.Close() }
func (f *FileStream) Flush() error                               { return f.file.Sync() }
func (f *FileStream) Truncate(size int64) error                  { return f.file.Truncate(size) }

func (f *FileStream) Len() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// -----------------------------------------------------------------------------

// TempFileStream is a scoped resource: a Stream backed by a file the
// filesystem only sees for the lifetime of the handle. Close both closes the
// underlying file and removes it: temporary backing files are deleted on
// close, and no cross-process sharing is attempted. Nothing else in this
// module constructs one; it is provided for callers.
type TempFileStream struct {
	*FileStream
	path string
}

// NewTempFileStream creates a new temporary file in dir (the default
// temporary directory if dir is empty) and wraps it as a scoped Stream.
func NewTempFileStream(dir, pattern string) (*TempFileStream, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}

	return &TempFileStream{
		FileStream: NewFileStream(f),
		path:       f.Name(),
	}, nil
}

// Close closes the file and removes it from disk. Removing an already-gone
// file is not an error.
func (t *TempFileStream) Close() error {
	closeErr := t.FileStream.Close()
	removeErr := os.Remove(t.path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		if closeErr == nil {
			return removeErr
		}
	}
	return closeErr
}
