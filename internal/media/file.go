package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// File is a handle on a user-selected media file. It exposes the file's
// name and total length plus the capability to read an arbitrary
// contiguous byte range without pulling the whole file into memory.
// A File stays readable for as long as its batch item exists; whoever
// retires the item calls Close to release the underlying source.
type File struct {
	name  string
	size  int64
	src   io.ReaderAt
	close func() error
}

func NewFile(name string, size int64, src io.ReaderAt) *File {
	return &File{name: name, size: size, src: src}
}

// OpenFile constructs a File backed by the host filesystem. The file owns
// the descriptor; Close releases it.
func OpenFile(path string) (*File, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file '%s': %w", path, err)
	}

	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to stat media file '%s': %w", path, err)
	}

	file := NewFile(filepath.Base(path), info.Size(), handle)
	file.close = handle.Close
	return file, nil
}

func (f *File) Name() string { return f.name }
func (f *File) Size() int64  { return f.size }

// Close releases the underlying source. Files over in-memory sources
// have nothing to release and close to a no-op.
func (f *File) Close() error {
	if f.close == nil {
		return nil
	}
	return f.close()
}

// Extension returns the lower-cased filename extension without the
// leading dot, e.g. "mp4".
func (f *File) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.name)), ".")
}

// Stem returns the filename without its extension.
func (f *File) Stem() string {
	return strings.TrimSuffix(f.name, filepath.Ext(f.name))
}

// ReadRange reads 'length' bytes starting at 'start'. Ranges which run
// past the end of the file are truncated rather than erroring; a start
// offset beyond the end of the file is an error.
func (f *File) ReadRange(start int64, length int64) ([]byte, error) {
	if start < 0 || length < 0 {
		return nil, fmt.Errorf("illegal byte range [%d,+%d) for file '%s'", start, length, f.name)
	}
	if start > f.size {
		return nil, fmt.Errorf("byte range start %d exceeds size of file '%s' (%d bytes)", start, f.name, f.size)
	}
	if start+length > f.size {
		length = f.size - start
	}

	buffer := make([]byte, length)
	read, err := f.src.ReadAt(buffer, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read range [%d,+%d) of file '%s': %w", start, length, f.name, err)
	}

	return buffer[:read], nil
}

func (f *File) String() string {
	return fmt.Sprintf("File{name=%s size=%d}", f.name, f.size)
}
