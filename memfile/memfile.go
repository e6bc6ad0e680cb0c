// Package memfile provides memory-mapped file regions: create, open a
// page-aligned window, grow and flush. It is the storage plumbing for tools
// that move bytes through a mapping instead of read/write calls.
package memfile

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

type memfileError string

var _ error = memfileError("")

func (err memfileError) Error() string {
	return string(err)
}

const (
	ErrInvalidRange = memfileError("invalid offset or length")
	ErrPartialGrow  = memfileError("cannot grow a partial mapping")
)

// Region is a mapped byte range of a file. Bytes returns exactly the
// requested window even when the underlying mapping had to start on an
// earlier page boundary.
type Region struct {
	file     *os.File
	data     mmap.MMap
	off      int // window start within the mapping
	length   int
	writable bool
}

// Create makes (or truncates) the file at the given size and maps all of it
// read-write. The new bytes read as zero.
func Create(path string, size int64) (*Region, error) {
	if size < 0 {
		return nil, ErrInvalidRange
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	if err = file.Truncate(size); err != nil {
		file.Close()
		return nil, err
	}

	return mapWhole(file, true)
}

// Open maps the whole existing file read-write.
func Open(path string) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	return mapWhole(file, true)
}

// OpenRange maps length bytes of the file starting at offset. The mapping is
// page-aligned internally; Bytes still covers exactly [offset, offset+length).
func OpenRange(path string, offset, length int64, writable bool) (*Region, error) {
	if offset < 0 || length <= 0 {
		return nil, ErrInvalidRange
	}

	mode := os.O_RDONLY
	prot := mmap.RDONLY

	if writable {
		mode = os.O_RDWR
		prot = mmap.RDWR
	}

	file, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, err
	}

	// Round (offset, length) down/up to page alignment.
	pageSize := int64(os.Getpagesize())
	pageOff := offset % pageSize
	mapOff := offset - pageOff
	mapLen := pageOff + length

	data, err := mmap.MapRegion(file, int(mapLen), prot, 0, mapOff)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Region{
		file:     file,
		data:     data,
		off:      int(pageOff),
		length:   int(length),
		writable: writable,
	}, nil
}

func mapWhole(file *os.File, writable bool) (*Region, error) {
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	prot := mmap.RDONLY
	if writable {
		prot = mmap.RDWR
	}

	if info.Size() == 0 {
		// mmap of an empty file fails; keep an empty window instead.
		return &Region{file: file, writable: writable}, nil
	}

	data, err := mmap.MapRegion(file, int(info.Size()), prot, 0, 0)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Region{
		file:     file,
		data:     data,
		length:   int(info.Size()),
		writable: writable,
	}, nil
}

// Bytes returns the mapped window. The slice is only valid until Grow or
// Close.
func (r *Region) Bytes() []byte {
	if r.data == nil {
		return nil
	}

	return r.data[r.off : r.off+r.length]
}

func (r *Region) Size() int64 {
	return int64(r.length)
}

// Grow extends the file to newSize and remaps it, zero-filling the new
// region. Only whole-file mappings can grow.
func (r *Region) Grow(newSize int64) error {
	if r.off != 0 || !r.writable {
		return ErrPartialGrow
	}

	if newSize < int64(r.length) {
		return ErrInvalidRange
	}

	if newSize == int64(r.length) {
		return nil
	}

	if r.data != nil {
		if err := r.data.Flush(); err != nil {
			return err
		}

		if err := r.data.Unmap(); err != nil {
			return err
		}

		r.data = nil
	}

	if err := r.file.Truncate(newSize); err != nil {
		return err
	}

	data, err := mmap.MapRegion(r.file, int(newSize), mmap.RDWR, 0, 0)
	if err != nil {
		return err
	}

	r.data = data
	r.length = int(newSize)

	return nil
}

// Flush syncs the mapping back to the file.
func (r *Region) Flush() error {
	if r.data == nil {
		return nil
	}

	return r.data.Flush()
}

// Close flushes, unmaps and closes the file.
func (r *Region) Close() error {
	if r.data != nil {
		if r.writable {
			if err := r.data.Flush(); err != nil {
				return err
			}
		}

		if err := r.data.Unmap(); err != nil {
			return err
		}

		r.data = nil
	}

	return r.file.Close()
}
