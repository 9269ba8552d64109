// Package fileio implements FileReader (C4): a thin, lazily-opened
// random-access reader over a local file. Grounded on the teacher's use of
// spf13/afero as the filesystem abstraction throughout internal/virtualfs,
// so a reader under test can be pointed at an in-memory filesystem instead
// of the real disk.
package fileio

import (
	"io"
	"sync"

	"github.com/spf13/afero"

	"github.com/JohnDoee/thomas/internal/apperror"
)

// Reader is a forward-only, lazily-opened reader over one file on an afero
// filesystem. No concurrency: a single goroutine is expected to drive it,
// matching the non-concurrent local-disk path through the resource graph.
type Reader struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	file    afero.File
	pos     int64
	seeked  bool
	closed  bool
}

// New returns an unopened reader for path on fs. The file is not touched
// until the first Seek or Read.
func New(fs afero.Fs, path string) *Reader {
	return &Reader{fs: fs, path: path}
}

// Seek is permitted exactly once, before any read, mirroring the other
// readers' single-seek contract; a read before Seek implicitly seeks to 0.
func (r *Reader) Seek(pos int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seeked {
		return apperror.NewInvalidInput("seek permitted only once, before any read", nil)
	}
	return r.openAndSeekLocked(pos)
}

func (r *Reader) openAndSeekLocked(pos int64) error {
	if r.closed {
		return apperror.ErrCancelled
	}

	if r.file == nil {
		f, err := r.fs.Open(r.path)
		if err != nil {
			return apperror.NewInvalidInput("opening file", err)
		}
		r.file = f
	}

	if pos != 0 {
		if _, err := r.file.Seek(pos, io.SeekStart); err != nil {
			return apperror.NewInvalidInput("seeking file", err)
		}
	}

	r.pos = pos
	r.seeked = true
	return nil
}

// Read returns up to n bytes from the current position. An implicit Seek(0)
// happens if no Seek call preceded it. Returns (nil, nil) at EOF.
func (r *Reader) Read(n int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, apperror.ErrCancelled
	}

	if !r.seeked {
		if err := r.openAndSeekLocked(0); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, n)
	read, err := r.file.Read(buf)
	r.pos += int64(read)

	if err != nil {
		if err == io.EOF {
			if read == 0 {
				return nil, nil
			}
			return buf[:read], nil
		}
		return nil, apperror.NewTransient("reading file", err)
	}

	return buf[:read], nil
}

// Tell returns the current position.
func (r *Reader) Tell() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Close is idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
