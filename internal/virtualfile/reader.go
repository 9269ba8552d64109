// Package virtualfile implements VirtualFileReader (C5): it presents a
// concatenation of segments, each a (sub-item, seek-within, read-length)
// triple, as a single sequential byte stream. Grounded on the original
// VirtualFileProcessorFile (thomas/processors/virtualfile.py): same lazy
// segment-location-on-first-read algorithm, same single-seek contract,
// reworked into Go's explicit-error style and the teacher's lazy-open
// pattern (internal/usenet sequential_reader.go opens its next source only
// when the current one is exhausted).
package virtualfile

import (
	"sync"

	"github.com/JohnDoee/thomas/internal/apperror"
)

// SubReader is the minimal contract a segment's underlying item exposes:
// the same single-seek-then-sequential-read shape as every other reader in
// this module.
type SubReader interface {
	Seek(pos int64) error
	Read(n int) ([]byte, error)
	Close() error
}

// Opener produces a fresh SubReader for one segment's item, e.g. a
// SegmentedHttpReader or FileReader constructor bound to that item.
type Opener interface {
	Open() (SubReader, error)
}

// Segment is one (sub_item, seek_within, read_length) descriptor.
type Segment struct {
	Item       Opener
	SeekWithin int64
	ReadLength int64
}

// Reader concatenates Segments into one sequential stream of
// sum(ReadLength) bytes.
type Reader struct {
	segments []Segment
	size     int64

	mu         sync.Mutex
	pos        int64
	seeked     bool
	segIndex   int
	bytesRead  int64 // bytes consumed from the current segment
	cur        SubReader
}

// New returns a reader over the given segments in order.
func New(segments []Segment) *Reader {
	var size int64
	for _, s := range segments {
		size += s.ReadLength
	}
	return &Reader{segments: segments, size: size, segIndex: -1}
}

// Size returns the total virtual stream length.
func (r *Reader) Size() int64 { return r.size }

// Seek is permitted exactly once, before any read.
func (r *Reader) Seek(pos int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seeked {
		return apperror.NewInvalidInput("seek permitted only once, before any read", nil)
	}
	r.pos = pos
	r.seeked = true
	return nil
}

// Read returns up to n bytes without crossing a segment boundary in a
// single call; callers may receive a short read even if more virtual bytes
// remain. Empty result means end of virtual stream.
func (r *Reader) Read(n int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seeked {
		r.pos = 0
		r.seeked = true
	}

	if r.pos >= r.size {
		return nil, nil
	}

	if r.cur == nil {
		if err := r.openNextLocked(); err != nil {
			return nil, err
		}
	}

	seg := r.segments[r.segIndex]
	remaining := seg.ReadLength - r.bytesRead
	want := int64(n)
	if want > remaining {
		want = remaining
	}

	data, err := r.cur.Read(int(want))
	if err != nil {
		return nil, err
	}

	r.bytesRead += int64(len(data))
	r.pos += int64(len(data))

	if r.bytesRead >= seg.ReadLength {
		_ = r.cur.Close()
		r.cur = nil
	}

	return data, nil
}

// openNextLocked locates the segment containing r.pos (on first call) or
// advances to the next segment (on subsequent calls), opening its item and
// seeking to the computed offset within it. Caller holds r.mu.
func (r *Reader) openNextLocked() error {
	if r.segIndex < 0 {
		remaining := r.pos
		found := -1
		var additionalSeek int64
		for i, seg := range r.segments {
			remaining -= seg.ReadLength
			if remaining > 0 {
				continue
			}
			additionalSeek = seg.ReadLength + remaining
			found = i
			break
		}
		if found < 0 {
			return apperror.NewInvalidInput("reading out of bounds", nil)
		}
		r.segIndex = found
		r.bytesRead = additionalSeek
		// A position on a segment boundary lands at the end of the earlier
		// segment; start at the following one instead.
		if r.bytesRead >= r.segments[found].ReadLength && found+1 < len(r.segments) {
			r.segIndex++
			r.bytesRead = 0
		}
	} else {
		r.segIndex++
		r.bytesRead = 0
	}

	if r.segIndex >= len(r.segments) {
		return apperror.NewInvalidInput("reading out of bounds", nil)
	}

	seg := r.segments[r.segIndex]
	sub, err := seg.Item.Open()
	if err != nil {
		return err
	}
	if err := sub.Seek(seg.SeekWithin + r.bytesRead); err != nil {
		_ = sub.Close()
		return err
	}

	r.cur = sub
	return nil
}

// Tell returns the current virtual position.
func (r *Reader) Tell() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Close releases the currently open segment, if any.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
