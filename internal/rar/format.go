// Package rar implements VirtualRarReader (C7): reading RAR3/RAR5 archives
// that span multiple volumes, where each volume is an Item rather than a
// file on local disk. Grounded on the original thomas/processors/rar.py,
// which wrapped the python `rarfile` package's block-header parser and
// volume-successor helpers (_next_newvol/_next_oldvol); those algorithms
// are reimplemented here directly since no Go equivalent of `rarfile`
// ships the same virtual-filesystem hook. Block-layout details are
// cross-checked against the nwaples/rardecode FileHeader shape and a
// minimal from-scratch RAR5 header walker, both seen elsewhere in the
// example corpus. Only "stored" (uncompressed) members are fully
// readable; every other block kind is still traversed to locate file
// entries, per the documented scope.
package rar

import (
	"encoding/binary"
	"io"

	"github.com/JohnDoee/thomas/internal/apperror"
)

// Version identifies which archive generation a volume uses.
type Version int

const (
	VersionUnknown Version = iota
	Version3
	Version5
)

var (
	magicV3 = [7]byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}
	magicV5 = [7]byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01}
)

// DetectVersion reads the first 7 (or 8, for RAR5) bytes from r and
// reports the archive version. It leaves the stream positioned right
// after the signature.
func DetectVersion(r io.Reader) (Version, error) {
	var buf [7]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return VersionUnknown, apperror.NewBadContainer("reading signature", err)
	}

	switch buf {
	case magicV3:
		return Version3, nil
	case magicV5:
		// RAR5 has one extra byte (a trailing 0x00) after the 7-byte magic.
		var extra [1]byte
		if _, err := io.ReadFull(r, extra[:]); err != nil {
			return VersionUnknown, apperror.NewBadContainer("reading RAR5 signature tail", err)
		}
		return Version5, nil
	default:
		return VersionUnknown, apperror.NewBadContainer("not a RAR archive", nil)
	}
}

// RAR3 block types.
const (
	rar3BlockMark = 0x72
	rar3BlockMain = 0x73
	rar3BlockFile = 0x74
	rar3BlockEnd  = 0x7B
)

// RAR3 main-header flags.
const (
	rar3MainNewNumbering = 0x0010
)

// RAR3 file-header flags.
const (
	rar3FileSplitBefore = 0x0001
	rar3FileSplitAfter  = 0x0002
	rar3FileSalt        = 0x0400
	rar3FileLargeSize   = 0x0100
	rar3HasAddSize      = 0x8000
)

// RAR5 block types.
const (
	rar5BlockTypeMain = 1
	rar5BlockTypeFile = 2
	rar5BlockTypeEnd  = 5
)

// RAR5 common header flags (shared by every block type).
const (
	rar5FlagExtraArea  = 0x0001
	rar5FlagDataArea   = 0x0002
	rar5FlagSplitBefore = 0x0008
	rar5FlagSplitAfter  = 0x0010
)

// FileEntry is one file block's parsed header, enough to drive the stored
// member reader: its name, data offset and length within this volume, and
// whether it continues into the next volume.
type FileEntry struct {
	Name           string
	DataOffset     int64 // offset within the volume where the member's bytes begin
	PackedSize     int64 // bytes belonging to this member in this volume
	UnpackedSize   int64 // full member size, only meaningful on the first volume
	Stored         bool  // method 0: no decompression needed
	SplitAfter     bool  // continues into the next volume
}

// MainHeader is the parsed archive-level header of one volume.
type MainHeader struct {
	NewNumbering bool // RAR3: the NEWNUMBERING flag; always true for RAR5, which only uses the .partNNN.rar scheme
	Recovery     bool
}

// ParseResult is everything ScanVolume extracts from a volume to drive either the
// sequential DirectReader or the lazy segment builder.
type ParseResult struct {
	Version Version
	Main    MainHeader
	// Files are the file-header blocks seen, in file order. Archives
	// created by typical tools have exactly one per volume for a
	// single-member split archive; ScanVolume returns all of them so
	// callers can pick the one matching the member name they want.
	Files []FileEntry
}

func readUint16LE(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func readUint32LE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// ScanVolume parses a volume's main header and every file header,
// dispatching to the version-specific parser. r must be positioned right
// after DetectVersion's signature read. Every FileEntry.DataOffset is an
// absolute offset from the start of the volume: counting starts at the
// signature length (7 for RAR3, 8 for RAR5).
func ScanVolume(version Version, r io.Reader) (*ParseResult, error) {
	switch version {
	case Version3:
		return scanRar3(&countingReader{r: r, pos: SignatureLength(version)})
	case Version5:
		return scanRar5(&countingReader{r: r, pos: SignatureLength(version)})
	default:
		return nil, apperror.NewBadContainer("unknown RAR version", nil)
	}
}

// SignatureLength returns how many bytes DetectVersion consumes for the
// given version.
func SignatureLength(version Version) int64 {
	if version == Version5 {
		return 8
	}
	return 7
}

// countingReader tracks how many bytes have been read so header parsers
// can record absolute-within-volume data offsets without needing a
// seekable reader.
type countingReader struct {
	r   io.Reader
	pos int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos += int64(n)
	return n, err
}

func (c *countingReader) discard(n int) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, c, int64(n))
	return err
}
