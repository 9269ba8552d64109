package rar

import (
	"io"

	"github.com/JohnDoee/thomas/internal/apperror"
)

// RAR5 main-archive-header flags (within the block-specific area of a type
// 1 block).
const (
	rar5MainFlagProtect = 0x0008 // recovery record present
)

// scanRar5 walks RAR5 blocks from the current position (right after the
// 8-byte signature), collecting the main header's recovery flag and every
// file header seen. Layout grounded on the from-scratch RAR5 walker in the
// example corpus: CRC32(4) + HEAD_SIZE(varint) + a header blob of HEAD_SIZE
// bytes whose own prefix is BLOCK_TYPE(varint) + FLAGS(varint) +
// [EXTRA_AREA_SIZE(varint)] + [DATA_SIZE(varint)], trailed by an extra area
// of EXTRA_AREA_SIZE bytes if present; file data itself is DATA_SIZE bytes
// immediately following the header blob.
func scanRar5(cr *countingReader) (*ParseResult, error) {
	result := &ParseResult{Version: Version5, Main: MainHeader{NewNumbering: true}}

	for {
		var crc [4]byte
		if _, err := io.ReadFull(cr, crc[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, apperror.NewBadContainer("reading RAR5 block CRC", err)
		}

		headSize, err := readVarint(cr)
		if err != nil {
			return nil, apperror.NewBadContainer("reading RAR5 head_size", err)
		}

		headData := make([]byte, headSize)
		if _, err := io.ReadFull(cr, headData); err != nil {
			return nil, apperror.NewBadContainer("reading RAR5 header blob", err)
		}

		cursor := 0
		blockType, n, err := readVarintFromSlice(headData[cursor:])
		if err != nil {
			return nil, apperror.NewBadContainer("reading RAR5 block type", err)
		}
		cursor += n

		flags, n, err := readVarintFromSlice(headData[cursor:])
		if err != nil {
			return nil, apperror.NewBadContainer("reading RAR5 header flags", err)
		}
		cursor += n

		var extraAreaSize, dataSize uint64
		if flags&rar5FlagExtraArea != 0 {
			extraAreaSize, n, err = readVarintFromSlice(headData[cursor:])
			if err != nil {
				return nil, apperror.NewBadContainer("reading RAR5 extra_area_size", err)
			}
			cursor += n
		}
		if flags&rar5FlagDataArea != 0 {
			dataSize, n, err = readVarintFromSlice(headData[cursor:])
			if err != nil {
				return nil, apperror.NewBadContainer("reading RAR5 data_size", err)
			}
			cursor += n
		}

		blockSpecificEnd := len(headData) - int(extraAreaSize)
		if blockSpecificEnd < cursor {
			return nil, apperror.NewBadContainer("RAR5 extra area overruns header", nil)
		}

		switch blockType {
		case rar5BlockTypeMain:
			mainFlags, _, err := readVarintFromSlice(headData[cursor:blockSpecificEnd])
			if err == nil {
				result.Main.Recovery = mainFlags&rar5MainFlagProtect != 0
			}

		case rar5BlockTypeFile:
			entry, err := parseRar5FileBody(headData[cursor:blockSpecificEnd], int64(dataSize))
			if err != nil {
				return nil, err
			}
			entry.SplitAfter = flags&rar5FlagSplitAfter != 0
			entry.DataOffset = cr.pos
			result.Files = append(result.Files, entry)

		case rar5BlockTypeEnd:
			if dataSize > 0 {
				_ = cr.discard(int(dataSize))
			}
			return result, nil
		}

		if dataSize > 0 && blockType != rar5BlockTypeFile {
			if err := cr.discard(int(dataSize)); err != nil {
				return nil, apperror.NewBadContainer("skipping RAR5 data area", err)
			}
		} else if blockType == rar5BlockTypeFile {
			if err := cr.discard(int(dataSize)); err != nil {
				return nil, apperror.NewBadContainer("skipping RAR5 file body", err)
			}
		}
	}

	return result, nil
}

// parseRar5FileBody parses the file-specific fields within a type-2
// block's header blob (already sliced to exclude the trailing extra
// area): file flags, unpacked size, attributes, optional mtime/crc32,
// compression info, host OS, and the filename.
func parseRar5FileBody(b []byte, dataSize int64) (FileEntry, error) {
	cursor := 0

	fileFlags, n, err := readVarintFromSlice(b[cursor:])
	if err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR5 file flags", err)
	}
	cursor += n

	unpSize, n, err := readVarintFromSlice(b[cursor:])
	if err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR5 unpacked size", err)
	}
	cursor += n

	_, n, err = readVarintFromSlice(b[cursor:]) // attributes
	if err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR5 attributes", err)
	}
	cursor += n

	if fileFlags&0x0002 != 0 { // mtime present
		if len(b)-cursor < 4 {
			return FileEntry{}, apperror.NewBadContainer("truncated RAR5 mtime", nil)
		}
		cursor += 4
	}
	if fileFlags&0x0004 != 0 { // crc32 present
		if len(b)-cursor < 4 {
			return FileEntry{}, apperror.NewBadContainer("truncated RAR5 crc32", nil)
		}
		cursor += 4
	}

	compInfo, n, err := readVarintFromSlice(b[cursor:])
	if err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR5 compression info", err)
	}
	cursor += n

	_, n, err = readVarintFromSlice(b[cursor:]) // host OS
	if err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR5 host OS", err)
	}
	cursor += n

	nameLen, n, err := readVarintFromSlice(b[cursor:])
	if err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR5 name length", err)
	}
	cursor += n

	if int(nameLen) > len(b)-cursor {
		return FileEntry{}, apperror.NewBadContainer("RAR5 filename overruns header", nil)
	}
	name := string(b[cursor : cursor+int(nameLen)])

	// compInfo's low 6 bits are the compression method; 0 means stored.
	stored := compInfo&0x3F == 0

	return FileEntry{
		Name:         name,
		PackedSize:   dataSize,
		UnpackedSize: int64(unpSize),
		Stored:       stored,
	}, nil
}

// readVarint reads RAR5's 7-bit-continuation little-endian varint directly
// from a reader.
func readVarint(r io.Reader) (uint64, error) {
	var result uint64
	var shift uint
	var b [1]byte

	for i := 0; i < 10; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		result |= uint64(b[0]&0x7F) << shift
		if b[0]&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}

	return 0, apperror.NewBadContainer("RAR5 varint too long", nil)
}

// readVarintFromSlice is the same decoding applied to an in-memory slice,
// returning the number of bytes consumed.
func readVarintFromSlice(b []byte) (uint64, int, error) {
	var result uint64
	var shift uint

	for i := 0; i < len(b) && i < 10; i++ {
		result |= uint64(b[i]&0x7F) << shift
		if b[i]&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}

	return 0, 0, apperror.NewBadContainer("RAR5 varint truncated", nil)
}
