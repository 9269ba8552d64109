package rar

import (
	"io"

	"github.com/JohnDoee/thomas/internal/apperror"
)

// scanRar3 walks RAR3 block headers from the current position (right after
// the 7-byte signature) until the end-of-archive block or EOF, collecting
// the main header's flags and every file header seen. Layout grounded on
// the rardecode/rarlist corpus excerpts: a 7-byte fixed block header
// (CRC16, type, flags, size), an optional 4-byte add_size when flag 0x8000
// is set, then a block-type-specific body.
func scanRar3(cr *countingReader) (*ParseResult, error) {
	result := &ParseResult{Version: Version3}

	for {
		hdr, err := readRar3BlockHeader(cr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperror.NewBadContainer("reading RAR3 block header", err)
		}

		bodySize := int64(hdr.size) - 7
		if hdr.flags&rar3HasAddSize != 0 {
			bodySize -= 4
		}

		switch hdr.blockType {
		case rar3BlockMain:
			result.Main.NewNumbering = hdr.flags&rar3MainNewNumbering != 0
			if err := cr.discard(int(bodySize)); err != nil {
				return nil, apperror.NewBadContainer("skipping RAR3 main header body", err)
			}

		case rar3BlockFile:
			entry, err := parseRar3FileBody(cr, hdr, bodySize)
			if err != nil {
				return nil, err
			}
			entry.DataOffset = cr.pos
			result.Files = append(result.Files, entry)
			// The member's packed bytes follow the header directly; skip
			// them to reach the next block header.
			if err := cr.discard(int(entry.PackedSize)); err != nil {
				return nil, apperror.NewBadContainer("skipping RAR3 file body", err)
			}

		case rar3BlockEnd:
			if err := cr.discard(int(bodySize)); err != nil {
				return nil, apperror.NewBadContainer("skipping RAR3 end-of-archive body", err)
			}
			return result, nil

		default:
			// For non-file, non-main blocks, add_size (when present) names
			// a trailing data section beyond the header fields themselves.
			toSkip := bodySize
			if hdr.flags&rar3HasAddSize != 0 {
				toSkip += int64(hdr.addSize)
			}
			if err := cr.discard(int(toSkip)); err != nil {
				return nil, apperror.NewBadContainer("skipping RAR3 block body", err)
			}
		}
	}

	return result, nil
}

type rar3BlockHeader struct {
	blockType byte
	flags     uint16
	size      uint16
	addSize   uint32
}

func readRar3BlockHeader(cr *countingReader) (rar3BlockHeader, error) {
	var raw [7]byte
	if _, err := io.ReadFull(cr, raw[:]); err != nil {
		return rar3BlockHeader{}, err
	}

	h := rar3BlockHeader{
		blockType: raw[2],
		flags:     readUint16LE(raw[3:5]),
		size:      readUint16LE(raw[5:7]),
	}

	if h.flags&rar3HasAddSize != 0 {
		var add [4]byte
		if _, err := io.ReadFull(cr, add[:]); err != nil {
			return rar3BlockHeader{}, err
		}
		h.addSize = readUint32LE(add[:])
	}

	return h, nil
}

// parseRar3FileBody reads the fixed 25-byte file-header body, the optional
// 8-byte high size words, the filename, and the optional 8-byte salt. The
// caller stamps DataOffset once this
// returns, since it knows the reader's position at that point.
func parseRar3FileBody(cr *countingReader, hdr rar3BlockHeader, bodySize int64) (FileEntry, error) {
	var fixed [25]byte
	if _, err := io.ReadFull(cr, fixed[:]); err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR3 file header", err)
	}

	packSize := int64(readUint32LE(fixed[0:4]))
	unpSize := int64(readUint32LE(fixed[4:8]))
	method := fixed[18]
	nameSize := int(readUint16LE(fixed[19:21]))

	remaining := bodySize - 25

	if hdr.flags&rar3FileLargeSize != 0 {
		var high [8]byte
		if _, err := io.ReadFull(cr, high[:]); err != nil {
			return FileEntry{}, apperror.NewBadContainer("reading RAR3 large-size fields", err)
		}
		packSize += int64(readUint32LE(high[0:4])) << 32
		unpSize += int64(readUint32LE(high[4:8])) << 32
		remaining -= 8
	}

	nameBytes := make([]byte, nameSize)
	if _, err := io.ReadFull(cr, nameBytes); err != nil {
		return FileEntry{}, apperror.NewBadContainer("reading RAR3 filename", err)
	}
	remaining -= int64(nameSize)

	if hdr.flags&rar3FileSalt != 0 {
		if err := cr.discard(8); err != nil {
			return FileEntry{}, apperror.NewBadContainer("skipping RAR3 salt", err)
		}
		remaining -= 8
	}

	if remaining > 0 {
		if err := cr.discard(int(remaining)); err != nil {
			return FileEntry{}, apperror.NewBadContainer("skipping RAR3 file header tail", err)
		}
	}

	return FileEntry{
		Name:         string(nameBytes),
		PackedSize:   packSize,
		UnpackedSize: unpSize,
		Stored:       method == 0x30,
		SplitAfter:   hdr.flags&rar3FileSplitAfter != 0,
	}, nil
}
