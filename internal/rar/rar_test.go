package rar

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memVolume is an in-memory VolumeReader over a byte slice.
type memVolume struct {
	data   []byte
	pos    int64
	seeked bool
	closed bool
}

func (m *memVolume) Seek(pos int64) error {
	m.pos = pos
	m.seeked = true
	return nil
}

func (m *memVolume) Read(n int) ([]byte, error) {
	if m.pos >= int64(len(m.data)) {
		return nil, nil
	}
	end := m.pos + int64(n)
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	out := m.data[m.pos:end]
	m.pos = end
	return out, nil
}

func (m *memVolume) Close() error {
	m.closed = true
	return nil
}

// memSource is an in-memory VolumeSource keyed by case-insensitive name.
type memSource struct {
	volumes map[string][]byte
}

func newMemSource() *memSource {
	return &memSource{volumes: map[string][]byte{}}
}

func (s *memSource) add(name string, data []byte) {
	s.volumes[name] = data
}

func (s *memSource) Open(name string) (VolumeReader, bool, error) {
	for k, v := range s.volumes {
		if equalFold(k, name) {
			return &memVolume{data: append([]byte(nil), v...)}, true, nil
		}
	}
	return nil, false, nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// buildRar3Volume constructs a minimal RAR3 volume containing a single
// stored file header named name, whose packed data in this volume is
// payload, optionally flagged as continuing into a next volume. unpackedSize
// is the member's full size across every volume of the split (the same
// value a real archive repeats in each volume's header), which for a
// non-split member is just len(payload).
func buildRar3Volume(name string, payload []byte, unpackedSize int64, splitAfter, splitBefore, newNumbering bool) []byte {
	var buf bytes.Buffer
	buf.Write(magicV3[:])

	// Main header: type 0x73, minimal body of 6 bytes (archive flags +
	// reserved words), flags carrying NEWNUMBERING if requested.
	mainFlags := uint16(0)
	if newNumbering {
		mainFlags |= rar3MainNewNumbering
	}
	mainBody := make([]byte, 6)
	writeBlockHeader(&buf, mainFlags, rar3BlockMain, len(mainBody))
	buf.Write(mainBody)

	// File header.
	fileFlags := uint16(0)
	if splitAfter {
		fileFlags |= rar3FileSplitAfter
	}
	if splitBefore {
		fileFlags |= rar3FileSplitBefore
	}

	fixed := make([]byte, 25)
	binary.LittleEndian.PutUint32(fixed[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(unpackedSize))
	fixed[18] = 0x30 // stored
	binary.LittleEndian.PutUint16(fixed[19:21], uint16(len(name)))

	bodySize := 25 + len(name)
	writeBlockHeader(&buf, fileFlags, rar3BlockFile, bodySize)
	buf.Write(fixed)
	buf.WriteString(name)
	buf.Write(payload)

	// End-of-archive block, zero-length body.
	writeBlockHeader(&buf, 0, rar3BlockEnd, 0)

	return buf.Bytes()
}

func writeBlockHeader(buf *bytes.Buffer, flags uint16, blockType byte, bodySize int) {
	var hdr [7]byte
	hdr[2] = blockType
	binary.LittleEndian.PutUint16(hdr[3:5], flags)
	binary.LittleEndian.PutUint16(hdr[5:7], uint16(7+bodySize))
	buf.Write(hdr[:])
}

func TestDetectVersion_RecognizesRar3Signature(t *testing.T) {
	data := buildRar3Volume("f.bin", []byte("hello"), 5, false, false, false)
	version, err := DetectVersion(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Version3, version)
}

func TestScanVolume_FindsStoredFileEntry(t *testing.T) {
	payload := []byte("hello world")
	data := buildRar3Volume("f.bin", payload, int64(len(payload)), false, false, false)

	r := bytes.NewReader(data[7:])
	result, err := ScanVolume(Version3, r)
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "f.bin", result.Files[0].Name)
	assert.Equal(t, int64(len(payload)), result.Files[0].PackedSize)
	assert.True(t, result.Files[0].Stored)
	assert.False(t, result.Files[0].SplitAfter)
}

func TestDirectReader_ReadsSingleVolumeMember(t *testing.T) {
	payload := []byte("the quick brown fox")
	source := newMemSource()
	source.add("archive.rar", buildRar3Volume("f.bin", payload, int64(len(payload)), false, false, false))

	dr, err := OpenDirect(source, "archive.rar", "f.bin")
	require.NoError(t, err)
	defer dr.Close()

	require.NoError(t, dr.Seek(0))

	var got []byte
	for {
		chunk, err := dr.Read(4)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}

	assert.Equal(t, payload, got)
}

func TestDirectReader_FollowsSplitAcrossVolumes(t *testing.T) {
	part1 := []byte("first-half--")
	part2 := []byte("second-half-")
	total := int64(len(part1) + len(part2))

	source := newMemSource()
	source.add("archive.part01.rar", buildRar3Volume("f.bin", part1, total, true, false, true))
	source.add("archive.part02.rar", buildRar3Volume("f.bin", part2, total, false, true, true))

	dr, err := OpenDirect(source, "archive.part01.rar", "f.bin")
	require.NoError(t, err)
	defer dr.Close()

	require.NoError(t, dr.Seek(0))

	var got []byte
	for {
		chunk, err := dr.Read(1024)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		got = append(got, chunk...)
	}

	assert.Equal(t, append(append([]byte{}, part1...), part2...), got)
}

func TestBuildSegments_CollectsOneSegmentPerVolume(t *testing.T) {
	part1 := []byte("aaaa")
	part2 := []byte("bbbb")
	total := int64(len(part1) + len(part2))

	source := newMemSource()
	source.add("archive.part01.rar", buildRar3Volume("f.bin", part1, total, true, false, true))
	source.add("archive.part02.rar", buildRar3Volume("f.bin", part2, total, false, true, true))

	segments, err := BuildSegments(source, "archive.part01.rar", "f.bin")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, int64(len(part1)), segments[0].ReadLength)
	assert.Equal(t, int64(len(part2)), segments[1].ReadLength)
}

func TestBuildSegments_MissingFirstVolumeErrors(t *testing.T) {
	source := newMemSource()
	_, err := BuildSegments(source, "missing.rar", "f.bin")
	assert.Error(t, err)
}

func TestNextOldVolumeName_Progresses(t *testing.T) {
	assert.Equal(t, "archive.r00", NextOldVolumeName("archive.rar"))
	assert.Equal(t, "archive.r01", NextOldVolumeName("archive.r00"))
}

func TestNextNewVolumeName_CarriesOverDigitRun(t *testing.T) {
	assert.Equal(t, "archive.part02.rar", NextNewVolumeName("archive.part01.rar"))
	assert.Equal(t, "archive.part10.rar", NextNewVolumeName("archive.part09.rar"))
}

func TestIsOldStyleFirstVolume_RejectsPartNamed(t *testing.T) {
	assert.True(t, IsOldStyleFirstVolume("archive.rar"))
	assert.False(t, IsOldStyleFirstVolume("archive.part01.rar"))
}

func TestNewStyleVolumeNumber_ParsesPartNumber(t *testing.T) {
	n, ok := NewStyleVolumeNumber("archive.part07.rar")
	require.True(t, ok)
	assert.Equal(t, 7, n)
}

func TestToleranceOK_AllowsSmallRecoveryOverhead(t *testing.T) {
	assert.True(t, toleranceOK(1000, 995))
	assert.False(t, toleranceOK(1000000, 800000))
}
