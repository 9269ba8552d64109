package rar

import (
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JohnDoee/thomas/internal/apperror"
	"github.com/JohnDoee/thomas/internal/virtualfile"
)

// VolumeSource resolves volume names to openable streams without touching
// the local filesystem. This is the key redesign point of C7: instead of
// looking up the next volume on disk, the reader asks a supplied namespace
// (typically an Item directory) for a case-insensitive name match. Grounded
// on the original _get_item_from_filename/_next_volname_to_item, reworked
// from a dict filesystem.list() scan into an explicit interface so a
// VirtualRarReader is not coupled to the graph package's Item type.
type VolumeSource interface {
	// Open returns a reader for the volume whose name case-insensitively
	// equals name, or (nil, false, nil) if no such volume exists.
	Open(name string) (VolumeReader, bool, error)
}

// VolumeReader is what a VolumeSource hands back for one volume: a
// seek-then-sequential-read stream. OpenDirect and DirectReader seek each
// volume twice (to 0 to scan its headers, then to the member's data), so
// they need a VolumeReader that accepts a second Seek; the single-seek
// readers elsewhere in this module reject one.
type VolumeReader interface {
	Seek(pos int64) error
	Read(n int) ([]byte, error)
	Close() error
}

// nextVolumeName computes the successor volume name per the archive's own
// numbering scheme.
func nextVolumeName(current string, newNumbering bool) string {
	if newNumbering {
		return NextNewVolumeName(current)
	}
	return NextOldVolumeName(current)
}

// openAndScan opens name via source, detects its RAR version, and scans
// its headers, returning the opened (but not closed) reader alongside the
// parse result and the signature length consumed.
func openAndScan(source VolumeSource, name string) (VolumeReader, Version, *ParseResult, error) {
	vr, ok, err := source.Open(name)
	if err != nil {
		return nil, VersionUnknown, nil, err
	}
	if !ok {
		return nil, VersionUnknown, nil, apperror.NewBadContainer("volume not found: "+name, nil)
	}

	if err := vr.Seek(0); err != nil {
		_ = vr.Close()
		return nil, VersionUnknown, nil, err
	}

	version, err := DetectVersion(&readerAdapter{vr})
	if err != nil {
		_ = vr.Close()
		return nil, VersionUnknown, nil, err
	}

	result, err := ScanVolume(version, &readerAdapter{vr})
	if err != nil {
		_ = vr.Close()
		return nil, version, nil, err
	}

	return vr, version, result, nil
}

// readerAdapter turns a VolumeReader's Read(n)([]byte,error) into the
// io.Reader shape the header parsers expect.
type readerAdapter struct {
	r VolumeReader
}

func (a *readerAdapter) Read(p []byte) (int, error) {
	data, err := a.r.Read(len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, data)
	return n, nil
}

// findFileEntry returns the first Stored-or-not file entry in result whose
// name's final path segment matches want case-insensitively, or ok=false.
func findFileEntry(result *ParseResult, want string) (FileEntry, bool) {
	wantBase := baseName(want)
	for _, f := range result.Files {
		if strings.EqualFold(baseName(f.Name), wantBase) {
			return f, true
		}
	}
	return FileEntry{}, false
}

func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// DirectReader sequentially reads one stored member's bytes across
// however many volumes it spans, following FILE_SPLIT_AFTER and the
// volume-name rule as it goes. Grounded on VirtualDirectReader's
// _open_next in thomas/processors/rar.py.
type DirectReader struct {
	source VolumeSource

	newNumbering bool
	memberName   string

	cur        VolumeReader
	curName    string
	remaining  int64 // bytes left to read from the current volume's member data
	splitAfter bool

	pos      int64
	seeked   bool
	finished bool
}

// OpenDirect builds a DirectReader starting at firstVolumeName, locating
// memberName's first file entry there.
func OpenDirect(source VolumeSource, firstVolumeName, memberName string) (*DirectReader, error) {
	vr, _, result, err := openAndScan(source, firstVolumeName)
	if err != nil {
		return nil, err
	}

	entry, ok := findFileEntry(result, memberName)
	if !ok {
		_ = vr.Close()
		return nil, apperror.NewBadContainer("member not found in first volume: "+memberName, nil)
	}

	if err := vr.Seek(entry.DataOffset); err != nil {
		_ = vr.Close()
		return nil, err
	}

	return &DirectReader{
		source:       source,
		newNumbering: result.Main.NewNumbering,
		memberName:   baseName(entry.Name),
		cur:          vr,
		curName:      firstVolumeName,
		remaining:    entry.PackedSize,
		splitAfter:   entry.SplitAfter,
	}, nil
}

// Seek accepts only position 0 (the position at open, by construction),
// and only once, to satisfy the module's uniform single-seek contract; any
// other position, or a second call, fails.
func (d *DirectReader) Seek(pos int64) error {
	if d.seeked {
		return apperror.NewInvalidInput("seek permitted only once, before any read", nil)
	}
	d.seeked = true
	if pos != 0 {
		return apperror.NewInvalidInput("DirectReader only supports seeking to 0", nil)
	}
	return nil
}

// Read returns up to n bytes of the member's stored content, transparently
// following volume splits. CRC checking is intentionally not performed:
// the reader may never see the archive's tail.
func (d *DirectReader) Read(n int) ([]byte, error) {
	if d.finished {
		return nil, nil
	}

	for d.remaining == 0 {
		if !d.splitAfter {
			d.finished = true
			return nil, nil
		}
		if err := d.openNext(); err != nil {
			return nil, err
		}
	}

	want := int64(n)
	if want > d.remaining {
		want = d.remaining
	}

	data, err := d.cur.Read(int(want))
	if err != nil {
		return nil, err
	}
	d.remaining -= int64(len(data))
	d.pos += int64(len(data))

	return data, nil
}

// openNext closes the current volume, resolves the next one by name,
// verifies its signature, and confirms the next file header matches this
// member by name.
func (d *DirectReader) openNext() error {
	_ = d.cur.Close()

	nextName := nextVolumeName(d.curName, d.newNumbering)

	vr, _, result, err := openAndScan(d.source, nextName)
	if err != nil {
		return err
	}

	entry, ok := findFileEntry(result, d.memberName)
	if !ok {
		_ = vr.Close()
		return apperror.NewBadContainer("did not find continuation file entry in "+nextName, nil)
	}

	if err := vr.Seek(entry.DataOffset); err != nil {
		_ = vr.Close()
		return err
	}

	d.cur = vr
	d.curName = nextName
	d.remaining = entry.PackedSize
	d.splitAfter = entry.SplitAfter
	return nil
}

// Close releases the currently open volume.
func (d *DirectReader) Close() error {
	if d.cur != nil {
		return d.cur.Close()
	}
	return nil
}

// volumeOpener adapts one named volume from a VolumeSource into a
// virtualfile.Opener, so the lazy-mode segment list can be handed straight
// to virtualfile.New.
type volumeOpener struct {
	source VolumeSource
	name   string
}

func (o volumeOpener) Open() (virtualfile.SubReader, error) {
	vr, ok, err := o.source.Open(o.name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NewBadContainer("volume not found: "+o.name, nil)
	}
	return vr, nil
}

// toleranceOK applies the recovery-record tolerance check: a volume's
// declared unpacked size is allowed to disagree with the sum of its
// member segments' lengths, and is rejected only when the difference is
// both more than 10% of the declared size and more than 10000 bytes, to
// accommodate RAR's optional trailing recovery record without masking a
// genuinely truncated archive.
func toleranceOK(declared, actual int64) bool {
	if declared == actual {
		return true
	}
	absDiff := declared - actual
	if absDiff < 0 {
		absDiff = -absDiff
	}
	if declared == 0 {
		return absDiff == 0
	}
	relDiff := float64(absDiff) / float64(declared)
	return !(relDiff > 0.10 && absDiff > 10000)
}

// VerifyVolumes peeks every named volume's signature and header in
// parallel, bounded to four concurrent opens, surfacing the first error
// encountered. Intended as a pre-flight consistency check across a lazy
// fileset before committing to the sequential segment read, letting a
// caller fail fast on a corrupt middle volume instead of discovering it
// partway through playback.
func VerifyVolumes(source VolumeSource, names []string) error {
	g := new(errgroup.Group)
	g.SetLimit(4)

	for _, name := range names {
		name := name
		g.Go(func() error {
			vr, _, _, err := openAndScan(source, name)
			if vr != nil {
				_ = vr.Close()
			}
			return err
		})
	}

	return g.Wait()
}

// BuildSegments implements true lazy-mode segment discovery: only the
// first volume's header is ever parsed. Every stored member of a
// fixed-volume-size split archive occupies the same (header_offset,
// packed_length) span in every volume but the last, so the remaining
// volumes are only confirmed to exist (by VolumeSource.Open, never
// scanned for headers) and reuse the first volume's offsets; the last
// volume's length is recovered by subtracting the others from the
// member's declared total size. This is what makes the mode lazy: a
// caller can seek into the middle of a K-volume archive without this
// function ever reading K header blocks.
//
// Grounded on VirtualLazyReader's (header_offset, tail_offset) bookkeeping
// in thomas/processors/rar.py, reworked into SeekWithin/ReadLength pairs
// per Segment. The RECOVERY-flagged tolerance comparison in the original
// additionally weighs the first and last volumes' own on-disk sizes
// against their recovery-record share; that requires a byte-size oracle
// this module's VolumeReader intentionally doesn't expose (see
// DESIGN.md), so here the consistency check instead accepts any
// last-volume length the subtraction yields for a RECOVERY archive and
// only rejects a negative one, while a non-RECOVERY archive is held to
// the same toleranceOK band used elsewhere in this package.
func BuildSegments(source VolumeSource, firstVolumeName, memberName string) ([]virtualfile.Segment, error) {
	vr, ok, err := source.Open(firstVolumeName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NewBadContainer("first volume not found: "+firstVolumeName, nil)
	}

	if err := vr.Seek(0); err != nil {
		_ = vr.Close()
		return nil, err
	}

	version, err := DetectVersion(&readerAdapter{vr})
	if err != nil {
		_ = vr.Close()
		return nil, err
	}

	result, err := ScanVolume(version, &readerAdapter{vr})
	_ = vr.Close()
	if err != nil {
		return nil, err
	}

	entry, ok := findFileEntry(result, memberName)
	if !ok {
		return nil, apperror.NewBadContainer("member not found in first volume: "+memberName, nil)
	}

	newNumbering := result.Main.NewNumbering
	recovery := result.Main.Recovery
	headerOffset := entry.DataOffset
	perVolumeLength := entry.PackedSize
	fileSize := entry.UnpackedSize

	names := []string{firstVolumeName}
	if entry.SplitAfter {
		cur := firstVolumeName
		for {
			cur = nextVolumeName(cur, newNumbering)
			next, exists, err := source.Open(cur)
			if err != nil {
				return nil, err
			}
			if !exists {
				break
			}
			_ = next.Close()
			names = append(names, cur)
		}
	}

	segments := make([]virtualfile.Segment, len(names))
	var sumButLast int64
	for i, name := range names[:len(names)-1] {
		segments[i] = virtualfile.Segment{
			Item:       volumeOpener{source: source, name: name},
			SeekWithin: headerOffset,
			ReadLength: perVolumeLength,
		}
		sumButLast += perVolumeLength
	}

	lastLength := fileSize - sumButLast
	if lastLength < 0 || (!toleranceOK(fileSize, sumButLast+perVolumeLength) && !recovery && len(names) > 1) {
		return nil, apperror.NewBadContainer("member size mismatch across volumes", nil)
	}

	last := len(names) - 1
	segments[last] = virtualfile.Segment{
		Item:       volumeOpener{source: source, name: names[last]},
		SeekWithin: headerOffset,
		ReadLength: lastLength,
	}

	return segments, nil
}
