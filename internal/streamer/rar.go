package streamer

import (
	"io"
	"strings"

	"github.com/JohnDoee/thomas/internal/apperror"
	"github.com/JohnDoee/thomas/internal/graph"
	"github.com/JohnDoee/thomas/internal/rar"
	"github.com/JohnDoee/thomas/internal/virtualfile"
)

// itemVolumeSource adapts a flat set of sibling items into a
// rar.VolumeSource, opening each volume on demand through its own router
// route rather than a local directory.
type itemVolumeSource struct {
	byName map[string]*graph.Item
}

func newItemVolumeSource(children []*graph.Item) *itemVolumeSource {
	m := make(map[string]*graph.Item, len(children))
	for _, c := range children {
		m[strings.ToLower(c.ID)] = c
	}
	return &itemVolumeSource{byName: m}
}

func (s *itemVolumeSource) Open(name string) (rar.VolumeReader, bool, error) {
	item, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, false, nil
	}
	if item.Router == nil {
		return nil, false, apperror.NewInvalidInput("volume item has no router", nil)
	}

	opened, err := item.Router.Open(item, nil)
	if err != nil {
		return nil, false, err
	}
	reader, ok := opened.(seekReadCloser)
	if !ok {
		return nil, false, apperror.NewInvalidInput("volume item did not open to a seekable reader", nil)
	}
	return reader, true, nil
}

// rarFileset is one split-RAR group discovered among an item's children.
type rarFileset struct {
	firstVolume string
	volumes     []string
	totalSize   int64
}

// discoverFilesets groups children into split-RAR filesets: each old-style
// first volume (name.rar that is not name.partNN.rar) or new-style part-1
// volume (name.part01.rar) starts one group, followed forward through the
// volume-successor rule until a name with no matching sibling is reached.
// Grounded on RarProcessor's directory scan in thomas/processors/rar.py.
func discoverFilesets(children []*graph.Item) []rarFileset {
	byName := make(map[string]*graph.Item, len(children))
	for _, c := range children {
		byName[strings.ToLower(c.ID)] = c
	}

	seen := map[string]bool{}
	var filesets []rarFileset

	for _, c := range children {
		name := c.ID
		lower := strings.ToLower(name)
		if seen[lower] {
			continue
		}

		var isFirst, newNumbering bool
		if n, ok := rar.NewStyleVolumeNumber(name); ok && n == 1 {
			isFirst, newNumbering = true, true
		} else if rar.IsOldStyleFirstVolume(name) {
			isFirst, newNumbering = true, false
		}
		if !isFirst {
			continue
		}

		fs := rarFileset{firstVolume: name}
		cur := name
		for {
			item, ok := byName[strings.ToLower(cur)]
			if !ok {
				break
			}
			seen[strings.ToLower(cur)] = true
			fs.volumes = append(fs.volumes, cur)
			fs.totalSize += attrSize(item)

			if newNumbering {
				cur = rar.NextNewVolumeName(cur)
			} else {
				cur = rar.NextOldVolumeName(cur)
			}
		}
		filesets = append(filesets, fs)
	}

	return filesets
}

// RarStreamer evaluates to 0.99 times the combined volume size of the
// biggest split-RAR fileset among an item's children, and streams that
// fileset's biggest stored member via the lazy virtual-file path.
type RarStreamer struct {
	item *graph.Item
	best *rarFileset
}

// NewRarHandlerFactory returns a graph.HandlerFactory that builds a
// RarStreamer over item's children.
func NewRarHandlerFactory() graph.HandlerFactory {
	return func(item *graph.Item, kwargs map[string]any) (any, error) {
		return &RarStreamer{item: item}, nil
	}
}

func expandChildren(item *graph.Item) []*graph.Item {
	if item.Children != nil {
		return item.Children
	}
	if item.IsListable() && item.Router != nil {
		if listed, err := item.Router.List(item, nil); err == nil && listed != nil {
			return listed.Children
		}
	}
	return nil
}

// Evaluate mirrors the 0.99 discount the original applied to a RAR
// fileset's raw size, leaving headroom for a direct-file candidate of
// equal size to win ties.
func (s *RarStreamer) Evaluate() (int64, bool) {
	filesets := discoverFilesets(expandChildren(s.item))
	if len(filesets) == 0 {
		return 0, false
	}

	var best *rarFileset
	for i := range filesets {
		if best == nil || filesets[i].totalSize > best.totalSize {
			best = &filesets[i]
		}
	}
	s.best = best

	return int64(float64(best.totalSize) * 0.99), true
}

// Stream locates the biggest stored member of the chosen fileset's first
// volume, then builds a lazy virtual-file reader spanning every volume
// that carries a piece of it.
func (s *RarStreamer) Stream() (any, error) {
	if s.best == nil {
		if _, ok := s.Evaluate(); !ok {
			return nil, apperror.NewInvalidInput("no RAR fileset found", nil)
		}
	}

	source := newItemVolumeSource(expandChildren(s.item))

	if err := rar.VerifyVolumes(source, s.best.volumes); err != nil {
		return nil, err
	}

	member, err := biggestMemberName(source, s.best.firstVolume)
	if err != nil {
		return nil, err
	}

	segments, err := rar.BuildSegments(source, s.best.firstVolume, member)
	if err != nil {
		return nil, err
	}

	return virtualfile.New(segments), nil
}

// biggestMemberName scans firstVolume's header and returns the name of
// the stored file entry with the largest declared unpacked size.
func biggestMemberName(source *itemVolumeSource, firstVolume string) (string, error) {
	vr, ok, err := source.Open(firstVolume)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperror.NewBadContainer("first volume not found: "+firstVolume, nil)
	}
	defer vr.Close()

	if err := vr.Seek(0); err != nil {
		return "", err
	}

	adapter := &volumeReaderAdapter{r: vr}
	version, err := rar.DetectVersion(adapter)
	if err != nil {
		return "", err
	}
	result, err := rar.ScanVolume(version, adapter)
	if err != nil {
		return "", err
	}

	var best string
	var bestSize int64 = -1
	for _, f := range result.Files {
		if !f.Stored {
			continue
		}
		if f.UnpackedSize > bestSize {
			bestSize = f.UnpackedSize
			best = f.Name
		}
	}
	if best == "" {
		return "", apperror.NewBadContainer("no stored file entries found in first volume", nil)
	}
	return best, nil
}

// volumeReaderAdapter turns a rar.VolumeReader's Read(n)([]byte,error)
// into a plain io.Reader for the header parsers.
type volumeReaderAdapter struct {
	r rar.VolumeReader
}

func (a *volumeReaderAdapter) Read(p []byte) (int, error) {
	data, err := a.r.Read(len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	return copy(p, data), nil
}
