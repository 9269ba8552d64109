// Package streamer implements the two Streamer (C6 Router.Stream
// candidate) kinds named in the original design: DirectStreamer, which
// picks the single biggest readable descendant of an item, and
// RarStreamer, which discovers a split RAR fileset among an item's
// children and exposes its biggest stored member. Grounded on
// thomas/processors/direct.py and thomas/processors/rar.py.
package streamer

import (
	"path/filepath"
	"strings"

	"github.com/JohnDoee/thomas/internal/apperror"
	"github.com/JohnDoee/thomas/internal/graph"
)

// seekReadCloser is the reader shape every handler in this module
// produces; Router.Open's return value is asserted against it.
type seekReadCloser interface {
	Seek(pos int64) error
	Read(n int) ([]byte, error)
	Close() error
}

func attrSize(it *graph.Item) int64 {
	v, ok := it.Attributes["size"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func hasAllowedExtension(name string, extensions map[string]bool) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return extensions[ext]
}

// DirectStreamer evaluates to the size of the biggest readable descendant
// of an item whose name carries an allowed extension, and streams that
// descendant's own Open result. Grounded on DirectProcessor's evaluate/get
// pair, which walked the directory tree looking for "the" playable file.
type DirectStreamer struct {
	item       *graph.Item
	extensions map[string]bool
	best       *graph.Item
}

// NewDirectHandlerFactory returns a graph.HandlerFactory that builds a
// DirectStreamer scoped to the given extension allow-list (case
// insensitive, without leading dots). An empty list allows every
// extension.
func NewDirectHandlerFactory(extensions []string) graph.HandlerFactory {
	set := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		set[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return func(item *graph.Item, kwargs map[string]any) (any, error) {
		return &DirectStreamer{item: item, extensions: set}, nil
	}
}

// Evaluate recursively expands item (via its router, when not already
// listed) and returns the size of the biggest matching readable
// descendant found, or (0, false) if none matched.
func (s *DirectStreamer) Evaluate() (int64, bool) {
	best := findBiggestReadable(s.item, s.extensions)
	if best == nil {
		return 0, false
	}
	s.best = best
	return attrSize(best), true
}

// Stream opens the descendant found by the most recent Evaluate call
// (running one first if needed).
func (s *DirectStreamer) Stream() (any, error) {
	if s.best == nil {
		if _, ok := s.Evaluate(); !ok {
			return nil, apperror.NewInvalidInput("no streamable descendant found", nil)
		}
	}
	if s.best.Router == nil {
		return nil, apperror.NewInvalidInput("item has no router to open the chosen descendant", nil)
	}
	return s.best.Router.Open(s.best, nil)
}

// findBiggestReadable walks item's subtree depth-first, expanding
// unlisted-but-listable nodes along the way, and returns the readable
// descendant with the largest size attribute whose id carries an allowed
// extension.
func findBiggestReadable(item *graph.Item, extensions map[string]bool) *graph.Item {
	var best *graph.Item
	var bestSize int64 = -1

	var walk func(it *graph.Item)
	walk = func(it *graph.Item) {
		if it.IsReadable() && hasAllowedExtension(it.ID, extensions) {
			if size := attrSize(it); size > bestSize {
				bestSize = size
				best = it
			}
		}

		children := it.Children
		if children == nil && it.IsListable() && it.Router != nil {
			listed, err := it.Router.List(it, nil)
			if err == nil && listed != nil {
				children = listed.Children
			}
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(item)

	return best
}
