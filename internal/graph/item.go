// Package graph implements Item, Route, and Router (C6): a resource graph
// whose nodes carry capability flags (readable/listable/streamable) and a
// set of Routes describing which registered handler can open, list, or
// stream them. Grounded on the original thomas/filesystem.py Item/Router
// classes, reworked from Python's dict-subclassing attribute bag into a Go
// struct with an explicit attribute map.
package graph

import (
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/copier"

	"github.com/JohnDoee/thomas/internal/apperror"
)

var (
	apperrNotReadable   = apperror.NewInvalidInput("item is not readable", nil)
	apperrNotStreamable = apperror.NewInvalidInput("item is not streamable", nil)
)

// mergeSkipKeys are the attribute keys merged by max() instead of
// take-from-other.
var mergeSkipKeys = map[string]bool{"date": true, "modified": true, "size": true}

// Item is one node in the resource graph.
type Item struct {
	ID         string
	Attributes map[string]any
	Readable   bool
	Expandable bool
	Streamable bool

	Parent *Item
	// Children is nil until the item has been listed (is_expanded); an
	// empty, non-nil slice means "listed, no children".
	Children []*Item
	Routes   []Route

	// Router is consulted by Open/List/Stream; nil means those calls
	// return an error instead of panicking on a missing router.
	Router *Router

	mu sync.Mutex
}

// New creates an unlisted, routeless item with no capability flags set.
func New(id string, attributes map[string]any) *Item {
	if attributes == nil {
		attributes = map[string]any{}
	}
	return &Item{ID: id, Attributes: attributes}
}

// WithRouter sets the router consulted by Open/List/Stream and returns it
// for chaining.
func (it *Item) WithRouter(r *Router) *Item {
	it.Router = r
	return it
}

// Path returns the slash-joined id chain from the root to this item.
func (it *Item) Path() string {
	if it.Parent != nil {
		return it.Parent.Path() + "/" + it.ID
	}
	return it.ID
}

// Modified derives a modification time from the "modified" attribute,
// falling back to "date", both read as unix seconds.
func (it *Item) Modified() time.Time {
	var sec int64
	if v, ok := it.Attributes["modified"]; ok {
		sec = toInt64(v)
	} else if v, ok := it.Attributes["date"]; ok {
		sec = toInt64(v)
	}
	return time.Unix(sec, 0).UTC()
}

func toInt64(v any) int64 {
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

// IsReadable mirrors is_readable: Readable is set and a size attribute is
// present.
func (it *Item) IsReadable() bool {
	_, hasSize := it.Attributes["size"]
	return it.Readable && hasSize
}

// IsListable mirrors is_listable: either expandable, or already listed.
func (it *Item) IsListable() bool {
	return it.Expandable || it.Children != nil
}

// IsExpanded reports whether List has populated Children (even if empty).
func (it *Item) IsExpanded() bool {
	return it.Children != nil
}

// IsStreamable mirrors is_streamable.
func (it *Item) IsStreamable() bool {
	return it.Streamable
}

// AddItem appends child as a new child of it, wiring its parent back-ref.
func (it *Item) AddItem(child *Item) {
	child.Parent = it
	if it.Children == nil {
		it.Children = []*Item{}
	}
	it.Children = append(it.Children, child)
}

// ByPath resolves a slash-separated path against this expanded item's
// subtree (supplemented from get_item_from_path). The leading path segment
// is expected to equal it.ID when it.ID is non-empty, matching the
// original's root-relative addressing convention.
func (it *Item) ByPath(path string) *Item {
	if !it.IsExpanded() {
		return nil
	}

	segs := strings.Split(path, "/")
	if it.ID != "" && len(segs) > 0 {
		segs = segs[1:]
	}

	if len(segs) == 0 {
		return it
	}

	var next *Item
	for _, c := range it.Children {
		if c.ID == segs[0] {
			next = c
			break
		}
	}
	if next == nil {
		return nil
	}

	if len(segs) > 1 {
		return next.ByPath(strings.Join(segs, "/"))
	}
	return next
}

// AddRoute records handler as serving at least one of the three
// capabilities already enabled on it, matching add_route's guard (a route
// naming a capability the item doesn't actually have is dropped silently).
func (it *Item) AddRoute(handler string, canOpen, canList, canStream bool, priority int, kwargs map[string]any) {
	matches := (canOpen && it.IsReadable()) || (canList && it.IsListable()) || (canStream && it.IsStreamable())
	if !matches {
		return
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}

	it.Routes = append(it.Routes, Route{
		Handler:   handler,
		CanOpen:   canOpen,
		CanList:   canList,
		CanStream: canStream,
		Priority:  priority,
		Kwargs:    kwargs,
	})
	it.Routes = dedupeRoutes(it.Routes)
}

// RemoveRoutes drops routes matching handler (if non-empty) or any of the
// given capability flags (supplemented from the original's remove_routes).
func (it *Item) RemoveRoutes(handler string, canOpen, canList, canStream bool) {
	if len(it.Routes) == 0 {
		return
	}

	var kept []Route
	for _, r := range it.Routes {
		if handler != "" && r.Handler == handler {
			continue
		}
		if canOpen && r.CanOpen {
			continue
		}
		if canList && r.CanList {
			continue
		}
		if canStream && r.CanStream {
			continue
		}
		kept = append(kept, r)
	}
	it.Routes = kept
}

// Merge applies the union semantics specified for Item.merge: a no-op
// unless ids match, attribute take-or-update-or-keep per key (with
// date/modified/size merged by max), capability flags OR'd, routes
// concatenated and deduplicated, and children set-union by id with
// recursive merge on matches, re-parenting every resulting child to it.
func (it *Item) Merge(other *Item) {
	if other == nil || it.ID != other.ID {
		return
	}

	for k, v := range other.Attributes {
		if mergeSkipKeys[k] {
			continue
		}

		cur, present := it.Attributes[k]
		if !present || isFalsy(cur) {
			it.Attributes[k] = v
			continue
		}

		curMap, curIsMap := cur.(map[string]any)
		otherMap, otherIsMap := v.(map[string]any)
		if curIsMap && otherIsMap {
			for mk, mv := range otherMap {
				curMap[mk] = mv
			}
		}
		// else: keep self's value
	}

	for k := range mergeSkipKeys {
		_, inSelf := it.Attributes[k]
		_, inOther := other.Attributes[k]
		if !inSelf && !inOther {
			continue
		}
		it.Attributes[k] = maxNumeric(it.Attributes[k], other.Attributes[k])
	}

	if len(it.Routes) == 0 && len(other.Routes) > 0 {
		it.Routes = other.Routes
	} else if len(it.Routes) > 0 && len(other.Routes) > 0 {
		it.Routes = append(it.Routes, other.Routes...)
	}
	it.Routes = dedupeRoutes(it.Routes)

	it.Expandable = it.Expandable || other.Expandable
	it.Readable = it.Readable || other.Readable
	it.Streamable = it.Streamable || other.Streamable

	if it.Children == nil && other.Children != nil {
		it.Children = other.Children
	} else if it.Children != nil && other.Children != nil {
		selfByID := make(map[string]*Item, len(it.Children))
		for _, c := range it.Children {
			selfByID[c.ID] = c
		}
		otherByID := make(map[string]*Item, len(other.Children))
		for _, c := range other.Children {
			otherByID[c.ID] = c
		}

		for id, c := range otherByID {
			if _, ok := selfByID[id]; !ok {
				it.Children = append(it.Children, c)
			}
		}
		for id, c := range otherByID {
			if sc, ok := selfByID[id]; ok {
				sc.Merge(c)
			}
		}
	}

	for _, c := range it.Children {
		c.Parent = it
	}
}

func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	default:
		return false
	}
}

func maxNumeric(a, b any) any {
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if !aok {
		return b
	}
	if !bok {
		return a
	}
	if af >= bf {
		return a
	}
	return b
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Open returns an opened reader via the router, failing if it is not
// readable.
func (it *Item) Open(kwargs map[string]any) (any, error) {
	if !it.IsReadable() {
		return nil, apperrNotReadable
	}
	return it.Router.Open(it, kwargs)
}

// Stream returns a streamed value via the router, failing if it is not
// streamable.
func (it *Item) Stream(kwargs map[string]any) (any, error) {
	if !it.IsStreamable() {
		return nil, apperrNotStreamable
	}
	return it.Router.Stream(it, kwargs)
}

// List populates and returns Children, listing through the router exactly
// once; subsequent calls return the cached Children.
func (it *Item) List(kwargs map[string]any) ([]*Item, error) {
	if !it.IsListable() {
		return nil, nil
	}

	it.mu.Lock()
	defer it.mu.Unlock()

	if it.Children != nil {
		return it.Children, nil
	}

	it.Children = []*Item{}
	listed, err := it.Router.List(it, kwargs)
	if err != nil {
		return nil, err
	}
	it.Merge(listed)

	return it.Children, nil
}

// SerializedItem is the wire form used by Serialize/Unserialize.
type SerializedItem struct {
	ID         string           `json:"id"`
	Attributes map[string]any   `json:"attributes"`
	Readable   bool             `json:"readable"`
	Streamable bool             `json:"streamable"`
	Expandable bool             `json:"expandable"`
	Nested     []SerializedItem `json:"nested_items"`
	HasNested  bool             `json:"-"`
	Routes     []Route          `json:"routes,omitempty"`
}

// Serialize produces the wire form; includeRoutes controls whether Routes
// is populated, includeNested whether Children is recursed into.
func (it *Item) Serialize(includeRoutes, includeNested bool) SerializedItem {
	out := SerializedItem{
		ID:         it.ID,
		Attributes: deepCloneAttributes(it.Attributes),
		Readable:   it.Readable,
		Streamable: it.Streamable,
		Expandable: it.Expandable,
	}

	if includeNested && it.Children != nil {
		out.HasNested = true
		for _, c := range it.Children {
			out.Nested = append(out.Nested, c.Serialize(includeRoutes, includeNested))
		}
	}

	if includeRoutes {
		out.Routes = it.Routes
		if out.Routes == nil {
			out.Routes = []Route{}
		}
	}

	return out
}

// Unserialize rebuilds an Item tree from its wire form. defaultRoutes, if
// given, is added (via AddRoute) to any item whose capability flags imply
// routing but which carries no explicit routes of its own.
func Unserialize(data SerializedItem, defaultRoutes []Route) *Item {
	it := New(data.ID, data.Attributes)

	if data.HasNested {
		it.Children = []*Item{}
		for _, nd := range data.Nested {
			it.AddItem(Unserialize(nd, defaultRoutes))
		}
	}

	needRoutes := false
	if data.Expandable {
		it.Expandable = true
		needRoutes = true
	}
	if data.Readable {
		it.Readable = true
		needRoutes = true
	}
	if data.Streamable {
		it.Streamable = true
		needRoutes = true
	}

	if len(data.Routes) > 0 {
		it.Routes = data.Routes
	} else if needRoutes && len(defaultRoutes) > 0 {
		for _, r := range defaultRoutes {
			it.AddRoute(r.Handler, r.CanOpen, r.CanList, r.CanStream, r.Priority, r.Kwargs)
		}
	}

	return it
}

// Duplicate clones it via a serialize/unserialize round trip (matching the
// original's duplicate, which goes through the same path rather than a
// field-by-field copy). clearRoutes also clears capability flags;
// clearNested drops any children entirely rather than recursing them.
func (it *Item) Duplicate(clearRoutes, clearNested bool) *Item {
	serialized := it.Serialize(!clearRoutes, true)
	dup := Unserialize(serialized, nil)

	if clearRoutes {
		dup.Expandable = false
		dup.Readable = false
		dup.Streamable = false
	}
	if clearNested {
		dup.Children = nil
	}

	return dup
}

// deepCloneAttributes returns an independent copy of attrs via
// jinzhu/copier, used where a per-route clone must not share mutable
// attribute maps with its siblings during a parallel Router.List.
func deepCloneAttributes(attrs map[string]any) map[string]any {
	out := map[string]any{}
	if err := copier.Copy(&out, attrs); err != nil || len(out) != len(attrs) {
		// Fall back to a shallow copy; attributes are simple scalars/maps
		// in practice so this only matters for pathological inputs.
		out = map[string]any{}
		for k, v := range attrs {
			out[k] = v
		}
	}
	return out
}
