package graph

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/JohnDoee/thomas/internal/slogutil"
)

// HandlerFactory builds an opened reader or streamed value for item with
// the merged kwargs. Returning (nil, nil) means "no value"; an error
// aborts the whole Open/Stream call in the style the reader packages use.
type HandlerFactory func(item *Item, kwargs map[string]any) (any, error)

// Streamer is what a stream-capable handler factory returns: it scores
// itself, then produces the stream for whichever candidate scored highest.
type Streamer interface {
	Evaluate() (int64, bool)
	Stream() (any, error)
}

// handlerEntry is one registered handler's capability set.
type handlerEntry struct {
	factory   HandlerFactory
	canOpen   bool
	canList   bool
	canStream bool
}

// ListDecorator wraps a list-capable handler invocation, e.g. to add
// tracing or rate limiting around every route's listing.
type ListDecorator func(next HandlerFactory) HandlerFactory

// Router dispatches Item operations to registered handlers by route.
type Router struct {
	mu            sync.RWMutex
	registry      map[string]handlerEntry
	ListDecorator ListDecorator
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{registry: map[string]handlerEntry{}}
}

// RegisterHandler records handlerID's factory and which operations it
// serves.
func (r *Router) RegisterHandler(handlerID string, factory HandlerFactory, canOpen, canList, canStream bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[handlerID] = handlerEntry{factory: factory, canOpen: canOpen, canList: canList, canStream: canStream}
}

// UnregisterHandler drops a previously registered handler (supplemented).
func (r *Router) UnregisterHandler(handlerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registry, handlerID)
}

func (r *Router) lookup(handlerID string) (handlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.registry[handlerID]
	return h, ok
}

func routesByPriorityDesc(routes []Route) []Route {
	out := make([]Route, len(routes))
	copy(out, routes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func mergeKwargs(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// Open iterates routes by descending priority and instantiates the first
// registered, open-capable handler. Returns (nil, nil) if none match.
func (r *Router) Open(item *Item, kwargs map[string]any) (any, error) {
	if len(item.Routes) == 0 {
		return nil, nil
	}

	for _, route := range routesByPriorityDesc(item.Routes) {
		h, ok := r.lookup(route.Handler)
		if !ok || !h.canOpen {
			continue
		}

		merged := mergeKwargs(kwargs, route.Kwargs)
		return h.factory(item, merged)
	}

	return nil, nil
}

// List clones item with empty children and no routes, then dispatches
// every list-capable route concurrently on its own clone and, once all of
// them have finished, merges every result into the accumulator.
func (r *Router) List(item *Item, kwargs map[string]any) (*Item, error) {
	if len(item.Routes) == 0 {
		return item, nil
	}

	acc := item.Duplicate(true, true)

	var listRoutes []Route
	for _, route := range item.Routes {
		if h, ok := r.lookup(route.Handler); ok && h.canList {
			listRoutes = append(listRoutes, route)
		}
	}
	if len(listRoutes) == 0 {
		return acc, nil
	}

	p := pool.NewWithResults[*Item]()
	for _, route := range listRoutes {
		route := route
		h, _ := r.lookup(route.Handler)
		factory := h.factory
		if r.ListDecorator != nil {
			factory = r.ListDecorator(factory)
		}

		callID := uuid.NewString()
		p.Go(func() *Item {
			ctx := slogutil.With(context.Background(), "list_call_id", callID, "handler", route.Handler, "item", item.ID)
			slog.InfoContext(ctx, "dispatching list route")

			clone := acc.Duplicate(true, true)
			clone.ID = item.ID
			merged := mergeKwargs(kwargs, route.Kwargs)

			result, err := factory(clone, merged)
			if err != nil {
				slog.ErrorContext(ctx, "list route failed", "err", err)
				return nil
			}
			listed, ok := result.(*Item)
			if !ok {
				return nil
			}
			return listed
		})
	}

	results := p.Wait()
	for _, listed := range results {
		if listed != nil {
			acc.Merge(listed)
		}
	}

	return acc, nil
}

// Stream iterates stream-capable routes by descending priority,
// instantiates each as a Streamer, remembers the highest-scoring one (ties
// go to the first seen), then calls Stream on it.
func (r *Router) Stream(item *Item, kwargs map[string]any) (any, error) {
	if len(item.Routes) == 0 {
		return nil, nil
	}

	var best Streamer
	var bestScore int64
	haveBest := false

	for _, route := range routesByPriorityDesc(item.Routes) {
		h, ok := r.lookup(route.Handler)
		if !ok || !h.canStream {
			continue
		}

		merged := mergeKwargs(kwargs, route.Kwargs)
		candidate, err := h.factory(item, merged)
		if err != nil {
			return nil, err
		}
		streamer, ok := candidate.(Streamer)
		if !ok {
			continue
		}

		score, scored := streamer.Evaluate()
		if !scored {
			continue
		}
		if !haveBest || score > bestScore {
			best = streamer
			bestScore = score
			haveBest = true
		}
	}

	if !haveBest {
		return nil, nil
	}

	return best.Stream()
}
