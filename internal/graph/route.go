package graph

// Route records a handler binding on an Item: which capabilities it
// serves, at what priority, and with what fixed kwargs to merge into a
// call's own kwargs. Grounded on the route dict literal in the original
// filesystem.py's add_route/deduplicate_routes.
type Route struct {
	Handler   string
	CanOpen   bool
	CanList   bool
	CanStream bool
	Priority  int
	Kwargs    map[string]any
}

// equal reports whether two routes are identical in every field, the
// condition dedupeRoutes uses to collapse duplicates.
func (r Route) equal(other Route) bool {
	if r.Handler != other.Handler || r.CanOpen != other.CanOpen ||
		r.CanList != other.CanList || r.CanStream != other.CanStream ||
		r.Priority != other.Priority {
		return false
	}
	if len(r.Kwargs) != len(other.Kwargs) {
		return false
	}
	for k, v := range r.Kwargs {
		if ov, ok := other.Kwargs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func dedupeRoutes(routes []Route) []Route {
	if len(routes) <= 1 {
		return routes
	}

	var out []Route
	for _, r := range routes {
		dup := false
		for _, seen := range out {
			if r.equal(seen) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}
