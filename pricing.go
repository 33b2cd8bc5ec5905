package tollgate

// Route holds the payment terms for one route: the price in token units
// (decimal string) and the recipient address.
type Route struct {
	Price     string
	Recipient string
}

// RouteTable is a PriceResolver backed by a static map with a default
// fallback. Lookups are O(1) and allocation-free; the table is built once at
// startup and read-only afterwards.
type RouteTable struct {
	routes       map[string]Route
	defaultRoute Route
}

// NewRouteTable creates a route table with the given default terms.
func NewRouteTable(defaultRoute Route) *RouteTable {
	return &RouteTable{
		routes:       make(map[string]Route),
		defaultRoute: defaultRoute,
	}
}

// Set adds or replaces the terms for a route. Not safe to call once the table
// is serving requests.
func (t *RouteTable) Set(routeID string, route Route) *RouteTable {
	t.routes[routeID] = route
	return t
}

// Resolve returns the price and recipient for a route, falling back to the
// default when no per-route override exists.
func (t *RouteTable) Resolve(routeID string) (string, string) {
	if route, ok := t.routes[routeID]; ok {
		return route.Price, route.Recipient
	}
	return t.defaultRoute.Price, t.defaultRoute.Recipient
}
