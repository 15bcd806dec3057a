// Package policy implements the routing-policy decision: region-tag ->
// route-group tag, with a distinct UK rule so the three seeded regions
// each resolve to a different route group.
package policy

// RouteGroup computes the route-group tag for a subscriber's region tag.
func RouteGroup(regionTag string) string {
	switch regionTag {
	case "US-EAST":
		return "ROUTE_GROUP_EAST"
	case "US-SOUTH":
		return "ROUTE_GROUP_SOUTH"
	case "UK":
		return "ROUTE_GROUP_UK"
	default:
		return "ROUTE_GROUP_INTL"
	}
}
