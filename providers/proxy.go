package providers

import "strings"

// RouteViaProxy decides whether a request should be dispatched through the
// external cost-control proxy instead of directly to a vendor. It is a pure
// function of its inputs: no I/O, no clock, no randomness, so replicas always
// agree on the route for identical requests.
//
// Paid tiers talk to vendors directly; everyone else goes through the proxy
// when it is enabled. Bulk features are proxied regardless of tier because
// they can burn through spend limits in a single request.
func RouteViaProxy(proxyEnabled bool, userTier, feature string) bool {
	if !proxyEnabled {
		return false
	}
	if strings.HasPrefix(feature, "bulk-") {
		return true
	}
	switch strings.ToLower(userTier) {
	case "pro", "enterprise":
		return false
	default:
		return true
	}
}
