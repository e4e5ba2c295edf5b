package providers

import "testing"

func TestRouteViaProxy(t *testing.T) {
	tests := []struct {
		name         string
		proxyEnabled bool
		userTier     string
		feature      string
		want         bool
	}{
		{"disabled proxy never routes", false, "free", "chat", false},
		{"disabled proxy ignores bulk", false, "free", "bulk-export", false},
		{"free tier routes through proxy", true, "free", "chat", true},
		{"empty tier routes through proxy", true, "", "chat", true},
		{"pro tier goes direct", true, "pro", "chat", false},
		{"enterprise tier goes direct", true, "enterprise", "chat", false},
		{"tier matching is case insensitive", true, "Pro", "chat", false},
		{"bulk feature overrides pro tier", true, "pro", "bulk-export", true},
		{"bulk feature overrides enterprise tier", true, "enterprise", "bulk-import", true},
		{"bulk prefix must match exactly", true, "pro", "bulkish", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RouteViaProxy(tt.proxyEnabled, tt.userTier, tt.feature); got != tt.want {
				t.Errorf("RouteViaProxy(%v, %q, %q) = %v, want %v",
					tt.proxyEnabled, tt.userTier, tt.feature, got, tt.want)
			}
		})
	}
}

func TestRouteViaProxyIsDeterministic(t *testing.T) {
	// Same inputs must always produce the same route, regardless of how many
	// times or in what order the decision runs.
	for i := 0; i < 100; i++ {
		if !RouteViaProxy(true, "free", "chat") {
			t.Fatal("route decision changed between identical calls")
		}
		if RouteViaProxy(true, "enterprise", "chat") {
			t.Fatal("route decision changed between identical calls")
		}
	}
}
