package transport

import (
	"fmt"
	"strings"
)

// BuildURL joins host, port and route into an absolute URL. The host may
// already carry a scheme, otherwise https is assumed. With ws the scheme is
// switched to its websocket counterpart.
func BuildURL(host string, port string, route string, ws bool) string {
	base := host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	base = strings.TrimSuffix(base, "/")
	if port != "" {
		base = fmt.Sprintf("%s:%s", base, port)
	}

	if ws {
		switch {
		case strings.HasPrefix(base, "https://"):
			base = "wss://" + strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			base = "ws://" + strings.TrimPrefix(base, "http://")
		}
	}

	base = strings.TrimSuffix(base, "/")
	if route != "" && !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return base + route
}
