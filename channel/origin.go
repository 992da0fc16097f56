package channel

import "strings"

// OriginList is the allow-list a channel accepts messages from. Entries are
// exact origins ("https://studio.example.com") or single-wildcard subdomain
// patterns ("https://*.example.com"). A wildcard stands for one or more host
// characters and never crosses a "/", so it cannot leak into scheme or path.
type OriginList []string

// Allows reports whether the sender origin matches any entry.
func (l OriginList) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, pattern := range l {
		if matchOrigin(pattern, origin) {
			return true
		}
	}
	return false
}

// Concrete returns the entries that are postable origins, i.e. carry no
// wildcard. Handshake broadcasts target these.
func (l OriginList) Concrete() []string {
	out := make([]string, 0, len(l))
	for _, o := range l {
		if !strings.Contains(o, "*") {
			out = append(out, o)
		}
	}
	return out
}

func matchOrigin(pattern, origin string) bool {
	// A bare "*" trusts every origin; the "/" guard below is for subdomain
	// wildcards only and must not reject the scheme here.
	if pattern == "*" {
		return true
	}
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == origin
	}

	prefix := pattern[:star]
	suffix := pattern[star+1:]
	if len(origin) < len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}

	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return middle != "" && !strings.Contains(middle, "/")
}
