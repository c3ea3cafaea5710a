package origin

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Wildcard in an allow list admits every origin.
const Wildcard = "*"

// NormalizeHeader validates a browser Origin header and returns it as
// scheme://host[:port] with default ports removed.
//
// The special Origin value "null" is allowed and returned as-is.
func NormalizeHeader(originHeader string) (string, bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}
	port := u.Port()
	if port == "" && strings.HasSuffix(u.Host, ":") {
		return "", false
	}
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		}
	}

	host := hostname
	if port != "" {
		host = net.JoinHostPort(hostname, port)
	} else if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	return scheme + "://" + host, true
}

// Policy decides which browser origins may open WebSocket connections or
// read HTTP endpoints. An empty policy admits every origin.
type Policy struct {
	allowed map[string]struct{}
	any     bool
}

// ParseAllowList parses a comma-separated list of origins (or "*").
func ParseAllowList(raw string) ([]string, error) {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == Wildcard {
			out = append(out, entry)
			continue
		}
		normalized, ok := NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func NewPolicy(allowed []string) *Policy {
	p := &Policy{allowed: make(map[string]struct{}, len(allowed))}
	if len(allowed) == 0 {
		p.any = true
	}
	for _, a := range allowed {
		if a == Wildcard {
			p.any = true
			continue
		}
		p.allowed[a] = struct{}{}
	}
	return p
}

// Allows reports whether originHeader may connect. Requests without an
// Origin header (non-browser clients) are always allowed; the returned
// normalized origin is then empty.
func (p *Policy) Allows(originHeader string) (string, bool) {
	if strings.TrimSpace(originHeader) == "" {
		return "", true
	}
	normalized, ok := NormalizeHeader(originHeader)
	if !ok {
		return "", false
	}
	if p == nil || p.any {
		return normalized, true
	}
	_, ok = p.allowed[normalized]
	return normalized, ok
}
