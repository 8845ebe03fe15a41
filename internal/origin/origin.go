// Package origin implements the Origin allow-list applied to the relay's
// WebSocket endpoint so browser clients on foreign sites cannot join.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates a browser Origin header and returns its canonical
// form (lowercase scheme://host[:port], default ports dropped) together with
// the host[:port] part. The literal "null" origin is accepted as-is.
func NormalizeHeader(header string) (normalized, host string, ok bool) {
	v := strings.TrimSpace(header)
	switch v {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(v)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may open a relay connection
// on requestHost. A non-empty allow-list matches entries exactly ("*" matches
// anything). An empty allow-list means same host:port only; the scheme is not
// compared because TLS may terminate in front of the relay.
func IsAllowed(normalized, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found || (scheme != "http" && scheme != "https") {
		return false
	}
	reqHost, ok := canonicalAuthority(strings.TrimSpace(requestHost), scheme)
	return ok && reqHost == originHost
}

func canonicalAuthority(raw, scheme string) (string, bool) {
	hostname, port, ok := splitHostPort(raw)
	if !ok || hostname == "" {
		return "", false
	}
	hostname = strings.ToLower(hostname)

	var n uint64
	if port != "" {
		var err error
		n, err = strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
	}
	if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
		n = 0
	}

	out := hostname
	if strings.Contains(hostname, ":") {
		out = "[" + hostname + "]"
	}
	if n != 0 {
		out += ":" + strconv.FormatUint(n, 10)
	}
	return out, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed; the
// returned hostname has the brackets removed.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		h, rest := raw[1:end], raw[end+1:]
		if rest == "" {
			return h, "", true
		}
		if len(rest) < 2 || rest[0] != ':' {
			return "", "", false
		}
		return h, rest[1:], true
	}
	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", raw != ""
	case 1:
		hostname, port, _ = strings.Cut(raw, ":")
		return hostname, port, hostname != "" && port != ""
	default:
		return "", "", false
	}
}
