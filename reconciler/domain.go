package reconciler

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeDomain extracts the lower-case host from a domain or a page URL. Non-web pages
// (about:, chrome:, safari-extension:, file:) yield ok=false.
func NormalizeDomain(raw string) (domain string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return "", false
		}
		raw = u.Hostname()

	case strings.Contains(raw, ":"):
		// host:port, or an opaque scheme such as about:blank
		host, port, err := net.SplitHostPort(raw)
		if err != nil || port == "" || strings.Trim(port, "0123456789") != "" {
			return "", false
		}
		raw = host
	}

	domain = strings.TrimSuffix(strings.ToLower(raw), ".")
	if domain == "" || strings.ContainsAny(domain, "/?#@ ") {
		return "", false
	}
	return domain, true
}
