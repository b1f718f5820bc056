package forward

import (
	"net/netip"
	"net/url"
	"strings"
)

// ParseTarget validates a forward destination.
func ParseTarget(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissingTarget
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, ErrInvalidTarget
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidTarget
	}
	return u, nil
}

// IsLocalTarget reports whether the URL points at loopback, private or
// link-local space. Hostnames other than localhost are not resolved.
func IsLocalTarget(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified()
}
