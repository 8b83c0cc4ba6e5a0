package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errNotWebURL = errors.New("not an absolute http(s) url")

var trackingParams = map[string]struct{}{
	"ref":     {},
	"fbclid":  {},
	"gclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"ref_src": {},
}

// Canonicalize normalizes a link into the dedup key: lowercase scheme and
// host, no fragment, no tracking parameters, sorted query, no trailing slash.
// Relative links are resolved against base when given.
func Canonicalize(raw string, base *url.URL) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("canonicalize: %w", errNotWebURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", raw, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("canonicalize %q: %w", raw, errNotWebURL)
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !defaultPort(u.Scheme, port) {
		host += ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingParams[lk]; ok {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

func defaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
