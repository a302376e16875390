package dispatcher

import (
	"net/url"
	"strings"
)

// SanitizeForwarder strips the site URL, any "http://" and every "@" from
// fwd, then one leading "/". The result is always site-relative.
func SanitizeForwarder(fwd, siteURL string) string {
	if siteURL != "" {
		fwd = strings.ReplaceAll(fwd, siteURL, "")
	}
	fwd = strings.ReplaceAll(fwd, "http://", "")
	fwd = strings.ReplaceAll(fwd, "@", "")
	return strings.TrimPrefix(fwd, "/")
}

// ResolveForward turns a site-relative forward target into an absolute
// location. Targets that already carry a scheme are returned unchanged.
func ResolveForward(target, siteURL string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if siteURL == "" {
		return "/" + strings.TrimPrefix(target, "/")
	}
	return strings.TrimSuffix(siteURL, "/") + "/" + strings.TrimPrefix(target, "/")
}

// CurrentPageURL makes a request URL absolute against the site's scheme and
// host. Already absolute or unparsable values are returned unchanged.
func CurrentPageURL(requestURL, siteURL string) string {
	ref, err := url.Parse(requestURL)
	if err != nil || requestURL == "" || ref.IsAbs() || siteURL == "" {
		return requestURL
	}
	base, err := url.Parse(siteURL)
	if err != nil || !base.IsAbs() {
		return requestURL
	}
	return base.ResolveReference(ref).String()
}
