package transport

import (
	"net/url"
	"slices"

	"github.com/risa-org/wsstream/wserr"
)

// ParseURL checks that raw is an absolute URL with one of the given
// schemes, a host and no fragment.
func ParseURL(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, wserr.Wrap(wserr.KindInvalidURL, "dial", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return nil, wserr.New(wserr.KindInvalidURL, "dial", "scheme %q not in %v", u.Scheme, schemes)
	}
	if u.Host == "" {
		return nil, wserr.New(wserr.KindInvalidURL, "dial", "%q has no host", raw)
	}
	if u.Fragment != "" || u.RawFragment != "" {
		return nil, wserr.New(wserr.KindInvalidURL, "dial", "%q has a fragment", raw)
	}
	return u, nil
}
