package mitm

import (
	"fmt"
	"net/url"
	"strings"
)

// ErrUpstreamInvalid marks an upstream string that cannot be used; the
// listener for it is skipped and its accounts keep their original URL.
type ErrUpstreamInvalid struct {
	Raw string
}

func (e ErrUpstreamInvalid) Error() string {
	return fmt.Sprintf("mitm: invalid upstream %q", e.Raw)
}

// ParseUpstream validates a `[scheme://]host[:port]` upstream proxy string.
// The scheme defaults to http. An empty or whitespace-only string means a
// direct connection and yields a nil URL.
func ParseUpstream(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, ErrUpstreamInvalid{Raw: raw}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, ErrUpstreamInvalid{Raw: raw}
	}
	if parsed.Hostname() == "" || parsed.Path != "" || parsed.RawQuery != "" {
		return nil, ErrUpstreamInvalid{Raw: raw}
	}
	return parsed, nil
}
