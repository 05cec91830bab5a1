// Package trackers turns announce URLs into the short domain shown in
// torrent listings.
package trackers

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// NoTracker is displayed for torrents without an announce URL.
const NoTracker = "None"

// Resolver maps announce URLs to their registrable domain, so that
// tracker.example.co.uk and announce.example.co.uk both show as
// example.co.uk. It is safe for concurrent use.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]string
}

func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]string)}
}

// Domain returns the display domain of announce, or NoTracker when announce
// is empty. Hosts without a public suffix, such as IP addresses or
// localhost, are returned as is.
func (r *Resolver) Domain(announce string) string {
	announce = strings.TrimSpace(announce)
	if announce == "" {
		return NoTracker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.cache[announce]; ok {
		return d
	}
	d := resolve(announce)
	r.cache[announce] = d
	return d
}

// First returns the display domain of the first announce URL.
func (r *Resolver) First(announces []string) string {
	if len(announces) == 0 {
		return NoTracker
	}
	return r.Domain(announces[0])
}

func resolve(announce string) string {
	u, err := url.Parse(announce)
	if err != nil || u.Hostname() == "" {
		return announce
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
