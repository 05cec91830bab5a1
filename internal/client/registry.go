package client

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"tcbridge/internal/domain"
)

// Entry builds clients of one daemon family.
type Entry struct {
	Scheme string
	// New builds a client from a parsed connection URL.
	New func(u *url.URL) (Client, error)
	// AutoConfigure discovers a local daemon. Nil when unsupported.
	AutoConfigure func() (Client, error)
}

// Registry maps URL schemes to adapter constructors. It is built once at
// startup and handed to whatever needs to open clients.
type Registry struct {
	entries map[string]Entry
}

func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		r.Register(e)
	}
	return r
}

// Register adds or replaces the entry for e.Scheme.
func (r *Registry) Register(e Entry) {
	r.entries[strings.ToLower(e.Scheme)] = e
}

// Schemes lists the registered schemes in order.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.entries))
	for s := range r.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Parse builds a client from rawURL. A scheme of the form name+transport,
// as in liltorrent+http://host/, selects the entry for name and hands the
// constructor a URL whose scheme is the transport.
func (r *Registry) Parse(rawURL string) (Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse client url: %w", domain.ErrExecution, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if name, transport, ok := strings.Cut(scheme, "+"); ok {
		scheme = name
		u.Scheme = transport
	}
	entry, ok := r.entries[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: unknown client type %q", domain.ErrExecution, scheme)
	}
	return entry.New(u)
}

// AutoConfigure asks the entry for scheme to discover a local daemon.
func (r *Registry) AutoConfigure(scheme string) (Client, error) {
	entry, ok := r.entries[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown client type %q", domain.ErrExecution, scheme)
	}
	if entry.AutoConfigure == nil {
		return nil, fmt.Errorf("%w: cannot auto-configure %s", domain.ErrExecution, scheme)
	}
	return entry.AutoConfigure()
}
