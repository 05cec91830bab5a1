package embedded

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"

	"tcbridge/internal/client"
	"tcbridge/internal/domain"
)

// Daemons owns the embedded clients opened through the registry, one per
// data dir, so that parsing the same URL twice reaches the same client.
type Daemons struct {
	base Config

	mu      sync.Mutex
	clients map[string]*Client
}

// NewDaemons uses base for every client it opens. base.DataDir is the
// directory auto-configuration falls back to.
func NewDaemons(base Config) *Daemons {
	return &Daemons{base: base, clients: make(map[string]*Client)}
}

// Entry registers embedded:///data/dir URLs.
func (d *Daemons) Entry() client.Entry {
	return client.Entry{
		Scheme: Scheme,
		New: func(u *url.URL) (client.Client, error) {
			if u.Path == "" {
				return nil, fmt.Errorf("%w: embedded client url needs a data dir", domain.ErrExecution)
			}
			return d.open(filepath.FromSlash(u.Path))
		},
		AutoConfigure: func() (client.Client, error) {
			if d.base.DataDir == "" {
				return nil, fmt.Errorf("%w: no embedded data dir configured", domain.ErrExecution)
			}
			return d.open(d.base.DataDir)
		},
	}
}

func (d *Daemons) open(dataDir string) (*Client, error) {
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve data dir: %w", domain.ErrExecution, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[dataDir]; ok {
		return c, nil
	}
	cfg := d.base
	cfg.DataDir = dataDir
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	d.clients[dataDir] = c
	return c, nil
}

// Close stops every client opened so far.
func (d *Daemons) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for dir, c := range d.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(d.clients, dir)
	}
	return errors.Join(errs...)
}
