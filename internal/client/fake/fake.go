// Package fake is an in-memory torrent daemon. It keeps real metadata,
// honours the minimum expected data gate against the filesystem and lets
// tests inject failures per operation.
package fake

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tcbridge/internal/client"
	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
	"tcbridge/internal/presence"
	"tcbridge/internal/trackers"
)

const Scheme = "fake"

// Op names a Client operation for failure injection.
type Op string

const (
	OpList         Op = "list"
	OpListActive   Op = "list_active"
	OpStart        Op = "start"
	OpStop         Op = "stop"
	OpAdd          Op = "add"
	OpRemove       Op = "remove"
	OpRetrieve     Op = "retrieve_metadata"
	OpDownloadPath Op = "get_download_path"
	OpFiles        Op = "get_files"
)

type Config struct {
	Name     string
	Trackers *trackers.Resolver
	// Now defaults to time.Now.
	Now func() time.Time
}

type torrent struct {
	record  domain.TorrentRecord
	md      *metadata.Metadata
	raw     []byte
	path    string
	addName bool
}

// Client is safe for concurrent use.
type Client struct {
	name     string
	trackers *trackers.Resolver
	now      func() time.Time

	mu        sync.Mutex
	torrents  map[string]*torrent
	connected bool
	failures  map[Op][]error
	calls     []Op
}

var _ client.Client = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Trackers == nil {
		cfg.Trackers = trackers.NewResolver()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		name:      cfg.Name,
		trackers:  cfg.Trackers,
		now:       cfg.Now,
		torrents:  make(map[string]*torrent),
		connected: true,
		failures:  make(map[Op][]error),
	}
}

// Entry registers fake://name URLs. Clients built from the same registry
// entry and name share state, so a serialized configuration reopens the
// same daemon.
func Entry(resolver *trackers.Resolver) client.Entry {
	var (
		mu      sync.Mutex
		daemons = map[string]*Client{}
	)
	return client.Entry{
		Scheme: Scheme,
		New: func(u *url.URL) (client.Client, error) {
			name := u.Host
			if name == "" {
				return nil, fmt.Errorf("%w: fake client url needs a name", domain.ErrExecution)
			}
			mu.Lock()
			defer mu.Unlock()
			c, ok := daemons[name]
			if !ok {
				c = New(Config{Name: name, Trackers: resolver})
				daemons[name] = c
			}
			return c, nil
		},
	}
}

// FailNext makes the next call of op return err. Queued failures are used
// in order.
func (c *Client) FailNext(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], err)
}

// SetConnected simulates the daemon going away; every operation fails while
// disconnected.
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// SetState overrides the state of a registered torrent.
func (c *Client) SetState(infoHash string, state domain.TorrentState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.torrents[infoHash]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, infoHash)
	}
	t.record.State = state
	return nil
}

// Calls returns the operations invoked so far, in order.
func (c *Client) Calls() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.calls...)
}

// enter records op and returns any injected or connectivity failure. The
// caller must hold c.mu.
func (c *Client) enter(op Op) error {
	c.calls = append(c.calls, op)
	if !c.connected {
		return fmt.Errorf("%w: %s: daemon %s unreachable", domain.ErrExecution, op, c.name)
	}
	if queued := c.failures[op]; len(queued) > 0 {
		err := queued[0]
		c.failures[op] = queued[1:]
		return fmt.Errorf("%w: %s: %w", domain.ErrExecution, op, err)
	}
	return nil
}

func (c *Client) lookup(infoHash string) (*torrent, error) {
	t, ok := c.torrents[infoHash]
	if !ok {
		return nil, fmt.Errorf("%w: torrent %s not registered", domain.ErrExecution, infoHash)
	}
	return t, nil
}

func (c *Client) List(ctx context.Context) ([]domain.TorrentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpList); err != nil {
		return nil, err
	}
	return c.snapshot(func(domain.TorrentRecord) bool { return true }), nil
}

func (c *Client) ListActive(ctx context.Context) ([]domain.TorrentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpListActive); err != nil {
		return nil, err
	}
	return c.snapshot(func(r domain.TorrentRecord) bool { return r.State == domain.TorrentStateActive }), nil
}

func (c *Client) snapshot(keep func(domain.TorrentRecord) bool) []domain.TorrentRecord {
	out := make([]domain.TorrentRecord, 0, len(c.torrents))
	for _, t := range c.torrents {
		if keep(t.record) {
			out = append(out, t.record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Added.Equal(out[j].Added) {
			return out[i].Added.Before(out[j].Added)
		}
		return out[i].InfoHash < out[j].InfoHash
	})
	return out
}

func (c *Client) Start(ctx context.Context, infoHash string) error {
	return c.setState(OpStart, infoHash, domain.TorrentStateActive)
}

func (c *Client) Stop(ctx context.Context, infoHash string) error {
	return c.setState(OpStop, infoHash, domain.TorrentStateStopped)
}

func (c *Client) setState(op Op, infoHash string, state domain.TorrentState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(op); err != nil {
		return err
	}
	t, err := c.lookup(infoHash)
	if err != nil {
		return err
	}
	t.record.State = state
	return nil
}

func (c *Client) TestConnection(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Add(ctx context.Context, md *metadata.Metadata, opts client.AddOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpAdd); err != nil {
		return err
	}
	if _, exists := c.torrents[md.InfoHash()]; exists {
		return fmt.Errorf("%w: torrent %s already registered", domain.ErrExecution, md.InfoHash())
	}

	entries, err := presence.Check(md, opts.DestinationPath, opts.AddNameToFolder, opts.MinimumExpectedData)
	if err != nil {
		return err
	}
	raw, err := md.Bytes()
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %w", domain.ErrExecution, err)
	}

	state := domain.TorrentStateActive
	if opts.Stopped {
		state = domain.TorrentStateStopped
	}
	path := opts.DestinationPath
	if md.IsMultiFile() && opts.AddNameToFolder {
		path = filepath.Join(path, md.Name())
	}
	c.torrents[md.InfoHash()] = &torrent{
		record: domain.TorrentRecord{
			InfoHash: md.InfoHash(),
			Name:     md.Name(),
			Size:     md.TotalSize(),
			State:    state,
			Progress: progress(entries, md.TotalSize()),
			Added:    c.now().UTC().Truncate(time.Second),
			Tracker:  c.trackers.First(md.Trackers()),
		},
		md:      md,
		raw:     raw,
		path:    path,
		addName: opts.AddNameToFolder,
	}
	return nil
}

func progress(entries []domain.PresenceEntry, total int64) float64 {
	if total == 0 {
		if presence.Sufficiency(entries) == domain.DataFull {
			return 100
		}
		return 0
	}
	var present int64
	for _, e := range entries {
		if e.Exists {
			present += e.Size
		}
	}
	return float64(present) * 100 / float64(total)
}

func (c *Client) Remove(ctx context.Context, infoHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpRemove); err != nil {
		return err
	}
	if _, err := c.lookup(infoHash); err != nil {
		return err
	}
	delete(c.torrents, infoHash)
	return nil
}

func (c *Client) RetrieveMetadata(ctx context.Context, infoHash string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpRetrieve); err != nil {
		return nil, err
	}
	t, err := c.lookup(infoHash)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), t.raw...), nil
}

// PutRawMetadata replaces the stored torrent file of a registered torrent,
// for simulating daemons that hand out damaged data.
func (c *Client) PutRawMetadata(infoHash string, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookup(infoHash)
	if err != nil {
		return err
	}
	t.raw = raw
	return nil
}

func (c *Client) GetDownloadPath(ctx context.Context, infoHash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpDownloadPath); err != nil {
		return "", err
	}
	t, err := c.lookup(infoHash)
	if err != nil {
		return "", err
	}
	return t.path, nil
}

func (c *Client) GetFiles(ctx context.Context, infoHash string) ([]domain.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(OpFiles); err != nil {
		return nil, err
	}
	t, err := c.lookup(infoHash)
	if err != nil {
		return nil, err
	}

	root := t.path
	if t.md.IsMultiFile() && t.addName {
		root = filepath.Dir(root)
	}
	entries := presence.Scan(t.md, root, t.addName)
	files := t.md.Files()
	out := make([]domain.FileRecord, len(files))
	for i, f := range files {
		out[i] = domain.FileRecord{Path: filepath.Join(f.Path...), Size: f.Length}
		if entries[i].Exists {
			out[i].Progress = 100
		}
	}
	return out, nil
}

func (c *Client) SerializeConfiguration() (string, error) {
	return (&url.URL{Scheme: Scheme, Host: c.name}).String(), nil
}
