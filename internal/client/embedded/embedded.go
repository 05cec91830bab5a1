// Package embedded runs an anacrolix torrent client in-process and exposes it
// through the client.Client contract.
package embedded

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/sirupsen/logrus"

	"tcbridge/internal/client"
	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
	"tcbridge/internal/presence"
	"tcbridge/internal/resume"
	"tcbridge/internal/trackers"
)

const Scheme = "embedded"

type Config struct {
	// DataDir holds the client's own state.
	DataDir  string
	Logger   *logrus.Logger
	Trackers *trackers.Resolver
	// Offline disables DHT, trackers and port forwarding and listens on a
	// random port.
	Offline bool
}

type handle struct {
	t       *torrent.Torrent
	md      *metadata.Metadata
	raw     []byte
	store   storage.ClientImplCloser
	path    string
	state   domain.TorrentState
	added   time.Time
	tracker string
}

// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	client *torrent.Client

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
}

var _ client.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Trackers == nil {
		cfg.Trackers = trackers.NewResolver()
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("%w: embedded client needs a data dir", domain.ErrExecution)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %w", domain.ErrExecution, err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.NoUpload = false
	clientConfig.Seed = true
	if cfg.Offline {
		clientConfig.ListenPort = 0
		clientConfig.NoDHT = true
		clientConfig.DisableTrackers = true
		clientConfig.NoDefaultPortForwarding = true
	}

	tc, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: create torrent client: %w", domain.ErrExecution, err)
	}
	cfg.Logger.Infof("embedded torrent client started, data dir: %s", cfg.DataDir)
	return &Client{
		cfg:     cfg,
		client:  tc,
		handles: make(map[string]*handle),
	}, nil
}

// Close drops every torrent and stops the torrent client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for ih, h := range c.handles {
		h.t.Drop()
		if err := h.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage for %s: %w", ih, err))
		}
	}
	c.handles = map[string]*handle{}
	errs = append(errs, c.client.Close()...)
	c.cfg.Logger.Info("embedded torrent client stopped")
	return errors.Join(errs...)
}

func (c *Client) lookup(infoHash string) (*handle, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: embedded client closed", domain.ErrExecution)
	}
	h, ok := c.handles[infoHash]
	if !ok {
		return nil, fmt.Errorf("%w: torrent %s not registered", domain.ErrExecution, infoHash)
	}
	return h, nil
}

func (c *Client) List(ctx context.Context) ([]domain.TorrentRecord, error) {
	return c.records(func(domain.TorrentState) bool { return true })
}

func (c *Client) ListActive(ctx context.Context) ([]domain.TorrentRecord, error) {
	return c.records(func(s domain.TorrentState) bool { return s == domain.TorrentStateActive })
}

func (c *Client) records(keep func(domain.TorrentState) bool) ([]domain.TorrentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: embedded client closed", domain.ErrExecution)
	}

	out := make([]domain.TorrentRecord, 0, len(c.handles))
	for ih, h := range c.handles {
		if !keep(h.state) {
			continue
		}
		out = append(out, h.record(ih))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Added.Equal(out[j].Added) {
			return out[i].Added.Before(out[j].Added)
		}
		return out[i].InfoHash < out[j].InfoHash
	})
	return out, nil
}

func (h *handle) record(infoHash string) domain.TorrentRecord {
	size := h.md.TotalSize()
	r := domain.TorrentRecord{
		InfoHash: infoHash,
		Name:     h.md.Name(),
		Size:     size,
		State:    h.state,
		Added:    h.added,
		Tracker:  h.tracker,
	}
	if size > 0 {
		r.Progress = float64(h.t.BytesCompleted()) * 100 / float64(size)
	} else {
		r.Progress = 100
	}
	stats := h.t.Stats()
	r.Uploaded = stats.BytesWrittenData.Int64()
	return r
}

func (c *Client) Start(ctx context.Context, infoHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.lookup(infoHash)
	if err != nil {
		return err
	}
	h.t.AllowDataDownload()
	h.t.DownloadAll()
	h.state = domain.TorrentStateActive
	return nil
}

func (c *Client) Stop(ctx context.Context, infoHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.lookup(infoHash)
	if err != nil {
		return err
	}
	h.t.DisallowDataDownload()
	h.state = domain.TorrentStateStopped
	return nil
}

func (c *Client) TestConnection(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Client) Add(ctx context.Context, md *metadata.Metadata, opts client.AddOptions) error {
	logger := c.cfg.Logger.WithField("infohash", md.InfoHash())
	if md.IsMultiFile() && !opts.AddNameToFolder {
		return fmt.Errorf("%w: embedded client always nests multi-file torrents under their name", domain.ErrExecution)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: embedded client closed", domain.ErrExecution)
	}
	if _, exists := c.handles[md.InfoHash()]; exists {
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
	mi, err := metainfo.Load(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: load metainfo: %w", domain.ErrExecution, err)
	}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return fmt.Errorf("%w: build torrent spec: %w", domain.ErrExecution, err)
	}

	completion := storage.NewMapPieceCompletion()
	if opts.FastResume {
		if err := seedCompletion(completion, mi.HashInfoBytes(), md, entries); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrExecution, err)
		}
	}
	store := storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   opts.DestinationPath,
		PieceCompletion: completion,
	})
	spec.Storage = store

	t, _, err := c.client.AddTorrentSpec(spec)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("%w: add torrent: %w", domain.ErrExecution, err)
	}

	state := domain.TorrentStateActive
	if opts.Stopped {
		t.DisallowDataDownload()
		state = domain.TorrentStateStopped
	} else {
		t.DownloadAll()
	}

	path := opts.DestinationPath
	if md.IsMultiFile() {
		path = filepath.Join(path, md.Name())
	}
	c.handles[md.InfoHash()] = &handle{
		t:       t,
		md:      md,
		raw:     raw,
		store:   store,
		path:    path,
		state:   state,
		added:   time.Now().UTC().Truncate(time.Second),
		tracker: c.cfg.Trackers.First(md.Trackers()),
	}
	logger.WithField("path", path).Info("torrent added")
	return nil
}

// seedCompletion marks the pieces the presence scan vouches for as verified.
func seedCompletion(pc storage.PieceCompletion, ih metainfo.Hash, md *metadata.Metadata, entries []domain.PresenceEntry) error {
	state, err := resume.Synthesize(md, entries)
	if err != nil {
		return err
	}
	for i := 0; i < state.PieceCount; i++ {
		complete := state.Complete || state.Bitfield[i/8]&(0x80>>(i%8)) != 0
		if !complete {
			continue
		}
		if err := pc.Set(metainfo.PieceKey{InfoHash: ih, Index: i}, true); err != nil {
			return fmt.Errorf("mark piece %d complete: %w", i, err)
		}
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, infoHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.lookup(infoHash)
	if err != nil {
		return err
	}
	h.t.Drop()
	delete(c.handles, infoHash)
	if err := h.store.Close(); err != nil {
		c.cfg.Logger.WithField("infohash", infoHash).Warnf("close storage: %v", err)
	}
	return nil
}

func (c *Client) RetrieveMetadata(ctx context.Context, infoHash string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.lookup(infoHash)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), h.raw...), nil
}

func (c *Client) GetDownloadPath(ctx context.Context, infoHash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.lookup(infoHash)
	if err != nil {
		return "", err
	}
	return h.path, nil
}

func (c *Client) GetFiles(ctx context.Context, infoHash string) ([]domain.FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.lookup(infoHash)
	if err != nil {
		return nil, err
	}

	files := h.md.Files()
	live := h.t.Files()
	out := make([]domain.FileRecord, len(files))
	for i, f := range files {
		out[i] = domain.FileRecord{Path: filepath.Join(f.Path...), Size: f.Length}
		switch {
		case f.Length == 0:
			out[i].Progress = 100
		case i < len(live):
			out[i].Progress = float64(live[i].BytesCompleted()) * 100 / float64(f.Length)
		}
	}
	return out, nil
}

func (c *Client) SerializeConfiguration() (string, error) {
	abs, err := filepath.Abs(c.cfg.DataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return (&url.URL{Scheme: Scheme, Path: filepath.ToSlash(abs)}).String(), nil
}
