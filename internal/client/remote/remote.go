// Package remote talks to another tcbridge server over its REST facade.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tcbridge/internal/client"
	"tcbridge/internal/domain"
	"tcbridge/internal/metadata"
)

const Scheme = "liltorrent"

// PathMapping rewrites Local paths to Remote ones on the way out and back
// again on the way in, for when both hosts mount the same data differently.
type PathMapping struct {
	Local  string
	Remote string
}

type Config struct {
	// BaseURL is the facade root, e.g. http://host:10977/.
	BaseURL     string
	APIKey      string
	PathMapping []PathMapping
	HTTPClient  *http.Client
	Logger      *logrus.Logger
}

type Client struct {
	base     *url.URL
	apiKey   string
	mappings []PathMapping
	http     *http.Client
	logger   *logrus.Logger
}

var _ client.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse facade url: %w", domain.ErrExecution, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported facade transport %q", domain.ErrExecution, base.Scheme)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	base.RawQuery = ""
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Client{
		base:     base,
		apiKey:   cfg.APIKey,
		mappings: cfg.PathMapping,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

// FromURL builds a client from a URL whose scheme is already the transport,
// carrying apikey and path_mapping=local:remote;local:remote in its query.
func FromURL(u *url.URL) (*Client, error) {
	q := u.Query()
	mappings, err := ParsePathMapping(q.Get("path_mapping"))
	if err != nil {
		return nil, err
	}
	base := *u
	base.RawQuery = ""
	base.Fragment = ""
	return New(Config{BaseURL: base.String(), APIKey: q.Get("apikey"), PathMapping: mappings})
}

// Entry registers liltorrent+http and liltorrent+https URLs.
func Entry() client.Entry {
	return client.Entry{
		Scheme: Scheme,
		New: func(u *url.URL) (client.Client, error) {
			return FromURL(u)
		},
	}
}

func ParsePathMapping(s string) ([]PathMapping, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []PathMapping
	for _, pair := range strings.Split(s, ";") {
		local, remote, ok := strings.Cut(pair, ":")
		if !ok || local == "" || remote == "" {
			return nil, fmt.Errorf("%w: invalid path mapping %q", domain.ErrExecution, pair)
		}
		out = append(out, PathMapping{Local: filepath.Clean(local), Remote: filepath.Clean(remote)})
	}
	return out, nil
}

// rewrite maps path from one side to the other using the first mapping
// whose source side contains it.
func rewrite(path string, mappings []PathMapping, toRemote bool) string {
	for _, m := range mappings {
		from, to := m.Remote, m.Local
		if toRemote {
			from, to = m.Local, m.Remote
		}
		rel, err := filepath.Rel(from, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.Join(to, rel)
	}
	return path
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.base.ResolveReference(&url.URL{Path: endpoint, RawQuery: params.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrExecution, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to contact liltorrent instance: %w", domain.ErrExecution, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "status": resp.StatusCode}).Debug("facade request failed")
	if resp.StatusCode == http.StatusInternalServerError {
		var reasons []string
		if err := json.NewDecoder(resp.Body).Decode(&reasons); err == nil && len(reasons) > 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrExecution, strings.Join(reasons, "; "))
		}
	}
	return nil, fmt.Errorf("%w: %s answered %s", domain.ErrExecution, endpoint, resp.Status)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, params, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", domain.ErrExecution, endpoint, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, params url.Values) error {
	resp, err := c.do(ctx, http.MethodPost, endpoint, params, nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func byHash(infoHash string) url.Values {
	return url.Values{"infohash": {infoHash}}
}

func (c *Client) List(ctx context.Context) ([]domain.TorrentRecord, error) {
	return c.records(ctx, "list")
}

func (c *Client) ListActive(ctx context.Context) ([]domain.TorrentRecord, error) {
	return c.records(ctx, "list_active")
}

func (c *Client) records(ctx context.Context, endpoint string) ([]domain.TorrentRecord, error) {
	var records []domain.TorrentRecord
	if err := c.getJSON(ctx, endpoint, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) Start(ctx context.Context, infoHash string) error {
	return c.post(ctx, "start", byHash(infoHash))
}

func (c *Client) Stop(ctx context.Context, infoHash string) error {
	return c.post(ctx, "stop", byHash(infoHash))
}

func (c *Client) Remove(ctx context.Context, infoHash string) error {
	return c.post(ctx, "remove", byHash(infoHash))
}

func (c *Client) TestConnection(ctx context.Context) bool {
	var ok bool
	if err := c.getJSON(ctx, "test_connection", nil, &ok); err != nil {
		return false
	}
	return ok
}

func (c *Client) Add(ctx context.Context, md *metadata.Metadata, opts client.AddOptions) error {
	data, err := md.Bytes()
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %w", domain.ErrExecution, err)
	}

	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("torrent", md.InfoHash()+".torrent")
	if err != nil {
		return fmt.Errorf("%w: build upload: %w", domain.ErrExecution, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("%w: build upload: %w", domain.ErrExecution, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: build upload: %w", domain.ErrExecution, err)
	}

	minimum := opts.MinimumExpectedData
	if minimum == "" {
		minimum = domain.DataNone
	}
	params := url.Values{
		"destination_path":      {rewrite(opts.DestinationPath, c.mappings, true)},
		"fast_resume":           {strconv.FormatBool(opts.FastResume)},
		"add_name_to_folder":    {strconv.FormatBool(opts.AddNameToFolder)},
		"minimum_expected_data": {string(minimum)},
		"stopped":               {strconv.FormatBool(opts.Stopped)},
	}
	resp, err := c.do(ctx, http.MethodPost, "add", params, body, w.FormDataContentType())
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) RetrieveMetadata(ctx context.Context, infoHash string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "retrieve_torrentfile", byHash(infoHash), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read torrent file: %w", domain.ErrExecution, err)
	}
	return data, nil
}

func (c *Client) GetDownloadPath(ctx context.Context, infoHash string) (string, error) {
	var path string
	if err := c.getJSON(ctx, "get_download_path", byHash(infoHash), &path); err != nil {
		return "", err
	}
	return rewrite(path, c.mappings, false), nil
}

func (c *Client) GetFiles(ctx context.Context, infoHash string) ([]domain.FileRecord, error) {
	var files []domain.FileRecord
	if err := c.getJSON(ctx, "get_files", byHash(infoHash), &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) SerializeConfiguration() (string, error) {
	q := url.Values{}
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	if len(c.mappings) > 0 {
		pairs := make([]string, len(c.mappings))
		for i, m := range c.mappings {
			pairs[i] = m.Local + ":" + m.Remote
		}
		q.Set("path_mapping", strings.Join(pairs, ";"))
	}
	u := *c.base
	u.Scheme = Scheme + "+" + c.base.Scheme
	u.RawQuery = q.Encode()
	return u.String(), nil
}
