package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcbridge/internal/client/fake"
	"tcbridge/internal/domain"
	"tcbridge/internal/service"
	"tcbridge/internal/testutil"
)

const apiKey = "secret"

func newTestServer(t *testing.T) (*httptest.Server, *fake.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c := fake.New(fake.Config{Name: "facade"})
	router := gin.New()
	NewHandler(c, service.NewAuthService(apiKey, ""), nil, logger).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, c
}

func do(t *testing.T, method, url string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func torrentForm(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("torrent", "file.torrent")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestRequiresAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/list", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestAddListAndRetrieve(t *testing.T) {
	srv, c := newTestServer(t)
	root := t.TempDir()
	md := testutil.Fixture(t)
	testutil.WritePayload(t, md, root, true)

	body, contentType := torrentForm(t, []byte(testutil.SingleFileTorrent))
	resp := do(t, http.MethodPost, srv.URL+"/add?destination_path="+root+"&minimum_expected_data=full&stopped=true", body, contentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	records, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.TorrentStateStopped, records[0].State)

	resp = do(t, http.MethodGet, srv.URL+"/list", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []domain.TorrentRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, testutil.SingleFileInfoHash, listed[0].InfoHash)
	assert.True(t, records[0].Added.Equal(listed[0].Added))

	resp = do(t, http.MethodGet, srv.URL+"/retrieve_torrentfile?infohash="+testutil.SingleFileInfoHash, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-bittorrent", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, testutil.SingleFileTorrent, string(data))

	resp = do(t, http.MethodGet, srv.URL+"/get_download_path?infohash="+testutil.SingleFileInfoHash, nil, "")
	var path string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&path))
	assert.Equal(t, root, path)

	resp = do(t, http.MethodPost, srv.URL+"/start?infohash="+testutil.SingleFileInfoHash, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodGet, srv.URL+"/list_active", nil, "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	assert.Len(t, listed, 1)

	resp = do(t, http.MethodGet, srv.URL+"/get_files?infohash="+testutil.SingleFileInfoHash, nil, "")
	var files []domain.FileRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&files))
	assert.Equal(t, []domain.FileRecord{{Path: "file_a.txt", Size: 11, Progress: 100}}, files)

	resp = do(t, http.MethodPost, srv.URL+"/remove?infohash="+testutil.SingleFileInfoHash, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records, err = c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAdapterFailureAnswers500WithReason(t *testing.T) {
	srv, c := newTestServer(t)
	c.FailNext(fake.OpList, errors.New("daemon exploded"))

	resp := do(t, http.MethodGet, srv.URL+"/list", nil, "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var reasons []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reasons))
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "daemon exploded")

	// minimum expected data not reached is an adapter failure too
	body, contentType := torrentForm(t, []byte(testutil.SingleFileTorrent))
	resp = do(t, http.MethodPost, srv.URL+"/add?destination_path="+t.TempDir()+"&minimum_expected_data=full", body, contentType)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/start", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, contentType := torrentForm(t, []byte("not bencode"))
	resp = do(t, http.MethodPost, srv.URL+"/add?destination_path=/tmp", body, contentType)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, contentType = torrentForm(t, []byte(testutil.SingleFileTorrent))
	resp = do(t, http.MethodPost, srv.URL+"/add?destination_path=/tmp&minimum_expected_data=most", body, contentType)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTestConnection(t *testing.T) {
	srv, c := newTestServer(t)
	var ok bool

	resp := do(t, http.MethodGet, srv.URL+"/test_connection", nil, "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	assert.True(t, ok)

	c.SetConnected(false)
	resp = do(t, http.MethodGet, srv.URL+"/test_connection", nil, "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ok))
	assert.False(t, ok)
}

type stubMoves struct {
	service.MoveService
	moves []domain.MoveRecord
}

func (s stubMoves) ListMoves(ctx context.Context, limit int) ([]domain.MoveRecord, error) {
	return s.moves, nil
}

func TestListMoves(t *testing.T) {
	gin.SetMode(gin.TestMode)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	moves := stubMoves{moves: []domain.MoveRecord{
		{ID: "m1", InfoHash: "aa", Source: "a", Target: "b", Status: domain.MoveStatusDuplicate, StartedAt: started},
	}}
	router := gin.New()
	NewHandler(fake.New(fake.Config{}), service.NewAuthService(apiKey, ""), moves, nil).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/moves", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []MoveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, domain.MoveStatusDuplicate, resp[0].Status)
	assert.Equal(t, "2024-05-01T10:00:00Z", resp[0].StartedAt)
	assert.Nil(t, resp[0].FinishedAt)
}
