package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A request is what the test server saw of one incoming request.
type request struct {
	Method, Path string
	Query        map[string]string
	Header       http.Header
	Body         []byte
}

// A server records requests and replies with a fixed status.
type server struct {
	mutex    sync.Mutex
	requests []request
	status   int
	header   http.Header
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.requests = append(s.requests, request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  query,
		Header: r.Header,
		Body:   body,
	})
	for k, v := range s.header {
		w.Header()[k] = v
	}
	w.WriteHeader(s.status)
	w.Write([]byte(`{"message":"hello"}`))
}

func newServer(t *testing.T, status int) (*server, *Client) {
	s := &server{status: status}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, New(srv.URL+"/artifacts/", 5*time.Second)
}

func TestCreateContainer(t *testing.T) {
	s, c := newServer(t, http.StatusCreated)
	resp, err := c.CreateContainer(context.Background(), "my artifact", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode())
	require.Equal(t, 1, len(s.requests))
	req := s.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/artifacts", req.Path)
	assert.Equal(t, "my artifact", req.Query["artifactName"])
	assert.Equal(t, "application/json;api-version=6.0-preview", req.Header.Get("Accept"))
	var body struct{ Type, Name string }
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "my artifact", body.Name)
	assert.Equal(t, "actions_storage", body.Type)
	assert.NotContains(t, string(req.Body), "RetentionDays")
}

func TestCreateContainerWithRetention(t *testing.T) {
	s, c := newServer(t, http.StatusCreated)
	_, err := c.CreateContainer(context.Background(), "art", 7)
	require.NoError(t, err)
	require.Equal(t, 1, len(s.requests))
	assert.JSONEq(t, `{"Type": "actions_storage", "Name": "art", "RetentionDays": 7}`, string(s.requests[0].Body))
}

func TestFinalize(t *testing.T) {
	s, c := newServer(t, http.StatusOK)
	resp, err := c.Finalize(context.Background(), "art", 1234)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	req := s.requests[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "art", req.Query["artifactName"])
	assert.JSONEq(t, `{"Size": 1234}`, string(req.Body))
}

func TestUploadChunk(t *testing.T) {
	s, c := newServer(t, http.StatusOK)
	data := []byte("0123456789abcdefghij")
	chunk := Chunk{
		Path:               "art/dir/file.txt",
		Data:               bytes.NewReader(data),
		Start:              5,
		End:                9,
		Total:              20,
		Gzip:               true,
		UncompressedLength: 100,
	}
	resp, err := c.UploadChunk(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	// The same chunk can be sent again.
	_, err = c.UploadChunk(context.Background(), chunk)
	require.NoError(t, err)

	require.Equal(t, 2, len(s.requests))
	for _, req := range s.requests {
		assert.Equal(t, http.MethodPut, req.Method)
		assert.Equal(t, "art/dir/file.txt", req.Query["itemPath"])
		assert.Equal(t, []byte("56789"), req.Body)
		assert.Equal(t, "bytes 5-9/20", req.Header.Get("Content-Range"))
		assert.Equal(t, "gzip", req.Header.Get("Content-Encoding"))
		assert.Equal(t, "100", req.Header.Get("x-tfs-filelength"))
		assert.Equal(t, "5", req.Header.Get("Content-Length"))
		assert.Equal(t, "application/octet-stream", req.Header.Get("Content-Type"))
	}
}

func TestUploadEmptyChunk(t *testing.T) {
	s, c := newServer(t, http.StatusOK)
	_, err := c.UploadChunk(context.Background(), Chunk{Path: "art/empty", Data: bytes.NewReader(nil)})
	require.NoError(t, err)
	req := s.requests[0]
	assert.Empty(t, req.Body)
	assert.Equal(t, "bytes */0", req.Header.Get("Content-Range"))
	assert.Equal(t, "", req.Header.Get("Content-Encoding"))
}

func TestErrorResponse(t *testing.T) {
	s, c := newServer(t, http.StatusTooManyRequests)
	s.header = http.Header{"Retry-After": []string{"2"}}
	resp, err := c.CreateContainer(context.Background(), "art", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode())
	assert.Equal(t, "2", resp.Header("Retry-After"))
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(url, time.Second)
	_, err := c.CreateContainer(context.Background(), "art", 0)
	assert.Error(t, err)
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "bytes 0-199/200", ContentRange(0, 199, 200))
	assert.Equal(t, "bytes 8388608-8388610/8388611", ContentRange(8388608, 8388610, 8388611))
	assert.Equal(t, "bytes */0", ContentRange(0, -1, 0))
}

func TestUploadHeaders(t *testing.T) {
	h := UploadHeaders("application/octet-stream", false, false, 0, 0, "")
	assert.Equal(t, http.Header{
		"Accept":       []string{"application/json;api-version=6.0-preview"},
		"Content-Type": []string{"application/octet-stream"},
	}, h)
	h = UploadHeaders("", true, true, 300, 200, "bytes 0-199/200")
	assert.Equal(t, "Keep-Alive", h.Get("Connection"))
	assert.Equal(t, "10", h.Get("Keep-Alive"))
	assert.Equal(t, "gzip", h.Get("Content-Encoding"))
	assert.Equal(t, "300", h.Get("x-tfs-filelength"))
	assert.Equal(t, "200", h.Get("Content-Length"))
	assert.Equal(t, "bytes 0-199/200", h.Get("Content-Range"))
	assert.Equal(t, "", h.Get("Content-Type"))
}

func TestDownloadHeaders(t *testing.T) {
	assert.Equal(t, http.Header{
		"Accept": []string{"application/json;api-version=6.0-preview"},
	}, DownloadHeaders("", false, false))
	h := DownloadHeaders("application/json", true, true)
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "Keep-Alive", h.Get("Connection"))
	assert.Equal(t, "10", h.Get("Keep-Alive"))
	assert.Equal(t, "gzip", h.Get("Accept-Encoding"))
	assert.Equal(t, "application/octet-stream;api-version=6.0-preview", h.Get("Accept"))
}
