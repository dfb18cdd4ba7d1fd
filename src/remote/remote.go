// Package remote provides our client for the artifact service.
//
// The client makes single attempts at each call; retrying is left to the retry package,
// which is why every request body here can be re-read from the start for another attempt.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/artifact-upload/src/retry"
)

var log = logging.MustGetLogger("remote")

// apiVersion is the version of the artifact API that we request.
const apiVersion = "6.0-preview"

// maxDiagnosticBody is the most of a failed response's body that we log.
const maxDiagnosticBody = 1024

// A Client is the interface to the remote artifact service.
type Client struct {
	url    string
	client *retryablehttp.Client
}

// New returns a new Client talking to the given artifact URL.
func New(artifactURL string, timeout time.Duration) *Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 0
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, nil
	}
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		log.Debug("%s %s", req.Method, req.URL)
	}
	client.HTTPClient.Timeout = timeout
	return &Client{
		url:    strings.TrimSuffix(artifactURL, "/"),
		client: client,
	}
}

// CreateContainer creates the container on the server that an artifact's files are uploaded into.
// retentionDays is omitted from the request if it's zero, leaving the server to pick.
func (c *Client) CreateContainer(ctx context.Context, name string, retentionDays int) (retry.Response, error) {
	body, err := json.Marshal(struct {
		Type          string
		Name          string
		RetentionDays int `json:",omitempty"`
	}{Type: "actions_storage", Name: name, RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return c.doJSON(ctx, http.MethodPost, c.url+"?artifactName="+url.QueryEscape(name), body)
}

// Finalize tells the server that all files of an artifact have been uploaded, and their total size.
func (c *Client) Finalize(ctx context.Context, name string, size int64) (retry.Response, error) {
	body, err := json.Marshal(struct {
		Size int64
	}{Size: size})
	if err != nil {
		return nil, err
	}
	return c.doJSON(ctx, http.MethodPatch, c.url+"?artifactName="+url.QueryEscape(name), body)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte) (retry.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader())
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// do sends a single request and converts the response.
// The body is always consumed and closed.
func (c *Client) do(req *retryablehttp.Request) (retry.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	r := &response{
		code:   resp.StatusCode,
		status: resp.Status,
		header: resp.Header,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		io.Copy(&buf, io.LimitReader(resp.Body, maxDiagnosticBody))
		r.body = buf.String()
		displayHTTPDiagnostics(req.Method, req.URL.String(), r)
	}
	io.Copy(io.Discard, resp.Body)
	return r, nil
}

// A response is the part of an HTTP response that we keep after the call completes.
type response struct {
	code   int
	status string
	header http.Header
	body   string
}

func (r *response) StatusCode() int {
	return r.code
}

func (r *response) Header(key string) string {
	return r.header.Get(key)
}

// displayHTTPDiagnostics logs the useful parts of a failed response.
func displayHTTPDiagnostics(method, url string, r *response) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: %s", method, url, r.status)
	for _, key := range []string{"Content-Type", "Retry-After", "X-Request-Id"} {
		if v := r.header.Get(key); v != "" {
			fmt.Fprintf(&sb, "\n  %s: %s", key, v)
		}
	}
	if r.body != "" {
		fmt.Fprintf(&sb, "\n  Body: %s", r.body)
	}
	log.Debug("%s", sb.String())
}
