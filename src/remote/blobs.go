package remote

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/thought-machine/artifact-upload/src/retry"
)

// A Chunk is one contiguous range of a file being uploaded.
type Chunk struct {
	// Path is the file's path within the artifact's container.
	Path string
	// Data is the content being uploaded; only the range [Start, End] is read from it.
	Data io.ReaderAt
	// Start and End are the (inclusive) offsets of this chunk, and Total the size of the whole upload.
	Start, End, Total int64
	// Gzip is true if the data is gzip compressed, in which case UncompressedLength is the
	// size of the original file.
	Gzip               bool
	UncompressedLength int64
}

// Size returns the number of bytes in this chunk.
func (chunk *Chunk) Size() int64 {
	if chunk.Total == 0 {
		return 0
	}
	return chunk.End - chunk.Start + 1
}

// UploadChunk sends a single chunk of a file to the server.
// It can be called repeatedly with the same chunk; the data is re-read each time.
func (c *Client) UploadChunk(ctx context.Context, chunk Chunk) (retry.Response, error) {
	size := chunk.Size()
	body := func() (io.Reader, error) {
		return io.NewSectionReader(chunk.Data, chunk.Start, size), nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, c.url+"?itemPath="+url.QueryEscape(chunk.Path), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	for key, values := range UploadHeaders("application/octet-stream", true, chunk.Gzip, chunk.UncompressedLength, size, ContentRange(chunk.Start, chunk.End, chunk.Total)) {
		req.Header[key] = values
	}
	return c.do(req)
}
