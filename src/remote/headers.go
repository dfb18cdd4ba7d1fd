package remote

import (
	"fmt"
	"net/http"
	"strconv"
)

// ContentRange returns the value of a Content-Range header for the given inclusive byte range.
// An empty upload has no satisfiable range so is described only by its length.
func ContentRange(start, end, total int64) string {
	if total == 0 {
		return "bytes */0"
	}
	return fmt.Sprintf("bytes %d-%d/%d", start, end, total)
}

// UploadHeaders returns the headers needed for a call that uploads (part of) a file.
// uncompressedLength is only sent if the content is gzipped; contentLength and contentRange
// are omitted if they are zero / empty.
func UploadHeaders(contentType string, keepAlive, gzip bool, uncompressedLength, contentLength int64, contentRange string) http.Header {
	h := http.Header{}
	h.Set("Accept", acceptHeader())
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if keepAlive {
		h.Set("Connection", "Keep-Alive")
		// keep the connection alive for 10 seconds before closing it
		h.Set("Keep-Alive", "10")
	}
	if gzip {
		h.Set("Content-Encoding", "gzip")
		h.Set("x-tfs-filelength", strconv.FormatInt(uncompressedLength, 10))
	}
	if contentLength != 0 {
		h.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	if contentRange != "" {
		h.Set("Content-Range", contentRange)
	}
	return h
}

// DownloadHeaders returns the headers needed for a call that downloads a file.
// If acceptGzip is set the server may send the content gzipped, as a raw stream.
func DownloadHeaders(contentType string, keepAlive, acceptGzip bool) http.Header {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if keepAlive {
		h.Set("Connection", "Keep-Alive")
		h.Set("Keep-Alive", "10")
	}
	if acceptGzip {
		h.Set("Accept-Encoding", "gzip")
		h.Set("Accept", "application/octet-stream;api-version="+apiVersion)
	} else {
		h.Set("Accept", acceptHeader())
	}
	return h
}

func acceptHeader() string {
	return "application/json;api-version=" + apiVersion
}
