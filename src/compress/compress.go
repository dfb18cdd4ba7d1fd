// Package compress gzips files before they are sent to the artifact service.
//
// Files can be compressed either to a temporary file on disk or into memory; both produce
// identical output for the same input. Choosing between them (typically by file size) is
// up to the caller, as is deleting any temporary file afterwards.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/artifact-upload/src/metrics"
)

var log = logging.MustGetLogger("compress")

var compressedBytes = metrics.NewCounter("compress", "output_bytes_total", "Number of bytes of gzipped output produced")

// bufferSize is the size of the buffer used to copy between the source file and the compressor.
const bufferSize = 64 * 1024

// CreateGzipFile creates a gzipped copy of originalFilePath at tempFilePath.
// It returns the size of the compressed file, which is only known once it's completely written.
// The original file is not modified. If this fails, tempFilePath may be left partially written.
func CreateGzipFile(originalFilePath, tempFilePath string) (int64, error) {
	src, err := os.Open(originalFilePath)
	if err != nil {
		return 0, &Error{Op: "open", Path: originalFilePath, Err: err}
	}
	defer src.Close()
	dest, err := os.Create(tempFilePath)
	if err != nil {
		return 0, &Error{Op: "create", Path: tempFilePath, Err: err}
	}
	if err := compress(dest, src, originalFilePath); err != nil {
		dest.Close()
		return 0, err
	}
	if err := dest.Close(); err != nil {
		return 0, &Error{Op: "close", Path: tempFilePath, Err: err}
	}
	info, err := os.Stat(tempFilePath)
	if err != nil {
		return 0, &Error{Op: "stat", Path: tempFilePath, Err: err}
	}
	log.Debug("Compressed %s into %s (%d bytes)", originalFilePath, tempFilePath, info.Size())
	compressedBytes.Add(int(info.Size()))
	return info.Size(), nil
}

// CreateGzipBuffer gzips the given file into memory.
// It does no checking of the size of the file; the caller should only use it for small ones.
func CreateGzipBuffer(originalFilePath string) ([]byte, error) {
	src, err := os.Open(originalFilePath)
	if err != nil {
		return nil, &Error{Op: "open", Path: originalFilePath, Err: err}
	}
	defer src.Close()
	var buf bytes.Buffer
	if err := compress(&buf, src, originalFilePath); err != nil {
		return nil, err
	}
	compressedBytes.Add(buf.Len())
	return buf.Bytes(), nil
}

// compress streams r through a gzip compressor into w.
// The writer is flushed and the gzip trailer written before it returns successfully.
func compress(w io.Writer, r io.Reader, name string) error {
	zw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return &Error{Op: "compress", Path: name, Err: err}
	}
	if _, err := io.CopyBuffer(zw, r, make([]byte, bufferSize)); err != nil {
		zw.Close()
		return &Error{Op: "compress", Path: name, Err: err}
	}
	if err := zw.Close(); err != nil {
		return &Error{Op: "compress", Path: name, Err: err}
	}
	return nil
}

// An Error is returned when compressing a file fails.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (err *Error) Error() string {
	return fmt.Sprintf("Failed to gzip %s (%s): %s", err.Path, err.Op, err.Err)
}

func (err *Error) Unwrap() error {
	return err.Err
}
