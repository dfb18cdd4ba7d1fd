// Package upload drives the upload of a whole artifact: it works out where each file goes,
// compresses them where that helps, and sends them in chunks through the retry engine.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/artifact-upload/src/compress"
	"github.com/thought-machine/artifact-upload/src/metrics"
	"github.com/thought-machine/artifact-upload/src/remote"
	"github.com/thought-machine/artifact-upload/src/retry"
	"github.com/thought-machine/artifact-upload/src/uploadspec"
)

var log = logging.MustGetLogger("upload")

var (
	uploadedBytes = metrics.NewCounter("upload", "bytes_total", "Number of bytes sent to the artifact service")
	uploadedFiles = metrics.NewCounter("upload", "files_total", "Number of files successfully uploaded")
	failedFiles   = metrics.NewCounter("upload", "failed_files_total", "Number of files that failed to upload")
	ratio         = metrics.NewHistogram("upload", "compression_ratio", "Compressed size of files as a fraction of their original size", metrics.ExponentialBuckets(0.05, 1.5, 8))
)

// A Transport is the set of calls we make to the artifact service.
// Each call makes a single attempt; they are retried by the Uploader.
type Transport interface {
	CreateContainer(ctx context.Context, name string, retentionDays int) (retry.Response, error)
	UploadChunk(ctx context.Context, chunk remote.Chunk) (retry.Response, error)
	Finalize(ctx context.Context, name string, size int64) (retry.Response, error)
}

// Options configures an Uploader.
type Options struct {
	// Concurrency is the number of files uploaded at once.
	Concurrency int
	// ChunkSize is the largest amount of a file sent in one request.
	ChunkSize int64
	// InMemoryThreshold is the size below which files are compressed in memory rather than on disk.
	InMemoryThreshold int64
	// MaxAttempts is the number of times each call is attempted.
	MaxAttempts int
	// ContinueOnError makes us upload the remaining files after one fails, rather than aborting.
	ContinueOnError bool
	// TempDir is where compressed files are written. Defaults to the system temp dir.
	TempDir string
	// RetentionDays is how long the server should keep the artifact for.
	// Zero leaves it to the server's default.
	RetentionDays int
	// MaxRetentionDays is the longest retention allowed; longer requests are reduced to it.
	// Zero means there is no limit.
	MaxRetentionDays int
}

// DefaultOptions returns the default set of options.
func DefaultOptions() Options {
	return Options{
		Concurrency:       2,
		ChunkSize:         8 * 1024 * 1024,
		InMemoryThreshold: 64 * 1024,
		MaxAttempts:       5,
	}
}

// A Result describes the outcome of uploading an artifact.
type Result struct {
	Name string
	// Items are the upload paths of every file that was part of the artifact.
	Items []string
	// Size is the total number of bytes sent, after any compression.
	Size int64
	// FailedItems are the upload paths of any files that could not be uploaded.
	FailedItems []string
}

// An Uploader uploads artifacts to the remote.
type Uploader struct {
	transport Transport
	engine    *retry.Engine
	opts      Options
}

// New creates a new Uploader.
func New(transport Transport, engine *retry.Engine, opts Options) *Uploader {
	defaults := DefaultOptions()
	if opts.Concurrency < 1 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = defaults.ChunkSize
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Uploader{transport: transport, engine: engine, opts: opts}
}

// Upload uploads the given files as an artifact of the given name.
// Their paths within the artifact are relative to rootDirectory.
// On failure, the Result still describes what was uploaded (and what wasn't) where possible.
func (u *Uploader) Upload(ctx context.Context, name, rootDirectory string, files []string) (*Result, error) {
	specs, err := uploadspec.Build(name, rootDirectory, files)
	if err != nil {
		return nil, err
	}
	retention, err := ProperRetention(u.opts.RetentionDays, u.opts.MaxRetentionDays)
	if err != nil {
		return nil, err
	}
	result := &Result{Name: name}
	if len(specs) == 0 {
		log.Warning("No files found to upload for artifact %s", name)
		return result, nil
	}
	if _, err := u.engine.Retry(ctx, "Create artifact container for "+name, u.opts.MaxAttempts, map[int]string{
		http.StatusBadRequest:            fmt.Sprintf("The artifact name %s is not valid", name),
		http.StatusForbidden:             "Artifact storage quota has been hit. Unable to upload any new artifacts",
		http.StatusRequestEntityTooLarge: "Artifact storage quota has been hit. Unable to upload any new artifacts",
	}, func(ctx context.Context) (retry.Response, error) {
		return u.transport.CreateContainer(ctx, name, retention)
	}); err != nil {
		return nil, err
	}
	log.Notice("Uploading %d files for artifact %s", len(specs), name)

	var mutex sync.Mutex
	var errs *multierror.Error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)
	for _, spec := range specs {
		spec := spec
		result.Items = append(result.Items, spec.UploadFilePath)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				// Another file has already failed; don't bother starting this one.
				mutex.Lock()
				defer mutex.Unlock()
				result.FailedItems = append(result.FailedItems, spec.UploadFilePath)
				return err
			}
			size, err := u.uploadFile(gctx, spec)
			mutex.Lock()
			defer mutex.Unlock()
			result.Size += size
			if err != nil {
				failedFiles.Inc()
				log.Error("Failed to upload %s: %s", spec.UploadFilePath, err)
				result.FailedItems = append(result.FailedItems, spec.UploadFilePath)
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", spec.UploadFilePath, err))
				if !u.opts.ContinueOnError {
					return err
				}
				return nil
			}
			uploadedFiles.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errs != nil {
			return result, errs
		}
		return result, err
	}
	if _, err := u.engine.Retry(ctx, "Finalize artifact "+name, u.opts.MaxAttempts, nil, func(ctx context.Context) (retry.Response, error) {
		return u.transport.Finalize(ctx, name, result.Size)
	}); err != nil {
		return result, multierror.Append(errs, err).ErrorOrNil()
	}
	log.Notice("Uploaded artifact %s: %d files, %s", name, len(result.Items)-len(result.FailedItems), humanize.IBytes(uint64(result.Size)))
	return result, errs.ErrorOrNil()
}

// ProperRetention returns the number of days to ask the server to keep an artifact for.
// Requests longer than maxDays (if it's set) are reduced to it.
func ProperRetention(days, maxDays int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("Invalid retention of %d days, minimum value is 1", days)
	} else if maxDays > 0 && maxDays < days {
		log.Warning("Retention of %d days is greater than the maximum allowed, reducing it to %d days", days, maxDays)
		return maxDays, nil
	}
	return days, nil
}

// uploadFile uploads a single file, compressing it first if that makes it smaller.
// It returns the number of bytes sent.
func (u *Uploader) uploadFile(ctx context.Context, spec uploadspec.Entry) (int64, error) {
	info, err := os.Stat(spec.AbsoluteFilePath)
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size < u.opts.InMemoryThreshold {
		buf, err := compress.CreateGzipBuffer(spec.AbsoluteFilePath)
		if err != nil {
			return 0, err
		}
		if compressed := int64(len(buf)); compressed < size {
			ratio.Observe(float64(compressed) / float64(size))
			return u.uploadChunks(ctx, spec.UploadFilePath, bytes.NewReader(buf), compressed, size, true)
		}
		return u.uploadRaw(ctx, spec, size)
	}
	tempFile := filepath.Join(u.opts.TempDir, uuid.NewString()+".gz")
	defer removeTempFile(tempFile)
	compressed, err := compress.CreateGzipFile(spec.AbsoluteFilePath, tempFile)
	if err != nil {
		return 0, err
	}
	if compressed >= size {
		log.Debug("Compressing %s didn't make it smaller (%s vs. %s), uploading it raw", spec.AbsoluteFilePath, humanize.IBytes(uint64(compressed)), humanize.IBytes(uint64(size)))
		return u.uploadRaw(ctx, spec, size)
	}
	ratio.Observe(float64(compressed) / float64(size))
	f, err := os.Open(tempFile)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return u.uploadChunks(ctx, spec.UploadFilePath, f, compressed, size, true)
}

// uploadRaw uploads a file without any compression.
func (u *Uploader) uploadRaw(ctx context.Context, spec uploadspec.Entry, size int64) (int64, error) {
	f, err := os.Open(spec.AbsoluteFilePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return u.uploadChunks(ctx, spec.UploadFilePath, f, size, size, false)
}

// uploadChunks sends the given data to the server in chunks of at most ChunkSize bytes.
// An empty file is still sent, as a single empty chunk.
func (u *Uploader) uploadChunks(ctx context.Context, uploadPath string, data io.ReaderAt, total, uncompressed int64, gzip bool) (int64, error) {
	var sent int64
	for start := int64(0); ; start += u.opts.ChunkSize {
		end := start + u.opts.ChunkSize - 1
		if end >= total {
			end = total - 1
		}
		chunk := remote.Chunk{
			Path:               uploadPath,
			Data:               data,
			Start:              start,
			End:                end,
			Total:              total,
			Gzip:               gzip,
			UncompressedLength: uncompressed,
		}
		name := fmt.Sprintf("Upload of %s (%s)", uploadPath, remote.ContentRange(start, end, total))
		if _, err := u.engine.Retry(ctx, name, u.opts.MaxAttempts, nil, func(ctx context.Context) (retry.Response, error) {
			return u.transport.UploadChunk(ctx, chunk)
		}); err != nil {
			return sent, err
		}
		sent += chunk.Size()
		uploadedBytes.Add(int(chunk.Size()))
		if end+1 >= total {
			break
		}
	}
	return sent, nil
}

// removeTempFile deletes a temporary file, logging (but otherwise ignoring) any failure.
func removeTempFile(filename string) {
	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		log.Warning("Failed to remove temporary file %s: %s", filename, err)
	}
}
