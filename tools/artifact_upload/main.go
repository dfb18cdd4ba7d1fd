// Package main implements artifact_upload, which uploads a directory of build outputs to the
// artifact service as a single named artifact.
package main

import (
	"context"
	"os"
	"time"

	"github.com/karrick/godirwalk"
	"gopkg.in/op/go-logging.v1"

	"github.com/thought-machine/artifact-upload/src/cli"
	"github.com/thought-machine/artifact-upload/src/metrics"
	"github.com/thought-machine/artifact-upload/src/metrics/prometheus"
	"github.com/thought-machine/artifact-upload/src/process"
	"github.com/thought-machine/artifact-upload/src/remote"
	"github.com/thought-machine/artifact-upload/src/retry"
	"github.com/thought-machine/artifact-upload/src/upload"
)

var log = logging.MustGetLogger("artifact_upload")

const version = "1.0.0"

var opts = struct {
	Usage     string
	Verbosity cli.Verbosity `short:"v" long:"verbosity" default:"notice" description:"Verbosity of output (higher number = more output)"`

	Artifact struct {
		Name string `short:"n" long:"name" required:"true" description:"Name of the artifact to upload"`
		Root string `short:"r" long:"root" required:"true" description:"Root directory; file paths in the artifact are relative to this"`
	} `group:"Options describing the artifact"`

	Remote struct {
		URL     string        `short:"u" long:"url" env:"ARTIFACT_URL" required:"true" description:"URL of the artifact service"`
		Timeout time.Duration `long:"timeout" env:"ARTIFACT_TIMEOUT" default:"2m" description:"Timeout for each request to the artifact service"`
	} `group:"Options controlling communication with the artifact service"`

	Upload struct {
		Concurrency       int          `short:"c" long:"concurrency" env:"ARTIFACT_UPLOAD_CONCURRENCY" default:"2" description:"Number of files to upload at once"`
		ChunkSize         cli.ByteSize `long:"chunk_size" env:"ARTIFACT_UPLOAD_CHUNK_SIZE" default:"8MiB" description:"Largest amount of a file to send in one request"`
		InMemoryThreshold cli.ByteSize `long:"in_memory_threshold" default:"64KiB" description:"Files smaller than this are compressed in memory instead of on disk"`
		MaxAttempts       int          `long:"max_attempts" env:"ARTIFACT_RETRY_LIMIT" default:"5" description:"Number of times to attempt each request"`
		ContinueOnError   bool         `long:"continue_on_error" description:"Keep uploading remaining files if one fails"`
		TempDir           string       `long:"temp_dir" env:"TMPDIR" description:"Directory to write compressed files to"`
		RetentionDays     int          `long:"retention_days" description:"Number of days to keep the artifact for. Defaults to the server's setting."`
		MaxRetentionDays  int          `long:"max_retention_days" env:"ARTIFACT_MAX_RETENTION_DAYS" description:"Longest retention allowed; longer requests are reduced to this"`
	} `group:"Options controlling the upload"`

	Metrics struct {
		PushGatewayURL string        `long:"push_gateway_url" env:"ARTIFACT_PUSH_GATEWAY_URL" description:"Prometheus push gateway to send metrics to"`
		Timeout        time.Duration `long:"push_timeout" default:"5s" description:"Timeout when pushing metrics"`
	} `group:"Options controlling metrics"`

	Args struct {
		Files []string `positional-arg-name:"files" description:"Files to upload. If none are given, everything under the root directory is uploaded."`
	} `positional-args:"true"`
}{
	Usage: `
artifact_upload uploads a set of files to the artifact service as a single named artifact.

Files are gzipped before upload where that makes them smaller, sent in chunks, and
retried on transient failures.
`,
}

func main() {
	cli.ParseFlagsOrDie("artifact_upload", &opts)
	cli.InitLogging(opts.Verbosity)
	prometheus.Register(version)

	files := opts.Args.Files
	if len(files) == 0 {
		var err error
		if files, err = walk(opts.Artifact.Root); err != nil {
			log.Fatalf("Failed to find files under %s: %s", opts.Artifact.Root, err)
		}
	}

	ctx, stop := process.WithSignals(context.Background())
	defer stop()
	u := upload.New(remote.New(opts.Remote.URL, opts.Remote.Timeout), retry.New(retry.DefaultPolicy()), upload.Options{
		Concurrency:       opts.Upload.Concurrency,
		ChunkSize:         int64(opts.Upload.ChunkSize),
		InMemoryThreshold: int64(opts.Upload.InMemoryThreshold),
		MaxAttempts:       opts.Upload.MaxAttempts,
		ContinueOnError:   opts.Upload.ContinueOnError,
		TempDir:           opts.Upload.TempDir,
		RetentionDays:     opts.Upload.RetentionDays,
		MaxRetentionDays:  opts.Upload.MaxRetentionDays,
	})
	result, err := u.Upload(ctx, opts.Artifact.Name, opts.Artifact.Root, files)
	metrics.Push(metrics.Config{
		PushGatewayURL: opts.Metrics.PushGatewayURL,
		Timeout:        opts.Metrics.Timeout,
	})
	if err != nil {
		if result != nil && len(result.FailedItems) > 0 {
			log.Error("%d of %d files failed to upload", len(result.FailedItems), len(result.Items))
		}
		log.Error("Failed to upload artifact %s: %s", opts.Artifact.Name, err)
		stop()
		os.Exit(1)
	}
}

// walk returns all the regular files under the given directory.
func walk(root string) ([]string, error) {
	files := []string{}
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsRegular() {
				files = append(files, path)
			}
			return nil
		},
		Unsorted: false,
	})
	return files, err
}
