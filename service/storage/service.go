// Package storage implements the remote storage layout shared by all tasks:
// <tag>/<task-identity>/<path...> for per-task assets, tag-scoped bundle
// directories for compiled artifacts, and the flat env_tarballs/ area for
// packaged runtime environments. All access goes through viant/afs so local
// file systems, memory file systems (tests) and remote schemes behave the
// same.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/harrypuuter/KingMaker/model/task"
	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/tracing"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// DefaultUploadRetries is the fixed retry budget absorbing transient storage
// errors during uploads. It is independent of any build retries.
const DefaultUploadRetries = 10

// Remote provides path construction and transfer operations against the
// remote storage base for one production tag.
type Remote struct {
	fs         afs.Service
	baseURL    string
	tag        string
	retries    int
	retryDelay time.Duration
	reporter   reporter.Reporter
}

// Option customises a Remote.
type Option func(*Remote)

// WithRetries overrides the upload retry budget.
func WithRetries(retries int) Option {
	return func(r *Remote) { r.retries = retries }
}

// WithRetryDelay overrides the pause between upload attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(r *Remote) { r.retryDelay = delay }
}

// WithReporter sets the progress sink.
func WithReporter(sink reporter.Reporter) Option {
	return func(r *Remote) { r.reporter = sink }
}

// New creates a Remote rooted at baseURL for the given production tag.
func New(fs afs.Service, baseURL, tag string, options ...Option) *Remote {
	remote := &Remote{
		fs:         fs,
		baseURL:    baseURL,
		tag:        tag,
		retries:    DefaultUploadRetries,
		retryDelay: time.Second,
		reporter:   reporter.Nop(),
	}
	for _, option := range options {
		option(remote)
	}
	return remote
}

// Tag returns the production tag all task paths are scoped by.
func (r *Remote) Tag() string {
	return r.tag
}

// TaskURL composes the remote location of a per-task asset:
// <base>/<tag>/<identity>/<path...>.
func (r *Remote) TaskURL(id task.Identity, parts ...string) string {
	segments := append([]string{r.tag, id.String()}, parts...)
	return r.join(segments...)
}

func (r *Remote) join(segments ...string) string {
	joined := r.baseURL
	for _, segment := range segments {
		joined = url.Join(joined, segment)
	}
	return joined
}

// BundleURL composes the remote location of a compiled artifact bundle:
// <base>/<tag>/CROWN_<analysis>_<config>/<name>.
func (r *Remote) BundleURL(analysis, config, name string) string {
	return r.join(r.tag, fmt.Sprintf("CROWN_%s_%s", analysis, config), name)
}

// EnvBundleURL composes the remote location of a packaged runtime
// environment. Environment bundles are shared across tags; the cache layer
// in front of them is path addressed, so names must be unique per content
// revision.
func (r *Remote) EnvBundleURL(envName string) string {
	return r.join("env_tarballs", envName+".tar.gz")
}

// Exists reports whether the given remote asset is present.
func (r *Remote) Exists(ctx context.Context, assetURL string) (bool, error) {
	exists, err := r.fs.Exists(ctx, assetURL)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", assetURL, err)
	}
	return exists, nil
}

// Download returns the content of a remote asset.
func (r *Remote) Download(ctx context.Context, assetURL string) ([]byte, error) {
	data, err := r.fs.DownloadWithURL(ctx, assetURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", assetURL, err)
	}
	return data, nil
}

// Size returns the byte size of a remote asset.
func (r *Remote) Size(ctx context.Context, assetURL string) (int64, error) {
	object, err := r.fs.Object(ctx, assetURL)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", assetURL, err)
	}
	return object.Size(), nil
}

// Delete removes a remote asset.
func (r *Remote) Delete(ctx context.Context, assetURL string) error {
	if err := r.fs.Delete(ctx, assetURL); err != nil {
		return fmt.Errorf("failed to delete %s: %w", assetURL, err)
	}
	return nil
}

// UploadBytes writes data to the remote destination, retrying transient
// failures up to the retry budget. Exhausting the budget is fatal to the
// calling unit of work.
func (r *Remote) UploadBytes(ctx context.Context, destURL string, data []byte) (err error) {
	ctx, span := tracing.StartSpan(ctx, "storage.UploadBytes", "CLIENT")
	span.WithAttributes(map[string]string{"destination": destURL})
	defer func() { tracing.EndSpan(span, err) }()

	err = r.uploadWithRetry(ctx, destURL, func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
	return err
}

// Upload copies a local file to the remote destination with the retry budget
// applied. The source is re-opened and streamed on every attempt; bundles
// run to multiple GB and must never be buffered whole.
func (r *Remote) Upload(ctx context.Context, localPath, destURL string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "storage.Upload", "CLIENT")
	span.WithAttributes(map[string]string{"destination": destURL})
	defer func() { tracing.EndSpan(span, err) }()

	sourceURL := url.Normalize(localPath, file.Scheme)
	exists, err := r.fs.Exists(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", localPath, err)
	}
	if !exists {
		err = fmt.Errorf("failed to read %s: file does not exist", localPath)
		return err
	}
	err = r.uploadWithRetry(ctx, destURL, func(ctx context.Context) (io.ReadCloser, error) {
		return r.fs.OpenURL(ctx, sourceURL)
	})
	return err
}

// uploadWithRetry drives the retry loop; source yields a fresh reader per
// attempt so a half-consumed stream from a failed try is never re-sent.
func (r *Remote) uploadWithRetry(ctx context.Context, destURL string, source func(context.Context) (io.ReadCloser, error)) error {
	var lastErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 {
			r.reporter.Logf("retrying upload to %s (attempt %d/%d)", destURL, attempt+1, r.retries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}
		lastErr = r.uploadOnce(ctx, destURL, source)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to upload %s after %d attempts: %w", destURL, r.retries, lastErr)
}

func (r *Remote) uploadOnce(ctx context.Context, destURL string, source func(context.Context) (io.ReadCloser, error)) error {
	reader, err := source(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	return r.fs.Upload(ctx, destURL, file.DefaultFileOsMode, reader)
}
