// Package artifact implements build-or-reuse caching of compiled artifact
// bundles and packaged runtime environments. Presence in remote storage is
// authoritative: a bundle found at its expected remote path is never
// rebuilt. Builds happen at most once per identity per production tag; a
// race between workers can at worst cause a redundant build, never a corrupt
// bundle, because the produced bytes for one identity are deterministic.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/service/lease"
	"github.com/harrypuuter/KingMaker/service/runner"
	"github.com/harrypuuter/KingMaker/service/storage"
	"github.com/harrypuuter/KingMaker/tracing"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Handle references a ready artifact bundle.
type Handle struct {
	Name      string
	RemoteURL string
}

// Cache builds, uploads and reuses artifact bundles.
type Cache struct {
	fs       afs.Service
	remote   *storage.Remote
	runner   runner.Service
	reporter reporter.Reporter
	leases   *lease.Registry

	crownPath     string
	compileScript string
	buildRoot     string
	installRoot   string

	envAvailability map[string]bool
	envTarballRoot  string
}

// Option customises a Cache.
type Option func(*Cache)

// WithCrownPath sets the analysis source checkout handed to the compile
// script.
func WithCrownPath(path string) Option {
	return func(c *Cache) { c.crownPath = path }
}

// WithCompileScript sets the build toolchain entry point.
func WithCompileScript(path string) Option {
	return func(c *Cache) { c.compileScript = path }
}

// WithBuildRoot sets the local build directory root.
func WithBuildRoot(path string) Option {
	return func(c *Cache) { c.buildRoot = path }
}

// WithInstallRoot sets the local install directory root; pre-staged bundles
// are looked up below it.
func WithInstallRoot(path string) Option {
	return func(c *Cache) { c.installRoot = path }
}

// WithReporter sets the progress sink.
func WithReporter(sink reporter.Reporter) Option {
	return func(c *Cache) { c.reporter = sink }
}

// WithLeases sets the registry guarding shared local unpack directories.
func WithLeases(registry *lease.Registry) Option {
	return func(c *Cache) { c.leases = registry }
}

// WithEnvironmentRegistry sets the environment availability registry:
// environment name to whether it is served by the shared read-only cache
// layer.
func WithEnvironmentRegistry(availability map[string]bool) Option {
	return func(c *Cache) { c.envAvailability = availability }
}

// WithEnvTarballRoot sets the local directory holding packaged environment
// tarballs awaiting upload.
func WithEnvTarballRoot(path string) Option {
	return func(c *Cache) { c.envTarballRoot = path }
}

// New creates an artifact cache bound to the given remote.
func New(fs afs.Service, remote *storage.Remote, commandRunner runner.Service, options ...Option) *Cache {
	cache := &Cache{
		fs:             fs,
		remote:         remote,
		runner:         commandRunner,
		reporter:       reporter.Nop(),
		crownPath:      "CROWN",
		compileScript:  filepath.Join("processor", "tasks", "scripts", "compile_crown.sh"),
		buildRoot:      "build",
		installRoot:    "tarballs",
		envTarballRoot: filepath.Join("tarballs", "conda_envs"),
	}
	for _, option := range options {
		option(cache)
	}
	if cache.leases == nil {
		cache.leases = lease.New(fs, filepath.Join(cache.buildRoot, "leases"))
	}
	return cache
}

// EnsureBundle returns a handle to a ready bundle for the given identity,
// building and uploading it only when the remote copy is missing. A local
// pre-staged tarball at the expected install location short-circuits the
// build and is uploaded directly.
func (c *Cache) EnsureBundle(ctx context.Context, spec BuildSpec) (*Handle, error) {
	name := spec.BundleName()
	destURL := c.remote.BundleURL(spec.Analysis, spec.Config, name)
	handle := &Handle{Name: name, RemoteURL: destURL}

	ctx, span := tracing.StartSpan(ctx, "artifact.EnsureBundle", "INTERNAL")
	span.WithAttributes(map[string]string{"bundle": name})
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	var exists bool
	if exists, err = c.remote.Exists(ctx, destURL); err != nil {
		return nil, err
	}
	if exists {
		c.reporter.Logf("bundle %s already present remotely, reusing", name)
		return handle, nil
	}

	tagDir := filepath.Join(c.remote.Tag(), fmt.Sprintf("CROWN_%s_%s", spec.Analysis, spec.Config))
	installDir := filepath.Join(c.installRoot, tagDir)
	buildDir := filepath.Join(c.buildRoot, tagDir)
	localTarball := filepath.Join(installDir, name)

	var staged bool
	if staged, err = c.localExists(ctx, localTarball); err != nil {
		return nil, err
	}
	if staged {
		c.reporter.Logf("tarball already existing in tarball directory %s", installDir)
		if err = c.upload(ctx, localTarball, destURL); err != nil {
			return nil, err
		}
		return handle, nil
	}

	if err = c.build(ctx, spec, installDir, buildDir, name, localTarball); err != nil {
		return nil, err
	}
	if err = c.upload(ctx, localTarball, destURL); err != nil {
		return nil, err
	}
	return handle, nil
}

// build invokes the compile script, streaming its output. A failed build
// removes any partial local tarball before the error propagates.
func (c *Cache) build(ctx context.Context, spec BuildSpec, installDir, buildDir, name, localTarball string) error {
	c.reporter.Rule("Building new CROWN tarball")
	c.reporter.Logf("using CROWN %s", c.crownPath)
	c.reporter.Logf("using build directory %s", buildDir)
	c.reporter.Logf("using install directory %s", installDir)
	c.reporter.Logf("threads: %d analysis: %s config: %s", spec.Threads, spec.Analysis, spec.Config)
	c.reporter.Logf("sampletypes: %s eras: %s scopes: %s shifts: %s",
		commaSeparated(spec.SampleTypes), commaSeparated(spec.Eras), commaSeparated(spec.Scopes), spec.Shifts)
	c.reporter.Rule("")

	parts := append([]string{"bash", c.compileScript}, spec.args(c.crownPath, installDir, buildDir, name)...)
	if err := c.runner.Stream(ctx, runner.Command{Parts: parts}); err != nil {
		if removed, removeErr := c.removeLocal(ctx, localTarball); removeErr != nil {
			c.reporter.Logf("failed to remove partial tarball %s: %v", localTarball, removeErr)
		} else if removed {
			c.reporter.Logf("removed partial tarball %s", localTarball)
		}
		return &BuildError{Bundle: name, Err: err}
	}
	c.reporter.Rule("Finished build")
	return nil
}

// upload transfers the local tarball; when the retry budget is exhausted any
// partially written remote object is removed so no partial bundle remains at
// the destination.
func (c *Cache) upload(ctx context.Context, localTarball, destURL string) error {
	if err := c.remote.Upload(ctx, localTarball, destURL); err != nil {
		if exists, checkErr := c.remote.Exists(ctx, destURL); checkErr == nil && exists {
			if deleteErr := c.remote.Delete(ctx, destURL); deleteErr != nil {
				c.reporter.Logf("failed to remove partial remote bundle %s: %v", destURL, deleteErr)
			}
		}
		return err
	}
	c.reporter.Logf("bundle uploaded to %s", destURL)
	return nil
}

func (c *Cache) localExists(ctx context.Context, localPath string) (bool, error) {
	exists, err := c.fs.Exists(ctx, url.Normalize(localPath, file.Scheme))
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", localPath, err)
	}
	return exists, nil
}

// removeLocal deletes a local file if present, reporting whether it existed.
func (c *Cache) removeLocal(ctx context.Context, localPath string) (bool, error) {
	assetURL := url.Normalize(localPath, file.Scheme)
	exists, err := c.fs.Exists(ctx, assetURL)
	if err != nil || !exists {
		return false, err
	}
	if err := c.fs.Delete(ctx, assetURL); err != nil {
		return true, err
	}
	return true, nil
}

// AsBuildError returns the typed error when err or anything it wraps is a
// BuildError.
func AsBuildError(err error) (*BuildError, bool) {
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return buildErr, true
	}
	return nil, false
}
