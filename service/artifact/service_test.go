package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harrypuuter/KingMaker/service/lease"
	"github.com/harrypuuter/KingMaker/service/runner"
	"github.com/harrypuuter/KingMaker/service/storage"
	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
)

type fakeRunner struct {
	runs     []runner.Command
	streams  []runner.Command
	onRun    func(runner.Command) (string, error)
	onStream func(runner.Command) error
}

func (f *fakeRunner) Run(ctx context.Context, command runner.Command) (string, error) {
	f.runs = append(f.runs, command)
	if f.onRun != nil {
		return f.onRun(command)
	}
	return "", nil
}

func (f *fakeRunner) Stream(ctx context.Context, command runner.Command) error {
	f.streams = append(f.streams, command)
	if f.onStream != nil {
		return f.onStream(command)
	}
	return nil
}

func (f *fakeRunner) Close() error {
	return nil
}

type fixture struct {
	fs          afs.Service
	remote      *storage.Remote
	execer      *fakeRunner
	cache       *Cache
	installRoot string
	envRoot     string
}

func newFixture(t *testing.T, remoteBase string, envAvailability map[string]bool) *fixture {
	t.Helper()
	fs := afs.New()
	remote := storage.New(fs, remoteBase, "tag")
	execer := &fakeRunner{}
	installRoot := t.TempDir()
	buildRoot := t.TempDir()
	envRoot := t.TempDir()
	cache := New(fs, remote, execer,
		WithCompileScript("compile_crown.sh"),
		WithInstallRoot(installRoot),
		WithBuildRoot(buildRoot),
		WithEnvTarballRoot(envRoot),
		WithEnvironmentRegistry(envAvailability),
	)
	return &fixture{fs: fs, remote: remote, execer: execer, cache: cache, installRoot: installRoot, envRoot: envRoot}
}

func testSpec() BuildSpec {
	return BuildSpec{
		Analysis:    "tau",
		Config:      "config",
		SampleTypes: []string{"mc", "data"},
		Eras:        []string{"2018"},
		Scopes:      []string{"mt", "et"},
		Shifts:      "None",
		Threads:     4,
	}
}

func (f *fixture) localTarball(spec BuildSpec) string {
	return filepath.Join(f.installRoot, f.remote.Tag(), "CROWN_"+spec.Analysis+"_"+spec.Config, spec.BundleName())
}

func TestBundleName(t *testing.T) {
	spec := testSpec()
	assert.Equal(t, "crown_tau_config.tar.gz", spec.BundleName())

	spec.Friend = true
	spec.SampleType = "mc"
	spec.Era = "2018"
	assert.Equal(t, "crown_friend_config_mc_2018.tar.gz", spec.BundleName())
}

func TestEnsureBundle_RemotePresent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "mem://localhost/artifact-present", nil)
	spec := testSpec()
	destURL := f.remote.BundleURL(spec.Analysis, spec.Config, spec.BundleName())
	if !assert.NoError(t, f.remote.UploadBytes(ctx, destURL, []byte("existing bundle"))) {
		return
	}

	handle, err := f.cache.EnsureBundle(ctx, spec)
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, destURL, handle.RemoteURL)
	// presence in remote storage is authoritative, nothing is built
	assert.Empty(t, f.execer.streams)
	assert.Empty(t, f.execer.runs)
}

func TestEnsureBundle_PreStagedTarball(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "mem://localhost/artifact-staged", nil)
	spec := testSpec()

	staged := f.localTarball(spec)
	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staged, []byte("staged bundle"), 0o644); err != nil {
		t.Fatal(err)
	}

	handle, err := f.cache.EnsureBundle(ctx, spec)
	if !assert.NoError(t, err) {
		return
	}
	assert.Empty(t, f.execer.streams)

	data, err := f.remote.Download(ctx, handle.RemoteURL)
	assert.NoError(t, err)
	assert.Equal(t, []byte("staged bundle"), data)
}

func TestEnsureBundle_Build(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "mem://localhost/artifact-build", nil)
	spec := testSpec()
	staged := f.localTarball(spec)

	f.execer.onStream = func(command runner.Command) error {
		if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
			return err
		}
		return os.WriteFile(staged, []byte("fresh bundle"), 0o644)
	}

	handle, err := f.cache.EnsureBundle(ctx, spec)
	if !assert.NoError(t, err) {
		return
	}
	if assert.Len(t, f.execer.streams, 1) {
		parts := f.execer.streams[0].Parts
		assert.Equal(t, "bash", parts[0])
		assert.Equal(t, "compile_crown.sh", parts[1])
		assert.Contains(t, parts, "mc,data")
		assert.Contains(t, parts, spec.BundleName())
	}
	data, err := f.remote.Download(ctx, handle.RemoteURL)
	assert.NoError(t, err)
	assert.Equal(t, []byte("fresh bundle"), data)

	// a second request reuses the remote bundle
	_, err = f.cache.EnsureBundle(ctx, spec)
	assert.NoError(t, err)
	assert.Len(t, f.execer.streams, 1)
}

func TestEnsureBundle_BuildFailureCleansUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "mem://localhost/artifact-failure", nil)
	spec := testSpec()
	staged := f.localTarball(spec)

	f.execer.onStream = func(command runner.Command) error {
		if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(staged, []byte("partial"), 0o644); err != nil {
			return err
		}
		return &runner.CommandError{Command: command.Line(), Status: 2}
	}

	_, err := f.cache.EnsureBundle(ctx, spec)
	buildErr, ok := AsBuildError(err)
	if assert.True(t, ok) {
		assert.Equal(t, spec.BundleName(), buildErr.Bundle)
	}
	cmdErr, ok := runner.AsCommandError(err)
	if assert.True(t, ok) {
		assert.Equal(t, 2, cmdErr.Status)
	}

	// the partial local tarball must not survive the failed build
	_, statErr := os.Stat(staged)
	assert.True(t, os.IsNotExist(statErr))

	exists, err := f.remote.Exists(ctx, f.remote.BundleURL(spec.Analysis, spec.Config, spec.BundleName()))
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestEnsureEnvironment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "mem://localhost/artifact-env", map[string]bool{
		"KingMaker": true,
		"ml":        false,
	})

	// served by the shared cache layer, no tarball involved
	bundle, err := f.cache.EnsureEnvironment(ctx, "KingMaker")
	if assert.NoError(t, err) {
		assert.True(t, bundle.CachedInSharedLayer)
		assert.Empty(t, bundle.RemoteURL)
	}

	// packaged environment gets staged to remote storage
	local := filepath.Join(f.envRoot, "ml.tar.gz")
	if err := os.WriteFile(local, []byte("env content"), 0o644); err != nil {
		t.Fatal(err)
	}
	bundle, err = f.cache.EnsureEnvironment(ctx, "ml")
	if !assert.NoError(t, err) {
		return
	}
	assert.False(t, bundle.CachedInSharedLayer)
	data, err := f.remote.Download(ctx, bundle.RemoteURL)
	assert.NoError(t, err)
	assert.Equal(t, []byte("env content"), data)

	// same content, second call reuses the remote bundle
	_, err = f.cache.EnsureEnvironment(ctx, "ml")
	assert.NoError(t, err)

	// reusing the name for different content is refused
	if err := os.WriteFile(local, []byte("different env content entirely"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = f.cache.EnsureEnvironment(ctx, "ml")
	assert.True(t, errors.Is(err, ErrBundleNameReused))
}

func TestEnsureEnvironment_Unknown(t *testing.T) {
	f := newFixture(t, "mem://localhost/artifact-env-unknown", map[string]bool{})
	_, err := f.cache.EnsureEnvironment(context.Background(), "mystery")
	assert.True(t, errors.Is(err, ErrUnknownEnvironment))
}

func TestUnpack(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	remote := storage.New(fs, "mem://localhost/artifact-unpack", "tag")
	workdir := filepath.Join(t.TempDir(), "unpacked")
	executable := "config.json"

	execer := &fakeRunner{}
	execer.onRun = func(command runner.Command) (string, error) {
		if command.Parts[0] != "tar" {
			return "", nil
		}
		return "", os.WriteFile(filepath.Join(workdir, executable), []byte("{}"), 0o644)
	}
	cache := New(fs, remote, execer,
		WithLeases(lease.New(fs, "mem://localhost/artifact-unpack-leases")),
	)

	if !assert.NoError(t, cache.Unpack(ctx, "/stage/bundle.tar.gz", workdir, executable)) {
		return
	}
	assert.Len(t, execer.runs, 1)

	// already unpacked, the tar toolchain is not touched again
	assert.NoError(t, cache.Unpack(ctx, "/stage/bundle.tar.gz", workdir, executable))
	assert.Len(t, execer.runs, 1)
}
