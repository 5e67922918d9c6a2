// Package condor assembles the per-unit execution descriptors consumed by
// the HTCondor submission backend: accounting attributes, resource requests,
// log path layout and the variables rendered into the job bootstrap script.
// The assembler also guarantees that the job code tarball and, when needed,
// the environment bundle exist in remote storage before any descriptor
// referencing them is returned.
package condor

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/harrypuuter/KingMaker/model/sample"
	"github.com/harrypuuter/KingMaker/model/task"
	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/service/artifact"
	"github.com/harrypuuter/KingMaker/service/config"
	"github.com/harrypuuter/KingMaker/service/runner"
	"github.com/harrypuuter/KingMaker/service/storage"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Request identifies the unit a descriptor is assembled for. Sample and
// FriendName are set for multi-unit task families (per-dataset friend
// production) and switch on per-dataset log namespacing.
type Request struct {
	Task       task.Identity
	EnvName    string
	Sample     *sample.Sample
	FriendName string
}

// Assembler builds job descriptors against one configuration and remote.
type Assembler struct {
	cfg      *config.Config
	remote   *storage.Remote
	runner   runner.Service
	cache    *artifact.Cache
	fs       afs.Service
	reporter reporter.Reporter

	logRoot     string
	tarballRoot string
	// tarballContents lists what goes into the job code tarball, relative
	// to the working directory the assembler runs from.
	tarballContents []string
}

// Option customises an Assembler.
type Option func(*Assembler)

// WithLogRoot overrides the local log directory root.
func WithLogRoot(root string) Option {
	return func(a *Assembler) { a.logRoot = root }
}

// WithTarballRoot overrides the local tarball staging root.
func WithTarballRoot(root string) Option {
	return func(a *Assembler) { a.tarballRoot = root }
}

// WithTarballContents overrides the file list packed into the job tarball.
func WithTarballContents(contents ...string) Option {
	return func(a *Assembler) { a.tarballContents = contents }
}

// WithReporter sets the progress sink.
func WithReporter(sink reporter.Reporter) Option {
	return func(a *Assembler) { a.reporter = sink }
}

// New creates a descriptor assembler.
func New(cfg *config.Config, remote *storage.Remote, commandRunner runner.Service, cache *artifact.Cache, fs afs.Service, options ...Option) *Assembler {
	assembler := &Assembler{
		cfg:         cfg,
		remote:      remote,
		runner:      commandRunner,
		cache:       cache,
		fs:          fs,
		reporter:    reporter.Nop(),
		logRoot:     "logs",
		tarballRoot: "tarballs",
		tarballContents: []string{
			"processor",
			"law",
		},
	}
	for _, option := range options {
		option(assembler)
	}
	return assembler
}

// Assemble produces the descriptor for one submission. The GPU request is
// omitted entirely when it evaluates to zero; nodes without GPUs exclude any
// job that carries a request_gpus field, even a zero one.
func (a *Assembler) Assemble(ctx context.Context, request Request) (*Descriptor, error) {
	condor := a.cfg.Condor
	descriptor := &Descriptor{RenderVariables: map[string]string{}}

	descriptor.Append("accounting_group", condor.AccountingGroup)
	if condor.Requirements != "" {
		descriptor.Append("Requirements", condor.Requirements)
	}
	descriptor.Append("+RemoteJob", condor.RemoteJob)
	descriptor.Append("universe", condor.Universe)
	descriptor.Append("docker_image", condor.DockerImage)
	descriptor.Append("+RequestWalltime", condor.Walltime)
	descriptor.Append("x509userproxy", condor.UserProxy)
	descriptor.Append("request_cpus", condor.RequestCPUs)
	gpus, err := gpuCount(condor.RequestGPUs)
	if err != nil {
		return nil, err
	}
	if gpus > 0 {
		descriptor.Append("request_gpus", condor.RequestGPUs)
	}
	descriptor.Append("RequestMemory", condor.RequestMemory)
	descriptor.Append("RequestDisk", condor.RequestDisk)

	if err := a.appendLogPaths(ctx, descriptor, request); err != nil {
		return nil, err
	}
	if request.FriendName != "" && request.Sample != nil {
		descriptor.Append("JobBatchName", fmt.Sprintf("%s-%s-%s-%s",
			request.Sample.Nick, a.cfg.Analysis, request.FriendName, a.remote.Tag()))
	}

	tarballURL, err := a.ensureJobTarball(ctx, request.Task)
	if err != nil {
		return nil, err
	}
	envBundle, err := a.cache.EnsureEnvironment(ctx, request.EnvName)
	if err != nil {
		return nil, err
	}

	descriptor.RenderVariables["USER"] = a.cfg.User
	descriptor.RenderVariables["ANA_NAME"] = a.cfg.Analysis
	descriptor.RenderVariables["ENV_NAME"] = request.EnvName
	descriptor.RenderVariables["TAG"] = a.remote.Tag()
	descriptor.RenderVariables["USE_CVMFS"] = formatBool(envBundle.CachedInSharedLayer)
	descriptor.RenderVariables["TARBALL_PATH"] = tarballURL
	if !envBundle.CachedInSharedLayer {
		descriptor.RenderVariables["TARBALL_ENV_PATH"] = envBundle.RemoteURL
	}
	descriptor.RenderVariables["LOCAL_TIMESTAMP"] = config.StartupTime()

	return descriptor, nil
}

// appendLogPaths lays out the log/output/error files. Multi-unit task
// families get the dataset nick inserted as an extra path segment so that
// concurrent dataset runs never collide on log files.
func (a *Assembler) appendLogPaths(ctx context.Context, descriptor *Descriptor, request Request) error {
	logDir := filepath.Join(a.logRoot, a.remote.Tag(), request.Task.String())
	if request.FriendName != "" && request.Sample != nil {
		logDir = filepath.Join(logDir, request.Sample.Nick)
	}
	logDirURL := url.Normalize(logDir, file.Scheme)
	if exists, _ := a.fs.Exists(ctx, logDirURL); !exists {
		if err := a.fs.Create(ctx, logDirURL, file.DefaultDirOsMode, true); err != nil {
			return fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}
	descriptor.Append("Log", filepath.Join(logDir, "log.txt"))
	descriptor.Append("Output", filepath.Join(logDir, "output.txt"))
	descriptor.Append("Error", filepath.Join(logDir, "error.txt"))
	return nil
}

// ensureJobTarball makes sure the job code tarball for this task exists in
// remote storage. A local marker directory records a successful check for
// this run, so only the first descriptor per (tag, task) touches remote
// storage or the tar toolchain.
func (a *Assembler) ensureJobTarball(ctx context.Context, id task.Identity) (string, error) {
	remoteURL := a.remote.TaskURL(id, "job_tarball", "processor.tar.gz")
	markerDir := filepath.Join(a.tarballRoot, a.remote.Tag(), id.String())
	markerURL := url.Normalize(markerDir, file.Scheme)

	if exists, _ := a.fs.Exists(ctx, markerURL); exists {
		return remoteURL, nil
	}

	remotePresent, err := a.remote.Exists(ctx, remoteURL)
	if err != nil {
		return "", err
	}
	if !remotePresent {
		if err := a.packAndUpload(ctx, markerDir, remoteURL); err != nil {
			return "", err
		}
	}
	if err := a.fs.Create(ctx, markerURL, file.DefaultDirOsMode, true); err != nil {
		return "", fmt.Errorf("failed to create tarball marker %s: %w", markerDir, err)
	}
	return remoteURL, nil
}

func (a *Assembler) packAndUpload(ctx context.Context, stagingDir, remoteURL string) error {
	localTarball := filepath.Join(stagingDir, "processor.tar.gz")
	if err := a.fs.Create(ctx, url.Normalize(stagingDir, file.Scheme), file.DefaultDirOsMode, true); err != nil {
		return fmt.Errorf("failed to create staging directory %s: %w", stagingDir, err)
	}

	parts := []string{"tar", "--exclude", "*.pyc", "--exclude", "law/.git", "-czf", localTarball}
	parts = append(parts, a.tarballContents...)
	if _, err := a.runner.Run(ctx, runner.Command{Parts: parts}); err != nil {
		// a partial tarball must not survive to the next attempt
		if deleteErr := a.fs.Delete(ctx, url.Normalize(localTarball, file.Scheme)); deleteErr != nil {
			a.reporter.Logf("failed to remove partial job tarball %s: %v", localTarball, deleteErr)
		}
		return fmt.Errorf("failed to pack job tarball: %w", err)
	}
	a.reporter.Rule("Successful tar!")

	if err := a.remote.Upload(ctx, localTarball, remoteURL); err != nil {
		return err
	}
	a.reporter.Rule("Tarball uploaded!")
	return nil
}

// gpuCount parses the configured GPU request. An empty request counts as
// zero.
func gpuCount(request string) (float64, error) {
	if request == "" {
		return 0, nil
	}
	count, err := strconv.ParseFloat(request, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GPU request %q: %w", request, err)
	}
	return count, nil
}

func formatBool(value bool) string {
	if value {
		return "True"
	}
	return "False"
}
