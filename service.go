package kingmaker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harrypuuter/KingMaker/model/task"
	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/service/artifact"
	"github.com/harrypuuter/KingMaker/service/condor"
	"github.com/harrypuuter/KingMaker/service/config"
	"github.com/harrypuuter/KingMaker/service/environment"
	"github.com/harrypuuter/KingMaker/service/lease"
	"github.com/harrypuuter/KingMaker/service/manifest"
	"github.com/harrypuuter/KingMaker/service/runner"
	"github.com/harrypuuter/KingMaker/service/storage"
	"github.com/harrypuuter/KingMaker/service/supervisor"
	"github.com/viant/afs"
)

// Service wires the processing core: configuration, remote storage, command
// execution, artifact caching, manifest supervision and descriptor assembly
// share one file-system service, reporter and production tag.
type Service struct {
	fs            afs.Service
	cfg           *config.Config
	configURL     string
	reporter      reporter.Reporter
	runner        runner.Service
	environment   *environment.Service
	remote        *storage.Remote
	manifests     *manifest.Store
	leases        *lease.Registry
	cache         *artifact.Cache
	assembler     *condor.Assembler
	localDataPath string

	storageOptions   []storage.Option
	cacheOptions     []artifact.Option
	assemblerOptions []condor.Option
	leaseOptions     []lease.Option
}

// New assembles a service from the supplied options. Either WithConfig or
// WithConfigURL must be given.
func New(ctx context.Context, options ...Option) (*Service, error) {
	s := &Service{}
	for _, option := range options {
		option(s)
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.reporter == nil {
		s.reporter = reporter.Default()
	}
	if s.cfg == nil {
		if s.configURL == "" {
			return nil, fmt.Errorf("configuration required: use WithConfig or WithConfigURL")
		}
		cfg, err := config.Load(ctx, s.fs, s.configURL)
		if err != nil {
			return nil, err
		}
		s.cfg = cfg
	} else {
		s.cfg.Init()
		if err := s.cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if s.localDataPath == "" {
		s.localDataPath = os.Getenv("ANALYSIS_DATA_PATH")
		if s.localDataPath == "" {
			s.localDataPath = "data"
		}
	}
	if s.runner == nil {
		s.runner = runner.New(s.reporter)
	}
	s.environment = environment.New(s.runner, s.reporter)

	storageOptions := append([]storage.Option{storage.WithReporter(s.reporter)}, s.storageOptions...)
	s.remote = storage.New(s.fs, s.cfg.RemoteBase, s.cfg.ProductionTag, storageOptions...)

	manifests, err := manifest.New(s.fs, filepath.Join(s.localDataPath, s.cfg.ProductionTag, "manifests"))
	if err != nil {
		return nil, err
	}
	s.manifests = manifests

	leaseOptions := append([]lease.Option{lease.WithReporter(s.reporter)}, s.leaseOptions...)
	s.leases = lease.New(s.fs, filepath.Join(s.localDataPath, "leases"), leaseOptions...)

	cacheOptions := append([]artifact.Option{
		artifact.WithReporter(s.reporter),
		artifact.WithLeases(s.leases),
		artifact.WithEnvironmentRegistry(s.cfg.Environments),
	}, s.cacheOptions...)
	s.cache = artifact.New(s.fs, s.remote, s.runner, cacheOptions...)

	assemblerOptions := append([]condor.Option{condor.WithReporter(s.reporter)}, s.assemblerOptions...)
	s.assembler = condor.New(s.cfg, s.remote, s.runner, s.cache, s.fs, assemblerOptions...)

	return s, nil
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Runner returns the shared command runner.
func (s *Service) Runner() runner.Service {
	return s.runner
}

// Environment returns the environment resolver.
func (s *Service) Environment() *environment.Service {
	return s.environment
}

// Remote returns the remote storage layer.
func (s *Service) Remote() *storage.Remote {
	return s.remote
}

// Manifests returns the output manifest store.
func (s *Service) Manifests() *manifest.Store {
	return s.manifests
}

// Leases returns the lease registry guarding shared local resources.
func (s *Service) Leases() *lease.Registry {
	return s.leases
}

// Artifacts returns the artifact cache.
func (s *Service) Artifacts() *artifact.Cache {
	return s.cache
}

// Assembler returns the job descriptor assembler.
func (s *Service) Assembler() *condor.Assembler {
	return s.assembler
}

// Supervise wraps a task in an output supervisor backed by the shared
// manifest store.
func (s *Service) Supervise(wrapped task.Task) *supervisor.Supervisor {
	return supervisor.New(wrapped, s.manifests, s.reporter)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.runner != nil {
		return s.runner.Close()
	}
	return nil
}
