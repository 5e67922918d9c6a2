package kingmaker

import (
	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/service/artifact"
	"github.com/harrypuuter/KingMaker/service/condor"
	"github.com/harrypuuter/KingMaker/service/config"
	"github.com/harrypuuter/KingMaker/service/lease"
	"github.com/harrypuuter/KingMaker/service/runner"
	"github.com/harrypuuter/KingMaker/service/storage"
	"github.com/viant/afs"
)

// Option customises the service assembly.
type Option func(s *Service)

// WithConfig supplies an already populated configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithConfigURL loads the configuration from a YAML asset on init.
func WithConfigURL(configURL string) Option {
	return func(s *Service) { s.configURL = configURL }
}

// WithFS overrides the file-system service; tests pass afs instances backed
// by mem://.
func WithFS(fs afs.Service) Option {
	return func(s *Service) { s.fs = fs }
}

// WithReporter sets the shared progress sink.
func WithReporter(sink reporter.Reporter) Option {
	return func(s *Service) { s.reporter = sink }
}

// WithRunner overrides the command runner.
func WithRunner(commandRunner runner.Service) Option {
	return func(s *Service) { s.runner = commandRunner }
}

// WithLocalDataPath sets the local durable-state root holding manifests and
// lease markers.
func WithLocalDataPath(path string) Option {
	return func(s *Service) { s.localDataPath = path }
}

// WithStorageOptions forwards options to the remote storage layer.
func WithStorageOptions(options ...storage.Option) Option {
	return func(s *Service) { s.storageOptions = append(s.storageOptions, options...) }
}

// WithCacheOptions forwards options to the artifact cache.
func WithCacheOptions(options ...artifact.Option) Option {
	return func(s *Service) { s.cacheOptions = append(s.cacheOptions, options...) }
}

// WithAssemblerOptions forwards options to the descriptor assembler.
func WithAssemblerOptions(options ...condor.Option) Option {
	return func(s *Service) { s.assemblerOptions = append(s.assemblerOptions, options...) }
}

// WithLeaseOptions forwards options to the lease registry.
func WithLeaseOptions(options ...lease.Option) Option {
	return func(s *Service) { s.leaseOptions = append(s.leaseOptions, options...) }
}
