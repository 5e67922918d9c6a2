// Package config holds the serialisable pipeline configuration: the remote
// storage base, the production tag scoping one pipeline invocation, batch
// scheduling defaults and the environment availability registry. The
// zero-value is usable; Load populates it from a YAML asset through viant/afs
// so file, memory and embedded schemes all work.
package config

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"sync"

	"github.com/harrypuuter/KingMaker/internal/clock"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Condor carries the batch-system defaults applied to every job submission.
// Resource requests are kept as strings: they pass through to the submit
// file verbatim and some sites use unit-suffixed values.
type Condor struct {
	AccountingGroup string `yaml:"accountingGroup" json:"accountingGroup"`
	Requirements    string `yaml:"requirements" json:"requirements"`
	RemoteJob       string `yaml:"remoteJob" json:"remoteJob"`
	Universe        string `yaml:"universe" json:"universe"`
	DockerImage     string `yaml:"dockerImage" json:"dockerImage"`
	Walltime        string `yaml:"walltime" json:"walltime"`
	RequestCPUs     string `yaml:"requestCpus" json:"requestCpus"`
	RequestGPUs     string `yaml:"requestGpus" json:"requestGpus"`
	RequestMemory   string `yaml:"requestMemory" json:"requestMemory"`
	RequestDisk     string `yaml:"requestDisk" json:"requestDisk"`
	UserProxy       string `yaml:"userProxy" json:"userProxy"`
}

// Config is the pipeline configuration.
type Config struct {
	// RemoteBase is the base URL of remote file storage; environment
	// variables in it are expanded on load.
	RemoteBase string `yaml:"remoteBase" json:"remoteBase"`
	// ProductionTag differentiates workflow runs. When empty it defaults to
	// default/<startup timestamp>, shared by all tasks started by this
	// process.
	ProductionTag string `yaml:"productionTag" json:"productionTag"`
	Analysis      string `yaml:"analysis" json:"analysis"`
	// User overrides the local user name rendered into job variables.
	User   string `yaml:"user" json:"user"`
	Condor Condor `yaml:"condor" json:"condor"`
	// Environments maps environment name to whether it is available from
	// the shared read-only cache layer.
	Environments map[string]bool `yaml:"environments" json:"environments"`
}

// Load reads a YAML configuration asset and applies defaults.
func Load(ctx context.Context, fs afs.Service, configURL string) (*Config, error) {
	data, err := fs.DownloadWithURL(ctx, configURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configURL, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configURL, err)
	}
	cfg.Init()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init fills derived defaults: expanded remote base, startup-time production
// tag and the local user.
func (c *Config) Init() {
	c.RemoteBase = os.ExpandEnv(c.RemoteBase)
	if c.ProductionTag == "" {
		c.ProductionTag = "default/" + StartupTime()
	}
	if c.User == "" {
		c.User = localUser()
	}
	if c.Environments == nil {
		c.Environments = map[string]bool{}
	}
}

// Validate returns an error describing invalid settings, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.RemoteBase == "" {
		return fmt.Errorf("remoteBase must be set")
	}
	return nil
}

var (
	startupOnce sync.Once
	startupTime string
)

// StartupTime returns the process startup timestamp used as the default
// production tag suffix. Remote jobs inherit it through LOCAL_TIMESTAMP so
// that all tasks of one run agree on the tag.
func StartupTime() string {
	startupOnce.Do(func() {
		if fromEnv := os.Getenv("LOCAL_TIMESTAMP"); fromEnv != "" {
			startupTime = fromEnv
			return
		}
		now := clock.Now()
		startupTime = fmt.Sprintf("%s_%06d", now.Format("2006_01_02_15_04_05"), now.Nanosecond()/1000)
	})
	return startupTime
}

func localUser() string {
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return os.Getenv("USER")
}
