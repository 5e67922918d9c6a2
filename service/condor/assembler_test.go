package condor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrypuuter/KingMaker/model/sample"
	"github.com/harrypuuter/KingMaker/model/task"
	"github.com/harrypuuter/KingMaker/service/artifact"
	"github.com/harrypuuter/KingMaker/service/config"
	"github.com/harrypuuter/KingMaker/service/runner"
	"github.com/harrypuuter/KingMaker/service/storage"
	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
)

type fakeRunner struct {
	runs []runner.Command
}

func (f *fakeRunner) Run(ctx context.Context, command runner.Command) (string, error) {
	f.runs = append(f.runs, command)
	if command.Parts[0] == "tar" {
		for i, part := range command.Parts {
			if part == "-czf" {
				return "", os.WriteFile(command.Parts[i+1], []byte("job code"), 0o644)
			}
		}
	}
	return "", nil
}

func (f *fakeRunner) Stream(ctx context.Context, command runner.Command) error {
	f.runs = append(f.runs, command)
	return nil
}

func (f *fakeRunner) Close() error {
	return nil
}

type fixture struct {
	cfg       *config.Config
	remote    *storage.Remote
	execer    *fakeRunner
	assembler *Assembler
	logRoot   string
	envRoot   string
}

func newFixture(t *testing.T, remoteBase string) *fixture {
	t.Helper()
	fs := afs.New()
	cfg := &config.Config{
		RemoteBase:    remoteBase,
		ProductionTag: "tag",
		Analysis:      "tau",
		User:          "analyst",
		Condor: config.Condor{
			AccountingGroup: "cms.higgs",
			RemoteJob:       "true",
			Universe:        "docker",
			DockerImage:     "registry/image:latest",
			Walltime:        "10800",
			RequestCPUs:     "4",
			RequestGPUs:     "0",
			RequestMemory:   "16000",
			RequestDisk:     "20000000",
			UserProxy:       "/tmp/x509up_u1000",
		},
		Environments: map[string]bool{"KingMaker": true, "packed": false},
	}
	remote := storage.New(fs, remoteBase, cfg.ProductionTag)
	execer := &fakeRunner{}
	envRoot := t.TempDir()
	cache := artifact.New(fs, remote, execer,
		artifact.WithEnvironmentRegistry(cfg.Environments),
		artifact.WithEnvTarballRoot(envRoot),
	)
	logRoot := t.TempDir()
	assembler := New(cfg, remote, execer, cache, fs,
		WithLogRoot(logRoot),
		WithTarballRoot(t.TempDir()),
		WithTarballContents("processor"),
	)
	return &fixture{cfg: cfg, remote: remote, execer: execer, assembler: assembler, logRoot: logRoot, envRoot: envRoot}
}

func lookup(t *testing.T, descriptor *Descriptor, key string) string {
	t.Helper()
	value, ok := descriptor.Lookup(key)
	assert.True(t, ok, key)
	return value
}

func TestAssemble(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "mem://localhost/condor-basic")
	request := Request{Task: task.NewIdentity("CROWNRun", "dy"), EnvName: "KingMaker"}

	descriptor, err := f.assembler.Assemble(ctx, request)
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, "cms.higgs", lookup(t, descriptor, "accounting_group"))
	assert.Equal(t, "docker", lookup(t, descriptor, "universe"))
	assert.Equal(t, "4", lookup(t, descriptor, "request_cpus"))
	_, ok := descriptor.Lookup("Requirements")
	assert.False(t, ok)
	// a zero GPU request is omitted, not rendered as zero
	_, ok = descriptor.Lookup("request_gpus")
	assert.False(t, ok)

	logPath := lookup(t, descriptor, "Log")
	assert.Equal(t, filepath.Join(f.logRoot, "tag", "CROWNRun_dy", "log.txt"), logPath)
	info, statErr := os.Stat(filepath.Dir(logPath))
	if assert.NoError(t, statErr) {
		assert.True(t, info.IsDir())
	}

	render := descriptor.RenderVariables
	assert.Equal(t, "analyst", render["USER"])
	assert.Equal(t, "tau", render["ANA_NAME"])
	assert.Equal(t, "KingMaker", render["ENV_NAME"])
	assert.Equal(t, "tag", render["TAG"])
	assert.Equal(t, "True", render["USE_CVMFS"])
	assert.True(t, strings.HasSuffix(render["TARBALL_PATH"], "tag/CROWNRun_dy/job_tarball/processor.tar.gz"), render["TARBALL_PATH"])
	_, ok = render["TARBALL_ENV_PATH"]
	assert.False(t, ok)
	assert.NotEmpty(t, render["LOCAL_TIMESTAMP"])

	// job tarball packed and uploaded once
	if assert.Len(t, f.execer.runs, 1) {
		parts := f.execer.runs[0].Parts
		assert.Equal(t, "tar", parts[0])
		assert.Contains(t, parts, "*.pyc")
		assert.Equal(t, "processor", parts[len(parts)-1])
	}
	exists, err := f.remote.Exists(ctx, render["TARBALL_PATH"])
	assert.NoError(t, err)
	assert.True(t, exists)

	// the marker short-circuits the second descriptor for the same task
	_, err = f.assembler.Assemble(ctx, request)
	assert.NoError(t, err)
	assert.Len(t, f.execer.runs, 1)
}

func TestAssemble_GPURequest(t *testing.T) {
	f := newFixture(t, "mem://localhost/condor-gpu")
	f.cfg.Condor.RequestGPUs = "1"
	f.cfg.Condor.Requirements = "TARGET.CloudSite =?= \"gpu\""

	descriptor, err := f.assembler.Assemble(context.Background(), Request{
		Task:    task.NewIdentity("CROWNRun", "dy"),
		EnvName: "KingMaker",
	})
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "1", lookup(t, descriptor, "request_gpus"))
	assert.Equal(t, "TARGET.CloudSite =?= \"gpu\"", lookup(t, descriptor, "Requirements"))
}

func TestAssemble_InvalidGPURequest(t *testing.T) {
	f := newFixture(t, "mem://localhost/condor-gpu-invalid")
	f.cfg.Condor.RequestGPUs = "many"

	_, err := f.assembler.Assemble(context.Background(), Request{
		Task:    task.NewIdentity("CROWNRun", "dy"),
		EnvName: "KingMaker",
	})
	assert.Error(t, err)
}

func TestAssemble_FriendFamily(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "mem://localhost/condor-friend")

	// packaged environment staged for upload
	if err := os.WriteFile(filepath.Join(f.envRoot, "packed.tar.gz"), []byte("env"), 0o644); err != nil {
		t.Fatal(err)
	}

	descriptor, err := f.assembler.Assemble(ctx, Request{
		Task:       task.NewIdentity("CROWNFriends", "nnscore"),
		EnvName:    "packed",
		Sample:     &sample.Sample{Nick: "dy", Era: "2018", SampleType: "mc"},
		FriendName: "nnscore",
	})
	if !assert.NoError(t, err) {
		return
	}

	// per-dataset log namespacing keeps concurrent datasets apart
	logPath := lookup(t, descriptor, "Log")
	assert.Equal(t, filepath.Join(f.logRoot, "tag", "CROWNFriends_nnscore", "dy", "log.txt"), logPath)
	assert.Equal(t, "dy-tau-nnscore-tag", lookup(t, descriptor, "JobBatchName"))

	render := descriptor.RenderVariables
	assert.Equal(t, "False", render["USE_CVMFS"])
	assert.True(t, strings.HasSuffix(render["TARBALL_ENV_PATH"], "env_tarballs/packed.tar.gz"), render["TARBALL_ENV_PATH"])
}

func TestDescriptor_Lookup(t *testing.T) {
	descriptor := &Descriptor{}
	descriptor.Append("RequestMemory", "8000")
	descriptor.Append("RequestMemory", "16000")

	value, ok := descriptor.Lookup("RequestMemory")
	assert.True(t, ok)
	assert.Equal(t, "16000", value)

	_, ok = descriptor.Lookup("absent")
	assert.False(t, ok)
}
