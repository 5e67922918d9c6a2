package kingmaker

import (
	"bytes"
	"context"
	"testing"

	"github.com/harrypuuter/KingMaker/model/task"
	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/harrypuuter/KingMaker/service/config"
	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

func upload(ctx context.Context, fs afs.Service, assetURL, content string) error {
	return fs.Upload(ctx, assetURL, file.DefaultFileOsMode, bytes.NewReader([]byte(content)))
}

type echoTask struct {
	id      task.Identity
	outputs []string
}

func (t *echoTask) Identity() task.Identity {
	return t.id
}

func (t *echoTask) Output(ctx context.Context) (interface{}, error) {
	return t.outputs, nil
}

func (t *echoTask) Run(ctx context.Context, delegation task.Delegation) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		RemoteBase:    "mem://localhost/service-remote",
		ProductionTag: "tag",
		Analysis:      "tau",
		User:          "analyst",
		Environments:  map[string]bool{"KingMaker": true},
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	service, err := New(ctx,
		WithConfig(testConfig()),
		WithFS(afs.New()),
		WithReporter(reporter.Nop()),
		WithLocalDataPath(t.TempDir()),
	)
	if !assert.NoError(t, err) {
		return
	}
	defer func() { _ = service.Close() }()

	assert.NotNil(t, service.Config())
	assert.NotNil(t, service.Runner())
	assert.NotNil(t, service.Environment())
	assert.NotNil(t, service.Remote())
	assert.NotNil(t, service.Manifests())
	assert.NotNil(t, service.Leases())
	assert.NotNil(t, service.Artifacts())
	assert.NotNil(t, service.Assembler())
	assert.Equal(t, "tag", service.Remote().Tag())
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), WithFS(afs.New()))
	assert.Error(t, err)
}

func TestNew_LoadsConfigFromURL(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	configURL := "mem://localhost/service-config/pipeline.yaml"
	err := upload(ctx, fs, configURL, "remoteBase: mem://localhost/service-remote\nanalysis: tau\n")
	if !assert.NoError(t, err) {
		return
	}

	service, err := New(ctx,
		WithConfigURL(configURL),
		WithFS(fs),
		WithReporter(reporter.Nop()),
		WithLocalDataPath(t.TempDir()),
	)
	if !assert.NoError(t, err) {
		return
	}
	defer func() { _ = service.Close() }()
	assert.Equal(t, "tau", service.Config().Analysis)
}

func TestService_Supervise(t *testing.T) {
	ctx := context.Background()
	service, err := New(ctx,
		WithConfig(testConfig()),
		WithFS(afs.New()),
		WithReporter(reporter.Nop()),
		WithLocalDataPath(t.TempDir()),
	)
	if !assert.NoError(t, err) {
		return
	}
	defer func() { _ = service.Close() }()

	wrapped := &echoTask{
		id:      task.NewIdentity("CROWNRun", "dy"),
		outputs: []string{"scope_a/dy_0.root"},
	}
	supervised := service.Supervise(wrapped)
	assert.Equal(t, wrapped.id, supervised.Identity())

	delegation := task.DelegationFunc(func(ctx context.Context, delegated task.Task) error {
		return delegated.Run(ctx, nil)
	})
	if !assert.NoError(t, supervised.Run(ctx, delegation)) {
		return
	}
	verified, err := supervised.Verify(ctx)
	assert.NoError(t, err)
	assert.True(t, verified)

	recorded, err := service.Manifests().Load(ctx, wrapped.id)
	assert.NoError(t, err)
	assert.Equal(t, []string{"scope_a/dy_0.root"}, recorded)
}
