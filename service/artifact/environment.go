package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// EnvBundle references a packaged runtime environment a job can run under.
// Environments served by the shared read-only cache layer need no tarball;
// the rest are staged to remote storage and unpacked by the job bootstrap.
type EnvBundle struct {
	Name                string
	CachedInSharedLayer bool
	RemoteURL           string
}

// EnsureEnvironment prepares the named environment for use by remote jobs.
// Environments available from the shared cache layer are returned as-is;
// otherwise the packaged tarball is uploaded to remote storage unless
// already present. Environment bundles are path addressed: an existing
// remote bundle whose size disagrees with the local tarball means the name
// was reused for different content, which is refused rather than silently
// serving stale bytes.
func (c *Cache) EnsureEnvironment(ctx context.Context, envName string) (*EnvBundle, error) {
	cached, known := c.envAvailability[envName]
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnvironment, envName)
	}
	if cached {
		return &EnvBundle{Name: envName, CachedInSharedLayer: true}, nil
	}

	remoteURL := c.remote.EnvBundleURL(envName)
	localTarball := filepath.Join(c.envTarballRoot, envName+".tar.gz")

	exists, err := c.remote.Exists(ctx, remoteURL)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := c.checkRevision(ctx, envName, localTarball, remoteURL); err != nil {
			return nil, err
		}
		return &EnvBundle{Name: envName, RemoteURL: remoteURL}, nil
	}

	c.reporter.Logf("uploading environment bundle %s", envName)
	if err := c.remote.Upload(ctx, localTarball, remoteURL); err != nil {
		return nil, fmt.Errorf("failed to stage environment %s: %w", envName, err)
	}
	return &EnvBundle{Name: envName, RemoteURL: remoteURL}, nil
}

// checkRevision compares the local and remote tarball sizes when both exist.
// A size disagreement is the loud-failure stand-in for content addressing.
func (c *Cache) checkRevision(ctx context.Context, envName, localTarball, remoteURL string) error {
	localURL := url.Normalize(localTarball, file.Scheme)
	localPresent, err := c.fs.Exists(ctx, localURL)
	if err != nil || !localPresent {
		return err
	}
	localObject, err := c.fs.Object(ctx, localURL)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localTarball, err)
	}
	remoteSize, err := c.remote.Size(ctx, remoteURL)
	if err != nil {
		return err
	}
	if localObject.Size() != remoteSize {
		return fmt.Errorf("%w: %s (local %d bytes, remote %d bytes)",
			ErrBundleNameReused, envName, localObject.Size(), remoteSize)
	}
	return nil
}
