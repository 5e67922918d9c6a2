package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/harrypuuter/KingMaker/service/runner"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Unpack extracts the bundle tarball into workdir unless the expected
// executable is already present. Extraction into a shared work directory is
// guarded by a lease so that branches landing on the same host do not
// unpack over each other; after acquiring the lease the executable is
// re-checked, since a peer may have finished the unpack while we waited.
func (c *Cache) Unpack(ctx context.Context, tarballPath, workdir, executable string) error {
	target := filepath.Join(workdir, executable)
	present, err := c.localExists(ctx, target)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	key := "unpacking_" + executable
	if _, err := c.leases.Acquire(ctx, key); err != nil {
		return err
	}
	defer func() { _ = c.leases.Release(ctx, key) }()

	if present, err = c.localExists(ctx, target); err != nil || present {
		return err
	}

	workdirURL := url.Normalize(workdir, file.Scheme)
	if exists, _ := c.fs.Exists(ctx, workdirURL); !exists {
		if err := c.fs.Create(ctx, workdirURL, file.DefaultDirOsMode, true); err != nil {
			return fmt.Errorf("failed to create workdir %s: %w", workdir, err)
		}
	}

	command := runner.Command{
		Parts:  []string{"tar", "-xzf", tarballPath, "-C", workdir},
		Silent: true,
	}
	if _, err := c.runner.Run(ctx, command); err != nil {
		return fmt.Errorf("failed to unpack %s into %s: %w", tarballPath, workdir, err)
	}
	return nil
}
