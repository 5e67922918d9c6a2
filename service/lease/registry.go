// Package lease implements the cooperative locks that guard shared local
// resources (artifact unpack directories) against concurrent use by branches
// running on the same host. A lease is a marker file carrying an owner id
// and an expiry time: waiters poll until the marker disappears or expires,
// and an expired marker is broken and taken over, so a crashed holder delays
// peers by at most the TTL instead of deadlocking the host.
//
// The lock is advisory, not atomic: two processes racing through an expired
// marker can both proceed. Holders must therefore re-check whether the
// guarded work is still necessary after acquisition.
package lease

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harrypuuter/KingMaker/internal/clock"
	"github.com/harrypuuter/KingMaker/internal/idgen"
	"github.com/harrypuuter/KingMaker/reporter"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// DefaultTTL bounds how long a crashed holder can block its peers.
const DefaultTTL = 15 * time.Minute

// DefaultPollInterval matches the original fixed busy-wait cadence.
const DefaultPollInterval = time.Second

// Lease is the persisted marker record.
type Lease struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the lease has outlived its TTL.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Registry acquires and releases leases below a base location, one marker
// file per key.
type Registry struct {
	fs       afs.Service
	baseURL  string
	ttl      time.Duration
	poll     time.Duration
	owner    string
	reporter reporter.Reporter
	now      func() time.Time
}

// Option customises a Registry.
type Option func(*Registry)

// WithTTL overrides the lease expiry.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithPollInterval overrides the waiting cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(r *Registry) { r.poll = interval }
}

// WithReporter sets the progress sink.
func WithReporter(sink reporter.Reporter) Option {
	return func(r *Registry) { r.reporter = sink }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a lease registry rooted at baseURL. Each registry instance has
// its own owner id; one registry per process is the intended use.
func New(fs afs.Service, baseURL string, options ...Option) *Registry {
	registry := &Registry{
		fs:       fs,
		baseURL:  baseURL,
		ttl:      DefaultTTL,
		poll:     DefaultPollInterval,
		owner:    idgen.New(),
		reporter: reporter.Nop(),
		now:      clock.Now,
	}
	for _, option := range options {
		option(registry)
	}
	return registry
}

// Owner returns the registry's owner id.
func (r *Registry) Owner() string {
	return r.owner
}

// Acquire blocks until the lease for key is held by this registry. A held,
// unexpired lease owned by someone else is waited out at the poll interval;
// an expired lease is broken and taken over. Context cancellation aborts the
// wait.
func (r *Registry) Acquire(ctx context.Context, key string) (*Lease, error) {
	markerURL := r.markerURL(key)
	for {
		current, err := r.read(ctx, markerURL)
		if err != nil {
			return nil, err
		}
		switch {
		case current == nil:
			// free, try to take it
		case current.Owner == r.owner:
			return current, nil
		case current.Expired(r.now()):
			r.reporter.Logf("breaking expired lease %s held by %s", key, current.Owner)
			_ = r.fs.Delete(ctx, markerURL)
		default:
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("aborted waiting for lease %s: %w", key, ctx.Err())
			case <-time.After(r.poll):
			}
			continue
		}

		lease := &Lease{Key: key, Owner: r.owner, ExpiresAt: r.now().Add(r.ttl)}
		if err := r.write(ctx, markerURL, lease); err != nil {
			return nil, err
		}
		// Re-read to detect a lost race: the write is not atomic, the last
		// writer wins and everyone else goes back to waiting.
		confirmed, err := r.read(ctx, markerURL)
		if err != nil {
			return nil, err
		}
		if confirmed != nil && confirmed.Owner == r.owner {
			return confirmed, nil
		}
	}
}

// Release removes the marker if this registry still owns it. Releasing an
// already broken or taken-over lease is a no-op.
func (r *Registry) Release(ctx context.Context, key string) error {
	markerURL := r.markerURL(key)
	current, err := r.read(ctx, markerURL)
	if err != nil {
		return err
	}
	if current == nil || current.Owner != r.owner {
		return nil
	}
	if err := r.fs.Delete(ctx, markerURL); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}

// Held reports whether any live lease exists for key.
func (r *Registry) Held(ctx context.Context, key string) (bool, error) {
	current, err := r.read(ctx, r.markerURL(key))
	if err != nil {
		return false, err
	}
	return current != nil && !current.Expired(r.now()), nil
}

func (r *Registry) read(ctx context.Context, markerURL string) (*Lease, error) {
	exists, err := r.fs.Exists(ctx, markerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to check lease %s: %w", markerURL, err)
	}
	if !exists {
		return nil, nil
	}
	data, err := r.fs.DownloadWithURL(ctx, markerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read lease %s: %w", markerURL, err)
	}
	var lease Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		// an unreadable marker is treated as a stale artifact of a crash
		return nil, nil
	}
	return &lease, nil
}

func (r *Registry) write(ctx context.Context, markerURL string, lease *Lease) error {
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("failed to marshal lease: %w", err)
	}
	if err := r.fs.Upload(ctx, markerURL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write lease %s: %w", markerURL, err)
	}
	return nil
}

func (r *Registry) markerURL(key string) string {
	return url.Join(r.baseURL, key+".lease.json")
}
