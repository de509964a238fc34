package remote

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"geosync/internal/config"
	"geosync/internal/geosync"
	"geosync/internal/lock"
	"geosync/internal/server"
	"geosync/internal/vault"
)

// NewRemoteFromConfig creates the Remote a working copy syncs with. http and
// https URLs reach a server; a file URL opens a project store on storage the
// client can reach directly, such as a network share.
func NewRemoteFromConfig(cfg config.RemoteConfig, chunkSize int, clock geosync.Clock, logger geosync.Logger) (geosync.Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("no remote configured: set remote.url")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing remote url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		c, err := NewClient(cfg.URL, cfg.Token, cfg.Timeout, WithChunkSize(chunkSize), WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return c, nil
	case "file":
		root := filepath.FromSlash(u.Path)
		if root == "" {
			return nil, fmt.Errorf("file remote requires a path")
		}
		v, err := vault.NewVaultFromConfig(context.Background(), config.VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: root,
		})
		if err != nil {
			return nil, err
		}
		tmp := filepath.Join(root, "tmp")
		if err := os.MkdirAll(tmp, 0755); err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}
		locker := &dirLocker{dir: filepath.Join(root, "locks"), inner: lock.NewFileLocker(clock)}
		store := server.NewStore(v, locker, logger, server.WithTempDir(tmp))
		return server.NewLocalRemote(store), nil
	default:
		return nil, fmt.Errorf("unsupported remote url scheme %q", u.Scheme)
	}
}

// dirLocker places the lock of each key in its own directory under dir, so
// that processes sharing a file remote exclude each other.
type dirLocker struct {
	dir   string
	inner geosync.Locker
}

func (l *dirLocker) Lock(ctx context.Context, key string) (func() error, error) {
	name := strings.NewReplacer(":", "-", "/", "-").Replace(key)
	return l.inner.Lock(ctx, filepath.Join(l.dir, name))
}
