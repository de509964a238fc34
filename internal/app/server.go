package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"geosync/internal/config"
	"geosync/internal/encryption"
	"geosync/internal/geosync"
	"geosync/internal/lock"
	"geosync/internal/server"
	"geosync/internal/vault"
)

// ServerApp wires the reference server from config.
type ServerApp struct {
	cfg     *config.Config
	server  *server.Server
	logFile io.Closer
}

// NeedsPassphrase reports whether the configured vault is encrypted, so the
// caller must obtain a passphrase before NewServerApp.
func NeedsPassphrase(cfg *config.Config) bool {
	t := cfg.Server.Encryption.Type
	return t != "" && t != "none"
}

// NewServerApp builds the vault, project store and HTTP handlers from
// cfg.Server. passphrase unlocks (or, on first start, creates) the age keys
// of an encrypted vault and is ignored otherwise.
func NewServerApp(ctx context.Context, cfg *config.Config, passphrase string) (*ServerApp, error) {
	opID := "serve-" + time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	handler, err := newServerHandler(ctx, cfg, passphrase, logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return &ServerApp{
		cfg:     cfg,
		server:  server.New(handler, logger),
		logFile: logFile,
	}, nil
}

func newServerHandler(ctx context.Context, cfg *config.Config, passphrase string, logger geosync.Logger) (http.Handler, error) {
	sc := cfg.Server

	v, err := vault.NewVaultFromConfig(ctx, sc.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	enc, err := encryption.NewEncryptorFromConfig(sc.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil {
		dec, err := encryption.Unlock(enc, passphrase)
		if err != nil {
			return nil, err
		}
		v = vault.NewEncryptedVault(v, enc, dec)
	}
	if err := v.ValidateSetup(); err != nil {
		return nil, fmt.Errorf("validating vault: %w", err)
	}

	// The file locker keys on a working copy directory, which a project id is not.
	if sc.Lock.Type == "file" || sc.Lock.Type == "" {
		return nil, fmt.Errorf("server lock type must be memory or redis, got %q", sc.Lock.Type)
	}
	locker, err := lock.NewLockerFromConfig(sc.Lock, geosync.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("creating lock: %w", err)
	}

	tmp := filepath.Join(cfg.BaseDir, "tmp")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	store := server.NewStore(v, locker, logger,
		server.WithMaxProjectSize(sc.MaxProjectSize),
		server.WithTempDir(tmp))

	auth := server.NewAuth(sc.Tokens)
	if auth.Open() {
		logger.Warn("no tokens configured: every client has full access")
	}
	return server.NewHandlers(store, auth, logger, cfg.Sync.ChunkSize).Router(), nil
}

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *ServerApp) ListenAndServe(ctx context.Context) error {
	return s.server.ListenAndServe(ctx, s.cfg.Server.Listen)
}

// Serve serves on ln until ctx is cancelled.
func (s *ServerApp) Serve(ctx context.Context, ln net.Listener) error {
	return s.server.Serve(ctx, ln)
}

// Close closes the log file.
func (s *ServerApp) Close() error {
	return s.logFile.Close()
}
