package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"geosync/internal/config"
	"geosync/internal/database"
	"geosync/internal/fs"
	"geosync/internal/geodiff"
	"geosync/internal/geosync"
	"geosync/internal/lock"
	"geosync/internal/model"
	"geosync/internal/remote"
	"geosync/internal/staging"
)

// DefaultCodecBinary is the geodiff executable used when sync.codec_path is unset.
const DefaultCodecBinary = "geodiff"

// Options adjusts how an App opens its working copy.
type Options struct {
	// Create turns a plain directory into a working copy instead of
	// failing with geosync.ErrNotInitialized.
	Create bool
	// Observer receives progress of sync runs.
	Observer geosync.Observer
}

// App is the application layer between the CLI and geosync.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and records the operation history on Close.
type App struct {
	cfg     *config.Config
	root    string
	store   *database.MetadataStore
	service *geosync.Service
	op      *SyncOperation
	logFile io.Closer
}

// NewApp creates a fully wired App for the working copy at root.
// operation identifies the CLI command being run (e.g. "sync", "init").
// The caller must call Close when done.
func NewApp(cfg *config.Config, root, operation string, opts Options) (*App, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving working copy: %w", err)
	}
	clock := geosync.RealClock{}

	opID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger.With("dir", root)}

	store, err := database.OpenWorkingCopy(root, opts.Create, clock)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	svc, err := newService(cfg, root, store, clock, logger, opts.Observer)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		root:    root,
		store:   store,
		service: svc,
		op:      NewSyncOperation(operation, root),
		logFile: logFile,
	}, nil
}

func newService(cfg *config.Config, root string, store *database.MetadataStore, clock geosync.Clock, logger geosync.Logger, observer geosync.Observer) (*geosync.Service, error) {
	stagingCfg := cfg.Staging
	if stagingCfg.Type == "filesystem" && stagingCfg.StagingDir == "" {
		stagingCfg.StagingDir = filepath.Join(root, fs.MetaDir, "staging")
	}
	sa, err := staging.NewStagingAreaFromConfig(stagingCfg)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	rem, err := remote.NewRemoteFromConfig(cfg.Remote, cfg.Sync.ChunkSize, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("creating remote: %w", err)
	}

	locker, err := lock.NewLockerFromConfig(cfg.Lock, clock)
	if err != nil {
		return nil, fmt.Errorf("creating lock: %w", err)
	}

	ignore, err := fs.LoadIgnoreMatcher(afero.NewOsFs(), root, cfg.Filesystem.Ignore)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}

	codecPath := cfg.Sync.CodecPath
	if codecPath == "" {
		codecPath = DefaultCodecBinary
	}

	opts := []geosync.Option{
		geosync.WithLocker(locker),
		geosync.WithWorkers(cfg.Sync.Workers),
		geosync.WithIgnore(ignore),
		geosync.WithClock(clock),
	}
	if observer != nil {
		opts = append(opts, geosync.WithObserver(observer))
	}
	return geosync.NewService(root, rem, store, sa, geodiff.NewCLICodec(codecPath), logger, opts...), nil
}

// Root returns the working copy directory.
func (a *App) Root() string { return a.root }

// persistOperation saves the sync operation to the database, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *App) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	id, err := a.store.StartOperation(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting sync operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// Init makes the directory a working copy of projectID, creating the remote
// project first when create is set.
func (a *App) Init(ctx context.Context, projectID string, create bool) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	if err := a.service.Init(ctx, projectID, create); err != nil {
		a.op.Status = database.StatusError
		return err
	}
	return nil
}

// Clone initializes the working copy from an existing project and pulls it.
func (a *App) Clone(ctx context.Context, projectID string) geosync.Result {
	if err := a.Init(ctx, projectID, false); err != nil {
		return geosync.Result{Outcome: geosync.Failed, Err: err}
	}
	return a.Run(ctx, geosync.ModePull)
}

// Run executes one sync session in the given mode and records its outcome.
func (a *App) Run(ctx context.Context, mode geosync.Mode) geosync.Result {
	if err := a.persistOperation(ctx); err != nil {
		return geosync.Result{Outcome: geosync.Failed, Err: err}
	}
	res := a.service.Run(ctx, mode)
	a.op.Record(res)
	return res
}

// Status checks the working copy against the remote. Per-table summaries of
// local changes are returned for updated versioned files.
func (a *App) Status(ctx context.Context) (*geosync.SyncSession, map[string][]geodiff.TableSummary, error) {
	sess, err := a.service.Status(ctx)
	if err != nil {
		return nil, nil, err
	}
	if sess.State != geosync.StatusChecked {
		return sess, nil, nil
	}
	return sess, a.service.VersionedSummaries(ctx, sess), nil
}

// Diff renders the local changes of the versioned file at rawPath.
func (a *App) Diff(ctx context.Context, rawPath string) ([]geosync.TableDiff, error) {
	rel, err := a.relPath(rawPath)
	if err != nil {
		return nil, err
	}
	return a.service.Diff(ctx, rel)
}

// Report counts the local changes of the versioned file at rawPath per
// table. It also returns the project path of the file.
func (a *App) Report(ctx context.Context, rawPath string) (string, []geodiff.TableSummary, error) {
	rel, err := a.relPath(rawPath)
	if err != nil {
		return "", nil, err
	}
	summaries, err := a.service.Report(ctx, rel)
	return rel, summaries, err
}

// History returns the most recent sync operations.
func (a *App) History(ctx context.Context, limit int) ([]model.SyncOperation, error) {
	return a.store.ListOperations(ctx, limit)
}

// relPath turns a path given on the command line into a project path.
func (a *App) relPath(rawPath string) (string, error) {
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	rel, err := filepath.Rel(a.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside the working copy %s", rawPath, a.root)
	}
	return filepath.ToSlash(rel), nil
}

// Close finalizes the operation record and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.store.FinishOperation(context.Background(), a.op.ID, a.op.Status, a.op.Version, a.op.Conflicts); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
