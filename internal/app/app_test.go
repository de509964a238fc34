package app

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"geosync/internal/config"
	"geosync/internal/database"
	"geosync/internal/encryption"
	"geosync/internal/geosync"
)

func newTestConfig(t *testing.T, remoteURL string) *config.Config {
	t.Helper()
	cfg := config.NewConfig("test-client", t.TempDir())
	cfg.Remote.URL = remoteURL
	cfg.Sync.Workers = 2
	return cfg
}

func fileRemoteURL(t *testing.T) string {
	t.Helper()
	return "file://" + filepath.ToSlash(t.TempDir())
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func openApp(t *testing.T, cfg *config.Config, root, operation string, create bool) *App {
	t.Helper()
	a, err := NewApp(cfg, root, operation, Options{Create: create})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	return a
}

func TestNewApp_RequiresWorkingCopy(t *testing.T) {
	cfg := newTestConfig(t, fileRemoteURL(t))

	_, err := NewApp(cfg, t.TempDir(), "status", Options{})
	if !errors.Is(err, geosync.ErrNotInitialized) {
		t.Fatalf("NewApp() error = %v, want ErrNotInitialized", err)
	}
}

func TestNewApp_RejectsUnknownRemote(t *testing.T) {
	cfg := newTestConfig(t, "ftp://example.com/survey")

	_, err := NewApp(cfg, t.TempDir(), "init", Options{Create: true})
	if err == nil {
		t.Fatal("NewApp() expected error for unsupported remote scheme")
	}
}

func TestApp_InitSyncHistory(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t, fileRemoteURL(t))
	root := t.TempDir()

	a := openApp(t, cfg, root, "init", true)
	if err := a.Init(ctx, "survey", true); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	writeFile(t, root, "notes.txt", "north field")

	b := openApp(t, cfg, root, "sync", false)
	res := b.Run(ctx, geosync.ModeSync)
	if res.Outcome != geosync.Succeeded {
		t.Fatalf("Run() outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.Version != 1 {
		t.Errorf("Version = %d, want 1", res.Version)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	c := openApp(t, cfg, root, "history", false)
	defer c.Close()

	sess, _, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if sess.HasChanges() {
		t.Errorf("Status() has changes after sync: pull=%d push=%d", sess.PullChanges.Len(), sess.PushChanges.Len())
	}

	ops, err := c.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("History() returned %d operations, want 2", len(ops))
	}
	if ops[0].Operation != "sync" || ops[0].Status != database.StatusSuccess || ops[0].Version != 1 {
		t.Errorf("latest operation = %+v", ops[0])
	}
	if ops[0].FinishedAt == nil {
		t.Error("latest operation was not finished")
	}
	if ops[1].Operation != "init" {
		t.Errorf("first operation = %q, want init", ops[1].Operation)
	}
}

func TestApp_InitFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t, fileRemoteURL(t))
	root := t.TempDir()

	a := openApp(t, cfg, root, "init", true)
	if err := a.Init(ctx, "missing", false); err == nil {
		t.Fatal("Init() expected error for a project that does not exist")
	}
	if a.op.Status != database.StatusError {
		t.Errorf("operation status = %q, want %q", a.op.Status, database.StatusError)
	}
	a.Close()
}

func TestApp_Clone(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t, fileRemoteURL(t))
	src := t.TempDir()

	a := openApp(t, cfg, src, "init", true)
	if err := a.Init(ctx, "survey", true); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	writeFile(t, src, "layers/roads.txt", "a1;a2")
	if res := a.Run(ctx, geosync.ModeSync); res.Outcome != geosync.Succeeded {
		t.Fatalf("Run() outcome = %s, err = %v", res.Outcome, res.Err)
	}
	a.Close()

	dst := t.TempDir()
	b := openApp(t, cfg, dst, "clone", true)
	defer b.Close()
	res := b.Clone(ctx, "survey")
	if res.Outcome != geosync.Succeeded {
		t.Fatalf("Clone() outcome = %s, err = %v", res.Outcome, res.Err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "layers", "roads.txt"))
	if err != nil {
		t.Fatalf("reading cloned file: %v", err)
	}
	if string(got) != "a1;a2" {
		t.Errorf("cloned content = %q, want %q", got, "a1;a2")
	}
}

func TestApp_RelPath(t *testing.T) {
	root := t.TempDir()
	a := &App{root: root}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "file in root", raw: filepath.Join(root, "survey.gpkg"), want: "survey.gpkg"},
		{name: "nested file", raw: filepath.Join(root, "data", "roads.gpkg"), want: "data/roads.gpkg"},
		{name: "root itself", raw: root, wantErr: true},
		{name: "outside", raw: filepath.Join(filepath.Dir(root), "other.gpkg"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.relPath(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("relPath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("relPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerApp_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverCfg := config.NewConfig("server", t.TempDir())
	serverCfg.Server.Vault = config.VaultConfig{Type: "memory", Name: "test"}
	serverCfg.Server.Encryption = config.EncryptionConfig{Type: "test"}
	serverCfg.Server.Tokens = []config.TokenConfig{{Name: "field", Token: "secret", Write: true}}

	if !NeedsPassphrase(serverCfg) {
		t.Fatal("NeedsPassphrase() = false for an encrypted vault")
	}
	srv, err := NewServerApp(ctx, serverCfg, "passphrase")
	if err != nil {
		t.Fatalf("NewServerApp() error = %v", err)
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	cfg := newTestConfig(t, "http://"+ln.Addr().String())
	cfg.Remote.Token = "secret"

	src := t.TempDir()
	a := openApp(t, cfg, src, "init", true)
	if err := a.Init(ctx, "survey", true); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	writeFile(t, src, "notes.txt", "east boundary")
	if res := a.Run(ctx, geosync.ModeSync); res.Outcome != geosync.Succeeded {
		t.Fatalf("Run() outcome = %s, err = %v", res.Outcome, res.Err)
	}
	a.Close()

	dst := t.TempDir()
	b := openApp(t, cfg, dst, "clone", true)
	res := b.Clone(ctx, "survey")
	b.Close()
	if res.Outcome != geosync.Succeeded {
		t.Fatalf("Clone() outcome = %s, err = %v", res.Outcome, res.Err)
	}
	got, err := os.ReadFile(filepath.Join(dst, "notes.txt"))
	if err != nil {
		t.Fatalf("reading cloned file: %v", err)
	}
	if string(got) != "east boundary" {
		t.Errorf("cloned content = %q", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestNewServerApp_Errors(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*config.Config)
		passphrase string
		wantErr    error
	}{
		{
			name:   "file lock",
			modify: func(c *config.Config) { c.Server.Lock.Type = "file" },
		},
		{
			name:   "unknown vault",
			modify: func(c *config.Config) { c.Server.Vault.Type = "tape" },
		},
		{
			name:    "encrypted vault without passphrase",
			modify:  func(c *config.Config) { c.Server.Encryption.Type = "age" },
			wantErr: encryption.ErrNoPassphrase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig("server", t.TempDir())
			tt.modify(cfg)

			srv, err := NewServerApp(context.Background(), cfg, tt.passphrase)
			if err == nil {
				srv.Close()
				t.Fatal("NewServerApp() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("NewServerApp() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
