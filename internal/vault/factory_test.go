package vault

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"geosync/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")

	tests := []struct {
		name    string
		cfg     config.VaultConfig
		wantErr string
	}{
		{name: "memory", cfg: config.VaultConfig{Type: "memory", Name: "scratch"}},
		{name: "filesystem", cfg: config.VaultConfig{Type: "filesystem", Name: "disk", FSVaultRoot: root}},
		{name: "filesystem without root", cfg: config.VaultConfig{Type: "filesystem"}, wantErr: "fs_vault_root"},
		{name: "s3 without bucket", cfg: config.VaultConfig{Type: "s3"}, wantErr: "bucket"},
		{name: "unknown", cfg: config.VaultConfig{Type: "tape"}, wantErr: "unknown vault type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVaultFromConfig(context.Background(), tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewVaultFromConfig() error = %v, want mention of %q", err, tt.wantErr)
				}
				if v != nil {
					t.Error("NewVaultFromConfig() returned a vault alongside an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVaultFromConfig() error = %v", err)
			}
			if err := v.ValidateSetup(); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}
