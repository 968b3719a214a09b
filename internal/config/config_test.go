package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/integrity",
		LogDir:  "/home/user/.local/share/integrity/log",
		Ledger:  LedgerConfig{Type: "sqlite", Path: "/home/user/.local/share/integrity/ledger.db"},
		Vault: VaultConfig{
			Type:     "s3",
			S3Bucket: "backups",
			S3Prefix: "integrity",
			S3Region: "eu-west-1",
		},
		Backup: BackupConfig{Codec: "zstd"},
		Encryption: EncryptionConfig{
			Type:          "age",
			RecipientPath: "/keys/integrity.pub",
			IdentityPath:  "/keys/integrity.key",
		},
		Watch: WatchConfig{Root: "/srv"},
		External: ExternalConfig{
			DBMS:     "postgresql",
			Host:     "db.internal",
			Port:     "5432",
			Database: "app",
			User:     "auditor",
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Ledger != original.Ledger {
		t.Errorf("Ledger = %+v, want %+v", got.Ledger, original.Ledger)
	}
	if got.Vault != original.Vault {
		t.Errorf("Vault = %+v, want %+v", got.Vault, original.Vault)
	}
	if got.Backup.Codec != "zstd" {
		t.Errorf("Backup.Codec = %q, want %q", got.Backup.Codec, "zstd")
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
	if got.Watch.Root != "/srv" {
		t.Errorf("Watch.Root = %q, want %q", got.Watch.Root, "/srv")
	}
	if got.External != original.External {
		t.Errorf("External = %+v, want %+v", got.External, original.External)
	}
}

func TestManager_Read_Sections(t *testing.T) {
	input := `
log_dir = "/var/log/integrity"

[ledger]
type = "memory"

[vault]
type = "filesystem"
fs_vault_root = "/var/lib/integrity/backups"

[external]
dbms = "sqlite3"
dsn = "/var/lib/app.db"
`
	got, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Ledger.Type != "memory" {
		t.Errorf("Ledger.Type = %q, want memory", got.Ledger.Type)
	}
	if got.Vault.FSVaultRoot != "/var/lib/integrity/backups" {
		t.Errorf("Vault.FSVaultRoot = %q", got.Vault.FSVaultRoot)
	}
	if !got.External.Configured() {
		t.Error("External.Configured() = false, want true")
	}
	if got.Backup.Codec != "" {
		t.Errorf("Backup.Codec = %q, want empty", got.Backup.Codec)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/integrity")

	if cfg.BaseDir != "/data/integrity" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/integrity")
	}
	if cfg.LogDir != "/data/integrity/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/integrity/log")
	}
	if cfg.Ledger.Path != "/data/integrity/ledger.db" {
		t.Errorf("Ledger.Path = %q, want %q", cfg.Ledger.Path, "/data/integrity/ledger.db")
	}
	if cfg.Vault.FSVaultRoot != "/data/integrity/backups" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", cfg.Vault.FSVaultRoot, "/data/integrity/backups")
	}
	if cfg.Backup.Codec != "zlib" {
		t.Errorf("Backup.Codec = %q, want zlib", cfg.Backup.Codec)
	}
	if cfg.External.Configured() {
		t.Error("External.Configured() = true, want false")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "integrity.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "integrity.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "integrity.toml")
		cfg := NewConfig(dir)
		cfg.Ledger = LedgerConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Ledger.Type != "memory" {
			t.Errorf("Ledger.Type = %q, want %q", got.Ledger.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/integrity.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
