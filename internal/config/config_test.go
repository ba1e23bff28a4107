package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUsesDefaultsWhenNoConfigFile(t *testing.T) {
	t.Setenv("AGENR_HOME", t.TempDir())
	c, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.GetFloat64("dedup.threshold"); got != 0.80 {
		t.Fatalf("expected default dedup.threshold 0.80, got %v", got)
	}
	if got := c.GetInt("signalMinImportance"); got != 8 {
		t.Fatalf("expected default signalMinImportance 8, got %v", got)
	}
}

func TestDBPathDefaultsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENR_HOME", home)
	c, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(home, "knowledge.db")
	if c.DBPath() != want {
		t.Fatalf("expected %q, got %q", want, c.DBPath())
	}
}

func TestDBPathHonorsExplicitOverride(t *testing.T) {
	t.Setenv("AGENR_HOME", t.TempDir())
	c, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.Set("db.path", "/custom/path.db")
	if c.DBPath() != "/custom/path.db" {
		t.Fatalf("expected override to take effect, got %q", c.DBPath())
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENR_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte(`{"dedup":{"threshold":0.5}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.GetFloat64("dedup.threshold"); got != 0.5 {
		t.Fatalf("expected config file value 0.5, got %v", got)
	}
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENR_HOME", home)
	if err := os.WriteFile(filepath.Join(home, "config.json"), []byte(`{"dedup":{"threshold":0.5}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("AGENR_DEDUP_THRESHOLD", "0.99")
	c, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.GetFloat64("dedup.threshold"); got != 0.99 {
		t.Fatalf("expected env override 0.99, got %v", got)
	}
}

func TestResolveHomeDefaultsToDotAgenr(t *testing.T) {
	os.Unsetenv("AGENR_HOME")
	home, err := ResolveHome()
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if filepath.Base(home) != ".agenr" {
		t.Fatalf("expected home to end in .agenr, got %q", home)
	}
}
