package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultMatchesScriptLayout(t *testing.T) {
	cfg := Default()
	if cfg.Model.InputDim != 13 {
		t.Fatalf("input dim: %d", cfg.Model.InputDim)
	}
	if cfg.Export.CheckpointDir != "scream_detection_model" {
		t.Fatalf("checkpoint dir: %s", cfg.Export.CheckpointDir)
	}
	if cfg.Export.WebDir != filepath.Join("..", "public", "model") {
		t.Fatalf("web dir: %s", cfg.Export.WebDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "screamnet.yaml")
	cfg := Default()
	cfg.Data.Dir = "/data/features"
	cfg.Model.Seed = 7
	cfg.Export.WebDir = "web/model"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Data.Dir != "/data/features" || got.Model.Seed != 7 || got.Export.WebDir != "web/model" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Data.XTrain != "X_train.npy" {
		t.Fatalf("expected file names preserved, got %q", got.Data.XTrain)
	}
}

func TestLoadEmptyPathUsesEnv(t *testing.T) {
	t.Setenv("SCREAMNET_DATA_DIR", "/from/env")
	t.Setenv("SCREAMNET_EXPORT_WEBDIR", "/srv/web/model")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Data.Dir != "/from/env" {
		t.Fatalf("env override ignored: %s", cfg.Data.Dir)
	}
	if cfg.Export.WebDir != "/srv/web/model" {
		t.Fatalf("env override ignored: %s", cfg.Export.WebDir)
	}
	if cfg.Model.InputDim != 13 {
		t.Fatalf("default lost: %d", cfg.Model.InputDim)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestValidateRejectsBadInputDim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("model:\n  inputDim: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "inputDim") {
		t.Fatalf("expected inputDim error, got %v", err)
	}
}

func TestDataPath(t *testing.T) {
	d := DataConfig{Dir: "feat"}
	if got := d.Path("X_train.npy"); got != filepath.Join("feat", "X_train.npy") {
		t.Fatalf("relative join: %s", got)
	}
	if got := d.Path("/abs/y.npy"); got != "/abs/y.npy" {
		t.Fatalf("absolute kept: %s", got)
	}
}
