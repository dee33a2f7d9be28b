package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. SCREAMNET_DATA_DIR.
const EnvPrefix = "SCREAMNET"

// Config is the application's configuration model.
// It captures where the arrays live, where models are written and the ambient services.
type Config struct {
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Model   ModelConfig   `yaml:"model" mapstructure:"model"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

type DataConfig struct {
	// Directory holding the four arrays; file names are relative to it.
	Dir    string `yaml:"dir" mapstructure:"dir"`
	XTrain string `yaml:"xTrain" mapstructure:"xtrain"`
	XTest  string `yaml:"xTest" mapstructure:"xtest"`
	YTrain string `yaml:"yTrain" mapstructure:"ytrain"`
	YTest  string `yaml:"yTest" mapstructure:"ytest"`
}

type ModelConfig struct {
	// Width of one feature vector; the first dense layer is built for it.
	InputDim int `yaml:"inputDim" mapstructure:"inputdim"`
	// Seed drives weight init, dropout masks and epoch shuffles.
	Seed int64 `yaml:"seed" mapstructure:"seed"`
}

type ExportConfig struct {
	CheckpointDir string `yaml:"checkpointDir" mapstructure:"checkpointdir"`
	// WebDir is resolved relative to the working directory, like the web front-end layout expects.
	WebDir     string `yaml:"webDir" mapstructure:"webdir"`
	ShardBytes int    `yaml:"shardBytes" mapstructure:"shardbytes"`
}

type StorageConfig struct {
	// Empty disables the run store.
	DBPath string `yaml:"dbPath" mapstructure:"dbpath"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Default returns the layout the training script has always assumed.
func Default() Config {
	return Config{
		Data: DataConfig{
			Dir:    ".",
			XTrain: "X_train.npy",
			XTest:  "X_test.npy",
			YTrain: "y_train.npy",
			YTest:  "y_test.npy",
		},
		Model:   ModelConfig{InputDim: 13, Seed: 42},
		Export:  ExportConfig{CheckpointDir: "scream_detection_model", WebDir: filepath.Join("..", "public", "model"), ShardBytes: 4 * 1024 * 1024},
		Storage: StorageConfig{DBPath: "./screamnet.db"},
		Metrics: MetricsConfig{Addr: ""},
		Log:     LogConfig{Level: "info"},
	}
}

// NewViper returns a viper instance seeded with defaults and SCREAMNET_* env lookups.
// Callers may bind command-line flags to it before calling LoadWith.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("data.dir", d.Data.Dir)
	v.SetDefault("data.xtrain", d.Data.XTrain)
	v.SetDefault("data.xtest", d.Data.XTest)
	v.SetDefault("data.ytrain", d.Data.YTrain)
	v.SetDefault("data.ytest", d.Data.YTest)
	v.SetDefault("model.inputdim", d.Model.InputDim)
	v.SetDefault("model.seed", d.Model.Seed)
	v.SetDefault("export.checkpointdir", d.Export.CheckpointDir)
	v.SetDefault("export.webdir", d.Export.WebDir)
	v.SetDefault("export.shardbytes", d.Export.ShardBytes)
	v.SetDefault("storage.dbpath", d.Storage.DBPath)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads YAML config from path. An empty path yields defaults plus env overrides.
func Load(path string) (Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith is Load on a caller-prepared viper instance.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	var cfg Config
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot produce a working run.
func (c Config) Validate() error {
	if c.Model.InputDim <= 0 {
		return fmt.Errorf("config: model.inputDim must be positive, got %d", c.Model.InputDim)
	}
	if c.Export.CheckpointDir == "" || c.Export.WebDir == "" {
		return errors.New("config: export.checkpointDir and export.webDir are required")
	}
	if c.Export.ShardBytes <= 0 {
		return fmt.Errorf("config: export.shardBytes must be positive, got %d", c.Export.ShardBytes)
	}
	return nil
}

// Path joins a data file name onto the data directory unless it is already absolute.
func (d DataConfig) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Dir, name)
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
