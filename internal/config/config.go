// Package config loads service and tool settings from defaults, an optional
// config file, a .env file and MUDRA_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ayusman/mudra/internal/gesture"
)

// DefaultScalerFile is the scaler file name used next to the model artifact.
const DefaultScalerFile = "scaler.json"

// EnvPrefix prefixes every environment variable, e.g. MUDRA_SERVER_ADDR.
const EnvPrefix = "MUDRA"

// Model backends.
const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	StaticDir    string        `mapstructure:"static_dir"`
}

type ModelConfig struct {
	Path         string `mapstructure:"path"`
	ScalerPath   string `mapstructure:"scaler_path"`
	Backend      string `mapstructure:"backend"`
	ONNXMetadata string `mapstructure:"onnx_metadata"`
	ONNXLibrary  string `mapstructure:"onnx_library"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DetectorConfig struct {
	Script        string  `mapstructure:"script"`
	Python        string  `mapstructure:"python"`
	MaxHands      int     `mapstructure:"max_hands"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type RecognizeConfig struct {
	Workers int `mapstructure:"workers"`
}

type TrainConfig struct {
	Epochs          int     `mapstructure:"epochs"`
	BatchSize       int     `mapstructure:"batch_size"`
	ValidationSplit float64 `mapstructure:"validation_split"`
	Seed            uint64  `mapstructure:"seed"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	FitScaler       bool    `mapstructure:"fit_scaler"`
}

type RecordConfig struct {
	MinHandRatio float64 `mapstructure:"min_hand_ratio"`
	MaxFrames    int     `mapstructure:"max_frames"`
}

// Config is the complete configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Classes   []string        `mapstructure:"classes"`
	Data      DataConfig      `mapstructure:"data"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Recognize RecognizeConfig `mapstructure:"recognize"`
	Train     TrainConfig     `mapstructure:"train"`
	Record    RecordConfig    `mapstructure:"record"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.static_dir", "")

	v.SetDefault("model.path", "models/gesture_model.json.gz")
	v.SetDefault("model.scaler_path", "")
	v.SetDefault("model.backend", BackendNative)
	v.SetDefault("model.onnx_metadata", "")
	v.SetDefault("model.onnx_library", "")

	v.SetDefault("classes", gesture.DefaultClasses)
	v.SetDefault("data.dir", "data")
	v.SetDefault("store.path", "mudra.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("detector.script", "")
	v.SetDefault("detector.python", "")
	v.SetDefault("detector.max_hands", 1)
	v.SetDefault("detector.min_confidence", 0.5)

	v.SetDefault("recognize.workers", 0)

	v.SetDefault("train.epochs", 100)
	v.SetDefault("train.batch_size", 16)
	v.SetDefault("train.validation_split", 0.2)
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.learning_rate", 0.001)
	v.SetDefault("train.fit_scaler", false)

	v.SetDefault("record.min_hand_ratio", 0.7)
	v.SetDefault("record.max_frames", 120)
}

// LoadDotEnv loads variables from .env files into the process environment
// without overriding variables already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration. An empty path searches for mudra.yaml in the
// working directory and $HOME/.config/mudra; a missing file there is not an
// error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mudra")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mudra")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	var problems []string

	if _, err := gesture.NewVocabulary(c.Classes); err != nil {
		problems = append(problems, fmt.Sprintf("classes: %v", err))
	}
	switch c.Model.Backend {
	case BackendNative:
	case BackendONNX:
		if c.Model.ONNXMetadata == "" {
			problems = append(problems, "model.onnx_metadata is required for the onnx backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("model.backend %q is not one of native, onnx", c.Model.Backend))
	}
	if c.Train.ValidationSplit <= 0 || c.Train.ValidationSplit >= 1 {
		problems = append(problems, "train.validation_split must be in (0, 1)")
	}
	if c.Train.Epochs <= 0 || c.Train.BatchSize <= 0 {
		problems = append(problems, "train.epochs and train.batch_size must be positive")
	}
	if c.Record.MinHandRatio < 0 || c.Record.MinHandRatio > 1 {
		problems = append(problems, "record.min_hand_ratio must be in [0, 1]")
	}
	if c.Detector.MaxHands < 1 {
		problems = append(problems, "detector.max_hands must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ScalerPath is where the feature scaler of the model lives: model.scaler_path
// when set, otherwise scaler.json next to the model artifact.
func (c *Config) ScalerPath() string {
	if c.Model.ScalerPath != "" {
		return c.Model.ScalerPath
	}
	return filepath.Join(filepath.Dir(c.Model.Path), DefaultScalerFile)
}

// Vocabulary returns the configured classes as a vocabulary.
func (c *Config) Vocabulary() (gesture.Vocabulary, error) {
	return gesture.NewVocabulary(c.Classes)
}
