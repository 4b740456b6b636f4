// Package config reads the mod's settings from a TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the conventional name of the settings file.
const FileName = "shadow.toml"

type Config struct {
	Log      Log      `toml:"log"`
	Reports  Reports  `toml:"reports"`
	SaveData SaveData `toml:"savedata"`
}

type Log struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `toml:"level"`

	// Encoding is "console" or "json".
	Encoding string `toml:"encoding"`

	// Trace writes detailed patching steps at debug level.
	Trace bool `toml:"trace"`
}

type Reports struct {
	// Dir receives crash reports for mods that failed to load.
	Dir string `toml:"dir"`
}

type SaveData struct {
	// Key prefixes the save string that carries mod data.
	Key string `toml:"key"`
}

func Default() Config {
	return Config{
		Log: Log{
			Level:    "info",
			Encoding: "console",
		},
		Reports: Reports{
			Dir: "ShadowReports",
		},
		SaveData: SaveData{
			Key: "XANSTOOLSSAVEDATA",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Encoding) {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported [log].encoding %q (must be console or json)", c.Log.Encoding)
	}
	if strings.TrimSpace(c.SaveData.Key) == "" {
		return errors.New("missing [savedata].key")
	}
	if strings.ContainsAny(c.SaveData.Key, "<>") {
		return fmt.Errorf("[savedata].key %q must not contain angle brackets", c.SaveData.Key)
	}
	return nil
}

// Write saves c to path, creating parent directories as needed.
func (c Config) Write(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
