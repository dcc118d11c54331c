package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is read from the working directory when --config is not
// given. Its absence is not an error.
const DefaultConfigFile = "modux.toml"

// Config is the optional project file. It supplies defaults for positional
// arguments and flags; explicit values always win.
//
//	[models]
//	dir = "models"
//
//	[test]
//	scenarios = "scenarios"
//	golden = "scenarios/golden"
//
//	[journal]
//	db = "modux.db"
type Config struct {
	Models  ModelsConfig  `toml:"models"`
	Test    TestConfig    `toml:"test"`
	Journal JournalConfig `toml:"journal"`
}

// ModelsConfig locates the CUE manifests.
type ModelsConfig struct {
	Dir string `toml:"dir"`
}

// TestConfig locates scenarios and golden files.
type TestConfig struct {
	Scenarios string `toml:"scenarios"`
	Golden    string `toml:"golden"`
}

// JournalConfig locates the SQLite action journal.
type JournalConfig struct {
	DB string `toml:"db"`
}

// LoadConfig reads path, or DefaultConfigFile when path is empty. Relative
// paths inside the file are resolved against the file's directory. Unknown
// keys are rejected.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// ParseConfig decodes TOML config data without resolving paths.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			keys := make([]string, 0, len(serr.Errors))
			for _, de := range serr.Errors {
				row, _ := de.Position()
				keys = append(keys, fmt.Sprintf("%s (line %d)", strings.Join(de.Key(), "."), row))
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("line %d column %d: %s", row, col, derr.Error())
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve(base string) {
	for _, p := range []*string{&c.Models.Dir, &c.Test.Scenarios, &c.Test.Golden, &c.Journal.DB} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}
