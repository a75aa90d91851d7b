// Package config loads the configuration of the pyramid command from a
// TOML, YAML or JSON file and the environment.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/tingold/pyramid"
)

// EnvPrefix prefixes the environment variables overriding configuration
// keys: reader.max-tiles is read from PYRAMID_READER_MAX_TILES.
const EnvPrefix = "PYRAMID"

type Config struct {
	Log    Log                  `mapstructure:"log"`
	Reader pyramid.ReaderConfig `mapstructure:"reader"`
	Writer pyramid.WriterConfig `mapstructure:"writer"`
	Cache  pyramid.CacheConfig  `mapstructure:"cache"`
	COG    COG                  `mapstructure:"cog"`
}

type Log struct {
	Level string `default:"info" validate:"oneof=trace debug info warn warning error fatal panic" mapstructure:"level"`
	// Dir receives one log file per day when set.
	Dir      string `mapstructure:"dir"`
	Terminal bool   `default:"true" mapstructure:"terminal"`
}

// COG tunes access to remote GeoTIFFs.
type COG struct {
	ReadAhead int           `default:"65536" validate:"gte=0" mapstructure:"read-ahead"`
	Timeout   time.Duration `default:"30s" validate:"gt=0" mapstructure:"timeout"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default is the configuration used without a file.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the file at path, which may be empty, and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// keys only become visible to the environment once viper knows them
	setDefaults(v, "", reflect.ValueOf(cfg))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || !f.IsExported() {
			continue
		}
		key := prefix + name
		field := val.Field(i)
		if field.Kind() == reflect.Struct {
			setDefaults(v, key+".", field)
			continue
		}
		v.SetDefault(key, field.Interface())
	}
}
