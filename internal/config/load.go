// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/wardenauth/warden/internal/xdg"
)

// DatabaseURLEnv names the environment variable holding the database URL.
const DatabaseURLEnv = "DATABASE_URL"

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// Path is the config file. Empty means the XDG default, which may be
	// absent; an explicit Path must exist.
	Path string
	// Flags are overlaid on the file. Only flags set on the command line
	// take effect.
	Flags *pflag.FlagSet
	// Getenv reads the environment. Nil means os.Getenv.
	Getenv func(string) string
}

// Load builds a Config from Defaults, the config file and flags, in that
// order of precedence, then validates it.
func Load(opts LoadOptions) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		p, err := xdg.ConfigFile()
		if err != nil {
			return nil, err
		}
		path = p
	}

	k := koanf.New(".")
	if err := loadFile(k, path, explicit); err != nil {
		return nil, err
	}
	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagKeyFunc(opts.Flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Defaults()
	if k.Exists("roles") {
		// Configured roles replace the built-in set instead of merging.
		cfg.Roles = nil
	}
	if err := unmarshal(k, &cfg); err != nil {
		return nil, err
	}
	cfg.Database.URL = getenv(DatabaseURLEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_PARSE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func unmarshal(k *koanf.Koanf, cfg *Config) error {
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	})
	if err != nil {
		return oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return nil
}
