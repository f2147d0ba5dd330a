// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package config

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// MarshalYAML renders cfg as a config file that Load reads back to the
// same values. Fields Load takes only from the environment are omitted.
func MarshalYAML(cfg *Config) ([]byte, error) {
	out := map[string]any{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "koanf",
		Result:  &out,
	})
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return nil, oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}
