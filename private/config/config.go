// Copyright 2025 The Flowgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the TOML deployment configuration of the flowgate
// tools: classifier segmentation, prefix-trie fields, metrics endpoint and
// logging.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/flowgate/flowgate/pkg/flow"
	"github.com/flowgate/flowgate/pkg/log"
	"github.com/flowgate/flowgate/pkg/private/serrors"
)

// Config is the top-level configuration.
type Config struct {
	Classifier ClassifierConfig `toml:"classifier,omitempty"`
	Metrics    MetricsConfig    `toml:"metrics,omitempty"`
	Logging    log.Config       `toml:"logging,omitempty"`
}

// ClassifierConfig configures the classifier instance.
type ClassifierConfig struct {
	// Segments are the staged-lookup word boundaries. Empty means the
	// default metadata/L2/L3/L4 split.
	Segments []uint8 `toml:"segments,omitempty"`
	// PrefixFields names the address fields tracked by prefix tries.
	PrefixFields []string `toml:"prefix_fields,omitempty"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Addr is the address the /metrics endpoint listens on; empty
	// disables it.
	Addr string `toml:"addr,omitempty"`
}

// InitDefaults populates unset fields to their default values.
func (c *Config) InitDefaults() {
	if len(c.Classifier.Segments) == 0 {
		c.Classifier.Segments = append([]uint8(nil), flow.DefaultSegments...)
	}
	c.Logging.InitDefaults()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	prev := 0
	for _, b := range c.Classifier.Segments {
		if int(b) <= prev || int(b) >= flow.U64s {
			return serrors.New("segment boundaries must ascend within the flow",
				"boundary", b)
		}
		prev = int(b)
	}
	for _, name := range c.Classifier.PrefixFields {
		f, ok := flow.FieldByName(name)
		if !ok {
			return serrors.New("unknown prefix field", "field", name)
		}
		if !f.Prefix {
			return serrors.New("field is not prefix-capable", "field", name)
		}
	}
	return nil
}

// PrefixFieldIDs resolves the configured prefix field names.
func (c *Config) PrefixFieldIDs() ([]flow.FieldID, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ids := make([]flow.FieldID, 0, len(c.Classifier.PrefixFields))
	for _, name := range c.Classifier.PrefixFields {
		f, _ := flow.FieldByName(name)
		ids = append(ids, f.ID)
	}
	return ids, nil
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading config", err, "path", path)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, serrors.Wrap("parsing config", err, "path", path)
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, serrors.Wrap("validating config", err, "path", path)
	}
	return &cfg, nil
}

// Sample returns a commented sample configuration.
func Sample() string {
	return `[classifier]
# Staged-lookup word boundaries: metadata / L2 / L3 / L4.
segments = [3, 5, 7]
# Address fields tracked by prefix tries (at most 3).
prefix_fields = ["ipv4_src", "ipv4_dst"]

[metrics]
# Prometheus endpoint; empty disables it.
addr = "127.0.0.1:30452"

[logging]
level = "info"
format = "human"
`
}
