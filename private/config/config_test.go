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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgate/flowgate/pkg/flow"
)

func TestSampleParses(t *testing.T) {
	var cfg Config
	require.NoError(t, toml.Unmarshal([]byte(Sample()), &cfg))
	cfg.InitDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []uint8{3, 5, 7}, cfg.Classifier.Segments)
	ids, err := cfg.PrefixFieldIDs()
	require.NoError(t, err)
	assert.Equal(t, []flow.FieldID{flow.FieldIPv4Src, flow.FieldIPv4Dst}, ids)
	assert.Equal(t, "127.0.0.1:30452", cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(Sample()), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Config{Classifier: ClassifierConfig{Segments: []uint8{5, 3}}}
	assert.Error(t, cfg.Validate(), "descending boundaries")

	cfg = Config{Classifier: ClassifierConfig{Segments: []uint8{3, 5, 9}}}
	assert.Error(t, cfg.Validate(), "boundary outside the flow")

	cfg = Config{Classifier: ClassifierConfig{PrefixFields: []string{"tp_dst"}}}
	assert.Error(t, cfg.Validate(), "non-address prefix field")

	cfg = Config{Classifier: ClassifierConfig{PrefixFields: []string{"bogus"}}}
	assert.Error(t, cfg.Validate(), "unknown field")
}

func TestInitDefaults(t *testing.T) {
	var cfg Config
	cfg.InitDefaults()
	assert.Equal(t, []uint8(flow.DefaultSegments), cfg.Classifier.Segments)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "human", cfg.Logging.Format)
}
