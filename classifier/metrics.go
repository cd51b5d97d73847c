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

package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics defines the classifier instrumentation. Attach with WithMetrics;
// a classifier without metrics performs no accounting.
type Metrics struct {
	Rules             prometheus.Gauge
	Subtables         prometheus.Gauge
	Lookups           prometheus.Counter
	Matches           prometheus.Counter
	SubtablesSearched prometheus.Counter
}

// NewMetrics initializes the classifier metrics and registers them with
// the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Rules: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "classifier_rules",
			Help: "Number of installed rules.",
		}),
		Subtables: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "classifier_subtables",
			Help: "Number of subtables, one per distinct mask shape.",
		}),
		Lookups: promauto.NewCounter(prometheus.CounterOpts{
			Name: "classifier_lookups_total",
			Help: "Total number of lookups performed.",
		}),
		Matches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "classifier_matches_total",
			Help: "Total number of lookups that returned a rule.",
		}),
		SubtablesSearched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "classifier_subtables_searched_total",
			Help: "Total number of subtables examined across all lookups.",
		}),
	}
}
