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

// Command flowgate loads a classifier rule set and runs packet lookups
// against it: single-shot traces of a pcap capture, or a concurrent
// lookup benchmark demonstrating the single-writer/many-reader contract.
package main

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/flowgate/flowgate/classifier"
	"github.com/flowgate/flowgate/pkg/flow"
	"github.com/flowgate/flowgate/pkg/log"
	"github.com/flowgate/flowgate/pkg/private/serrors"
	"github.com/flowgate/flowgate/private/config"
	"github.com/flowgate/flowgate/private/ruleset"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	config string
	rules  string
	pcap   string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "flowgate",
		Short:         "OpenFlow flow-table classifier tool",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	addFlags := func(fs *pflag.FlagSet) {
		fs.StringVar(&f.config, "config", "", "TOML configuration file")
		fs.StringVar(&f.rules, "rules", "", "YAML rule-set file (required)")
		fs.StringVar(&f.pcap, "pcap", "", "pcap capture to replay (required)")
	}
	lookup := newLookupCmd(&f)
	addFlags(lookup.Flags())
	bench := newBenchCmd(&f)
	addFlags(bench.Flags())
	cmd.AddCommand(lookup, bench, newSampleConfigCmd())
	return cmd
}

func newSampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sample-config",
		Short: "Print a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), config.Sample())
			return nil
		},
	}
}

// setup loads the configuration, initializes logging and metrics, and
// builds a classifier populated with the rule set.
func setup(f *flags) (*classifier.Classifier, []*classifier.Rule, error) {
	cfg := &config.Config{}
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return nil, nil, err
		}
	} else {
		cfg.InitDefaults()
	}
	if err := log.Setup(cfg.Logging); err != nil {
		return nil, nil, serrors.Wrap("setting up logging", err)
	}
	if f.rules == "" {
		return nil, nil, serrors.New("--rules is required")
	}

	opts := []classifier.Option{}
	if cfg.Metrics.Addr != "" {
		opts = append(opts, classifier.WithMetrics(classifier.NewMetrics()))
		go func() {
			defer log.HandlePanic()
			http.Handle("/metrics", promhttp.Handler())
			log.Info("Serving metrics", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
				log.Error("Metrics server failed", "err", err)
			}
		}()
	}
	cls, err := classifier.New(cfg.Classifier.Segments, opts...)
	if err != nil {
		return nil, nil, err
	}
	ids, err := cfg.PrefixFieldIDs()
	if err != nil {
		return nil, nil, err
	}
	if len(ids) > 0 {
		if _, err := cls.SetPrefixFields(ids); err != nil {
			return nil, nil, err
		}
	}

	rules, err := ruleset.Load(f.rules)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range rules {
		if dup, err := cls.Insert(r); err != nil {
			return nil, nil, serrors.Wrap("installing rule", err, "rule", r)
		} else if dup != nil {
			log.Info("Rule replaced an identical entry", "rule", dup)
		}
	}
	log.Info("Classifier ready", "rules", cls.Count(), "prefix_fields", len(ids))
	return cls, rules, nil
}

func readPackets(path string) ([][]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, serrors.Wrap("opening capture", err, "path", path)
	}
	defer fh.Close()
	r, err := newPcapReader(fh)
	if err != nil {
		return nil, serrors.Wrap("reading capture", err, "path", path)
	}
	var pkts [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		pkt := make([]byte, len(data))
		copy(pkt, data)
		pkts = append(pkts, pkt)
	}
	return pkts, nil
}

func newLookupCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup",
		Short: "Replay a capture and print per-packet classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cls, _, err := setup(f)
			if err != nil {
				return err
			}
			pkts, err := readPackets(f.pcap)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, pkt := range pkts {
				fl, err := flow.Extract(pkt, 0)
				if err != nil {
					log.Info("Skipping unparseable packet", "index", i, "err", err)
					continue
				}
				var wc flow.Wildcards
				rule := cls.Lookup(&fl, &wc)
				if rule == nil {
					fmt.Fprintf(out, "packet %d: no match (megaflow %s)\n",
						i, wcString(&wc))
					continue
				}
				fmt.Fprintf(out, "packet %d: %s (megaflow %s)\n",
					i, rule, wcString(&wc))
			}
			return nil
		},
	}
}

func wcString(wc *flow.Wildcards) string {
	m := flow.Match{Value: wc.Masks, Mask: wc.Masks}
	masked := m.String()
	if masked == "catchall" {
		return "wildcard-all"
	}
	return masked
}

func newBenchCmd(f *flags) *cobra.Command {
	var readers int
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent lookups against a live writer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cls, rules, err := setup(f)
			if err != nil {
				return err
			}
			pkts, err := readPackets(f.pcap)
			if err != nil {
				return err
			}
			flows := make([]flow.Flow, 0, len(pkts))
			for _, pkt := range pkts {
				if fl, err := flow.Extract(pkt, 0); err == nil {
					flows = append(flows, fl)
				}
			}
			if len(flows) == 0 {
				return serrors.New("no usable packets in capture", "path", f.pcap)
			}

			var lookups, matches atomic.Int64
			stop := make(chan struct{})
			var g errgroup.Group
			for i := 0; i < readers; i++ {
				g.Go(func() error {
					defer log.HandlePanic()
					for n := 0; ; n++ {
						select {
						case <-stop:
							return nil
						default:
						}
						fl := flows[n%len(flows)]
						if cls.Lookup(&fl, nil) != nil {
							matches.Add(1)
						}
						lookups.Add(1)
					}
				})
			}
			// Writer churn: repeatedly remove and re-insert the last rule
			// while the readers run.
			g.Go(func() error {
				defer log.HandlePanic()
				churn := rules[len(rules)-1]
				for {
					select {
					case <-stop:
						return nil
					default:
					}
					if _, err := cls.Remove(churn); err != nil {
						return err
					}
					if _, err := cls.Insert(churn); err != nil {
						return err
					}
				}
			})
			start := time.Now()
			time.Sleep(duration)
			close(stop)
			if err := g.Wait(); err != nil {
				return err
			}
			elapsed := time.Since(start)
			rate := float64(lookups.Load()) / elapsed.Seconds()
			fmt.Fprintf(cmd.OutOrStdout(),
				"%d lookups in %v (%.0f/s), %d matches, %d readers\n",
				lookups.Load(), elapsed.Round(time.Millisecond), rate,
				matches.Load(), readers)
			return nil
		},
	}
	cmd.Flags().IntVar(&readers, "readers", 4, "concurrent reader goroutines")
	cmd.Flags().DurationVar(&duration, "duration", 3*time.Second, "benchmark duration")
	return cmd
}
