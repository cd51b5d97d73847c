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

// Package ruleset loads classifier rules from a declarative YAML file.
package ruleset

import (
	"encoding/binary"
	"net"
	"net/netip"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/flowgate/flowgate/classifier"
	"github.com/flowgate/flowgate/pkg/flow"
	"github.com/flowgate/flowgate/pkg/private/serrors"
)

// File is the top-level rule-set document.
type File struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one declarative rule. Absent fields stay wildcarded. Address
// fields take an address or a CIDR prefix.
type RuleSpec struct {
	Priority uint32  `yaml:"priority"`
	Metadata *uint64 `yaml:"metadata,omitempty"`
	TunID    *uint64 `yaml:"tun_id,omitempty"`
	InPort   *uint32 `yaml:"in_port,omitempty"`
	EthSrc   string  `yaml:"eth_src,omitempty"`
	EthDst   string  `yaml:"eth_dst,omitempty"`
	EthType  *uint16 `yaml:"eth_type,omitempty"`
	VLAN     *uint16 `yaml:"vlan,omitempty"`
	IPv4Src  string  `yaml:"ipv4_src,omitempty"`
	IPv4Dst  string  `yaml:"ipv4_dst,omitempty"`
	NWProto  *uint8  `yaml:"nw_proto,omitempty"`
	NWTos    *uint8  `yaml:"nw_tos,omitempty"`
	TPSrc    *uint16 `yaml:"tp_src,omitempty"`
	TPDst    *uint16 `yaml:"tp_dst,omitempty"`
}

// Match builds the flow match the spec describes.
func (rs *RuleSpec) Match() (flow.Match, error) {
	var m flow.Match
	if rs.Metadata != nil {
		m.SetExact(flow.FieldMetadata, *rs.Metadata)
	}
	if rs.TunID != nil {
		m.SetExact(flow.FieldTunID, *rs.TunID)
	}
	if rs.InPort != nil {
		m.SetExact(flow.FieldInPort, uint64(*rs.InPort))
	}
	if err := setMAC(&m, flow.FieldEthSrc, rs.EthSrc); err != nil {
		return m, err
	}
	if err := setMAC(&m, flow.FieldEthDst, rs.EthDst); err != nil {
		return m, err
	}
	if rs.EthType != nil {
		m.SetExact(flow.FieldEthType, uint64(*rs.EthType))
	}
	if rs.VLAN != nil {
		m.SetExact(flow.FieldVLANTCI, uint64(*rs.VLAN))
	}
	if err := setAddr(&m, flow.FieldIPv4Src, rs.IPv4Src); err != nil {
		return m, err
	}
	if err := setAddr(&m, flow.FieldIPv4Dst, rs.IPv4Dst); err != nil {
		return m, err
	}
	if rs.NWProto != nil {
		m.SetExact(flow.FieldIPProto, uint64(*rs.NWProto))
	}
	if rs.NWTos != nil {
		m.SetExact(flow.FieldIPTOS, uint64(*rs.NWTos))
	}
	if rs.TPSrc != nil {
		m.SetExact(flow.FieldTPSrc, uint64(*rs.TPSrc))
	}
	if rs.TPDst != nil {
		m.SetExact(flow.FieldTPDst, uint64(*rs.TPDst))
	}
	return m, nil
}

func setMAC(m *flow.Match, id flow.FieldID, s string) error {
	if s == "" {
		return nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return serrors.Wrap("parsing MAC", err, "mac", s)
	}
	var v uint64
	for _, b := range hw {
		v = v<<8 | uint64(b)
	}
	m.SetExact(id, v)
	return nil
}

func setAddr(m *flow.Match, id flow.FieldID, s string) error {
	if s == "" {
		return nil
	}
	pfx, err := netip.ParsePrefix(s)
	if err != nil {
		addr, aerr := netip.ParseAddr(s)
		if aerr != nil {
			return serrors.Wrap("parsing address", err, "addr", s)
		}
		pfx = netip.PrefixFrom(addr, addr.BitLen())
	}
	if !pfx.Addr().Is4() {
		return serrors.New("only IPv4 addresses are supported", "addr", s)
	}
	a4 := pfx.Addr().As4()
	m.SetPrefix(id, binary.BigEndian.Uint32(a4[:]), pfx.Bits())
	return nil
}

// Load reads a rule-set file and builds the rules. The returned rules are
// not yet installed anywhere.
func Load(path string) ([]*classifier.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading rule set", err, "path", path)
	}
	return Parse(raw)
}

// Parse builds rules from a YAML document.
func Parse(raw []byte) ([]*classifier.Rule, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, serrors.Wrap("parsing rule set", err)
	}
	rules := make([]*classifier.Rule, 0, len(f.Rules))
	for i := range f.Rules {
		m, err := f.Rules[i].Match()
		if err != nil {
			return nil, serrors.Wrap("building match", err, "rule", i)
		}
		r, err := classifier.NewRule(&m, f.Rules[i].Priority)
		if err != nil {
			return nil, serrors.Wrap("building rule", err, "rule", i)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
