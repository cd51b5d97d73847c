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

package flow

import (
	"encoding/binary"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/flowgate/flowgate/pkg/private/serrors"
)

// The tcp_flags bit assignments, FIN through CWR.
const (
	tcpFIN = 1 << iota
	tcpSYN
	tcpRST
	tcpPSH
	tcpACK
	tcpURG
	tcpECE
	tcpCWR
)

// nw_frag bits.
const (
	FragAny   = 1 << 0 // packet is a fragment
	FragLater = 1 << 1 // fragment with nonzero offset
)

// Extract builds a Flow from a raw Ethernet frame. Only a frame whose
// Ethernet header cannot be decoded yields an error; layers beyond the
// supported set (Ethernet, 802.1Q, IPv4, TCP/UDP/ICMPv4) are simply not
// reflected in the flow.
func Extract(data []byte, inPort uint32) (Flow, error) {
	var f Flow
	f.Set(FieldInPort, uint64(inPort))

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	eth, ok := pkt.LinkLayer().(*layers.Ethernet)
	if !ok {
		return f, serrors.New("not an ethernet frame", "len", len(data))
	}
	f.Set(FieldEthDst, macToUint64(eth.DstMAC))
	f.Set(FieldEthSrc, macToUint64(eth.SrcMAC))
	f.Set(FieldEthType, uint64(eth.EthernetType))

	if vlan, ok := pkt.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
		// Present bit plus PCP and VID, as OpenFlow encodes the TCI.
		tci := uint64(vlan.VLANIdentifier) | uint64(vlan.Priority)<<13 | 1<<12
		f.Set(FieldVLANTCI, tci)
		f.Set(FieldEthType, uint64(vlan.Type))
	}

	ip, ok := pkt.NetworkLayer().(*layers.IPv4)
	if !ok {
		return f, nil
	}
	f.Set(FieldIPv4Src, uint64(binary.BigEndian.Uint32(ip.SrcIP.To4())))
	f.Set(FieldIPv4Dst, uint64(binary.BigEndian.Uint32(ip.DstIP.To4())))
	f.Set(FieldIPProto, uint64(ip.Protocol))
	f.Set(FieldIPTOS, uint64(ip.TOS))
	f.Set(FieldIPTTL, uint64(ip.TTL))
	var frag uint64
	if ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0 {
		frag |= FragAny
	}
	if ip.FragOffset != 0 {
		frag |= FragLater
		// Later fragments carry no transport header.
		f.Set(FieldIPFrag, frag)
		return f, nil
	}
	f.Set(FieldIPFrag, frag)

	switch t := pkt.TransportLayer().(type) {
	case *layers.TCP:
		f.Set(FieldTPSrc, uint64(t.SrcPort))
		f.Set(FieldTPDst, uint64(t.DstPort))
		f.Set(FieldTCPFlags, uint64(tcpFlagBits(t)))
	case *layers.UDP:
		f.Set(FieldTPSrc, uint64(t.SrcPort))
		f.Set(FieldTPDst, uint64(t.DstPort))
	default:
		if icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
			f.Set(FieldTPSrc, uint64(icmp.TypeCode.Type()))
			f.Set(FieldTPDst, uint64(icmp.TypeCode.Code()))
		}
	}
	return f, nil
}

func macToUint64(mac []byte) uint64 {
	var v uint64
	for _, b := range mac {
		v = v<<8 | uint64(b)
	}
	return v
}

func tcpFlagBits(t *layers.TCP) uint16 {
	var bits uint16
	set := func(cond bool, bit uint16) {
		if cond {
			bits |= bit
		}
	}
	set(t.FIN, tcpFIN)
	set(t.SYN, tcpSYN)
	set(t.RST, tcpRST)
	set(t.PSH, tcpPSH)
	set(t.ACK, tcpACK)
	set(t.URG, tcpURG)
	set(t.ECE, tcpECE)
	set(t.CWR, tcpCWR)
	return bits
}
