/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Table of Prometheus metrics for a subset of the non-nullable fields of
// pkg/linux's TCPInfo. Running tools/prom-metrics-gen replaces this file with
// its template's output: one block per non-nullable `tcpi`-tagged field.

package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/simeonmiteff/ocproxy/pkg/linux"
)

func (t *TCPInfoCollector) addMetrics(prefix string, connectionLabels []string, constLabels prometheus.Labels) {
	type fieldMetric struct {
		name    string
		help    string
		promTyp string
		get     func(*linux.TCPInfo) uint64
	}

	fields := []fieldMetric{
		{"state", "Connection state, see include/net/tcp_states.h.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.State) }},
		{"ca_state", "Loss recovery state machine, see include/net/tcp.h.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.CAState) }},
		{"retransmits", "Number of timeouts (RTO based retransmissions) at this sequence.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.Retransmits) }},
		{"probes", "Consecutive zero window probes that have gone unanswered.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.Probes) }},
		{"backoff", "Exponential timeout backoff counter.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.Backoff) }},
		{"snd_wscale", "Window scaling of send-half of connection (bit shift).", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.SndWScale) }},
		{"rcv_wscale", "Window scaling of receive-half of connection (bit shift).", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RcvWScale) }},
		{"rto", "Retransmission Timeout. Quantized to system jiffies.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RTO) }},
		{"ato", "Delayed ACK Timeout. Quantized to system jiffies.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.ATO) }},
		{"snd_mss", "Current Maximum Segment Size.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.SndMSS) }},
		{"rcv_mss", "Maximum observed segment size from the remote host.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RcvMSS) }},
		{"unacked", "Segments between snd.nxt and snd.una.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.UnAcked) }},
		{"sacked", "Scoreboard segments marked SACKED by sack blocks.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.Sacked) }},
		{"lost", "Scoreboard segments marked lost by loss detection heuristics.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.Lost) }},
		{"retrans", "Scoreboard segments marked retransmitted.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.Retrans) }},
		{"last_data_sent", "Time since last data segment was sent. Quantized to jiffies.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.LastDataSent) }},
		{"last_data_recv", "Time since last data segment was received. Quantized to jiffies.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.LastDataRecv) }},
		{"pmtu", "Maximum IP Transmission Unit for this path.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.PMTU) }},
		{"rcv_ssthresh", "Current Window Clamp.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RcvSSThresh) }},
		{"rtt", "Smoothed Round Trip Time (RTT).", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RTT) }},
		{"rttvar", "RTT variance.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RTTVar) }},
		{"snd_ssthresh", "Slow Start Threshold.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.SndSSThresh) }},
		{"snd_cwnd", "Congestion Window.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.SndCWnd) }},
		{"advmss", "Advertised maximum segment size.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.AdvMSS) }},
		{"reordering", "Maximum observed reordering distance.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.Reordering) }},
		{"rcv_rtt", "Receiver Side RTT estimate.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RcvRTT) }},
		{"rcv_space", "Space reserved for the receive queue.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.RcvSpace) }},
		{"total_retrans", "Total number of segments containing retransmitted data.", "gauge", func(i *linux.TCPInfo) uint64 { return uint64(i.TotalRetrans) }},
	}

	for _, f := range fields {
		f := f
		valueType := prometheus.GaugeValue
		if f.promTyp == "counter" {
			valueType = prometheus.CounterValue
		}
		desc := prometheus.NewDesc(prefix+"_"+f.name, f.help, connectionLabels, constLabels)
		t.infos = append(t.infos, info{
			description: desc,
			supplier: func(tcpInfo *linux.TCPInfo, labelValues []string) prometheus.Metric {
				return prometheus.MustNewConstMetric(desc, valueType, float64(f.get(tcpInfo)), labelValues...)
			},
		})
	}
}
