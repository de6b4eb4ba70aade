// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ForwardedPacketsTotal counts packets sent out by forwarding nodes,
	// per delivery mode (flood, unicast, route).
	ForwardedPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_forwarded_packets_total",
			Help: "Total number of packets forwarded by repeaters, bridges and routers",
		},
		[]string{"node", "mode"},
	)

	// DroppedPacketsTotal counts packets a forwarding node discarded.
	DroppedPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_dropped_packets_total",
			Help: "Total number of packets dropped by forwarding nodes",
		},
		[]string{"node", "reason"},
	)

	// SwitchTableEntries tracks the size of a bridge switching table.
	SwitchTableEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_switch_table_entries",
			Help: "Current number of learned addresses in a switching table",
		},
		[]string{"node"},
	)

	// TunnelEndpoints tracks the membership size of a tunnel hub.
	TunnelEndpoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_tunnel_endpoints",
			Help: "Current number of endpoints attached to a tunnel hub",
		},
		[]string{"hub"},
	)

	// TunnelEvictionsTotal counts endpoints evicted on membership overflow.
	TunnelEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_tunnel_evictions_total",
			Help: "Total number of tunnel endpoints evicted because the hub was full",
		},
		[]string{"hub"},
	)

	// TunnelMalformedTotal counts datagrams too short to carry an Ethernet header.
	TunnelMalformedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_tunnel_malformed_total",
			Help: "Total number of malformed datagrams received by a tunnel hub",
		},
		[]string{"hub"},
	)

	// PcapRecordsTotal counts records written to capture files.
	PcapRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_pcap_records_total",
			Help: "Total number of records written to capture files",
		},
		[]string{"file"},
	)

	// ListenerFailuresTotal counts listener callbacks that panicked.
	ListenerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_listener_failures_total",
			Help: "Total number of failed interface listener callbacks",
		},
		[]string{"iface"},
	)
)

// Forwarding modes.
const (
	ModeFlood   = "flood"
	ModeUnicast = "unicast"
	ModeRoute   = "route"
)
