// Package metrics exposes the model's internal counters as Prometheus
// gauges/counters via github.com/prometheus/client_golang. Every collector
// here is a pull-based Collector: it snapshots
// a Stats() struct at scrape time rather than incrementing on the hot path,
// so the datapath and RDMA engine stay free of Prometheus dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rosslwheeler/smart-nic-sub000/internal/nicdev"
	"github.com/rosslwheeler/smart-nic-sub000/internal/rocev2"
)

const namespace = "smart_nic"

// QueueManagerCollector surfaces an nicdev.QueueManager's aggregate stats.
type QueueManagerCollector struct {
	qm     *nicdev.QueueManager
	desc   map[string]*prometheus.Desc
}

// NewQueueManagerCollector wraps qm for Prometheus registration.
func NewQueueManagerCollector(qm *nicdev.QueueManager) *QueueManagerCollector {
	return &QueueManagerCollector{qm: qm, desc: map[string]*prometheus.Desc{
		"tx_packets":         prometheus.NewDesc(namespace+"_tx_packets_total", "Ethernet TX packets processed", nil, nil),
		"tx_bytes":           prometheus.NewDesc(namespace+"_tx_bytes_total", "Ethernet TX bytes processed", nil, nil),
		"rx_packets":         prometheus.NewDesc(namespace+"_rx_packets_total", "Ethernet RX packets processed", nil, nil),
		"rx_bytes":           prometheus.NewDesc(namespace+"_rx_bytes_total", "Ethernet RX bytes processed", nil, nil),
		"drops_mtu":          prometheus.NewDesc(namespace+"_drops_mtu_exceeded_total", "TX packets dropped for exceeding the queue's maximum MTU", nil, nil),
		"drops_checksum":     prometheus.NewDesc(namespace+"_drops_checksum_total", "RX packets dropped for checksum failure", nil, nil),
		"drops_no_rx_desc":   prometheus.NewDesc(namespace+"_drops_no_rx_desc_total", "RX packets dropped for lack of a free descriptor", nil, nil),
		"drops_buffer_small": prometheus.NewDesc(namespace+"_drops_buffer_small_total", "RX packets dropped for an undersized buffer", nil, nil),
		"tso_segments":       prometheus.NewDesc(namespace+"_tso_segments_total", "Segments produced by TSO", nil, nil),
		"gso_segments":       prometheus.NewDesc(namespace+"_gso_segments_total", "Segments produced by GSO", nil, nil),
		"scheduler_skips":    prometheus.NewDesc(namespace+"_scheduler_skips_total", "Queues the Queue Manager skipped because they had no work", nil, nil),
	}}
}

// Describe implements prometheus.Collector.
func (c *QueueManagerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.desc {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *QueueManagerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.qm.Stats()
	ch <- prometheus.MustNewConstMetric(c.desc["tx_packets"], prometheus.CounterValue, float64(s.Totals.TxPackets))
	ch <- prometheus.MustNewConstMetric(c.desc["tx_bytes"], prometheus.CounterValue, float64(s.Totals.TxBytes))
	ch <- prometheus.MustNewConstMetric(c.desc["rx_packets"], prometheus.CounterValue, float64(s.Totals.RxPackets))
	ch <- prometheus.MustNewConstMetric(c.desc["rx_bytes"], prometheus.CounterValue, float64(s.Totals.RxBytes))
	ch <- prometheus.MustNewConstMetric(c.desc["drops_mtu"], prometheus.CounterValue, float64(s.Totals.DropsMtuExceeded))
	ch <- prometheus.MustNewConstMetric(c.desc["drops_checksum"], prometheus.CounterValue, float64(s.Totals.DropsChecksum))
	ch <- prometheus.MustNewConstMetric(c.desc["drops_no_rx_desc"], prometheus.CounterValue, float64(s.Totals.DropsNoRxDesc))
	ch <- prometheus.MustNewConstMetric(c.desc["drops_buffer_small"], prometheus.CounterValue, float64(s.Totals.DropsBufferSmall))
	ch <- prometheus.MustNewConstMetric(c.desc["tso_segments"], prometheus.CounterValue, float64(s.Totals.TsoSegments))
	ch <- prometheus.MustNewConstMetric(c.desc["gso_segments"], prometheus.CounterValue, float64(s.Totals.GsoSegments))
	ch <- prometheus.MustNewConstMetric(c.desc["scheduler_skips"], prometheus.CounterValue, float64(s.SchedulerSkips))
}

// InterruptCollector surfaces an nicdev.InterruptDispatcher's stats.
type InterruptCollector struct {
	dispatcher *nicdev.InterruptDispatcher
	desc       map[string]*prometheus.Desc
}

// NewInterruptCollector wraps dispatcher for Prometheus registration.
func NewInterruptCollector(dispatcher *nicdev.InterruptDispatcher) *InterruptCollector {
	return &InterruptCollector{dispatcher: dispatcher, desc: map[string]*prometheus.Desc{
		"fired":               prometheus.NewDesc(namespace+"_interrupts_fired_total", "MSI-X interrupts delivered", nil, nil),
		"suppressed_disabled": prometheus.NewDesc(namespace+"_interrupts_suppressed_disabled_total", "Completions on a disabled vector", nil, nil),
		"suppressed_masked":   prometheus.NewDesc(namespace+"_interrupts_suppressed_masked_total", "Completions on a masked vector", nil, nil),
		"coalesced_batches":   prometheus.NewDesc(namespace+"_interrupts_coalesced_batches_total", "Fired interrupts that carried two or more completions", nil, nil),
		"timer_flushes":       prometheus.NewDesc(namespace+"_interrupts_timer_flushes_total", "Interrupts fired by timer-tick flush", nil, nil),
		"manual_flushes":      prometheus.NewDesc(namespace+"_interrupts_manual_flushes_total", "Explicit Flush calls", nil, nil),
	}}
}

// Describe implements prometheus.Collector.
func (c *InterruptCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.desc {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *InterruptCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.dispatcher.Stats()
	ch <- prometheus.MustNewConstMetric(c.desc["fired"], prometheus.CounterValue, float64(s.InterruptsFired))
	ch <- prometheus.MustNewConstMetric(c.desc["suppressed_disabled"], prometheus.CounterValue, float64(s.SuppressedDisabled))
	ch <- prometheus.MustNewConstMetric(c.desc["suppressed_masked"], prometheus.CounterValue, float64(s.SuppressedMasked))
	ch <- prometheus.MustNewConstMetric(c.desc["coalesced_batches"], prometheus.CounterValue, float64(s.CoalescedBatches))
	ch <- prometheus.MustNewConstMetric(c.desc["timer_flushes"], prometheus.CounterValue, float64(s.TimerFlushes))
	ch <- prometheus.MustNewConstMetric(c.desc["manual_flushes"], prometheus.CounterValue, float64(s.ManualFlushes))
}

// RdmaEngineCollector surfaces an rocev2.RdmaEngine's routing, congestion,
// and reliability counters.
type RdmaEngineCollector struct {
	engine *rocev2.RdmaEngine
	desc   map[string]*prometheus.Desc
}

// NewRdmaEngineCollector wraps engine for Prometheus registration.
func NewRdmaEngineCollector(engine *rocev2.RdmaEngine) *RdmaEngineCollector {
	return &RdmaEngineCollector{engine: engine, desc: map[string]*prometheus.Desc{
		"packets_processed": prometheus.NewDesc(namespace+"_rdma_packets_processed_total", "Inbound RoCEv2 packets processed", nil, nil),
		"packets_dropped":   prometheus.NewDesc(namespace+"_rdma_packets_dropped_total", "Inbound RoCEv2 packets dropped", nil, nil),
		"icrc_errors":       prometheus.NewDesc(namespace+"_rdma_icrc_errors_total", "Inbound RoCEv2 packets failing ICRC", nil, nil),
		"unknown_qp":        prometheus.NewDesc(namespace+"_rdma_unknown_qp_total", "Inbound RoCEv2 packets naming an unknown destination QP", nil, nil),
		"cnps_generated":    prometheus.NewDesc(namespace+"_dcqcn_cnps_generated_total", "CNP packets generated", nil, nil),
		"cnps_received":     prometheus.NewDesc(namespace+"_dcqcn_cnps_received_total", "CNP packets received", nil, nil),
		"rate_decreases":    prometheus.NewDesc(namespace+"_dcqcn_rate_decreases_total", "DCQCN rate decrease events", nil, nil),
		"rate_increases":    prometheus.NewDesc(namespace+"_dcqcn_rate_increases_total", "DCQCN rate increase events", nil, nil),
		"acks_received":     prometheus.NewDesc(namespace+"_reliability_acks_received_total", "ACKs processed by the Reliability Manager", nil, nil),
		"naks_received":     prometheus.NewDesc(namespace+"_reliability_naks_received_total", "NAKs processed by the Reliability Manager", nil, nil),
		"retransmissions":   prometheus.NewDesc(namespace+"_reliability_retransmissions_total", "Retransmissions requested by PSN sequence-error NAKs", nil, nil),
		"timeouts":          prometheus.NewDesc(namespace+"_reliability_timeouts_total", "Pending operations retried after a timeout", nil, nil),
		"retry_exceeded":    prometheus.NewDesc(namespace+"_reliability_retry_exceeded_total", "Operations abandoned after exhausting their retry budget", nil, nil),
	}}
}

// Describe implements prometheus.Collector.
func (c *RdmaEngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.desc {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *RdmaEngineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Stats()
	cg := c.engine.CongestionStats()
	rel := c.engine.ReliabilityStats()
	ch <- prometheus.MustNewConstMetric(c.desc["packets_processed"], prometheus.CounterValue, float64(s.PacketsProcessed))
	ch <- prometheus.MustNewConstMetric(c.desc["packets_dropped"], prometheus.CounterValue, float64(s.PacketsDropped))
	ch <- prometheus.MustNewConstMetric(c.desc["icrc_errors"], prometheus.CounterValue, float64(s.IcrcErrors))
	ch <- prometheus.MustNewConstMetric(c.desc["unknown_qp"], prometheus.CounterValue, float64(s.UnknownQP))
	ch <- prometheus.MustNewConstMetric(c.desc["cnps_generated"], prometheus.CounterValue, float64(cg.CnpsGenerated))
	ch <- prometheus.MustNewConstMetric(c.desc["cnps_received"], prometheus.CounterValue, float64(cg.CnpsReceived))
	ch <- prometheus.MustNewConstMetric(c.desc["rate_decreases"], prometheus.CounterValue, float64(cg.RateDecreases))
	ch <- prometheus.MustNewConstMetric(c.desc["rate_increases"], prometheus.CounterValue, float64(cg.RateIncreases))
	ch <- prometheus.MustNewConstMetric(c.desc["acks_received"], prometheus.CounterValue, float64(rel.AcksReceived))
	ch <- prometheus.MustNewConstMetric(c.desc["naks_received"], prometheus.CounterValue, float64(rel.NaksReceived))
	ch <- prometheus.MustNewConstMetric(c.desc["retransmissions"], prometheus.CounterValue, float64(rel.Retransmissions))
	ch <- prometheus.MustNewConstMetric(c.desc["timeouts"], prometheus.CounterValue, float64(rel.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.desc["retry_exceeded"], prometheus.CounterValue, float64(rel.RetryExceeded))
}

// MustRegisterAll registers every collector with reg, panicking (as
// prometheus.MustRegister does) on a duplicate-registration error.
func MustRegisterAll(reg *prometheus.Registry, qm *nicdev.QueueManager, dispatcher *nicdev.InterruptDispatcher, engine *rocev2.RdmaEngine) {
	reg.MustRegister(NewQueueManagerCollector(qm))
	reg.MustRegister(NewInterruptCollector(dispatcher))
	reg.MustRegister(NewRdmaEngineCollector(engine))
}
