// Package metrics exposes per-connection TCB counters as Prometheus
// gauges, following the Describe/Collect collector pattern rather than
// registering metrics directly: each scrape reads the live TCB state
// instead of mirroring it into separate counters that could drift.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ctrlcdev/tunstack/tcp"
)

type snapshotSource interface {
	Snapshot() tcp.Snapshot
}

type connEntry struct {
	conn   snapshotSource
	labels []string
}

// Collector implements prometheus.Collector over a dynamic set of live
// TCBs: connections are added on connect and removed on close, and every
// Collect call snapshots whichever are still registered.
type Collector struct {
	mu    sync.Mutex
	conns map[string]connEntry

	state       *prometheus.Desc
	srtt        *prometheus.Desc
	rto         *prometheus.Desc
	segsIn      *prometheus.Desc
	segsOut     *prometheus.Desc
	retransmits *prometheus.Desc
}

// NewCollector builds a Collector. variableLabels names the per-connection
// label dimensions supplied with each Add call (e.g. "remote_addr").
func NewCollector(variableLabels []string, constLabels prometheus.Labels) *Collector {
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("tunstack_tcb_"+name, help, variableLabels, constLabels)
	}
	return &Collector{
		conns:       make(map[string]connEntry),
		state:       mk("state", "Current TCP state, see tcp.State."),
		srtt:        mk("srtt_seconds", "Smoothed round-trip time estimate."),
		rto:         mk("rto_seconds", "Current retransmission timeout."),
		segsIn:      mk("segments_in_total", "Segments received."),
		segsOut:     mk("segments_out_total", "Segments transmitted, including retransmissions."),
		retransmits: mk("retransmits_total", "Segments retransmitted after RTO expiry."),
	}
}

// Add registers a TCB for collection under the given label values, keyed
// by its connection id so a later Remove finds the same entry.
func (c *Collector) Add(id string, conn snapshotSource, labels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = connEntry{conn: conn, labels: labels}
}

// Remove drops a TCB from collection, called by the demultiplexer once the
// TCB's tick reports cleanup and it leaves the four-tuple table.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.state
	descs <- c.srtt
	descs <- c.rto
	descs <- c.segsIn
	descs <- c.segsOut
	descs <- c.retransmits
}

func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.conns {
		snap := entry.conn.Snapshot()
		out <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(snap.State), entry.labels...)
		out <- prometheus.MustNewConstMetric(c.srtt, prometheus.GaugeValue, snap.SRTT, entry.labels...)
		out <- prometheus.MustNewConstMetric(c.rto, prometheus.GaugeValue, snap.RTO, entry.labels...)
		out <- prometheus.MustNewConstMetric(c.segsIn, prometheus.CounterValue, float64(snap.SegsIn), entry.labels...)
		out <- prometheus.MustNewConstMetric(c.segsOut, prometheus.CounterValue, float64(snap.SegsOut), entry.labels...)
		out <- prometheus.MustNewConstMetric(c.retransmits, prometheus.CounterValue, float64(snap.Retransmits), entry.labels...)
	}
}
